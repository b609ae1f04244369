// Package rpc exposes the hydro lockup-voting-scoring core over JSON-RPC,
// mirroring the request/response envelope and module metrics wiring used
// throughout the rest of the chain's RPC surface.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	hydroerr "hydro/core/errors"
	"hydro/native/hydro"
	"hydro/observability/metrics"
	"hydro/storage"
)

const jsonRPCVersion = "2.0"
const maxRequestBytes = 1 << 20 // 1 MiB

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeInvariant      = -32002
	codeServerError    = -32000
)

// JWTConfig configures bearer token authentication for the hydro RPC server.
// Claims carry the caller's address and the boolean authorization flags the
// core's engine methods expect (whitelisted/admin/provider), matching the
// "pre-resolved boolean parameter" authorization model the engine itself
// implements.
type JWTConfig struct {
	Enable      bool
	HSSecretEnv string
	Issuer      string
}

// Claims is the JWT payload the hydro RPC server expects: the caller's
// account id plus the authorization flags gating admin and token-provider
// operations.
type Claims struct {
	jwt.RegisteredClaims
	Admin       bool `json:"admin"`
	Whitelisted bool `json:"whitelisted"`
	Provider    bool `json:"provider"`
}

type contextKey string

const claimsContextKey contextKey = "hydro_rpc_claims"

// Server serves the hydro engine's message and query surface over
// JSON-RPC.
type Server struct {
	engine      *hydro.Engine
	metrics     *metrics.HydroMetrics
	jwtSecret   []byte
	jwtIssuer   string
	authEnabled bool

	// archiver, if set via SetArchiver, mirrors proposal and round-close
	// history into Postgres. Nil means archival is disabled.
	archiver *storage.Archiver

	broker *EventBroker

	// parquetDir, if set via SetParquetArchiveDir, receives one
	// round-<round>.parquet file per CloseRound call.
	parquetDir string

	httpServer *http.Server
}

// SetParquetArchiveDir enables Parquet archival of closed-round rankings to
// dir, one file per round.
func (s *Server) SetParquetArchiveDir(dir string) {
	s.parquetDir = dir
}

// SetArchiver installs a Postgres archiver. Proposal creation and round
// close calls mirror into it in addition to updating the in-memory engine.
func (s *Server) SetArchiver(archiver *storage.Archiver) {
	s.archiver = archiver
}

// NewServer constructs a Server wrapping engine. When jwtCfg.Enable is
// false, every request carries empty Claims (no admin, whitelist or
// provider rights), and mutations act for the account named in the
// request's own owner/submitter field (see callerAccount). NewServer does
// not refuse to start without JWT.
func NewServer(engine *hydro.Engine, jwtCfg JWTConfig) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine required")
	}
	s := &Server{engine: engine, metrics: metrics.Hydro(), broker: NewEventBroker()}
	if jwtCfg.Enable {
		envKey := strings.TrimSpace(jwtCfg.HSSecretEnv)
		if envKey == "" {
			return nil, errors.New("HSSecretEnv is required when JWT auth is enabled")
		}
		secret := strings.TrimSpace(os.Getenv(envKey))
		if secret == "" {
			return nil, fmt.Errorf("JWT secret environment variable %s is empty", envKey)
		}
		s.jwtSecret = []byte(secret)
		s.jwtIssuer = strings.TrimSpace(jwtCfg.Issuer)
		s.authEnabled = true
	}
	return s, nil
}

// Routes builds the chi router exposed by Serve.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/events", s.handleEvents)
	r.Post("/", s.handle)
	return r
}

// Serve runs the JSON-RPC server on listener until it is closed.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = srv
	return srv.Serve(listener)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) authenticate(r *http.Request) (Claims, error) {
	if !s.authEnabled {
		return Claims{}, nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return Claims{}, errors.New("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	claims := Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.jwtIssuer))
	}
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Claims{}, fmt.Errorf("invalid bearer token: %w", err)
	}
	return claims, nil
}

// RPCRequest is the JSON-RPC 2.0 request envelope. Params are positional,
// matching the rest of the chain's RPC surface.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

// RPCResponse is the JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// errToRPC maps a core error to a JSON-RPC status/code pair.
func errToRPC(err error) (status, code int) {
	switch {
	case errors.Is(err, hydroerr.ErrUnauthorized):
		return http.StatusForbidden, codeUnauthorized
	case errors.Is(err, hydroerr.ErrInvariantViolation):
		return http.StatusConflict, codeInvariant
	case errors.Is(err, hydroerr.ErrBadInput):
		return http.StatusBadRequest, codeInvalidParams
	case errors.Is(err, hydroerr.ErrNotFound):
		return http.StatusNotFound, codeServerError
	case errors.Is(err, hydroerr.ErrPaused):
		return http.StatusServiceUnavailable, codeServerError
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

// handle is the JSON-RPC dispatch entry point. Every hydro_* method is
// timed and counted through the hydro metrics registry, the same pattern
// the main chain RPC uses to observe module requests.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer reader.Close()

	req := &RPCRequest{}
	if err := json.NewDecoder(reader).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	claims, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
		return
	}

	start := time.Now()
	handler, ok := hydroMethods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}
	result, herr := handler(s, claims, req.Params)
	s.metrics.Observe(req.Method, herr, time.Since(start))
	if herr != nil {
		status, code := errToRPC(herr)
		writeError(w, status, req.ID, code, herr.Error(), nil)
		return
	}
	writeResult(w, req.ID, result)
}
