// Package hydro is a thin Go client for hydrod's JSON-RPC surface, mirroring
// the rest of the chain's SDK clients: a functional-options constructor, one
// HTTP round trip per call, and typed wrapper methods over the raw
// JSON-RPC envelope.
package hydro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

const (
	jsonRPCVersion = "2.0"
	defaultRPCID   = 1
)

// Client wraps a hydrod JSON-RPC endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	authToken  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for RPC calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithAuthToken sets the bearer token attached to every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = strings.TrimSpace(token) }
}

// New initializes a client bound to endpoint (e.g. "http://localhost:8090").
func New(endpoint string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("hydro client: endpoint required")
	}
	c := &Client{endpoint: trimmed, httpClient: http.DefaultClient}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	var rawParams []interface{}
	if params != nil {
		rawParams = []interface{}{params}
	}
	payload, err := json.Marshal(rpcRequest{JSONRPC: jsonRPCVersion, Method: method, Params: rawParams, ID: defaultRPCID})
	if err != nil {
		return fmt.Errorf("hydro client: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("hydro client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hydro client: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("hydro client: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("hydro client: %s (code %d)", rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// CurrentRound reports the round active right now.
func (c *Client) CurrentRound(ctx context.Context) (uint64, time.Time, error) {
	var out struct {
		Round  uint64 `json:"round"`
		EndsAt string `json:"ends_at"`
	}
	if err := c.call(ctx, "hydro_currentRound", nil, &out); err != nil {
		return 0, time.Time{}, err
	}
	endsAt, _ := time.Parse(time.RFC3339, out.EndsAt)
	return out.Round, endsAt, nil
}

// LockTokens locks coin for duration on behalf of owner.
func (c *Client) LockTokens(ctx context.Context, owner, denom string, amount *big.Int, duration time.Duration) (uint64, error) {
	var lock struct {
		LockID uint64 `json:"LockID"`
	}
	err := c.call(ctx, "hydro_lockTokens", map[string]interface{}{
		"owner":          owner,
		"coin":           map[string]string{"denom": denom, "amount": amount.String()},
		"duration_nanos": int64(duration),
	}, &lock)
	return lock.LockID, err
}

// CastVotes casts owner's ballots within tranche in the current round.
func (c *Client) CastVotes(ctx context.Context, owner string, tranche uint64, proposalID uint64, lockIDs []uint64) error {
	return c.call(ctx, "hydro_castVotes", map[string]interface{}{
		"owner":      owner,
		"tranche_id": tranche,
		"ballots": []map[string]interface{}{
			{"ProposalID": proposalID, "LockIDs": lockIDs},
		},
	}, nil)
}

// CreateProposal submits a new proposal into tranche.
func (c *Client) CreateProposal(ctx context.Context, submitter string, tranche uint64, title, description string, minimumAtomLiquidityRequest *big.Int) (uint64, error) {
	minReq := "0"
	if minimumAtomLiquidityRequest != nil {
		minReq = minimumAtomLiquidityRequest.String()
	}
	var prop struct {
		ProposalID uint64 `json:"ProposalID"`
	}
	err := c.call(ctx, "hydro_createProposal", map[string]interface{}{
		"submitter":                      submitter,
		"tranche_id":                     tranche,
		"title":                          title,
		"description":                    description,
		"minimum_atom_liquidity_request": minReq,
	}, &prop)
	return prop.ProposalID, err
}

// RankEntry is a single ranked proposal within a tranche's close-round results.
type RankEntry struct {
	ProposalID uint64
	Power      string
}

// TopNProposals returns the top n ranked proposals of (round, tranche).
func (c *Client) TopNProposals(ctx context.Context, round, tranche uint64, n int) ([]RankEntry, error) {
	var raw []struct {
		ProposalID uint64      `json:"ProposalID"`
		Power      json.Number `json:"Power"`
	}
	err := c.call(ctx, "hydro_topProposals", map[string]interface{}{
		"round":      round,
		"tranche_id": tranche,
		"n":          n,
	}, &raw)
	if err != nil {
		return nil, err
	}
	entries := make([]RankEntry, len(raw))
	for i, r := range raw {
		entries[i] = RankEntry{ProposalID: r.ProposalID, Power: r.Power.String()}
	}
	return entries, nil
}

// TotalLockedTokens returns the total locked across every denom.
func (c *Client) TotalLockedTokens(ctx context.Context) (*big.Int, error) {
	var raw string
	if err := c.call(ctx, "hydro_totalLockedTokens", nil, &raw); err != nil {
		return nil, err
	}
	total, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("hydro client: invalid integer %q", raw)
	}
	return total, nil
}
