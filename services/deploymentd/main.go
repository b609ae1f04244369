// Command deploymentd watches hydrod's event stream for round closes and
// triggers the off-chain liquidity deployment step named in §4.7: for each
// closed round it fetches the tranche's final rankings and logs the
// proposals selected for deployment. Real fund movement is out of scope
// (§1's Non-goals exclude the settlement rail); this daemon's job ends at
// producing the deployment worklist.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"hydro/observability/logging"
	hydrosdk "hydro/sdk/hydro"
)

// roundClosedPayload mirrors the JSON shape rpc.EventBroker emits for
// events.RoundClosed.
type roundClosedPayload struct {
	Type string `json:"type"`
	Data struct {
		Round uint64 `json:"Round"`
	} `json:"data"`
}

func main() {
	hydrodAddr := flag.String("hydrod", "localhost:8090", "hydrod RPC address (host:port)")
	token := flag.String("token", "", "bearer token for authenticated requests")
	tranches := flag.String("tranches", "1", "comma-separated tranche ids to rank on round close")
	topN := flag.Int("top-n", 5, "number of proposals per tranche selected for deployment")
	flag.Parse()

	env := os.Getenv("DEPLOYMENTD_ENV")
	logger := logging.Setup("deploymentd", env)

	var trancheIDs []uint64
	for _, raw := range strings.Split(*tranches, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var id uint64
		if _, err := fmt.Sscanf(raw, "%d", &id); err != nil {
			logger.Error("invalid tranche id", slog.String("value", raw))
			os.Exit(1)
		}
		trancheIDs = append(trancheIDs, id)
	}

	opts := []hydrosdk.Option{}
	if *token != "" {
		opts = append(opts, hydrosdk.WithAuthToken(*token))
	}
	client, err := hydrosdk.New("http://"+*hydrodAddr, opts...)
	if err != nil {
		logger.Error("build hydro client", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()
	wsURL := url.URL{Scheme: "ws", Host: *hydrodAddr, Path: "/events"}

	for {
		if err := run(ctx, wsURL.String(), client, trancheIDs, *topN, logger); err != nil {
			logger.Error("event stream disconnected, retrying", slog.Any("error", err))
			time.Sleep(5 * time.Second)
		}
	}
}

func run(ctx context.Context, wsURL string, client *hydrosdk.Client, trancheIDs []uint64, topN int, logger *slog.Logger) error {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "deploymentd shutting down")

	logger.Info("watching hydrod event stream", slog.String("url", wsURL))
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		var payload roundClosedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			continue
		}
		if payload.Type != "hydro.round_closed" {
			continue
		}
		deploy(ctx, client, payload.Data.Round, trancheIDs, topN, logger)
	}
}

func deploy(ctx context.Context, client *hydrosdk.Client, round uint64, trancheIDs []uint64, topN int, logger *slog.Logger) {
	for _, tranche := range trancheIDs {
		entries, err := client.TopNProposals(ctx, round, tranche, topN)
		if err != nil {
			logger.Error("fetch top proposals", slog.Uint64("round", round), slog.Uint64("tranche", tranche), slog.Any("error", err))
			continue
		}
		for rank, entry := range entries {
			logger.Info("selected for deployment",
				slog.Uint64("round", round),
				slog.Uint64("tranche", tranche),
				slog.Int("rank", rank),
				slog.Uint64("proposal_id", entry.ProposalID),
				slog.String("power", entry.Power))
		}
	}
}
