// Command hydro-cli is a thin JSON-RPC client for hydrod, mirroring the
// chain's own nhb-cli: a flat os.Args command dispatch, one HTTP POST per
// call, and a generate-key helper for producing a bech32 hydro address.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"hydro/crypto"
)

var rpcEndpoint = envOr("HYDRO_RPC_ENDPOINT", "http://localhost:8090")

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	switch os.Args[1] {
	case "generate-key":
		generateKey()
	case "current-round":
		call("hydro_currentRound", nil)
	case "constants":
		call("hydro_constants", nil)
	case "lock":
		if len(os.Args) < 6 {
			fmt.Println("usage: hydro-cli lock <owner> <denom> <amount> <duration_nanos>")
			return
		}
		owner, denom, amount := os.Args[2], os.Args[3], os.Args[4]
		duration, err := strconv.ParseInt(os.Args[5], 10, 64)
		if err != nil {
			fmt.Println("invalid duration:", err)
			return
		}
		call("hydro_lockTokens", map[string]interface{}{
			"owner":          owner,
			"coin":           map[string]string{"denom": denom, "amount": amount},
			"duration_nanos": duration,
		})
	case "proposal":
		if len(os.Args) < 6 {
			fmt.Println("usage: hydro-cli proposal <submitter> <tranche_id> <title> <description>")
			return
		}
		trancheID, err := strconv.ParseUint(os.Args[3], 10, 64)
		if err != nil {
			fmt.Println("invalid tranche id:", err)
			return
		}
		call("hydro_createProposal", map[string]interface{}{
			"submitter":                     os.Args[2],
			"tranche_id":                    trancheID,
			"title":                         os.Args[4],
			"description":                   os.Args[5],
			"minimum_atom_liquidity_request": "0",
		})
	case "vote":
		if len(os.Args) < 6 {
			fmt.Println("usage: hydro-cli vote <owner> <tranche_id> <proposal_id> <lock_id>")
			return
		}
		trancheID, err := strconv.ParseUint(os.Args[3], 10, 64)
		if err != nil {
			fmt.Println("invalid tranche id:", err)
			return
		}
		proposalID, err := strconv.ParseUint(os.Args[4], 10, 64)
		if err != nil {
			fmt.Println("invalid proposal id:", err)
			return
		}
		lockID, err := strconv.ParseUint(os.Args[5], 10, 64)
		if err != nil {
			fmt.Println("invalid lock id:", err)
			return
		}
		call("hydro_castVotes", map[string]interface{}{
			"owner":      os.Args[2],
			"tranche_id": trancheID,
			"ballots": []map[string]interface{}{
				{"ProposalID": proposalID, "LockIDs": []uint64{lockID}},
			},
		})
	case "lockups":
		if len(os.Args) < 3 {
			fmt.Println("usage: hydro-cli lockups <owner>")
			return
		}
		call("hydro_allUserLockups", map[string]interface{}{"owner": os.Args[2]})
	default:
		printUsage()
	}
}

func printUsage() {
	fmt.Println("Usage: hydro-cli <command> [args]")
	fmt.Println("Commands:")
	fmt.Println("  generate-key")
	fmt.Println("  current-round")
	fmt.Println("  constants")
	fmt.Println("  lock <owner> <denom> <amount> <duration_nanos>")
	fmt.Println("  proposal <submitter> <tranche_id> <title> <description>")
	fmt.Println("  vote <owner> <tranche_id> <proposal_id> <lock_id>")
	fmt.Println("  lockups <owner>")
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}
	fileName := "hydro-wallet.key"
	if err := os.WriteFile(fileName, key.Bytes(), 0600); err != nil {
		panic(fmt.Sprintf("failed to save key to %s: %v", fileName, err))
	}
	fmt.Printf("Generated new key and saved to %s\n", fileName)
	fmt.Printf("Your address is: %s\n", key.PubKey().Address().String())
}

func call(method string, params interface{}) {
	var rawParams []interface{}
	if params != nil {
		rawParams = []interface{}{params}
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  rawParams,
	})
	if err != nil {
		fmt.Println("failed to encode request:", err)
		return
	}

	resp, err := http.Post(rpcEndpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		fmt.Printf("failed to connect to hydrod at %s: %v\n", rpcEndpoint, err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Println("failed to read response:", err)
		return
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(pretty.String())
}
