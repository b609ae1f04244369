package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"path/filepath"
	"time"

	"hydro/native/hydro"
	"hydro/storage"
)

type hydroHandlerFunc func(s *Server, claims Claims, params []json.RawMessage) (interface{}, error)

// hydroMethods is the §6 message and query surface, dispatched by method
// name the same way the rest of the chain's JSON-RPC server dispatches
// module methods. There is no method for the Tranches query or for the end
// of an arbitrary round; hydro_currentRound reports only the current
// round's end.
var hydroMethods = map[string]hydroHandlerFunc{
	"hydro_lockTokens":            handleLockTokens,
	"hydro_refreshLockDuration":   handleRefreshLockDuration,
	"hydro_splitLock":             handleSplitLock,
	"hydro_mergeLocks":            handleMergeLocks,
	"hydro_unlockTokens":          handleUnlockTokens,
	"hydro_convertLockDenom":      handleConvertLockDenom,
	"hydro_createProposal":        handleCreateProposal,
	"hydro_castVotes":             handleCastVotes,
	"hydro_removeVotes":           handleRemoveVotes,
	"hydro_addTranche":            handleAddTranche,
	"hydro_editTranche":           handleEditTranche,
	"hydro_updateConfig":          handleUpdateConfig,
	"hydro_deleteConfigs":         handleDeleteConfigs,
	"hydro_addStaticTokenInfo":    handleAddStaticTokenInfo,
	"hydro_removeTokenInfoProvider": handleRemoveTokenInfoProvider,
	"hydro_updateTokenGroupRatio": handleUpdateTokenGroupRatio,
	"hydro_closeRound":            handleCloseRound,
	"hydro_pause":                 handlePause,

	"hydro_currentRound":          handleCurrentRound,
	"hydro_constants":             handleConstants,
	"hydro_proposal":              handleProposal,
	"hydro_roundProposals":        handleRoundProposals,
	"hydro_topProposals":          handleTopProposals,
	"hydro_roundTotalVotingPower": handleRoundTotalVotingPower,
	"hydro_userVotingPower":       handleUserVotingPower,
	"hydro_userVotes":             handleUserVotes,
	"hydro_userVotedLocks":        handleUserVotedLocks,
	"hydro_lockVotesHistory":      handleLockVotesHistory,
	"hydro_allUserLockups":        handleAllUserLockups,
	"hydro_specificUserLockups":   handleSpecificUserLockups,
	"hydro_expiredUserLockups":    handleExpiredUserLockups,
	"hydro_totalLockedTokens":     handleTotalLockedTokens,
	"hydro_votingPowerAtHeight":   handleVotingPowerAtHeight,
	"hydro_totalPowerAtHeight":    handleTotalPowerAtHeight,
}

func decodeParam(params []json.RawMessage, idx int, out interface{}) error {
	if idx >= len(params) {
		return fmt.Errorf("missing parameter at index %d", idx)
	}
	return json.Unmarshal(params[idx], out)
}

func parseBigInt(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	return v, nil
}

func parseBigRat(raw string) (*big.Rat, error) {
	if raw == "" {
		return new(big.Rat), nil
	}
	v, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, fmt.Errorf("invalid ratio %q", raw)
	}
	return v, nil
}

// callerAccount resolves the AccountID acting for a mutation: the JWT
// subject when auth is enabled, or the explicit "owner" field callers may
// pass while developing against an unauthenticated server.
func callerAccount(claims Claims, explicit string) hydro.AccountID {
	if claims.Subject != "" {
		return hydro.AccountID(claims.Subject)
	}
	return hydro.AccountID(explicit)
}

type coinParam struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

func (c coinParam) toCoin() (hydro.Coin, error) {
	amount, err := parseBigInt(c.Amount)
	if err != nil {
		return hydro.Coin{}, err
	}
	return hydro.Coin{Denom: c.Denom, Amount: amount}, nil
}

func handleLockTokens(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner      string      `json:"owner"`
		Coin       coinParam   `json:"coin"`
		DurationNs int64       `json:"duration_nanos"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	coin, err := req.Coin.toCoin()
	if err != nil {
		return nil, err
	}
	lock, err := s.engine.LockTokens(callerAccount(claims, req.Owner), coin, time.Duration(req.DurationNs))
	if err != nil {
		return nil, err
	}
	return lock, nil
}

func handleRefreshLockDuration(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner      string   `json:"owner"`
		LockIDs    []uint64 `json:"lock_ids"`
		DurationNs int64    `json:"duration_nanos"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	after, err := s.engine.RefreshLockDuration(callerAccount(claims, req.Owner), req.LockIDs, time.Duration(req.DurationNs))
	if err != nil {
		return nil, err
	}
	return after, nil
}

func handleSplitLock(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner  string `json:"owner"`
		LockID uint64 `json:"lock_id"`
		Amount string `json:"amount"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	amount, err := parseBigInt(req.Amount)
	if err != nil {
		return nil, err
	}
	childA, childB, err := s.engine.SplitLock(callerAccount(claims, req.Owner), req.LockID, amount)
	if err != nil {
		return nil, err
	}
	return struct {
		ChildA *hydro.Lock `json:"child_a"`
		ChildB *hydro.Lock `json:"child_b"`
	}{childA, childB}, nil
}

func handleMergeLocks(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner   string   `json:"owner"`
		LockIDs []uint64 `json:"lock_ids"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	merged, err := s.engine.MergeLocks(callerAccount(claims, req.Owner), req.LockIDs)
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func handleUnlockTokens(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner   string   `json:"owner"`
		LockIDs []uint64 `json:"lock_ids"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	unlocked, total, err := s.engine.UnlockTokens(callerAccount(claims, req.Owner), req.LockIDs)
	if err != nil {
		return nil, err
	}
	return struct {
		Unlocked []*hydro.Lock `json:"unlocked"`
		Total    string        `json:"total"`
	}{unlocked, total.String()}, nil
}

func handleConvertLockDenom(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner    string `json:"owner"`
		LockID   uint64 `json:"lock_id"`
		NewDenom string `json:"new_denom"`
		NewAmount string `json:"new_amount"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	amount, err := parseBigInt(req.NewAmount)
	if err != nil {
		return nil, err
	}
	lock, err := s.engine.ConvertLockDenom(callerAccount(claims, req.Owner), req.LockID, req.NewDenom, amount)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

func handleCreateProposal(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Submitter                   string  `json:"submitter"`
		RoundID                     *uint64 `json:"round_id"`
		TrancheID                   uint64  `json:"tranche_id"`
		Title                       string  `json:"title"`
		Description                 string  `json:"description"`
		DeploymentDuration          uint64  `json:"deployment_duration"`
		MinimumAtomLiquidityRequest string  `json:"minimum_atom_liquidity_request"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	minReq, err := parseBigInt(req.MinimumAtomLiquidityRequest)
	if err != nil {
		return nil, err
	}
	prop, err := s.engine.CreateProposal(callerAccount(claims, req.Submitter), req.RoundID, req.TrancheID, req.Title, req.Description, req.DeploymentDuration, minReq, claims.Whitelisted)
	if err != nil {
		return nil, err
	}
	if s.archiver != nil {
		minReqStr := "0"
		if prop.MinimumAtomLiquidityRequest != nil {
			minReqStr = prop.MinimumAtomLiquidityRequest.String()
		}
		_ = s.archiver.ArchiveProposal(storage.ProposalRecord{
			ProposalID:                  prop.ProposalID,
			RoundID:                     prop.RoundID,
			TrancheID:                   prop.TrancheID,
			Title:                       prop.Title,
			Description:                 prop.Description,
			Submitter:                   string(prop.Submitter),
			MinimumAtomLiquidityRequest: minReqStr,
			SubmitTime:                  prop.SubmitTime,
		})
	}
	return prop, nil
}

func handleCastVotes(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner   string              `json:"owner"`
		Tranche uint64              `json:"tranche_id"`
		Ballots []hydro.VoteBallot  `json:"ballots"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	result, err := s.engine.CastVotes(callerAccount(claims, req.Owner), req.Tranche, req.Ballots)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func handleRemoveVotes(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner   string   `json:"owner"`
		Tranche uint64   `json:"tranche_id"`
		LockIDs []uint64 `json:"lock_ids"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	result, err := s.engine.RemoveVotes(callerAccount(claims, req.Owner), req.Tranche, req.LockIDs)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func handleAddTranche(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Name                      string `json:"name"`
		Metadata                  string `json:"metadata"`
		MinimumAtomLiquidityFloor string `json:"minimum_atom_liquidity_floor"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	var floor *big.Int
	if req.MinimumAtomLiquidityFloor != "" {
		v, err := parseBigInt(req.MinimumAtomLiquidityFloor)
		if err != nil {
			return nil, err
		}
		floor = v
	}
	tranche, err := s.engine.AddTranche(claims.Admin, req.Name, req.Metadata, floor)
	if err != nil {
		return nil, err
	}
	return tranche, nil
}

func handleEditTranche(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		TrancheID                 uint64 `json:"tranche_id"`
		Name                      string `json:"name"`
		Metadata                  string `json:"metadata"`
		MinimumAtomLiquidityFloor string `json:"minimum_atom_liquidity_floor"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	var floor *big.Int
	if req.MinimumAtomLiquidityFloor != "" {
		v, err := parseBigInt(req.MinimumAtomLiquidityFloor)
		if err != nil {
			return nil, err
		}
		floor = v
	}
	tranche, err := s.engine.EditTranche(claims.Admin, req.TrancheID, req.Name, req.Metadata, floor)
	if err != nil {
		return nil, err
	}
	return tranche, nil
}

func handleUpdateConfig(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		ActivationNanos int64  `json:"activation_nanos"`
		Patch           hydro.ConstantsPatch `json:"patch"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	if err := s.engine.UpdateConfig(claims.Admin, req.ActivationNanos, req.Patch); err != nil {
		return nil, err
	}
	return struct{ OK bool }{true}, nil
}

func handleDeleteConfigs(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		ActivationNanos []int64 `json:"activation_nanos"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	if err := s.engine.DeleteConfigs(claims.Admin, req.ActivationNanos); err != nil {
		return nil, err
	}
	return struct{ OK bool }{true}, nil
}

func handleAddStaticTokenInfo(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		ProviderID string            `json:"provider_id"`
		Denoms     map[string]string `json:"denoms"` // denom -> group
		Ratios     map[string]string `json:"ratios"` // group -> ratio ("num/denom")
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	provider := hydro.NewStaticProvider(req.ProviderID)
	for denom, group := range req.Denoms {
		provider.SetDenom(denom, hydro.GroupID(group))
	}
	for group, raw := range req.Ratios {
		ratio, err := parseBigRat(raw)
		if err != nil {
			return nil, err
		}
		provider.SetRatio(hydro.GroupID(group), ratio)
	}
	if err := s.engine.AddTokenInfoProvider(claims.Admin, provider); err != nil {
		return nil, err
	}
	return struct{ OK bool }{true}, nil
}

func handleRemoveTokenInfoProvider(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		ProviderID string `json:"provider_id"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	if err := s.engine.RemoveTokenInfoProvider(claims.Admin, req.ProviderID); err != nil {
		return nil, err
	}
	return struct{ OK bool }{true}, nil
}

func handleUpdateTokenGroupRatio(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Group    string `json:"group"`
		OldRatio string `json:"old_ratio"`
		NewRatio string `json:"new_ratio"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	oldRatio, err := parseBigRat(req.OldRatio)
	if err != nil {
		return nil, err
	}
	newRatio, err := parseBigRat(req.NewRatio)
	if err != nil {
		return nil, err
	}
	if err := s.engine.UpdateTokenGroupRatio(claims.Provider, hydro.GroupID(req.Group), oldRatio, newRatio); err != nil {
		return nil, err
	}
	return struct{ OK bool }{true}, nil
}

func handleCloseRound(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Round uint64 `json:"round"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	rankings, err := s.engine.CloseRound(claims.Admin, req.Round)
	if err != nil {
		return nil, err
	}
	if s.archiver != nil || s.parquetDir != "" {
		archived := make(map[uint64][]storage.RankingEntry, len(rankings))
		for trancheID, entries := range rankings {
			converted := make([]storage.RankingEntry, len(entries))
			for i, entry := range entries {
				converted[i] = storage.RankingEntry{ProposalID: entry.ProposalID, Power: entry.Power.String()}
			}
			archived[trancheID] = converted
		}
		if s.archiver != nil {
			_ = s.archiver.ArchiveRankings(req.Round, archived)
		}
		if s.parquetDir != "" {
			path := filepath.Join(s.parquetDir, fmt.Sprintf("round-%d.parquet", req.Round))
			_ = storage.WriteRankingsParquet(path, req.Round, archived)
		}
	}
	return rankings, nil
}

func handlePause(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	if err := s.engine.Pause(claims.Admin, req.Paused); err != nil {
		return nil, err
	}
	return struct{ OK bool }{true}, nil
}

// --- queries ---

func handleCurrentRound(s *Server, _ Claims, _ []json.RawMessage) (interface{}, error) {
	round, err := s.engine.CurrentRound()
	if err != nil {
		return nil, err
	}
	return struct {
		Round   uint64 `json:"round"`
		EndsAt  string `json:"ends_at"`
	}{round, s.engine.RoundEndAt(round).Format(time.RFC3339)}, nil
}

func handleConstants(s *Server, _ Claims, _ []json.RawMessage) (interface{}, error) {
	return s.engine.Constants(), nil
}

func handleProposal(s *Server, _ Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		ProposalID uint64 `json:"proposal_id"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	prop, ok := s.engine.Proposal(req.ProposalID)
	if !ok {
		return nil, fmt.Errorf("proposal %d not found", req.ProposalID)
	}
	return prop, nil
}

func handleRoundProposals(s *Server, _ Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Round   uint64 `json:"round"`
		Tranche uint64 `json:"tranche_id"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	return s.engine.RoundProposals(req.Round, req.Tranche), nil
}

func handleTopProposals(s *Server, _ Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Round   uint64 `json:"round"`
		Tranche uint64 `json:"tranche_id"`
		N       int    `json:"n"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	return s.engine.TopNProposals(req.Round, req.Tranche, req.N), nil
}

func handleRoundTotalVotingPower(s *Server, _ Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Round uint64 `json:"round"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	return s.engine.RoundTotalVotingPower(req.Round).String(), nil
}

func handleUserVotingPower(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner string `json:"owner"`
		Round uint64 `json:"round"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	return s.engine.UserVotingPower(callerAccount(claims, req.Owner), req.Round).String(), nil
}

func handleUserVotes(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner   string `json:"owner"`
		Round   uint64 `json:"round"`
		Tranche uint64 `json:"tranche_id"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	return s.engine.UserVotes(callerAccount(claims, req.Owner), req.Round, req.Tranche), nil
}

func handleUserVotedLocks(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner      string  `json:"owner"`
		Round      uint64  `json:"round"`
		Tranche    uint64  `json:"tranche_id"`
		ProposalID *uint64 `json:"proposal_id"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	return s.engine.UserVotedLocks(callerAccount(claims, req.Owner), req.Round, req.Tranche, req.ProposalID), nil
}

func handleLockVotesHistory(s *Server, _ Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		LockID uint64 `json:"lock_id"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	return s.engine.LockVotesHistory(req.LockID), nil
}

func handleAllUserLockups(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner string `json:"owner"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	return s.engine.AllUserLockups(callerAccount(claims, req.Owner)), nil
}

func handleSpecificUserLockups(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner string   `json:"owner"`
		IDs   []uint64 `json:"lock_ids"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	return s.engine.SpecificUserLockups(callerAccount(claims, req.Owner), req.IDs), nil
}

func handleExpiredUserLockups(s *Server, claims Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Owner string `json:"owner"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	return s.engine.ExpiredUserLockups(callerAccount(claims, req.Owner)), nil
}

func handleTotalLockedTokens(s *Server, _ Claims, _ []json.RawMessage) (interface{}, error) {
	total := s.engine.TotalLockedTokens()
	if f, _ := new(big.Float).SetInt(total).Float64(); s.metrics != nil {
		s.metrics.SetLocked(f)
	}
	return total.String(), nil
}

func handleVotingPowerAtHeight(s *Server, _ Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		LockID uint64 `json:"lock_id"`
		Round  uint64 `json:"round"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	power, ok := s.engine.VotingPowerAtHeight(req.LockID, req.Round)
	if !ok {
		return nil, fmt.Errorf("lock %d not found", req.LockID)
	}
	return power.String(), nil
}

func handleTotalPowerAtHeight(s *Server, _ Claims, params []json.RawMessage) (interface{}, error) {
	var req struct {
		Round  uint64 `json:"round"`
		Height uint64 `json:"height"`
	}
	if err := decodeParam(params, 0, &req); err != nil {
		return nil, err
	}
	return s.engine.TotalPowerAtHeight(req.Round, req.Height).String(), nil
}
