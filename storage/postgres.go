package storage

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"hydro/core/events"
)

// ProposalRecord is the Postgres-mirrored archival row for a proposal,
// written once at creation. It exists for off-chain reporting (the in-memory
// ProposalStore is the authoritative source for anything the engine itself
// reads); losing this table never affects engine correctness.
type ProposalRecord struct {
	ProposalID                  uint64 `gorm:"primaryKey"`
	RoundID                     uint64 `gorm:"index"`
	TrancheID                   uint64 `gorm:"index"`
	Title                       string
	Description                 string
	Submitter                   string
	MinimumAtomLiquidityRequest string
	SubmitTime                  time.Time
}

// RoundRankingRecord archives one proposal's final rank within a tranche at
// the moment its round closed.
type RoundRankingRecord struct {
	Round      uint64 `gorm:"primaryKey;autoIncrement:false"`
	TrancheID  uint64 `gorm:"primaryKey;autoIncrement:false"`
	Rank       int    `gorm:"primaryKey;autoIncrement:false"`
	ProposalID uint64
	Power      string
	ClosedAt   time.Time
}

// RoundCloseRecord marks when a round was closed, regardless of whether it
// held any proposals worth ranking.
type RoundCloseRecord struct {
	Round    uint64 `gorm:"primaryKey;autoIncrement:false"`
	ClosedAt time.Time
}

// Archiver mirrors proposal and round-close history into Postgres for
// reporting and audit queries that must survive the in-memory core being
// restarted from a fresh snapshot. It implements events.Emitter so it can be
// installed via Engine.SetEmitter; the engine holds a single emitter, so it
// then replaces any other sink.
type Archiver struct {
	db *gorm.DB
}

// NewArchiver opens a Postgres connection at dsn and migrates its tables.
func NewArchiver(dsn string) (*Archiver, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ProposalRecord{}, &RoundRankingRecord{}, &RoundCloseRecord{}); err != nil {
		return nil, err
	}
	return &Archiver{db: db}, nil
}

// Emit implements events.Emitter. Only RoundClosed is archived here;
// ProposalCreated carries too little data to populate ProposalRecord (no
// title/description/amount), so ArchiveProposal below is called directly by
// the RPC layer instead, with the full Proposal in hand.
func (a *Archiver) Emit(ev events.Event) {
	if closed, ok := ev.(events.RoundClosed); ok {
		a.db.Create(&RoundCloseRecord{Round: closed.Round, ClosedAt: time.Now()})
	}
}

// ArchiveProposal mirrors a freshly created proposal. Callers build the
// record from their own domain type (kept out of this package to avoid an
// import cycle with native/hydro, which depends on storage for its
// Constants-history persistence).
func (a *Archiver) ArchiveProposal(record ProposalRecord) error {
	return a.db.Create(&record).Error
}

// RankingEntry is the plain-data shape ArchiveRankings accepts for one
// ranked proposal, mirroring native/hydro.RankEntry without importing it.
type RankingEntry struct {
	ProposalID uint64
	Power      string
}

// ArchiveRankings mirrors the final per-tranche rankings computed by
// CloseRound.
func (a *Archiver) ArchiveRankings(round uint64, rankings map[uint64][]RankingEntry) error {
	now := time.Now()
	for trancheID, entries := range rankings {
		for i, entry := range entries {
			record := RoundRankingRecord{
				Round:      round,
				TrancheID:  trancheID,
				Rank:       i,
				ProposalID: entry.ProposalID,
				Power:      entry.Power,
				ClosedAt:   now,
			}
			if err := a.db.Create(&record).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
