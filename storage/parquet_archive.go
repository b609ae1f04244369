package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// rankingParquetRow is the on-disk schema for one archived ranking row,
// mirroring the recon report pattern used elsewhere in the stack: denormalize
// everything to primitive columns so downstream analytics tooling never has
// to parse nested structures.
type rankingParquetRow struct {
	Round      int64  `parquet:"name=round, type=INT64"`
	TrancheID  int64  `parquet:"name=tranche_id, type=INT64"`
	Rank       int32  `parquet:"name=rank, type=INT32"`
	ProposalID int64  `parquet:"name=proposal_id, type=INT64"`
	Power      string `parquet:"name=power, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClosedAt   string `parquet:"name=closed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteRankingsParquet archives round's final rankings to a Parquet file at
// path, for cold-storage analytics over closed rounds. This is independent
// of (and may be used instead of or alongside) Archiver's Postgres mirror.
func WriteRankingsParquet(path string, round uint64, rankings map[uint64][]RankingEntry) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}
	defer file.Close()

	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(rankingParquetRow), 1)
	if err != nil {
		return fmt.Errorf("build parquet schema: %w", err)
	}
	pw.RowGroupSize = 64 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	closedAt := time.Now().Format(time.RFC3339)
	for trancheID, entries := range rankings {
		for i, entry := range entries {
			row := &rankingParquetRow{
				Round:      int64(round),
				TrancheID:  int64(trancheID),
				Rank:       int32(i),
				ProposalID: int64(entry.ProposalID),
				Power:      entry.Power,
				ClosedAt:   closedAt,
			}
			if err := pw.Write(row); err != nil {
				pw.WriteStop()
				return fmt.Errorf("write parquet row: %w", err)
			}
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet file: %w", err)
	}
	return nil
}
