package runtime

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// checkpointTable holds a single row recording the last committed
// checkpoint, for crash recovery (spec.md §3 GLOSSARY "Checkpoint"). It
// lives outside the schema descriptor set since it is runtime bookkeeping,
// not domain data the Indexing Cache overlays.
const checkpointTable = "_chainindex_checkpoint"

// sqlExecutor is satisfied by both pgx.Tx and *pgxpool.Pool.
type sqlExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ensureCheckpointTable creates the bookkeeping table if absent. Called once
// at startup, outside any batch transaction.
func ensureCheckpointTable(ctx context.Context, conn sqlExecutor) error {
	_, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+checkpointTable+` (
		id BOOLEAN PRIMARY KEY DEFAULT true CHECK (id),
		checkpoint BIGINT NOT NULL
	)`)
	return err
}

// LoadCheckpoint reads the last committed checkpoint, or 0 if none has been
// recorded yet (a fresh run starting at chain genesis).
func LoadCheckpoint(ctx context.Context, tx pgx.Tx) (uint64, error) {
	row := tx.QueryRow(ctx, `SELECT checkpoint FROM `+checkpointTable+` WHERE id = true`)
	var checkpoint int64
	if err := row.Scan(&checkpoint); err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return uint64(checkpoint), nil
}

// SaveCheckpoint upserts the latest committed checkpoint within the same
// transaction as the batch's flush, so a crash between flush and commit
// never leaves the checkpoint ahead of the data it describes.
func SaveCheckpoint(ctx context.Context, tx pgx.Tx, checkpoint uint64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO `+checkpointTable+` (id, checkpoint) VALUES (true, $1)
		ON CONFLICT (id) DO UPDATE SET checkpoint = EXCLUDED.checkpoint
	`, int64(checkpoint))
	return err
}
