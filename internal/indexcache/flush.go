package indexcache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chainindex/internal/normalize"
	"chainindex/internal/schema"
	cierrors "chainindex/pkg/errors"
)

// Flush implements spec.md §4.5.1: for each table in schema-declared order,
// bulk-COPY buffered inserts, then bulk-COPY buffered updates through a
// temp-table UPDATE. Runs within the caller's transaction (the Cache itself
// never holds one). Per invariant I5, buffers remain populated after a
// successful flush; only Commit drains them.
func (c *Cache) Flush(ctx context.Context, order []schema.Table) error {
	for _, table := range order {
		ts := c.state(table.Name)

		if len(ts.insertBuffer) > 0 {
			start := time.Now()
			insertRows := collectRows(ts.insertBuffer)
			if err := c.flusher.BulkInsert(ctx, table, insertRows); err != nil {
				return cierrors.Wrap(cierrors.KindFlush, "bulk insert failed for table "+table.Name, err)
			}
			if c.metrics != nil {
				c.metrics.RecordFlush(table.Name, "insert", len(insertRows), time.Since(start))
			}
			if c.logger != nil {
				c.logger.Debug("flushed inserts", zap.String("table", table.Name), zap.Int("rows", len(insertRows)))
			}
		}

		if len(ts.updateBuffer) > 0 {
			start := time.Now()
			updateRows := collectRows(ts.updateBuffer)
			if err := c.flusher.BulkUpdate(ctx, table, updateRows); err != nil {
				return cierrors.Wrap(cierrors.KindFlush, "bulk update failed for table "+table.Name, err)
			}
			if c.metrics != nil {
				c.metrics.RecordFlush(table.Name, "update", len(updateRows), time.Since(start))
			}
			if c.logger != nil {
				c.logger.Debug("flushed updates", zap.String("table", table.Name), zap.Int("rows", len(updateRows)))
			}
		}
	}
	return nil
}

func collectRows(buf map[Key]*BufferEntry) []normalize.Row {
	rows := make([]normalize.Row, 0, len(buf))
	for _, b := range buf {
		rows = append(rows, b.Row)
	}
	return rows
}
