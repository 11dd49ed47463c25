package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"f1etl/internal/model"
)

// LoadResult accumulates the outcome of a batched upsert.
type LoadResult struct {
	Inserted int64
	Updated  int64
	Failed   int64

	// FailedChunks holds the 0-based indices of chunks whose transaction was
	// rolled back.
	FailedChunks []int
}

// Merge folds another result into this one. Chunk indices are kept as-is;
// they are only meaningful per table.
func (r *LoadResult) Merge(o LoadResult) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Failed += o.Failed
	r.FailedChunks = append(r.FailedChunks, o.FailedChunks...)
}

// UpsertBatches partitions rows into chunks of batchSize and upserts each
// chunk in its own transaction via repo.UpsertChunk. A failing chunk is
// rolled back by the repository, logged, and recorded in the result; the
// remaining chunks are still attempted. Only context cancellation and
// invalid arguments abort the loop.
//
// Progress is logged per chunk with running totals and instantaneous
// rows/sec, matching the rest of the pipeline's log style.
func UpsertBatches(
	ctx context.Context,
	repo Repository,
	spec model.TableSpec,
	rows [][]any,
	batchSize int,
) (LoadResult, error) {
	var res LoadResult
	if batchSize <= 0 {
		return res, fmt.Errorf("storage: batchSize must be > 0")
	}
	if repo == nil {
		return res, fmt.Errorf("storage: repo must not be nil")
	}

	start := time.Now()
	lastFlush := start

	for chunkIdx, off := 0, 0; off < len(rows); chunkIdx, off = chunkIdx+1, off+batchSize {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("storage: upsert %s: %w", spec.Name, err)
		}

		end := off + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[off:end]

		inserted, updated, err := repo.UpsertChunk(ctx, spec, chunk)
		now := time.Now()
		if err != nil {
			res.Failed += int64(len(chunk))
			res.FailedChunks = append(res.FailedChunks, chunkIdx)
			log.Printf("loader: table=%s chunk=#%d rows=%d rolled back: %v",
				spec.Name, chunkIdx, len(chunk), err)
			lastFlush = now
			continue
		}
		res.Inserted += inserted
		res.Updated += updated

		rps := float64(0)
		if d := now.Sub(lastFlush); d > 0 {
			rps = float64(len(chunk)) / d.Seconds()
		}
		log.Printf("loader: table=%s chunk=#%d rps=%.0f inserted=%d updated=%d total=%d elapsed=%s",
			spec.Name, chunkIdx, rps, inserted, updated,
			res.Inserted+res.Updated, now.Sub(start).Truncate(time.Millisecond))
		lastFlush = now
	}

	return res, nil
}
