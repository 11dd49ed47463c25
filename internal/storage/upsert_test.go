package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"f1etl/internal/model"
)

// fakeRepo records chunk sizes and fails the chunk indices listed in failOn.
type fakeRepo struct {
	chunks   [][]int // row counts per call, reused across tables
	failOn   map[int]bool
	existing int64 // keys reported as already present per chunk
}

func (f *fakeRepo) EnsureSchema(context.Context) error { return nil }

func (f *fakeRepo) UpsertChunk(_ context.Context, spec model.TableSpec, rows [][]any) (int64, int64, error) {
	idx := len(f.chunks)
	f.chunks = append(f.chunks, []int{idx, len(rows)})
	if f.failOn[idx] {
		return 0, 0, fmt.Errorf("fake: chunk %d refused", idx)
	}
	updated := f.existing
	if updated > int64(len(rows)) {
		updated = int64(len(rows))
	}
	return int64(len(rows)) - updated, updated, nil
}

func (f *fakeRepo) FetchResults(context.Context, int, int) ([]ResultRow, error) { return nil, nil }
func (f *fakeRepo) Exec(context.Context, string) error                          { return nil }

func rowsOf(n int) [][]any {
	out := make([][]any, n)
	for i := range out {
		out[i] = []any{i}
	}
	return out
}

func TestUpsertBatchesChunking(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	res, err := UpsertBatches(context.Background(), repo, model.DriversTable, rowsOf(10), 4)
	if err != nil {
		t.Fatalf("UpsertBatches: %v", err)
	}
	if len(repo.chunks) != 3 {
		t.Fatalf("chunk calls: got %d want 3", len(repo.chunks))
	}
	if repo.chunks[2][1] != 2 {
		t.Fatalf("last chunk size: got %d want 2", repo.chunks[2][1])
	}
	if res.Inserted != 10 || res.Failed != 0 {
		t.Fatalf("result: %+v", res)
	}
}

func TestUpsertBatchesContinuesPastFailedChunk(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{failOn: map[int]bool{1: true}}
	res, err := UpsertBatches(context.Background(), repo, model.QualifyingTable, rowsOf(9), 3)
	if err != nil {
		t.Fatalf("UpsertBatches: %v", err)
	}
	if len(repo.chunks) != 3 {
		t.Fatalf("all chunks must be attempted, got %d calls", len(repo.chunks))
	}
	if res.Inserted != 6 || res.Failed != 3 {
		t.Fatalf("result: %+v", res)
	}
	if len(res.FailedChunks) != 1 || res.FailedChunks[0] != 1 {
		t.Fatalf("failed chunks: %v", res.FailedChunks)
	}
}

func TestUpsertBatchesCountsUpdates(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{existing: 2}
	res, err := UpsertBatches(context.Background(), repo, model.DriversTable, rowsOf(5), 5)
	if err != nil {
		t.Fatalf("UpsertBatches: %v", err)
	}
	if res.Inserted != 3 || res.Updated != 2 {
		t.Fatalf("result: %+v", res)
	}
}

func TestUpsertBatchesRejectsBadArgs(t *testing.T) {
	t.Parallel()

	if _, err := UpsertBatches(context.Background(), &fakeRepo{}, model.DriversTable, rowsOf(1), 0); err == nil {
		t.Fatal("expected batchSize error")
	}
	if _, err := UpsertBatches(context.Background(), nil, model.DriversTable, rowsOf(1), 1); err == nil {
		t.Fatal("expected nil repo error")
	}
}

func TestUpsertBatchesHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := UpsertBatches(ctx, &fakeRepo{}, model.DriversTable, rowsOf(4), 2)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error: %v", err)
	}
}

func TestLoadResultMerge(t *testing.T) {
	t.Parallel()

	a := LoadResult{Inserted: 1, Updated: 2, Failed: 3, FailedChunks: []int{0}}
	a.Merge(LoadResult{Inserted: 10, Updated: 20, Failed: 30, FailedChunks: []int{2}})
	if a.Inserted != 11 || a.Updated != 22 || a.Failed != 33 {
		t.Fatalf("merge: %+v", a)
	}
	if len(a.FailedChunks) != 2 {
		t.Fatalf("failed chunks: %v", a.FailedChunks)
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	t.Parallel()

	_, _, err := New(context.Background(), Config{Kind: "nope"})
	if err == nil {
		t.Fatal("expected unknown-kind error")
	}
}
