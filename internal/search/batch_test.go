package search

import (
	"context"
	"errors"
	"testing"

	"github.com/nougatpkg/nougat/internal/model"
	"github.com/nougatpkg/nougat/pkg/nuget"
	"go.uber.org/zap"
)

// sizeLimitPusher rejects any batch above limit and records deliveries.
type sizeLimitPusher struct {
	limit   int
	batches [][]Document
	failErr error
}

func (p *sizeLimitPusher) Push(ctx context.Context, batch []Document) error {
	if p.failErr != nil {
		return p.failErr
	}
	if p.limit > 0 && len(batch) > p.limit {
		return ErrBatchTooLarge
	}
	p.batches = append(p.batches, batch)
	return nil
}

func indexDoc(t *testing.T, b *BatchingIndexer, id, version string) {
	t.Helper()
	pkg := &model.Package{ID: id, Version: nuget.MustParseVersion(version)}
	if err := b.Index(context.Background(), pkg); err != nil {
		t.Fatalf("Index(%s) failed: %v", id, err)
	}
}

func TestIndexFlushesAtBatchSize(t *testing.T) {
	p := &sizeLimitPusher{}
	b := NewBatchingIndexer(p, 3, zap.NewNop())

	indexDoc(t, b, "a", "1.0.0")
	indexDoc(t, b, "b", "1.0.0")
	if len(p.batches) != 0 {
		t.Fatalf("flushed early: %d batches", len(p.batches))
	}

	indexDoc(t, b, "c", "1.0.0")
	if len(p.batches) != 1 || len(p.batches[0]) != 3 {
		t.Fatalf("batches = %+v, want one batch of 3", p.batches)
	}
}

func TestFlushSendsPending(t *testing.T) {
	p := &sizeLimitPusher{}
	b := NewBatchingIndexer(p, 10, zap.NewNop())

	indexDoc(t, b, "a", "1.0.0")
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(p.batches) != 1 || len(p.batches[0]) != 1 {
		t.Fatalf("batches = %+v, want one batch of 1", p.batches)
	}

	// A second flush with nothing pending delivers nothing.
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("empty Flush failed: %v", err)
	}
	if len(p.batches) != 1 {
		t.Errorf("empty flush delivered a batch")
	}
}

func TestPushBisectsOversizedBatch(t *testing.T) {
	p := &sizeLimitPusher{limit: 2}
	b := NewBatchingIndexer(p, 7, zap.NewNop())

	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		indexDoc(t, b, id, "1.0.0")
	}

	var total int
	for _, batch := range p.batches {
		if len(batch) > 2 {
			t.Errorf("delivered batch of %d, limit is 2", len(batch))
		}
		total += len(batch)
	}
	if total != 7 {
		t.Errorf("delivered %d documents, want 7", total)
	}

	// Order is preserved across the splits.
	var ids []string
	for _, batch := range p.batches {
		for _, d := range batch {
			ids = append(ids, d.ID)
		}
	}
	for i, want := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		if ids[i] != want {
			t.Fatalf("ids = %v, order not preserved", ids)
		}
	}
}

func TestPushSingleDocumentRejection(t *testing.T) {
	p := &sizeLimitPusher{limit: 0, failErr: ErrBatchTooLarge}
	b := NewBatchingIndexer(p, 1, zap.NewNop())

	pkg := &model.Package{ID: "a", Version: nuget.MustParseVersion("1.0.0")}
	err := b.Index(context.Background(), pkg)
	if err == nil {
		t.Fatal("Index succeeded, want error for single-document rejection")
	}
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("err = %v, want wrapped ErrBatchTooLarge", err)
	}
}

func TestPushPropagatesOtherErrors(t *testing.T) {
	boom := errors.New("backend down")
	p := &sizeLimitPusher{failErr: boom}
	b := NewBatchingIndexer(p, 1, zap.NewNop())

	pkg := &model.Package{ID: "a", Version: nuget.MustParseVersion("1.0.0")}
	if err := b.Index(context.Background(), pkg); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped backend error", err)
	}
}
