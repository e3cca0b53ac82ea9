package harvest

import (
	"context"
	"encoding/json"
	"slices"
	"testing"

	"github.com/aluiziolira/meli-harvester/models"
)

func TestRunEmitsInCategoryOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.CategoryWorkers = 2
	cfg.KeepInMemory = true
	catalog := colombia(
		models.Category{ID: "MCO1", Name: "Libros"},
		models.Category{ID: "MCO2", Name: "Juegos"},
	)
	catalog.totals["MCO1"] = 2
	catalog.totals["MCO2"] = 2

	// the first category only finishes after the second one was fetched
	secondFetched := make(chan struct{})
	catalog.search = func(ctx context.Context, categoryID string, _ int) ([]json.RawMessage, error) {
		switch categoryID {
		case "MCO1":
			select {
			case <-secondFetched:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return rawItems("A1", "SHARED"), nil
		default:
			defer close(secondFetched)
			return rawItems("SHARED", "B1"), nil
		}
	}
	sink := &recordingSink{}

	h, err := New(context.Background(), cfg, catalog, nil, newStore(t, cfg))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := h.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"A1", "SHARED", "B1"}
	if !slices.Equal(sink.ids, want) {
		t.Fatalf("sink ids = %v, want %v", sink.ids, want)
	}
	if result.Duplicates != 1 || result.TotalRecords != 3 {
		t.Fatalf("duplicates = %d, total = %d; want 1, 3", result.Duplicates, result.TotalRecords)
	}

	var kept []string
	for _, r := range result.Dataset.Records {
		kept = append(kept, r.ID)
	}
	if !slices.Equal(kept, want) {
		t.Fatalf("dataset ids = %v, want %v", kept, want)
	}
	if shared := result.Dataset.Records[1]; shared.CategoryName != "Libros" {
		t.Fatalf("shared record category = %q, want first occurrence Libros", shared.CategoryName)
	}
	if result.Dataset.Site.ID != "MCO" {
		t.Fatalf("dataset site = %+v", result.Dataset.Site)
	}
}

func TestRunWithoutKeepInMemoryDropsDataset(t *testing.T) {
	cfg := testConfig(t)
	catalog := colombia(models.Category{ID: "MCO1", Name: "Libros"})
	catalog.totals["MCO1"] = 2
	sink := &recordingSink{}

	h, err := New(context.Background(), cfg, catalog, nil, newStore(t, cfg))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := h.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Dataset != nil {
		t.Fatal("dataset should not be retained")
	}
	if len(sink.ids) != 2 || result.TotalRecords != 2 {
		t.Fatalf("sink ids = %v, total = %d", sink.ids, result.TotalRecords)
	}
}

func TestEmitterSkipsSinkAfterError(t *testing.T) {
	sink := &recordingSink{}
	em := newEmitter(models.Site{ID: "MCO"}, sink, false, nil)

	em.emit([]*models.ProductRecord{{ID: "A"}, nil, {ID: "A"}})
	if em.emitted != 1 || em.duplicates != 1 {
		t.Fatalf("emitted = %d, duplicates = %d", em.emitted, em.duplicates)
	}

	sink.err = context.Canceled
	em.emit([]*models.ProductRecord{{ID: "B"}})
	em.emit([]*models.ProductRecord{{ID: "C"}})
	if em.err != context.Canceled {
		t.Fatalf("err = %v", em.err)
	}
	if !slices.Equal(sink.ids, []string{"A"}) {
		t.Fatalf("sink ids = %v", sink.ids)
	}
}
