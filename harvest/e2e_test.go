package harvest

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/meli-harvester/config"
	"github.com/aluiziolira/meli-harvester/models"
	"github.com/aluiziolira/meli-harvester/scraper"
)

const apiURL = "http://api.test"

const searchBody = `{
  "results": [
    {
      "id": "MCO1",
      "title": "Celular  Moto G",
      "price": 899900,
      "sold_quantity": 12,
      "accepts_mercadopago": true,
      "seller": {"seller_reputation": {"level_id": "5_green", "power_seller_status": "platinum",
        "transactions": {"ratings": {"positive": 0.97, "negative": 0.02, "neutral": 0.01}}}},
      "shipping": {"free_shipping": true, "store_pick_up": false},
      "tags": ["good_quality_thumbnail", "brand_verified"],
      "official_store_id": 120,
      "thumbnail": "http://http2.mlstatic.com/D_123-I_062023.jpg"
    },
    {"id": "MCO2", "title": "Funda", "price": 25000, "seller": {}},
    {"id": "MCO3", "title": "Cargador", "shipping": {"free_shipping": false}}
  ]
}`

func newAPI(t *testing.T, cfg *config.Config) (*scraper.Client, *httpmock.MockTransport) {
	t.Helper()
	cfg.BaseURL = apiURL
	cfg.RequestsPerSecond = 0
	cfg.QuestionsPerSecond = 0
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 2 * time.Millisecond

	client, err := scraper.NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	transport := httpmock.NewMockTransport()
	client.WithTransport(transport)

	transport.RegisterResponder("GET", apiURL+"/sites",
		httpmock.NewStringResponder(http.StatusOK, `[{"id":"MLA","name":"Argentina"},{"id":"MCO","name":"Colombia"}]`))
	transport.RegisterResponder("GET", apiURL+"/sites/MCO/categories",
		httpmock.NewStringResponder(http.StatusOK, `[{"id":"MCO1000","name":"Electrónica"}]`))
	transport.RegisterResponder("GET", apiURL+"/categories/MCO1000",
		httpmock.NewStringResponder(http.StatusOK, `{"id":"MCO1000","total_items_in_this_category":3}`))
	transport.RegisterResponder("GET", apiURL+"/sites/MCO/search?category=MCO1000&offset=0",
		httpmock.NewStringResponder(http.StatusOK, searchBody))
	transport.RegisterResponder("GET", apiURL+"/questions/search",
		httpmock.NewStringResponder(http.StatusOK, `{"total":7,"questions":[{"date_created":"2022-11-05T08:00:00.000-04:00"}]}`))
	return client, transport
}

func TestHarvestColombiaEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.SiteName = "colombia"
	cfg.ProductsPerCategory = 50
	cfg.KeepInMemory = true
	client, _ := newAPI(t, cfg)
	store := newStore(t, cfg)

	h, err := New(context.Background(), cfg, client, scraper.NewQuestionLookup(client, cfg, nil, client.Metrics), store)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h.Metrics = client.Metrics
	if h.Site().ID != "MCO" {
		t.Fatalf("site = %+v", h.Site())
	}

	result, err := h.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	report := result.Categories[0]
	if report.Status != models.StatusFetched || report.Records != 3 || !report.Persisted {
		t.Fatalf("report = %+v", report)
	}
	if got, want := store.Path("MCO1000"), filepath.Join(cfg.Folder, "MCO1000.csv"); got != want {
		t.Fatalf("checkpoint path = %s, want %s", got, want)
	}

	ds, err := store.Load(models.Category{ID: "MCO1000", Name: "Electrónica"})
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if len(ds.Records) != 3 {
		t.Fatalf("checkpoint rows = %d, want 3", len(ds.Records))
	}

	byID := map[string]*models.ProductRecord{}
	for _, r := range ds.Records {
		byID[r.ID] = r
		if r.CategoryName != "Electrónica" {
			t.Fatalf("record %s category = %q", r.ID, r.CategoryName)
		}
		if r.TotalQuestions == nil || *r.TotalQuestions != 7 {
			t.Fatalf("record %s total_questions = %v, want 7", r.ID, r.TotalQuestions)
		}
		if r.YearCreated == nil || *r.YearCreated != "2022" || *r.MonthCreated != "11" {
			t.Fatalf("record %s question date = %v/%v", r.ID, r.YearCreated, r.MonthCreated)
		}
	}

	first := byID["MCO1"]
	if first.SellerLevel == nil || *first.SellerLevel != "5_green" {
		t.Fatalf("seller level = %v", first.SellerLevel)
	}
	if first.MonthUpdate == nil || *first.MonthUpdate != "06" || *first.YearUpdate != "2023" {
		t.Fatalf("thumbnail date = %v/%v", first.MonthUpdate, first.YearUpdate)
	}
	if first.TagCount == nil || *first.TagCount != 2 {
		t.Fatalf("tags = %v", first.TagCount)
	}
	if first.IsOfficialStore == nil || !*first.IsOfficialStore {
		t.Fatalf("official store = %v", first.IsOfficialStore)
	}
	if second := byID["MCO2"]; second.SellerLevel != nil || second.PositiveRating != nil {
		t.Fatalf("missing reputation should stay nil: %+v", second.SellerFields)
	}

	if len(result.Dataset.Records) != 3 || result.TotalRecords != 3 {
		t.Fatalf("site dataset = %d records", len(result.Dataset.Records))
	}
}

func TestHarvestCheckpointIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProductsPerCategory = 50
	client, transport := newAPI(t, cfg)
	store := newStore(t, cfg)

	first, err := New(context.Background(), cfg, client, nil, store)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := first.Run(context.Background(), nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !store.Exists("MCO1000") {
		t.Fatal("first run should write the checkpoint")
	}

	second, err := New(context.Background(), cfg, client, nil, store)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	calls := transport.GetTotalCallCount()
	result, err := second.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := transport.GetTotalCallCount(); got != calls {
		t.Fatalf("second run made %d requests, want 0", got-calls)
	}
	report := result.Categories[0]
	if report.Status != models.StatusCheckpoint || report.Records != 3 {
		t.Fatalf("report = %+v", report)
	}
}

func TestHarvestSkipsRejectedPage(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProductsPerCategory = 50
	cfg.MaxRetries = 0
	client, transport := newAPI(t, cfg)
	transport.RegisterResponder("GET", apiURL+"/sites/MCO/search?category=MCO1000&offset=0",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"message":"invalid offset"}`))
	store := newStore(t, cfg)

	h, err := New(context.Background(), cfg, client, nil, store)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	result, err := h.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	report := result.Categories[0]
	if report.Status != models.StatusPartial || report.PagesSkipped != 1 || report.Records != 0 {
		t.Fatalf("report = %+v", report)
	}
	if store.Exists("MCO1000") {
		t.Fatal("partial category should not be checkpointed by default")
	}
}
