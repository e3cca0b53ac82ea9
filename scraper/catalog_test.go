package scraper

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/aluiziolira/meli-harvester/config"
	"github.com/aluiziolira/meli-harvester/models"
	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"
)

func TestCategoriesDecodesList(t *testing.T) {
	c, transport := newTestClient(t, nil)
	transport.RegisterResponder("GET", testBaseURL+"/sites/MCO/categories",
		httpmock.NewStringResponder(http.StatusOK, `[{"id":"MCO1000","name":"Electrónica"},{"id":"MCO1051","name":"Celulares"}]`))

	got, err := c.Categories(context.Background(), "MCO")
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	want := []models.Category{
		{ID: "MCO1000", Name: "Electrónica"},
		{ID: "MCO1051", Name: "Celulares"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("categories mismatch (-want +got):\n%s", diff)
	}
}

func TestMaxOffsetUsesSmallerOfCapAndTotal(t *testing.T) {
	tests := []struct {
		name  string
		total int
		limit int
		want  int
	}{
		{name: "total below cap", total: 3, limit: 5000, want: 3},
		{name: "cap below total", total: 120000, limit: 5000, want: 5000},
		{name: "equal", total: 50, limit: 50, want: 50},
		{name: "empty category", total: 0, limit: 5000, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, transport := newTestClient(t, nil)
			transport.RegisterResponder("GET", testBaseURL+"/categories/MCO1000",
				httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
					"id":                           "MCO1000",
					"total_items_in_this_category": tt.total,
				}))

			got, err := c.MaxOffset(context.Background(), models.Category{ID: "MCO1000"}, tt.limit)
			if err != nil {
				t.Fatalf("max offset: %v", err)
			}
			if got.EffectiveCap != tt.want {
				t.Fatalf("effective cap = %d, want %d", got.EffectiveCap, tt.want)
			}
			if got.TotalItems != tt.total {
				t.Fatalf("total = %d, want %d", got.TotalItems, tt.total)
			}
		})
	}
}

func TestMaxOffsetReportsMetadataError(t *testing.T) {
	c, transport := newTestClient(t, func(cfg *config.Config) {
		cfg.MaxRetries = 0
	})
	transport.RegisterResponder("GET", testBaseURL+"/categories/MCO1000",
		httpmock.NewStringResponder(http.StatusOK, `{"id":"MCO1000"}`))
	transport.RegisterResponder("GET", testBaseURL+"/categories/MCO2000",
		httpmock.NewStringResponder(http.StatusNotFound, ``))

	for _, id := range []string{"MCO1000", "MCO2000"} {
		_, err := c.MaxOffset(context.Background(), models.Category{ID: id}, 5000)
		var metaErr CategoryMetadataError
		if !errors.As(err, &metaErr) {
			t.Fatalf("%s: err = %v, want CategoryMetadataError", id, err)
		}
		if metaErr.CategoryID != id {
			t.Fatalf("category id = %q, want %q", metaErr.CategoryID, id)
		}
	}
}

func TestPageOffsets(t *testing.T) {
	tests := []struct {
		maxOffset int
		want      []int
	}{
		{maxOffset: 0, want: nil},
		{maxOffset: 3, want: []int{0}},
		{maxOffset: 50, want: []int{0}},
		{maxOffset: 51, want: []int{0, 50}},
		{maxOffset: 120, want: []int{0, 50, 100}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, PageOffsets(tt.maxOffset)); diff != "" {
			t.Fatalf("PageOffsets(%d) mismatch (-want +got):\n%s", tt.maxOffset, diff)
		}
	}
}

func TestSearchPageReturnsResults(t *testing.T) {
	c, transport := newTestClient(t, nil)
	transport.RegisterResponder("GET", testBaseURL+"/sites/MCO/search?category=MCO1000&offset=50",
		httpmock.NewStringResponder(http.StatusOK, `{"paging":{"total":3},"results":[{"id":"MCO1"},{"id":"MCO2"}]}`))

	results, err := c.SearchPage(context.Background(), "MCO", "MCO1000", 50)
	if err != nil {
		t.Fatalf("search page: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
}

func TestSearchPageWrapsFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "bad request", status: http.StatusBadRequest, body: `{}`},
		{name: "missing results", status: http.StatusOK, body: `{"paging":{}}`},
		{name: "malformed body", status: http.StatusOK, body: `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, transport := newTestClient(t, func(cfg *config.Config) {
				cfg.MaxRetries = 0
			})
			transport.RegisterResponder("GET", testBaseURL+"/sites/MCO/search",
				httpmock.NewStringResponder(tt.status, tt.body))

			_, err := c.SearchPage(context.Background(), "MCO", "MCO1000", 100)
			var pageErr PageFetchError
			if !errors.As(err, &pageErr) {
				t.Fatalf("err = %v, want PageFetchError", err)
			}
			if pageErr.CategoryID != "MCO1000" || pageErr.Offset != 100 {
				t.Fatalf("page error = %+v", pageErr)
			}
		})
	}
}

func TestQuestionActivity(t *testing.T) {
	c, transport := newTestClient(t, nil)
	transport.RegisterResponder("GET", testBaseURL+"/questions/search?item=MCO1&limit=1&sort_fields=date_created",
		httpmock.NewStringResponder(http.StatusOK, `{"total":12,"questions":[{"date_created":"2021-03-04T10:00:00.000-04:00"}]}`))

	fields, err := c.QuestionActivity(context.Background(), "MCO1")
	if err != nil {
		t.Fatalf("question activity: %v", err)
	}
	if fields.TotalQuestions == nil || *fields.TotalQuestions != 12 {
		t.Fatalf("total = %v, want 12", fields.TotalQuestions)
	}
	if fields.YearCreated == nil || *fields.YearCreated != "2021" {
		t.Fatalf("year = %v, want 2021", fields.YearCreated)
	}
	if fields.MonthCreated == nil || *fields.MonthCreated != "03" {
		t.Fatalf("month = %v, want 03", fields.MonthCreated)
	}
}

func TestQuestionActivityWrapsFailure(t *testing.T) {
	c, transport := newTestClient(t, func(cfg *config.Config) {
		cfg.MaxRetries = 0
	})
	transport.RegisterResponder("GET", testBaseURL+"/questions/search",
		httpmock.NewStringResponder(http.StatusForbidden, ``))

	_, err := c.QuestionActivity(context.Background(), "MCO9")
	var lookupErr QuestionLookupError
	if !errors.As(err, &lookupErr) || lookupErr.ItemID != "MCO9" {
		t.Fatalf("err = %v, want QuestionLookupError for MCO9", err)
	}
	var forbidden ErrForbidden
	if !errors.As(err, &forbidden) {
		t.Fatalf("err = %v, want wrapped ErrForbidden", err)
	}
}
