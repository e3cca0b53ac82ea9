// Package harvest crawls every category of a site and folds the results into
// one site-wide dataset.
package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/meli-harvester/config"
	"github.com/aluiziolira/meli-harvester/models"
	"github.com/aluiziolira/meli-harvester/parser"
	"github.com/aluiziolira/meli-harvester/scraper"
)

// Catalog is the part of the marketplace API the harvester drives.
type Catalog interface {
	scraper.SiteLister
	Categories(ctx context.Context, siteID string) ([]models.Category, error)
	MaxOffset(ctx context.Context, category models.Category, limit int) (models.Category, error)
	SearchPage(ctx context.Context, siteID, categoryID string, offset int) ([]json.RawMessage, error)
}

// QuestionSource resolves question activity for the products of a page.
type QuestionSource interface {
	LookupAll(ctx context.Context, ids []string) (map[string]models.QuestionFields, int, error)
}

// CheckpointStore persists category datasets between runs.
type CheckpointStore interface {
	Exists(categoryID string) bool
	Load(category models.Category) (*models.CategoryDataset, error)
	Save(ds *models.CategoryDataset) error
}

// Sink receives the site dataset in category order.
type Sink interface {
	Process(records ...*models.ProductRecord) error
}

// Harvester crawls the categories of one resolved site.
type Harvester struct {
	cfg        *config.Config
	catalog    Catalog
	questions  QuestionSource
	store      CheckpointStore
	site       models.Site
	categories []models.Category

	// Metrics is optional.
	Metrics *scraper.Metrics
}

// New resolves cfg.SiteName and lists its categories. Both calls happen once;
// any failure is returned. questions may be nil to leave question fields
// empty.
func New(ctx context.Context, cfg *config.Config, catalog Catalog, questions QuestionSource, store CheckpointStore) (*Harvester, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if catalog == nil {
		return nil, errors.New("nil catalog")
	}
	if store == nil {
		return nil, errors.New("nil checkpoint store")
	}

	site, err := scraper.ResolveSite(ctx, catalog, cfg.SiteName)
	if err != nil {
		return nil, err
	}
	categories, err := catalog.Categories(ctx, site.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("site resolved",
		slog.String("site", site.ID),
		slog.String("name", site.Name),
		slog.Int("categories", len(categories)),
	)

	return &Harvester{
		cfg:        cfg,
		catalog:    catalog,
		questions:  questions,
		store:      store,
		site:       site,
		categories: categories,
	}, nil
}

// Site returns the resolved site.
func (h *Harvester) Site() models.Site {
	return h.site
}

// Categories returns the categories in enumeration order.
func (h *Harvester) Categories() []models.Category {
	out := make([]models.Category, len(h.categories))
	copy(out, h.categories)
	return out
}

// Run crawls every category and streams the site dataset to sink in
// enumeration order. sink may be nil. Per-category failures are recorded in
// the result; the returned error is the sink failure or the context error.
// Categories still running when the sink fails are canceled.
func (h *Harvester) Run(ctx context.Context, sink Sink) (*models.HarvestResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	// a sink failure stops the remaining categories
	crawlCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]*slot, len(h.categories))
	for i := range slots {
		slots[i] = &slot{done: make(chan struct{})}
	}

	em := newEmitter(h.site, sink, h.cfg.KeepInMemory, h.Metrics)
	em.onError = cancel
	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		em.drain(slots)
	}()

	var g errgroup.Group
	g.SetLimit(atLeastOne(h.cfg.CategoryWorkers))
	for i, category := range h.categories {
		g.Go(func() error {
			slots[i].outcome = h.crawlCategory(crawlCtx, category)
			close(slots[i].done)
			return nil
		})
	}
	_ = g.Wait()
	<-emitted

	result := &models.HarvestResult{
		Site:         h.site,
		Categories:   make([]models.CategoryReport, 0, len(slots)),
		StartTime:    start,
		EndTime:      time.Now(),
		TotalRecords: em.emitted,
		Duplicates:   em.duplicates,
	}
	if h.cfg.KeepInMemory {
		result.Dataset = em.dataset
	}
	for _, s := range slots {
		result.Categories = append(result.Categories, s.outcome.report)
	}

	if em.err != nil {
		return result, em.err
	}
	return result, ctx.Err()
}

type categoryOutcome struct {
	report  models.CategoryReport
	records []*models.ProductRecord
}

func (h *Harvester) crawlCategory(ctx context.Context, category models.Category) categoryOutcome {
	out := h.crawl(ctx, category)
	h.Metrics.IncCategory(string(out.report.Status))

	attrs := []any{
		slog.String("category", category.ID),
		slog.String("status", string(out.report.Status)),
		slog.Int("records", out.report.Records),
	}
	switch out.report.Status {
	case models.StatusFailed:
		slog.Warn("category failed", append(attrs, slog.String("error", out.report.Err))...)
	case models.StatusPartial:
		slog.Warn("category partially fetched", append(attrs, slog.Int("pages_skipped", out.report.PagesSkipped))...)
	default:
		slog.Info("category done", attrs...)
	}
	return out
}

func (h *Harvester) crawl(ctx context.Context, category models.Category) categoryOutcome {
	report := models.CategoryReport{Category: category}
	if ctx.Err() != nil {
		report.Status = models.StatusCanceled
		return categoryOutcome{report: report}
	}

	if h.cfg.CheckExistence && h.store.Exists(category.ID) {
		ds, err := h.store.Load(category)
		if err == nil {
			report.Status = models.StatusCheckpoint
			report.Records = len(ds.Records)
			report.Persisted = true
			return categoryOutcome{report: report, records: ds.Records}
		}
		slog.Warn("unreadable checkpoint, fetching again",
			slog.String("category", category.ID),
			slog.Any("error", err),
		)
	}

	category, err := h.catalog.MaxOffset(ctx, category, h.cfg.ProductsPerCategory)
	report.Category = category
	if err != nil {
		if ctx.Err() != nil {
			report.Status = models.StatusCanceled
			return categoryOutcome{report: report}
		}
		report.Status = models.StatusFailed
		report.Err = err.Error()
		return categoryOutcome{report: report}
	}

	pages, stats, err := h.fetchPages(ctx, category)
	report.PagesFetched = stats.fetched
	report.PagesSkipped = stats.skipped
	report.QuestionErrors = stats.questionErrors
	report.Dropped = stats.dropped
	if err != nil || ctx.Err() != nil {
		report.Status = models.StatusCanceled
		return categoryOutcome{report: report}
	}

	records, duplicates := mergePages(pages, categoryName(category))
	report.Dropped += duplicates
	report.Records = len(records)
	h.Metrics.AddRecords(len(records))
	h.Metrics.AddPagesSkipped(stats.skipped)

	report.Status = models.StatusFetched
	if stats.skipped > 0 {
		report.Status = models.StatusPartial
	}

	if h.shouldPersist(report) {
		if ctx.Err() != nil {
			report.Status = models.StatusCanceled
			return categoryOutcome{report: report}
		}
		ds := &models.CategoryDataset{Category: category, Records: records}
		if err := h.store.Save(ds); err != nil {
			slog.Error("save checkpoint",
				slog.String("category", category.ID),
				slog.Any("error", err),
			)
			report.Err = fmt.Sprintf("save checkpoint: %v", err)
		} else {
			report.Persisted = true
		}
	}

	return categoryOutcome{report: report, records: records}
}

func (h *Harvester) shouldPersist(report models.CategoryReport) bool {
	if !h.cfg.ExportIndividual {
		return false
	}
	return report.PagesSkipped == 0 || h.cfg.CheckpointPartial
}

type pageStats struct {
	fetched        int
	skipped        int
	questionErrors int
	dropped        int
}

// fetchPages returns the extracted records of every page indexed by offset
// position. A failed page leaves a nil slot. The error is non-nil only when
// ctx ended.
func (h *Harvester) fetchPages(ctx context.Context, category models.Category) ([][]*models.ProductRecord, pageStats, error) {
	offsets := scraper.PageOffsets(category.EffectiveCap)
	pages := make([][]*models.ProductRecord, len(offsets))

	var (
		mu    sync.Mutex
		stats pageStats
	)

	var g errgroup.Group
	g.SetLimit(atLeastOne(h.cfg.PageWorkers))
	for i, offset := range offsets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			raw, err := h.catalog.SearchPage(ctx, h.site.ID, category.ID, offset)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("page skipped",
					slog.String("category", category.ID),
					slog.Int("offset", offset),
					slog.Any("error", err),
				)
				mu.Lock()
				stats.skipped++
				mu.Unlock()
				return nil
			}

			records, dropped, questionErrors, err := h.extractPage(ctx, raw)
			if err != nil {
				return err
			}

			mu.Lock()
			pages[i] = records
			stats.fetched++
			stats.dropped += dropped
			stats.questionErrors += questionErrors
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pages, stats, err
	}
	return pages, stats, ctx.Err()
}

func (h *Harvester) extractPage(ctx context.Context, raw []json.RawMessage) ([]*models.ProductRecord, int, int, error) {
	var (
		questions map[string]models.QuestionFields
		failures  int
	)
	if h.questions != nil && !h.cfg.SkipQuestions {
		ids, _ := parser.ProductIDs(raw)
		var err error
		questions, failures, err = h.questions.LookupAll(ctx, ids)
		if err != nil {
			return nil, 0, 0, err
		}
	}
	records, dropped := parser.Extract(raw, questions)
	return records, dropped, failures, nil
}

// mergePages concatenates pages in offset order, keeps the first record of
// each id and tags every record with the category name.
func mergePages(pages [][]*models.ProductRecord, name string) ([]*models.ProductRecord, int) {
	total := 0
	for _, page := range pages {
		total += len(page)
	}

	records := make([]*models.ProductRecord, 0, total)
	seen := make(map[string]struct{}, total)
	duplicates := 0
	for _, page := range pages {
		for _, r := range page {
			if _, dup := seen[r.ID]; dup {
				duplicates++
				continue
			}
			seen[r.ID] = struct{}{}
			r.CategoryName = name
			records = append(records, r)
		}
	}
	return records, duplicates
}

func categoryName(c models.Category) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
