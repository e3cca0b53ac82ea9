package models

import "time"

// CategoryStatus is the terminal state of one category crawl.
type CategoryStatus string

const (
	StatusCheckpoint CategoryStatus = "checkpoint"
	StatusFetched    CategoryStatus = "fetched"
	StatusPartial    CategoryStatus = "partial"
	StatusFailed     CategoryStatus = "failed"
	StatusCanceled   CategoryStatus = "canceled"
)

// CategoryReport records how a category was served.
type CategoryReport struct {
	Category       Category
	Status         CategoryStatus
	Records        int
	PagesFetched   int
	PagesSkipped   int
	QuestionErrors int
	Dropped        int
	Persisted      bool
	Err            string
}

// HarvestResult holds the overall result of a harvest.
type HarvestResult struct {
	Site         Site
	Dataset      *SiteDataset
	Categories   []CategoryReport
	StartTime    time.Time
	EndTime      time.Time
	TotalRecords int
	Duplicates   int
}

// CountByStatus tallies category reports by terminal state.
func (r *HarvestResult) CountByStatus() map[CategoryStatus]int {
	out := make(map[CategoryStatus]int)
	for _, c := range r.Categories {
		out[c.Status]++
	}
	return out
}
