package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/aluiziolira/meli-harvester/models"
	"github.com/aluiziolira/meli-harvester/parser"
)

// PageSize is the number of products the search endpoint returns per offset.
const PageSize = 50

// Sites lists every marketplace site.
func (c *Client) Sites(ctx context.Context) ([]models.Site, error) {
	var sites []models.Site
	if err := c.getJSON(ctx, endpointSites, "/sites", nil, &sites); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}

// Categories lists the top-level categories of a site.
func (c *Client) Categories(ctx context.Context, siteID string) ([]models.Category, error) {
	var categories []models.Category
	path := "/sites/" + url.PathEscape(siteID) + "/categories"
	if err := c.getJSON(ctx, endpointCategories, path, nil, &categories); err != nil {
		return nil, fmt.Errorf("list categories of %s: %w", siteID, err)
	}
	return categories, nil
}

// CategoryTotal reads the number of items the API reports for a category.
func (c *Client) CategoryTotal(ctx context.Context, categoryID string) (int, error) {
	var meta struct {
		Total *int `json:"total_items_in_this_category"`
	}
	path := "/categories/" + url.PathEscape(categoryID)
	if err := c.getJSON(ctx, endpointCategory, path, nil, &meta); err != nil {
		return 0, err
	}
	if meta.Total == nil {
		return 0, ErrDecode{Err: errors.New("missing total_items_in_this_category")}
	}
	return *meta.Total, nil
}

// MaxOffset fills the item total and effective cap of category. The cap is
// the exclusive upper bound of the offsets worth requesting:
// min(limit, total_items_in_this_category).
func (c *Client) MaxOffset(ctx context.Context, category models.Category, limit int) (models.Category, error) {
	total, err := c.CategoryTotal(ctx, category.ID)
	if err != nil {
		if ctx.Err() != nil {
			return category, ctx.Err()
		}
		return category, CategoryMetadataError{CategoryID: category.ID, Err: err}
	}
	category.TotalItems = total
	category.EffectiveCap = EffectiveCap(total, limit)
	return category, nil
}

// EffectiveCap bounds the server total by the configured per-category limit.
func EffectiveCap(total, limit int) int {
	if total < 0 {
		total = 0
	}
	if limit < total {
		return limit
	}
	return total
}

// PageOffsets lists the search offsets 0, PageSize, ... strictly below maxOffset.
func PageOffsets(maxOffset int) []int {
	if maxOffset <= 0 {
		return nil
	}
	offsets := make([]int, 0, (maxOffset+PageSize-1)/PageSize)
	for offset := 0; offset < maxOffset; offset += PageSize {
		offsets = append(offsets, offset)
	}
	return offsets
}

// SearchPage fetches the raw products of one category page. Any failure is
// reported as a PageFetchError unless the context ended.
func (c *Client) SearchPage(ctx context.Context, siteID, categoryID string, offset int) ([]json.RawMessage, error) {
	query := url.Values{}
	query.Set("category", categoryID)
	query.Set("offset", strconv.Itoa(offset))

	var page struct {
		Results *[]json.RawMessage `json:"results"`
	}
	path := "/sites/" + url.PathEscape(siteID) + "/search"
	err := c.getJSON(ctx, endpointSearch, path, query, &page)
	if err == nil && page.Results == nil {
		err = ErrDecode{Err: errors.New("missing results array")}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, PageFetchError{CategoryID: categoryID, Offset: offset, Err: err}
	}
	return *page.Results, nil
}

// QuestionActivity reads the newest question date and the question total of
// an item.
func (c *Client) QuestionActivity(ctx context.Context, itemID string) (models.QuestionFields, error) {
	query := url.Values{}
	query.Set("item", itemID)
	query.Set("sort_fields", "date_created")
	query.Set("limit", "1")

	body, err := c.get(ctx, endpointQuestions, "/questions/search", query)
	if err != nil {
		return models.QuestionFields{}, QuestionLookupError{ItemID: itemID, Err: err}
	}
	fields, err := parser.ParseQuestionActivity(body)
	if err != nil {
		c.Metrics.IncError("decode")
		return models.QuestionFields{}, QuestionLookupError{ItemID: itemID, Err: ErrDecode{Err: err}}
	}
	return fields, nil
}
