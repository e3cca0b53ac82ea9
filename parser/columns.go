package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/meli-harvester/models"
)

// Kind is the value type stored in a column.
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindInt
	KindBool
)

// Column maps one flat record field to its tabular name.
type Column struct {
	Name string
	Kind Kind

	format func(r *models.ProductRecord) string
	value  func(r *models.ProductRecord) any
	parse  func(r *models.ProductRecord, raw string) error
}

// Format renders the field as a cell; nil becomes the empty string.
func (c Column) Format(r *models.ProductRecord) string { return c.format(r) }

// Value returns the field as a typed value, or nil when absent.
func (c Column) Value(r *models.ProductRecord) any { return c.value(r) }

// Parse stores a cell into the field; the empty string stores nil.
func (c Column) Parse(r *models.ProductRecord, raw string) error { return c.parse(r, raw) }

// Columns lists every record field in export order.
var Columns = []Column{
	requiredString("id", func(r *models.ProductRecord) *string { return &r.ID }),
	optional("category_id", KindString, func(r *models.ProductRecord) **string { return &r.CategoryID }, formatString, parseString),
	optional("title", KindString, func(r *models.ProductRecord) **string { return &r.Title }, formatString, parseString),
	optional("price", KindFloat, func(r *models.ProductRecord) **float64 { return &r.Price }, formatFloat, parseFloat),
	optional("original_price", KindFloat, func(r *models.ProductRecord) **float64 { return &r.OriginalPrice }, formatFloat, parseFloat),
	optional("available_quantity", KindInt, func(r *models.ProductRecord) **int { return &r.AvailableQuantity }, strconv.Itoa, parseInt),
	optional("sold_quantity", KindInt, func(r *models.ProductRecord) **int { return &r.SoldQuantity }, strconv.Itoa, parseInt),
	optional("buying_mode", KindString, func(r *models.ProductRecord) **string { return &r.BuyingMode }, formatString, parseString),
	optional("listing_type_id", KindString, func(r *models.ProductRecord) **string { return &r.ListingType }, formatString, parseString),
	optional("accepts_mercadopago", KindBool, func(r *models.ProductRecord) **bool { return &r.AcceptsMercadoPago }, strconv.FormatBool, strconv.ParseBool),
	optional("condition", KindString, func(r *models.ProductRecord) **string { return &r.Condition }, formatString, parseString),
	optional("seller_level_id", KindString, func(r *models.ProductRecord) **string { return &r.SellerLevel }, formatString, parseString),
	optional("seller_powerseller", KindString, func(r *models.ProductRecord) **string { return &r.SellerPowerSeller }, formatString, parseString),
	optional("positive_rating", KindFloat, func(r *models.ProductRecord) **float64 { return &r.PositiveRating }, formatFloat, parseFloat),
	optional("negative_rating", KindFloat, func(r *models.ProductRecord) **float64 { return &r.NegativeRating }, formatFloat, parseFloat),
	optional("neutral_rating", KindFloat, func(r *models.ProductRecord) **float64 { return &r.NeutralRating }, formatFloat, parseFloat),
	optional("free_shipping", KindBool, func(r *models.ProductRecord) **bool { return &r.FreeShipping }, strconv.FormatBool, strconv.ParseBool),
	optional("store_pickup", KindBool, func(r *models.ProductRecord) **bool { return &r.StorePickup }, strconv.FormatBool, strconv.ParseBool),
	optional("number_of_tags", KindInt, func(r *models.ProductRecord) **int { return &r.TagCount }, strconv.Itoa, parseInt),
	optional("is_official_store", KindBool, func(r *models.ProductRecord) **bool { return &r.IsOfficialStore }, strconv.FormatBool, strconv.ParseBool),
	optional("month_update", KindString, func(r *models.ProductRecord) **string { return &r.MonthUpdate }, formatString, parseString),
	optional("year_update", KindString, func(r *models.ProductRecord) **string { return &r.YearUpdate }, formatString, parseString),
	optional("year_created", KindString, func(r *models.ProductRecord) **string { return &r.YearCreated }, formatString, parseString),
	optional("month_created", KindString, func(r *models.ProductRecord) **string { return &r.MonthCreated }, formatString, parseString),
	optional("total_questions", KindInt, func(r *models.ProductRecord) **int { return &r.TotalQuestions }, strconv.Itoa, parseInt),
	requiredString("category_name", func(r *models.ProductRecord) *string { return &r.CategoryName }),
}

// Header returns the column names in export order.
func Header() []string {
	names := make([]string, len(Columns))
	for i, col := range Columns {
		names[i] = col.Name
	}
	return names
}

// EncodeRow renders a record as cells in Header order.
func EncodeRow(r *models.ProductRecord) []string {
	row := make([]string, len(Columns))
	for i, col := range Columns {
		row[i] = col.Format(r)
	}
	return row
}

// RowDecoder maps rows of a table with an arbitrary header onto records.
// Columns are matched by name, so reordered or missing columns decode; unknown
// columns such as a pandas index are ignored.
type RowDecoder struct {
	index map[int]Column
}

// NewRowDecoder builds a decoder for header. It fails when the id column is
// absent because such rows cannot be keyed.
func NewRowDecoder(header []string) (*RowDecoder, error) {
	byName := make(map[string]Column, len(Columns))
	for _, col := range Columns {
		byName[col.Name] = col
	}

	d := &RowDecoder{index: make(map[int]Column, len(header))}
	hasID := false
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		col, ok := byName[name]
		if !ok {
			continue
		}
		d.index[i] = col
		if name == "id" {
			hasID = true
		}
	}
	if !hasID {
		return nil, fmt.Errorf("header has no id column")
	}
	return d, nil
}

// Decode converts one row into a record.
func (d *RowDecoder) Decode(row []string) (*models.ProductRecord, error) {
	r := &models.ProductRecord{}
	for i, cell := range row {
		col, ok := d.index[i]
		if !ok {
			continue
		}
		if err := col.Parse(r, cell); err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
	}
	return r, nil
}

func requiredString(name string, field func(r *models.ProductRecord) *string) Column {
	return Column{
		Name:   name,
		Kind:   KindString,
		format: func(r *models.ProductRecord) string { return *field(r) },
		value:  func(r *models.ProductRecord) any { return *field(r) },
		parse: func(r *models.ProductRecord, raw string) error {
			*field(r) = strings.TrimSpace(raw)
			return nil
		},
	}
}

func optional[T any](name string, kind Kind, field func(r *models.ProductRecord) **T, format func(T) string, parse func(string) (T, error)) Column {
	return Column{
		Name: name,
		Kind: kind,
		format: func(r *models.ProductRecord) string {
			if p := *field(r); p != nil {
				return format(*p)
			}
			return ""
		},
		value: func(r *models.ProductRecord) any {
			if p := *field(r); p != nil {
				return *p
			}
			return nil
		},
		parse: func(r *models.ProductRecord, raw string) error {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				*field(r) = nil
				return nil
			}
			v, err := parse(raw)
			if err != nil {
				return err
			}
			*field(r) = &v
			return nil
		},
	}
}

func formatString(s string) string { return s }

func parseString(s string) (string, error) { return s, nil }

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

// parseInt accepts integers written as floats ("3.0") by older exports.
func parseInt(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return int(f), nil
}
