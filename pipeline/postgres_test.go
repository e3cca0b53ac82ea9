package pipeline

import (
	"strconv"
	"strings"
	"testing"

	"github.com/aluiziolira/meli-harvester/parser"
)

func TestQuoteTable(t *testing.T) {
	tests := map[string]string{
		"products":           `"products"`,
		"analytics.products": `"analytics"."products"`,
	}
	for in, want := range tests {
		if got := quoteTable(in); got != want {
			t.Fatalf("quoteTable(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestCreateTableSQL(t *testing.T) {
	stmt := createTableSQL(`"products"`)
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "products"`,
		`"id" TEXT PRIMARY KEY`,
		`"price" DOUBLE PRECISION`,
		`"total_questions" BIGINT`,
		`"free_shipping" BOOLEAN`,
		`"category_name" TEXT`,
	} {
		if !strings.Contains(stmt, want) {
			t.Fatalf("statement missing %q:\n%s", want, stmt)
		}
	}
}

func TestUpsertSQL(t *testing.T) {
	stmt := upsertSQL(`"products"`)
	n := len(parser.Columns)
	if !strings.Contains(stmt, "$1,") || !strings.Contains(stmt, "$"+strconv.Itoa(n)+")") {
		t.Fatalf("statement should bind %d parameters:\n%s", n, stmt)
	}
	if !strings.Contains(stmt, `ON CONFLICT ("id") DO UPDATE SET`) {
		t.Fatalf("statement should upsert on id:\n%s", stmt)
	}
	if strings.Contains(stmt, `"id" = EXCLUDED."id"`) {
		t.Fatalf("id must not be updated:\n%s", stmt)
	}
	if !strings.Contains(stmt, `"title" = EXCLUDED."title"`) {
		t.Fatalf("title should be updated:\n%s", stmt)
	}
}

func TestRecordArgs(t *testing.T) {
	args := recordArgs(sampleRecord())
	if len(args) != len(parser.Columns) {
		t.Fatalf("args = %d, want %d", len(args), len(parser.Columns))
	}
	byName := map[string]any{}
	for i, col := range parser.Columns {
		byName[col.Name] = args[i]
	}
	if byName["id"] != "MCO1" {
		t.Fatalf("id = %v", byName["id"])
	}
	if byName["price"] != 899900.0 {
		t.Fatalf("price = %v", byName["price"])
	}
	if byName["sold_quantity"] != 12 {
		t.Fatalf("sold_quantity = %v", byName["sold_quantity"])
	}
	if byName["seller_level_id"] != nil {
		t.Fatalf("seller_level_id = %v, want nil", byName["seller_level_id"])
	}
}
