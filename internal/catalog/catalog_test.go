package catalog_test

import (
	"strings"
	"testing"

	"nextread/internal/catalog"
)

func TestStarterCatalogValid(t *testing.T) {
	books := catalog.Starter()
	if len(books) == 0 {
		t.Fatal("starter catalog empty")
	}
	if err := catalog.Validate(books); err != nil {
		t.Fatalf("starter catalog invalid: %v", err)
	}
}

func TestFromYAML(t *testing.T) {
	books, err := catalog.FromYAML([]byte(`
books:
  - id: solo
    title: Solo
    author: A
  - id: one
    title: One
    author: B
    series: {name: Duo, order: 1, total: 2}
  - id: two
    title: Two
    author: B
    series: {name: Duo, order: 2, total: 2}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(books) != 3 {
		t.Fatalf("expected 3 books, got %d", len(books))
	}
	if books[1].Series == nil || books[1].Series.Total != 2 {
		t.Fatalf("series not parsed: %+v", books[1])
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			"duplicate id",
			"books:\n  - {id: x, title: X, author: A}\n  - {id: x, title: Y, author: A}",
			"duplicate book id",
		},
		{
			"duplicate order",
			"books:\n  - {id: a, title: A, author: A, series: {name: S, order: 1, total: 2}}\n  - {id: b, title: B, author: A, series: {name: S, order: 1, total: 2}}",
			"claim order",
		},
		{
			"gap in orders",
			"books:\n  - {id: a, title: A, author: A, series: {name: S, order: 1, total: 3}}\n  - {id: b, title: B, author: A, series: {name: S, order: 3, total: 3}}",
			"missing book for order",
		},
		{
			"inconsistent total",
			"books:\n  - {id: a, title: A, author: A, series: {name: S, order: 1, total: 2}}\n  - {id: b, title: B, author: A, series: {name: S, order: 2, total: 3}}",
			"inconsistent total",
		},
		{
			"order out of range",
			"books:\n  - {id: a, title: A, author: A, series: {name: S, order: 4, total: 3}}",
			"out of range",
		},
	}
	for _, tc := range cases {
		_, err := catalog.FromYAML([]byte(tc.yaml))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestSeriesNames(t *testing.T) {
	books := catalog.Starter()
	names := catalog.SeriesNames(books)
	if len(names) != 2 {
		t.Fatalf("expected 2 series, got %v", names)
	}
}
