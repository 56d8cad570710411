// Package catalog loads the static book catalog. The catalog is read once at
// startup and never changes at runtime; the picker trusts the series
// invariants enforced here.
package catalog

import (
	"embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"nextread/internal/domain"
)

//go:embed books.yml
var starterFS embed.FS

type file struct {
	Books []domain.Book `yaml:"books"`
}

// Load reads a catalog YAML file from disk.
func Load(path string) ([]domain.Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a catalog from raw YAML bytes.
func FromYAML(data []byte) ([]domain.Book, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	if err := Validate(f.Books); err != nil {
		return nil, err
	}
	return f.Books, nil
}

// Starter returns the embedded starter catalog used by `nr init` and tests.
func Starter() []domain.Book {
	data, err := starterFS.ReadFile("books.yml")
	if err != nil {
		panic(fmt.Sprintf("embedded catalog missing: %v", err))
	}
	books, err := FromYAML(data)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog invalid: %v", err))
	}
	return books
}

// Validate enforces the catalog-authoring invariants: unique book ids, and
// per series a consistent total with order values spanning 1..total
// contiguously. The picker itself never re-checks these.
func Validate(books []domain.Book) error {
	ids := map[string]bool{}
	type seriesInfo struct {
		total  int
		orders map[int]string
	}
	series := map[string]*seriesInfo{}

	for _, b := range books {
		if b.ID == "" {
			return fmt.Errorf("book %q has no id", b.Title)
		}
		if ids[b.ID] {
			return fmt.Errorf("duplicate book id %s", b.ID)
		}
		ids[b.ID] = true
		if b.Title == "" {
			return fmt.Errorf("book %s has no title", b.ID)
		}
		if b.Series == nil {
			continue
		}
		s := b.Series
		if s.Name == "" {
			return fmt.Errorf("book %s has a series without a name", b.ID)
		}
		if s.Order < 1 || s.Total < 1 || s.Order > s.Total {
			return fmt.Errorf("book %s: series order %d out of range 1..%d", b.ID, s.Order, s.Total)
		}
		info, ok := series[s.Name]
		if !ok {
			info = &seriesInfo{total: s.Total, orders: map[int]string{}}
			series[s.Name] = info
		}
		if info.total != s.Total {
			return fmt.Errorf("series %q: inconsistent total (%d vs %d)", s.Name, info.total, s.Total)
		}
		if other, dup := info.orders[s.Order]; dup {
			return fmt.Errorf("series %q: books %s and %s both claim order %d", s.Name, other, b.ID, s.Order)
		}
		info.orders[s.Order] = b.ID
	}

	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info := series[name]
		for order := 1; order <= info.total; order++ {
			if _, ok := info.orders[order]; !ok {
				return fmt.Errorf("series %q: missing book for order %d of %d", name, order, info.total)
			}
		}
	}
	return nil
}

// FindBook looks a book up by id.
func FindBook(books []domain.Book, id string) (domain.Book, bool) {
	for _, b := range books {
		if b.ID == id {
			return b, true
		}
	}
	return domain.Book{}, false
}

// SeriesNames lists the distinct series names in catalog order of first
// appearance.
func SeriesNames(books []domain.Book) []string {
	seen := map[string]bool{}
	var names []string
	for _, b := range books {
		if b.Series != nil && !seen[b.Series.Name] {
			seen[b.Series.Name] = true
			names = append(names, b.Series.Name)
		}
	}
	return names
}
