// Package catalog provides the static quota catalog: the immutable mapping from
// subscription level and quota type to a numeric allowance and reset cadence.
//
// A Catalog is built once at startup (from the embedded default or a file
// supplied through configuration) and passed by reference into the quota
// engine. It is never mutated afterwards, so it is safe for concurrent use
// without locking.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Levels is the raw level -> quota type -> entry table.
type Levels map[domain.SubscriptionLevel]map[domain.QuotaType]domain.CatalogEntry

// Catalog is a read-only lookup table keyed by (level, quota type).
type Catalog struct {
	version int
	entries Levels
}

// file is the on-disk representation.
type file struct {
	Version int    `yaml:"version" validate:"gte=1"`
	Levels  Levels `yaml:"levels" validate:"required"`
}

// Default returns the catalog shipped with the binary.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// MustDefault is Default for callers (tests, CLI bootstrap) that cannot
// proceed without a catalog.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(fmt.Sprintf("embedded quota catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog from path. An empty path returns the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog. Every known level must define
// every quota type; unknown levels or types are rejected.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(f.Version, f.Levels)
}

// New builds a catalog from in-memory entries, applying the same validation
// as Parse. Tests use it to substitute alternate limits.
func New(version int, levels Levels) (*Catalog, error) {
	validate := validator.New()
	if err := validate.Struct(file{Version: version, Levels: levels}); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	entries := make(Levels, len(levels))
	for level, types := range levels {
		if !isCanonical(level) {
			return nil, fmt.Errorf("invalid catalog: unknown subscription level %q", level)
		}
		row := make(map[domain.QuotaType]domain.CatalogEntry, len(types))
		for qt, entry := range types {
			if _, ok := domain.ParseQuotaType(string(qt)); !ok {
				return nil, fmt.Errorf("invalid catalog: unknown quota type %q for level %q", qt, level)
			}
			if err := validate.Struct(entry); err != nil {
				return nil, fmt.Errorf("invalid catalog entry %s/%s: %w", level, qt, err)
			}
			row[qt] = entry
		}
		entries[level] = row
	}

	for _, level := range domain.AllSubscriptionLevels {
		row, ok := entries[level]
		if !ok {
			return nil, fmt.Errorf("invalid catalog: level %q is missing", level)
		}
		for _, qt := range domain.AllQuotaTypes {
			if _, ok := row[qt]; !ok {
				return nil, fmt.Errorf("invalid catalog: level %q is missing quota type %q", level, qt)
			}
		}
	}

	return &Catalog{version: version, entries: entries}, nil
}

func isCanonical(level domain.SubscriptionLevel) bool {
	for _, l := range domain.AllSubscriptionLevels {
		if l == level {
			return true
		}
	}
	return false
}

// Version returns the catalog's configured version number.
func (c *Catalog) Version() int {
	return c.version
}

// Lookup returns the allowance for a level and quota type. The boolean is
// false when the pair is not configured; callers must deny in that case.
func (c *Catalog) Lookup(level domain.SubscriptionLevel, quotaType domain.QuotaType) (domain.CatalogEntry, bool) {
	row, ok := c.entries[level]
	if !ok {
		return domain.CatalogEntry{}, false
	}
	entry, ok := row[quotaType]
	return entry, ok
}

// Row describes one catalog entry for listing.
type Row struct {
	Level     domain.SubscriptionLevel
	QuotaType domain.QuotaType
	Entry     domain.CatalogEntry
}

// Entries returns every configured entry ordered by level then quota type.
func (c *Catalog) Entries() []Row {
	rows := make([]Row, 0, len(c.entries)*len(domain.AllQuotaTypes))
	for _, level := range domain.AllSubscriptionLevels {
		for _, qt := range domain.AllQuotaTypes {
			if entry, ok := c.Lookup(level, qt); ok {
				rows = append(rows, Row{Level: level, QuotaType: qt, Entry: entry})
			}
		}
	}
	return rows
}
