package venue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func (r *PostgresRegistry) Lookup(ctx context.Context, venue, token string) (Market, bool, error) {
	m := Market{}
	var minSize sql.NullFloat64
	query := `SELECT venue, token_symbol, market_name, is_active, min_size FROM venue_markets WHERE venue = $1 AND token_symbol = $2`
	err := r.db.QueryRowContext(ctx, query, venue, token).Scan(&m.Venue, &m.Token, &m.Name, &m.Active, &minSize)
	if errors.Is(err, sql.ErrNoRows) {
		return Market{}, false, nil
	}
	if err != nil {
		return Market{}, false, err
	}
	m.MinSize = minSize.Float64
	return m, true, nil
}

// Catalog is a static market list used when the registry cannot be reached.
type Catalog struct {
	Venues map[string][]CatalogMarket `yaml:"venues"`
}

type CatalogMarket struct {
	Token   string  `yaml:"token"`
	Name    string  `yaml:"name"`
	Active  *bool   `yaml:"active"`
	MinSize float64 `yaml:"min_size"`
}

// LoadCatalog reads a YAML catalog of the form
//
//	venues:
//	  OSTIUM:
//	    - {token: BTC, name: BTC/USD, min_size: 5}
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read venue catalog: %w", err)
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse venue catalog: %w", err)
	}
	return &c, nil
}

func (c *Catalog) Lookup(_ context.Context, venue, token string) (Market, bool, error) {
	for name, markets := range c.Venues {
		if !strings.EqualFold(name, venue) {
			continue
		}
		for _, m := range markets {
			if !strings.EqualFold(m.Token, token) {
				continue
			}
			active := m.Active == nil || *m.Active
			return Market{
				Venue:   strings.ToUpper(name),
				Token:   strings.ToUpper(m.Token),
				Name:    m.Name,
				Active:  active,
				MinSize: m.MinSize,
			}, true, nil
		}
	}
	return Market{}, false, nil
}

// FallbackRegistry answers from the static catalog when the primary registry
// returns an error. Without a catalog the primary error is returned as is.
type FallbackRegistry struct {
	primary  MarketRegistry
	fallback MarketRegistry
}

func NewFallbackRegistry(primary, fallback MarketRegistry) *FallbackRegistry {
	return &FallbackRegistry{primary: primary, fallback: fallback}
}

func (r *FallbackRegistry) Lookup(ctx context.Context, venue, token string) (Market, bool, error) {
	m, found, err := r.primary.Lookup(ctx, venue, token)
	if err == nil || r.fallback == nil {
		return m, found, err
	}
	slog.WarnContext(ctx, "market registry unavailable, using fallback catalog", "venue", venue, "token", token, "error", err)
	return r.fallback.Lookup(ctx, venue, token)
}
