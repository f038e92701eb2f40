// Package dimensions loads the payer, product and provider reference sets
// used by referential validation. Lookups run behind a circuit breaker: when
// a dimension store is down the affected checks degrade to inconclusive
// instead of failing the batch.
package dimensions

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/patientpath/journey-engine/internal/validation"
	"github.com/patientpath/journey-engine/pkg/circuitbreaker"
)

// Loader reads dimension tables.
type Loader struct {
	pool     *pgxpool.Pool
	breakers *circuitbreaker.Manager
	logger   *zap.Logger
}

// NewLoader creates a loader over pool.
func NewLoader(pool *pgxpool.Pool, breakers *circuitbreaker.Manager, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breakers == nil {
		breakers = circuitbreaker.NewManager(logger)
	}
	return &Loader{pool: pool, breakers: breakers, logger: logger}
}

// Load fetches all three dimension sets. It never returns an error: a set
// that cannot be loaded comes back unavailable and is logged.
func (l *Loader) Load(ctx context.Context) validation.DimensionSets {
	return validation.DimensionSets{
		Payers:    l.loadSet(ctx, "payers", "SELECT payer_id FROM dim_payers"),
		Products:  l.loadSet(ctx, "products", "SELECT product_id FROM dim_products"),
		Providers: l.loadSet(ctx, "providers", "SELECT provider_id FROM dim_providers"),
	}
}

func (l *Loader) loadSet(ctx context.Context, name, query string) validation.KeySet {
	cb := l.breakers.GetOrCreate("dim-"+name, circuitbreaker.DefaultConfig("dim-"+name))

	result, err := cb.Execute(ctx, func() (interface{}, error) {
		return l.queryIDs(ctx, query)
	})
	if err != nil {
		l.logger.Warn("dimension set unavailable",
			zap.String("dimension", name),
			zap.Error(err))
		return validation.UnavailableKeySet()
	}

	ids := result.([]string)
	l.logger.Debug("dimension set loaded",
		zap.String("dimension", name),
		zap.Int("size", len(ids)))
	return validation.NewKeySet(ids...)
}

func (l *Loader) queryIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
