package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/viewtrans/watch"
)

// Schema creates the routes table. The config column holds per-route JSON
// (timeout_ms, content_type) read by the transport factory.
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
    service_name TEXT PRIMARY KEY,
    strategy     TEXT NOT NULL CHECK(strategy IN ('local', 'http', 'noop')),
    endpoint     TEXT,
    config       TEXT DEFAULT '{}',
    updated_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
`

// Init creates the routes table if needed.
func Init(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("connectivity: schema: %w", err)
	}
	return nil
}

// LoadRoutes reads every row of the routes table.
func LoadRoutes(ctx context.Context, db *sql.DB) ([]Route, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT service_name, strategy, COALESCE(endpoint, ''), COALESCE(config, '{}') FROM routes`)
	if err != nil {
		return nil, fmt.Errorf("connectivity: query routes: %w", err)
	}
	defer rows.Close()

	var out []Route
	for rows.Next() {
		var rt Route
		var cfg string
		if err := rows.Scan(&rt.Service, &rt.Strategy, &rt.Endpoint, &cfg); err != nil {
			return nil, fmt.Errorf("connectivity: scan route: %w", err)
		}
		rt.Config = json.RawMessage(cfg)
		out = append(out, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connectivity: rows: %w", err)
	}
	return out, nil
}

// PutRoute inserts or replaces a route.
func PutRoute(ctx context.Context, db *sql.DB, rt Route) error {
	cfg := string(rt.Config)
	if cfg == "" {
		cfg = "{}"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO routes (service_name, strategy, endpoint, config, updated_at)
		VALUES (?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(service_name) DO UPDATE SET
			strategy = excluded.strategy,
			endpoint = excluded.endpoint,
			config = excluded.config,
			updated_at = excluded.updated_at`,
		rt.Service, rt.Strategy, rt.Endpoint, cfg)
	if err != nil {
		return fmt.Errorf("connectivity: put route %s: %w", rt.Service, err)
	}
	return nil
}

// DeleteRoute removes a route. The service falls back to its local handler.
func DeleteRoute(ctx context.Context, db *sql.DB, service string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM routes WHERE service_name = ?`, service); err != nil {
		return fmt.Errorf("connectivity: delete route %s: %w", service, err)
	}
	return nil
}

// Watch reloads the router every time PRAGMA data_version changes, polling
// at interval, until ctx is done. It performs an initial Reload.
func (r *Router) Watch(ctx context.Context, db *sql.DB, interval time.Duration) {
	if err := r.Reload(ctx, db); err != nil {
		r.logger.Error("connectivity: initial reload failed", "error", err)
	}
	w := watch.New(db, watch.Options{
		Name:     "connectivity",
		Interval: interval,
		Detector: watch.DataVersion,
		Logger:   r.logger,
	})
	w.Run(ctx, func(ctx context.Context) error { return r.Reload(ctx, db) })
}
