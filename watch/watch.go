// Package watch polls an SQLite database for a change token and runs an
// action once the token has moved and stayed put for a debounce window.
// viewtrans uses it to hot-reload connectivity routes and to notice
// settings written by other processes.
//
//	w := watch.New(db, watch.Options{Interval: time.Second, Debounce: 250 * time.Millisecond})
//	go w.Run(ctx, func(ctx context.Context) error { return router.Reload(ctx, db) })
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Detector reads a version token. Two different values mean the data
// changed.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes a Watcher.
type Options struct {
	// Name tags the log lines. Default: "watch".
	Name string
	// Interval is the polling period. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action runs.
	// 0 runs the action on the poll that saw the change.
	Debounce time.Duration
	// Detector defaults to DataVersion.
	Detector Detector
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Name == "" {
		o.Name = "watch"
	}
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = DataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats are counters since New.
type Stats struct {
	Checks   int64 `json:"checks"`
	Changes  int64 `json:"changes"`
	Failures int64 `json:"failures"`
	Reloads  int64 `json:"reloads"`
}

// Watcher runs an action on every settled change of its detector.
type Watcher struct {
	db   *sql.DB
	opts Options

	applied atomic.Int64

	checks   atomic.Int64
	changes  atomic.Int64
	failures atomic.Int64
	reloads  atomic.Int64
}

// New creates a Watcher. Run starts it.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

// Version is the token of the last successfully applied change.
func (w *Watcher) Version() int64 { return w.applied.Load() }

func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:   w.checks.Load(),
		Changes:  w.changes.Load(),
		Failures: w.failures.Load(),
		Reloads:  w.reloads.Load(),
	}
}

// Run polls until ctx is done. The token read at start is the baseline
// and does not trigger the action. A failed action leaves the baseline
// unchanged, so the next poll tries again.
func (w *Watcher) Run(ctx context.Context, action func(ctx context.Context) error) {
	log := w.opts.Logger.With("watcher", w.opts.Name)

	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("watch: baseline read failed", "error", err)
	} else {
		w.applied.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var (
		settle  *time.Timer
		settleC <-chan time.Time
		pending int64
		waiting bool
	)
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug("watch: stopped")
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				w.failures.Add(1)
				log.Warn("watch: version read failed", "error", err)
				continue
			}
			if cur == w.applied.Load() || (waiting && cur == pending) {
				continue
			}
			w.changes.Add(1)
			pending, waiting = cur, true
			if w.opts.Debounce <= 0 {
				w.apply(ctx, log, action, pending)
				waiting = false
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.NewTimer(w.opts.Debounce)
			settleC = settle.C

		case <-settleC:
			settleC = nil
			if waiting {
				w.apply(ctx, log, action, pending)
				waiting = false
			}
		}
	}
}

func (w *Watcher) apply(ctx context.Context, log *slog.Logger, action func(context.Context) error, v int64) {
	start := time.Now()
	if err := action(ctx); err != nil {
		w.failures.Add(1)
		log.Error("watch: action failed", "version", v, "error", err)
		return
	}
	w.reloads.Add(1)
	w.applied.Store(v)
	log.Info("watch: change applied", "version", v, "duration", time.Since(start))
}

// DataVersion reads PRAGMA data_version, which moves when another
// connection commits to the same file.
func DataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// UserVersion reads PRAGMA user_version, bumped explicitly by writers.
func UserVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// MaxColumn polls MAX(column) of table, e.g. an updated_at timestamp.
// Unlike DataVersion it also sees writes from the watching process.
func MaxColumn(table, column string) Detector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
