package translator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheSchema creates the translation cache table.
const CacheSchema = `
CREATE TABLE IF NOT EXISTS translation_cache (
	source      TEXT NOT NULL,
	target_lang TEXT NOT NULL,
	translated  TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (source, target_lang)
);
`

// Cache stores successful translations in SQLite. Failure sentinels are
// never stored.
type Cache struct {
	db *sql.DB
}

// NewCache creates the table if needed and returns a Cache over db.
func NewCache(db *sql.DB) (*Cache, error) {
	if _, err := db.Exec(CacheSchema); err != nil {
		return nil, fmt.Errorf("translator: cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the cached translation of source.
func (c *Cache) Get(ctx context.Context, source, lang string) (string, bool, error) {
	var translated string
	err := c.db.QueryRowContext(ctx,
		`SELECT translated FROM translation_cache WHERE source = ? AND target_lang = ?`,
		source, lang).Scan(&translated)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return translated, true, nil
}

// Put stores a translation, replacing any previous one.
func (c *Cache) Put(ctx context.Context, source, lang, translated string) error {
	if IsFailure(translated) {
		return nil
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO translation_cache (source, target_lang, translated, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source, target_lang) DO UPDATE SET
			translated = excluded.translated,
			created_at = excluded.created_at`,
		source, lang, translated, time.Now().UnixMilli())
	return err
}

// Len returns the number of cached entries.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translation_cache`).Scan(&n)
	return n, err
}
