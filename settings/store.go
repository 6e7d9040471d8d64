package settings

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/hazyhaar/viewtrans/dbopen"
)

// Schema creates the settings table.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const (
	keyStylePreset   = "style_preset"
	keyFontSize      = "custom_font_size"
	keyColor         = "custom_color"
	keyMatchOriginal = "match_original_style"
	keyBatchSize     = "batch_size"
)

// Store keeps settings as key/value rows in SQLite. Missing keys take
// their default.
type Store struct {
	db *sql.DB
}

// NewStore creates the table if needed.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("settings: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Load implements Reader.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}
	defer rows.Close()

	out := Default()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Settings{}, fmt.Errorf("settings: scan: %w", err)
		}
		switch k {
		case keyStylePreset:
			out.StylePreset = v
		case keyFontSize:
			out.CustomStyle.FontSize = v
		case keyColor:
			out.CustomStyle.Color = v
		case keyMatchOriginal:
			out.MatchOriginalStyle, _ = strconv.ParseBool(v)
		case keyBatchSize:
			if n, err := strconv.Atoi(v); err == nil {
				out.BatchSize = n
			}
		}
	}
	if err := rows.Err(); err != nil {
		return Settings{}, fmt.Errorf("settings: rows: %w", err)
	}
	return Normalize(out)
}

// Save validates s and writes every field in one transaction.
func (s *Store) Save(ctx context.Context, in Settings) error {
	in, err := Normalize(in)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	kv := [][2]string{
		{keyStylePreset, in.StylePreset},
		{keyFontSize, in.CustomStyle.FontSize},
		{keyColor, in.CustomStyle.Color},
		{keyMatchOriginal, strconv.FormatBool(in.MatchOriginalStyle)},
		{keyBatchSize, strconv.Itoa(in.BatchSize)},
	}
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, p := range kv {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				p[0], p[1], now); err != nil {
				return fmt.Errorf("settings: save %s: %w", p[0], err)
			}
		}
		return nil
	})
}
