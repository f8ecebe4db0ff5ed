package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const configKey = "config"

// ReadConfig returns the user configuration; an empty object when nothing was saved yet.
func (l *Library) ReadConfig(ctx context.Context) (map[string]any, error) {
	var raw []byte
	err := l.db.QueryRowContext(ctx, "select item_val from dt_key_value where item_key = $1", configKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	cfg := map[string]any{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("stored config is corrupt: %w", err)
	}
	return cfg, nil
}

// WriteConfig replaces the configuration with content, which must be a JSON object.
func (l *Library) WriteConfig(ctx context.Context, content string) error {
	var cfg map[string]any
	if err := json.Unmarshal([]byte(content), &cfg); err != nil || cfg == nil {
		return fmt.Errorf("config must be a JSON object")
	}
	return l.putConfig(ctx, cfg)
}

// SaveConfig merges patch into the stored configuration, top-level keys only, and returns the
// result.
func (l *Library) SaveConfig(ctx context.Context, patch map[string]any) (map[string]any, error) {
	var merged map[string]any
	err := inTX(ctx, l.db, func(tx *sql.Tx) error {
		var raw []byte
		err := tx.QueryRowContext(ctx, "select item_val from dt_key_value where item_key = $1", configKey).Scan(&raw)
		merged = map[string]any{}
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &merged); err != nil {
				return fmt.Errorf("stored config is corrupt: %w", err)
			}
		}
		for k, v := range patch {
			merged[k] = v
		}
		return putKV(ctx, tx, configKey, merged)
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (l *Library) putConfig(ctx context.Context, cfg map[string]any) error {
	return inTX(ctx, l.db, func(tx *sql.Tx) error {
		return putKV(ctx, tx, configKey, cfg)
	})
}

func putKV(ctx context.Context, tx *sql.Tx, key string, val any) error {
	buf, err := json.Marshal(val)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`insert into dt_key_value
		(item_key, item_val, clk_updated_at_unixms)
		values
		($1, $2, $3)
		on conflict (item_key) do
			update set
				item_val = excluded.item_val,
				clk_updated_at_unixms = excluded.clk_updated_at_unixms`,
		key, buf, time.Now().UnixMilli())
	return err
}
