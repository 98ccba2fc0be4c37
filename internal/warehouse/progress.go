package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blockedby/tg-warehouse/internal/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable marks progress-store failures. The orchestrator skips
// the affected chat and continues with the rest.
var ErrStoreUnavailable = errors.New("progress store unavailable")

// ChatConfig is one chat's persisted ingestion progress.
type ChatConfig struct {
	ID          string
	Username    string
	DatesToLoad []time.Time // calendar days already ingested
}

// ProgressStore tracks which dates have been ingested per chat.
type ProgressStore struct {
	pool  *pgxpool.Pool
	table string
	log   *logger.Logger
}

// NewProgressStore creates a progress store over the chat_config table.
func NewProgressStore(pool *pgxpool.Pool, table string) *ProgressStore {
	return &ProgressStore{
		pool:  pool,
		table: table,
		log:   logger.Get(),
	}
}

// EnsureExists inserts a progress row with an empty date set if absent.
// Safe to call repeatedly.
func (s *ProgressStore) EnsureExists(ctx context.Context, chatID, username string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, username, dates_to_load)
		VALUES ($1, $2, '{}')
		ON CONFLICT (id) DO NOTHING
	`, pgx.Identifier{s.table}.Sanitize())

	if _, err := s.pool.Exec(ctx, query, chatID, username); err != nil {
		return fmt.Errorf("%w: ensure chat config %s: %v", ErrStoreUnavailable, chatID, err)
	}
	return nil
}

// GetAll loads every chat's progress, keyed by handle.
// A missing or empty date set is normalized to {today}; a chat that was
// registered but never processed should not trigger an unbounded backfill.
func (s *ProgressStore) GetAll(ctx context.Context) (map[string]ChatConfig, error) {
	query := fmt.Sprintf(
		"SELECT id, username, dates_to_load FROM %s",
		pgx.Identifier{s.table}.Sanitize(),
	)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: get chat configs: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	configs := make(map[string]ChatConfig)
	for rows.Next() {
		var cfg ChatConfig
		if err := rows.Scan(&cfg.ID, &cfg.Username, &cfg.DatesToLoad); err != nil {
			return nil, fmt.Errorf("%w: scan chat config: %v", ErrStoreUnavailable, err)
		}
		if len(cfg.DatesToLoad) == 0 {
			cfg.DatesToLoad = []time.Time{DayOf(time.Now().UTC())}
		}
		configs[cfg.Username] = cfg
	}
	return configs, rows.Err()
}

// MarkProcessed merges newly processed dates into a chat's date set.
// The union happens in a single statement, so readers never observe a
// partial merge; duplicate dates collapse.
func (s *ProgressStore) MarkProcessed(ctx context.Context, chatID string, dates []time.Time) error {
	if len(dates) == 0 {
		return nil
	}

	days := make([]time.Time, len(dates))
	for i, d := range dates {
		days[i] = DayOf(d)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET dates_to_load = (
			SELECT COALESCE(array_agg(DISTINCT d ORDER BY d), '{}')
			FROM unnest(dates_to_load || $2::date[]) AS d
		)
		WHERE id = $1
	`, pgx.Identifier{s.table}.Sanitize())

	if _, err := s.pool.Exec(ctx, query, chatID, days); err != nil {
		return fmt.Errorf("%w: mark processed for %s: %v", ErrStoreUnavailable, chatID, err)
	}

	s.log.Debug().Str("chat_id", chatID).Int("dates", len(days)).Msg("warehouse: progress updated")
	return nil
}

// DayOf truncates a timestamp to its UTC calendar date.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
