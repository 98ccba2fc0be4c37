// Package warehouse provides the analytical warehouse adapter: bulk appends,
// existence probes and aggregate queries over the harvest tables.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/blockedby/tg-warehouse/internal/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// validation errors
var (
	ErrEmptyBatch  = errors.New("record batch is empty")
	ErrNilRecord   = errors.New("record batch contains a nil record")
	ErrRaggedBatch = errors.New("records in a batch must share one column set")
)

// Record is a flat column->value row ready for bulk load.
type Record map[string]any

// Tables holds the names of the four logical warehouse tables.
type Tables struct {
	ChatConfig  string
	ChatHistory string
	ChatInfo    string
	UserInfo    string
}

// Client performs warehouse operations over a postgresql pool.
type Client struct {
	pool   *pgxpool.Pool
	tables Tables
	log    *logger.Logger
}

// NewClient creates a new warehouse client.
func NewClient(pool *pgxpool.Pool, tables Tables) *Client {
	return &Client{
		pool:   pool,
		tables: tables,
		log:    logger.Get(),
	}
}

// Tables returns the configured table names.
func (c *Client) Tables() Tables {
	return c.tables
}

// Load bulk-appends records into a table using COPY.
// The batch is validated before any network call: it must be non-empty and
// every record must carry exactly the column set of the first one. The load
// is all-or-nothing per call and is not retried here; retrying is the
// caller's decision.
func (c *Client) Load(ctx context.Context, table string, records []Record) error {
	columns, err := validateBatch(records)
	if err != nil {
		return fmt.Errorf("validate batch for %s: %w", table, err)
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = rec[col]
		}
		rows[i] = row
	}

	c.log.Info().Str("table", table).Int("rows", len(rows)).Msg("warehouse: loading records")
	copied, err := c.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("bulk load %s: %w", table, err)
	}

	c.log.Info().Str("table", table).Int64("rows", copied).Msg("warehouse: load complete")
	return nil
}

// validateBatch checks batch shape and returns the sorted column list.
func validateBatch(records []Record) ([]string, error) {
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}
	if records[0] == nil || len(records[0]) == 0 {
		return nil, ErrNilRecord
	}

	columns := make([]string, 0, len(records[0]))
	for col := range records[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	for _, rec := range records {
		if rec == nil {
			return nil, ErrNilRecord
		}
		if len(rec) != len(columns) {
			return nil, ErrRaggedBatch
		}
		for _, col := range columns {
			if _, ok := rec[col]; !ok {
				return nil, ErrRaggedBatch
			}
		}
	}

	return columns, nil
}

// MessageExists probes for a message by its composite natural key.
func (c *Client) MessageExists(ctx context.Context, msgID int64, chatID string) (bool, error) {
	query := fmt.Sprintf(
		"SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1 AND chat_id = $2)",
		pgx.Identifier{c.tables.ChatHistory}.Sanitize(),
	)

	var exists bool
	if err := c.pool.QueryRow(ctx, query, msgID, chatID).Scan(&exists); err != nil {
		return false, fmt.Errorf("message exists probe: %w", err)
	}
	return exists, nil
}

// ExistingChatIDs returns the ids already present in the chat_info table.
func (c *Client) ExistingChatIDs(ctx context.Context) (map[string]struct{}, error) {
	return c.existingIDs(ctx, c.tables.ChatInfo)
}

// ExistingUserIDs returns the ids already present in the user_info table.
func (c *Client) ExistingUserIDs(ctx context.Context) (map[string]struct{}, error) {
	return c.existingIDs(ctx, c.tables.UserInfo)
}

func (c *Client) existingIDs(ctx context.Context, table string) (map[string]struct{}, error) {
	query := fmt.Sprintf("SELECT id FROM %s", pgx.Identifier{table}.Sanitize())

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("existing ids from %s: %w", table, err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id from %s: %w", table, err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// MaxMessageDate returns the newest message timestamp in chat_history,
// or nil when the table is empty.
func (c *Client) MaxMessageDate(ctx context.Context) (*time.Time, error) {
	query := fmt.Sprintf(
		"SELECT MAX(date) FROM %s",
		pgx.Identifier{c.tables.ChatHistory}.Sanitize(),
	)

	var ts *time.Time
	if err := c.pool.QueryRow(ctx, query).Scan(&ts); err != nil {
		return nil, fmt.Errorf("max message date: %w", err)
	}
	return ts, nil
}
