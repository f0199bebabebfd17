// Package usage provides persistent token usage and cost tracking for
// completion requests. Records are append-only and indexed by timestamp
// and conversation for aggregation queries.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nugget/toolchat/internal/config"
)

// Record represents the token usage and cost of one completion request.
type Record struct {
	ID             string
	Timestamp      time.Time
	RequestID      string
	ConversationID string
	Model          string
	Provider       string // "openai", "anthropic"
	Round          int    // completion round within the request, from 0
	InputTokens    int
	OutputTokens   int
	CostUSD        float64
}

// Summary holds aggregated token usage and cost totals.
type Summary struct {
	TotalRecords      int     `json:"total_records"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
}

// Store is an append-only SQLite store for token usage records. All
// public methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a usage store at the given database path. The schema
// is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s, err := NewStoreDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreDB creates a usage store on an already opened database.
func NewStoreDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id              TEXT PRIMARY KEY,
		timestamp       TEXT NOT NULL,
		request_id      TEXT NOT NULL,
		conversation_id TEXT,
		model           TEXT NOT NULL,
		provider        TEXT NOT NULL,
		round           INTEGER NOT NULL,
		input_tokens    INTEGER NOT NULL,
		output_tokens   INTEGER NOT NULL,
		cost_usd        REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_conversation ON usage_records(conversation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a usage record. If rec.ID is empty, a UUIDv7 is
// generated. The context is used for cancellation only.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records
			(id, timestamp, request_id, conversation_id, model, provider,
			 round, input_tokens, output_tokens, cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.RequestID,
		rec.ConversationID,
		rec.Model,
		rec.Provider,
		rec.Round,
		rec.InputTokens,
		rec.OutputTokens,
		rec.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns aggregated totals for records within [start, end).
func (s *Store) Summary(start, end time.Time) (*Summary, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByModel returns per-model aggregated totals for records within [start, end).
func (s *Store) SummaryByModel(start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy("model", start, end)
}

// SummaryByConversation returns per-conversation aggregated totals for
// records within [start, end).
func (s *Store) SummaryByConversation(start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy("conversation_id", start, end)
}

func (s *Store) summaryGroupedBy(column string, start, end time.Time) (map[string]*Summary, error) {
	// column is always a compile-time constant from our own methods,
	// never user input, so embedding it directly is safe.
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s
		 ORDER BY SUM(cost_usd) DESC`,
		column, column,
	)

	rows, err := s.db.Query(query,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}

// ComputeCost calculates the USD cost for a model's token usage based
// on the pricing table. Models not in the table are treated as free,
// which covers self-hosted OpenAI-compatible servers.
func ComputeCost(model string, inputTokens, outputTokens int, pricing map[string]config.PricingEntry) float64 {
	entry, ok := pricing[model]
	if !ok {
		return 0
	}
	cost := float64(inputTokens) / 1_000_000.0 * entry.InputPerMillion
	cost += float64(outputTokens) / 1_000_000.0 * entry.OutputPerMillion
	return cost
}
