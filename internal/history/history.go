// ABOUTME: SQLite-backed delivery history using modernc.org/sqlite
// ABOUTME: Records one row per delivery attempt with automatic schema creation

package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store keeps a durable log of message delivery outcomes. The queues forget
// entries on eviction; this log is what operators query afterwards.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Delivery is one recorded delivery attempt.
type Delivery struct {
	ID        int64         `json:"id"`
	AgentID   string        `json:"agent_id"`
	MessageID string        `json:"message_id"`
	Success   bool          `json:"success"`
	Elapsed   time.Duration `json:"elapsed"`
	CreatedAt time.Time     `json:"created_at"`
}

// Stats summarizes recorded deliveries for one agent.
type Stats struct {
	AgentID    string        `json:"agent_id"`
	Total      int           `json:"total"`
	Successes  int           `json:"successes"`
	Failures   int           `json:"failures"`
	AvgElapsed time.Duration `json:"avg_elapsed"`
}

// NewStore opens the history database at path, creating the schema and parent
// directories as needed.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With("component", "history"),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("history store initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS deliveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			success INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_deliveries_agent_created
			ON deliveries(agent_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Record logs one delivery attempt. Implements the dispatcher's Recorder;
// failures are logged and swallowed so history never blocks delivery.
func (s *Store) Record(agentID, messageID string, success bool, elapsed time.Duration) {
	_, err := s.db.Exec(
		`INSERT INTO deliveries (agent_id, message_id, success, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		agentID, messageID, boolToInt(success), elapsed.Milliseconds(), time.Now().UTC(),
	)
	if err != nil {
		s.logger.Error("failed to record delivery",
			"agent_id", agentID,
			"message_id", messageID,
			"error", err,
		)
	}
}

// ListByAgent returns the most recent deliveries for an agent, newest first.
func (s *Store) ListByAgent(agentID string, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, agent_id, message_id, success, elapsed_ms, created_at
		 FROM deliveries
		 WHERE agent_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		var success int
		var elapsedMS int64
		if err := rows.Scan(&d.ID, &d.AgentID, &d.MessageID, &success, &elapsedMS, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		d.Success = success != 0
		d.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, d)
	}
	return out, rows.Err()
}

// AgentStats returns aggregate delivery statistics for one agent.
func (s *Store) AgentStats(agentID string) (Stats, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(elapsed_ms), 0)
		 FROM deliveries
		 WHERE agent_id = ?`,
		agentID,
	)

	var total, successes int
	var avgMS float64
	if err := row.Scan(&total, &successes, &avgMS); err != nil {
		return Stats{}, fmt.Errorf("querying delivery stats: %w", err)
	}

	return Stats{
		AgentID:    agentID,
		Total:      total,
		Successes:  successes,
		Failures:   total - successes,
		AvgElapsed: time.Duration(avgMS) * time.Millisecond,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
