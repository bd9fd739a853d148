// Package storage persists the orchestrator's durable entities on SQLite:
// the conversation window, journal, state files, topics, reminders, summaries
// and coding-task state. Embeddings are stored as float32 blobs tagged with
// the model dimension; reads refuse vectors of a different dimension.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Store backs all durable entities on a single SQLite database.
type Store struct {
	db        *sql.DB
	dimension int
}

// Config contains configuration for the store.
type Config struct {
	Path string // Path to SQLite database file, or ":memory:"
	// Dimension is the embedding dimension this deployment uses. Persisted
	// on first open; later opens with a different value fail.
	Dimension int
}

// Open creates or opens the store and applies the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Serialize writers within this process; SQLite allows one at a time.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dimension: cfg.Dimension}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			"trigger" TEXT NOT NULL,
			source TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
		`CREATE TABLE IF NOT EXISTS journal (
			id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			topic TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_timestamp ON journal(timestamp)`,
		`CREATE TABLE IF NOT EXISTS state_files (
			name TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS topics (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			embedding BLOB
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			payload TEXT NOT NULL,
			cron_expression TEXT,
			scheduled_time INTEGER,
			created_at INTEGER NOT NULL,
			CHECK ((cron_expression IS NULL) != (scheduled_time IS NULL))
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			content TEXT NOT NULL,
			notes TEXT,
			key_decisions_json TEXT,
			open_threads_json TEXT,
			learned_patterns_json TEXT,
			from_timestamp INTEGER NOT NULL,
			to_timestamp INTEGER NOT NULL,
			message_count INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_timestamp ON summaries(timestamp)`,
		`CREATE TABLE IF NOT EXISTS coding_task_state (
			repo_url TEXT PRIMARY KEY,
			branch TEXT NOT NULL,
			session_id TEXT NOT NULL,
			last_task TEXT NOT NULL,
			last_timestamp INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return s.checkDimension()
}

// checkDimension persists the embedding dimension on first open and refuses
// to reuse a database written with a different model dimension.
func (s *Store) checkDimension() error {
	var stored string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'embedding_dimension'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec(`INSERT INTO meta (key, value) VALUES ('embedding_dimension', ?)`,
			fmt.Sprintf("%d", s.dimension))
		return err
	case err != nil:
		return err
	}
	if stored != fmt.Sprintf("%d", s.dimension) {
		return Fatal(fmt.Errorf("embedding dimension mismatch: store has %s, configured %d", stored, s.dimension))
	}
	return nil
}

// Dimension returns the embedding dimension this store was opened with.
func (s *Store) Dimension() int { return s.dimension }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// wrap classifies a database error as retryable (lock contention) or fatal.
func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "locked") || strings.Contains(msg, "busy") {
		return Retryable(fmt.Errorf("%s: %w", op, err))
	}
	return Fatal(fmt.Errorf("%s: %w", op, err))
}

// encodeEmbedding converts []float32 to bytes for storage (little-endian
// IEEE 754).
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

// decodeEmbedding converts bytes back to []float32. It returns an error when
// the blob does not decode to the store's dimension; a nil blob decodes to a
// nil vector (entry stored without embedding).
func (s *Store) decodeEmbedding(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%4 != 0 {
		return nil, Fatal(fmt.Errorf("corrupt embedding blob: %d bytes", len(data)))
	}
	embedding := make([]float32, len(data)/4)
	if len(embedding) != s.dimension {
		return nil, Fatal(fmt.Errorf("embedding dimension mismatch: blob has %d, store expects %d", len(embedding), s.dimension))
	}
	for i := range embedding {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
