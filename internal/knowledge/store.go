package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS learned_query (
	id TEXT PRIMARY KEY,
	prompt TEXT NOT NULL,
	sql_text TEXT NOT NULL,
	embedding BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS doc_snippet (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	embedding BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

type LearnedQuery struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	SQL       string    `json:"sql"`
	Score     float64   `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	embedding []float32
}

type DocSnippet struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Score     float64   `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	embedding []float32
}

// Store persists learned prompt/SQL pairs and doc snippets, each with
// an embedding vector, in a local SQLite file.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the knowledge database at path.
// Use ":memory:" for an ephemeral store.
func OpenStore(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create knowledge dir: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}
	if path == ":memory:" {
		// Each pool connection to :memory: opens its own private,
		// empty database, so the pool must stay at one connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping knowledge db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init knowledge schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) InsertLearnedQuery(ctx context.Context, prompt, sqlText string, embedding []float32) (LearnedQuery, error) {
	entry := LearnedQuery{
		ID:        uuid.New().String(),
		Prompt:    prompt,
		SQL:       sqlText,
		CreatedAt: time.Now().UTC(),
		embedding: embedding,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learned_query (id, prompt, sql_text, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Prompt, entry.SQL, encodeVector(embedding), entry.CreatedAt,
	)
	if err != nil {
		return LearnedQuery{}, fmt.Errorf("insert learned query: %w", err)
	}
	return entry, nil
}

func (s *Store) InsertDocSnippet(ctx context.Context, content, source string, embedding []float32) (DocSnippet, error) {
	entry := DocSnippet{
		ID:        uuid.New().String(),
		Content:   content,
		Source:    source,
		CreatedAt: time.Now().UTC(),
		embedding: embedding,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO doc_snippet (id, content, source, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Content, entry.Source, encodeVector(embedding), entry.CreatedAt,
	)
	if err != nil {
		return DocSnippet{}, fmt.Errorf("insert doc snippet: %w", err)
	}
	return entry, nil
}

// ListLearnedQueries returns the most recent entries without scores.
func (s *Store) ListLearnedQueries(ctx context.Context, limit int) ([]LearnedQuery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt, sql_text, created_at FROM learned_query ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list learned queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []LearnedQuery
	for rows.Next() {
		var entry LearnedQuery
		if err := rows.Scan(&entry.ID, &entry.Prompt, &entry.SQL, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan learned query: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) allLearnedQueries(ctx context.Context) ([]LearnedQuery, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, prompt, sql_text, embedding, created_at FROM learned_query`)
	if err != nil {
		return nil, fmt.Errorf("load learned queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []LearnedQuery
	for rows.Next() {
		var entry LearnedQuery
		var blob []byte
		if err := rows.Scan(&entry.ID, &entry.Prompt, &entry.SQL, &blob, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan learned query: %w", err)
		}
		entry.embedding = decodeVector(blob)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) allDocSnippets(ctx context.Context) ([]DocSnippet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, source, embedding, created_at FROM doc_snippet`)
	if err != nil {
		return nil, fmt.Errorf("load doc snippets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []DocSnippet
	for rows.Next() {
		var entry DocSnippet
		var blob []byte
		if err := rows.Scan(&entry.ID, &entry.Content, &entry.Source, &blob, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan doc snippet: %w", err)
		}
		entry.embedding = decodeVector(blob)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, value := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(value))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vector := make([]float32, len(buf)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vector
}
