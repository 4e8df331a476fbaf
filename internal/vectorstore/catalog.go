package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register SQLite3 driver
)

// ChunkTypeCode is the chunk_type recorded for source chunks.
const ChunkTypeCode = "code"

// CatalogEntry is one row of the chunks table. Entries are immutable.
type CatalogEntry struct {
	EmbeddingID string    `json:"embedding_id"`
	RepoID      string    `json:"repo_id"`
	CommitSHA   string    `json:"commit_sha,omitempty"`
	Path        string    `json:"path"`
	Language    string    `json:"language"`
	StartLine   int       `json:"start_line"`
	EndLine     int       `json:"end_line"`
	ContentHash string    `json:"content_hash"`
	ChunkType   string    `json:"chunk_type"`
	FaissRow    int       `json:"faiss_row"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

var catalogSchema = []string{
	`CREATE TABLE IF NOT EXISTS chunks (
		embedding_id TEXT PRIMARY KEY,
		repo_id      TEXT NOT NULL,
		commit_sha   TEXT,
		path         TEXT NOT NULL,
		language     TEXT NOT NULL,
		start_line   INTEGER NOT NULL,
		end_line     INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		chunk_type   TEXT NOT NULL,
		faiss_row    INTEGER NOT NULL UNIQUE,
		content      TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_repo_id ON chunks(repo_id)`,
	`CREATE INDEX IF NOT EXISTS idx_path ON chunks(path)`,
	`CREATE INDEX IF NOT EXISTS idx_faiss_row ON chunks(faiss_row)`,
}

// Catalog is the SQLite metadata store for one repository.
type Catalog struct {
	db   *sql.DB
	path string
}

// OpenCatalog opens or creates the catalog database at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("opening catalog %s: %w", path, err)
	}
	// One writer at a time; the store lock already serializes adds.
	db.SetMaxOpenConns(1)

	for _, stmt := range catalogSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initializing catalog schema: %w", err)
		}
	}
	return &Catalog{db: db, path: path}, nil
}

// Path returns the database file path.
func (c *Catalog) Path() string { return c.path }

// Count returns the number of committed entries.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting catalog entries: %w", err)
	}
	return n, nil
}

// CatalogTx is an open catalog write.
type CatalogTx struct {
	tx *sql.Tx
}

// Begin starts a catalog transaction.
func (c *Catalog) Begin(ctx context.Context) (*CatalogTx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning catalog transaction: %w", err)
	}
	return &CatalogTx{tx: tx}, nil
}

// Insert stages entries in the transaction.
func (t *CatalogTx) Insert(ctx context.Context, entries []CatalogEntry) error {
	stmt, err := t.tx.PrepareContext(ctx, `INSERT INTO chunks
		(embedding_id, repo_id, commit_sha, path, language, start_line, end_line,
		 content_hash, chunk_type, faiss_row, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing catalog insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.EmbeddingID, e.RepoID, e.CommitSHA, e.Path, e.Language, e.StartLine, e.EndLine,
			e.ContentHash, e.ChunkType, e.FaissRow, e.Content, e.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("inserting catalog entry %s: %w", e.EmbeddingID, err)
		}
	}
	return nil
}

// Commit makes the staged entries visible.
func (t *CatalogTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing catalog transaction: %w", err)
	}
	return nil
}

// Rollback discards the staged entries. Safe after Commit.
func (t *CatalogTx) Rollback() {
	_ = t.tx.Rollback()
}

// ByRows returns the entries for the given rows keyed by row.
func (c *Catalog) ByRows(ctx context.Context, rows []int) (map[int]CatalogEntry, error) {
	out := make(map[int]CatalogEntry, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(rows)), ",")
	args := make([]any, len(rows))
	for i, r := range rows {
		args[i] = r
	}

	q := selectEntries + ` WHERE faiss_row IN (` + placeholders + `)`
	res, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying catalog rows: %w", err)
	}
	defer res.Close()

	for res.Next() {
		e, err := scanEntry(res)
		if err != nil {
			return nil, fmt.Errorf("scanning catalog row: %w", err)
		}
		out[e.FaissRow] = e
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("iterating catalog rows: %w", err)
	}
	return out, nil
}

// ByEmbeddingID returns the entry with the given embedding id.
func (c *Catalog) ByEmbeddingID(ctx context.Context, id string) (CatalogEntry, error) {
	e, err := scanEntry(c.db.QueryRowContext(ctx, selectEntries+` WHERE embedding_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return CatalogEntry{}, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
	}
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("querying catalog entry: %w", err)
	}
	return e, nil
}

const selectEntries = `SELECT embedding_id, repo_id, COALESCE(commit_sha, ''), path, language, start_line, end_line,
		content_hash, chunk_type, faiss_row, content, created_at
		FROM chunks`

func scanEntry(row interface{ Scan(dest ...any) error }) (CatalogEntry, error) {
	var e CatalogEntry
	err := row.Scan(&e.EmbeddingID, &e.RepoID, &e.CommitSHA, &e.Path, &e.Language,
		&e.StartLine, &e.EndLine, &e.ContentHash, &e.ChunkType, &e.FaissRow, &e.Content, &e.CreatedAt)
	return e, err
}

// Summary returns the entry count, distinct file count and per-language counts.
func (c *Catalog) Summary(ctx context.Context) (total, files int, languages map[string]int, err error) {
	err = c.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT path) FROM chunks`).Scan(&total, &files)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("summarizing catalog: %w", err)
	}

	res, err := c.db.QueryContext(ctx, `SELECT language, COUNT(*) FROM chunks GROUP BY language`)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("summarizing languages: %w", err)
	}
	defer res.Close()

	languages = make(map[string]int)
	for res.Next() {
		var (
			lang string
			n    int
		)
		if err := res.Scan(&lang, &n); err != nil {
			return 0, 0, nil, fmt.Errorf("scanning language count: %w", err)
		}
		languages[lang] = n
	}
	return total, files, languages, res.Err()
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
