// Package ragstore persists documents and their encrypted chunks in a
// per-tenant SQLite file.
//
// The store never holds a connection between calls: every operation opens
// the file, does its work and closes it again. Chunk text arrives already
// sealed and embeddings arrive already encoded; this package does not see
// plaintext or keys.
package ragstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/database"
)

// ErrDocumentNotFound is returned when deleting an unknown document.
var ErrDocumentNotFound = errors.New("ragstore: document not found")

var migrations = []database.Migration{
	{Version: 1, SQL: `
		CREATE TABLE IF NOT EXISTS RagDocuments (
			Id        TEXT PRIMARY KEY,
			Name      TEXT,
			Path      TEXT,
			CreatedAt TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS RagChunks (
			Id            TEXT PRIMARY KEY,
			DocId         TEXT REFERENCES RagDocuments(Id) ON DELETE CASCADE,
			ChunkIndex    INTEGER,
			TextEncrypted TEXT,
			Embedding     BLOB,
			CreatedAt     TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_ragchunks_docid ON RagChunks(DocId);
	`},
}

// Document is one ingested file.
type Document struct {
	ID        string
	Name      string
	Path      string
	CreatedAt time.Time
	// Chunks is filled by Documents; it is ignored on insert.
	Chunks int
}

// Chunk is one stored window of a document.
type Chunk struct {
	ID            string
	DocID         string
	Index         int
	TextEncrypted string
	Embedding     []byte
}

// ChunkID builds the "{doc}_{index}" identifier of a chunk.
func ChunkID(docID string, index int) string {
	return docID + "_" + strconv.Itoa(index)
}

// Store is a handle on one tenant database file.
type Store struct {
	path string
}

// Open returns a store for the file at path. Nothing is opened until the
// first operation.
func Open(path string) *Store {
	return &Store{path: path}
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	db, err := database.OpenSQLite(ctx, database.SQLiteConfig{
		Path:        s.path,
		ForeignKeys: true,
	})
	if err != nil {
		return nil, err
	}
	// One connection keeps PRAGMAs and the transaction on the same handle.
	db.SetMaxOpenConns(1)
	if err := database.Migrate(ctx, db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("init rag schema: %w", err)
	}
	return db, nil
}

// Init creates the schema if it does not exist yet.
func (s *Store) Init(ctx context.Context) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	return db.Close()
}

// ChunkCount returns the number of stored chunks.
func (s *Store) ChunkCount(ctx context.Context) (int, error) {
	db, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM RagChunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Dimensions returns the vector length of the stored embeddings, or 0 when
// the store holds none.
func (s *Store) Dimensions(ctx context.Context) (int, error) {
	db, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var n int
	err = db.QueryRowContext(ctx, `
		SELECT length(Embedding) FROM RagChunks
		WHERE Embedding IS NOT NULL AND length(Embedding) > 0
		ORDER BY rowid LIMIT 1
	`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read embedding size: %w", err)
	}
	return n / 4, nil
}

// Scan calls fn for every chunk in insertion order. Returning an error from
// fn stops the scan and that error is returned.
func (s *Store) Scan(ctx context.Context, fn func(Chunk) error) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT Id, DocId, ChunkIndex, TextEncrypted, Embedding
		FROM RagChunks ORDER BY rowid
	`)
	if err != nil {
		return fmt.Errorf("scan chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c    Chunk
			text sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.DocID, &c.Index, &text, &c.Embedding); err != nil {
			return fmt.Errorf("read chunk: %w", err)
		}
		c.TextEncrypted = text.String
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Documents lists documents oldest first with their chunk counts.
func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT d.Id, COALESCE(d.Name, ''), COALESCE(d.Path, ''), d.CreatedAt, COUNT(c.Id)
		FROM RagDocuments d
		LEFT JOIN RagChunks c ON c.DocId = d.Id
		GROUP BY d.Id
		ORDER BY d.CreatedAt, d.rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d       Document
			created sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.Name, &d.Path, &created, &d.Chunks); err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		d.CreatedAt = created.Time
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and, through the foreign key, all of
// its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.ExecContext(ctx, "DELETE FROM RagDocuments WHERE Id = ?", id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// Rewrite replaces the text of every chunk with fn(text) inside a single
// transaction. Any error from fn aborts and leaves the store unchanged.
func (s *Store) Rewrite(ctx context.Context, fn func(text string) (string, error)) (int, error) {
	db, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rewrite: %w", err)
	}
	defer tx.Rollback()

	type row struct {
		id   string
		text string
	}
	var all []row
	rows, err := tx.QueryContext(ctx, "SELECT Id, COALESCE(TextEncrypted, '') FROM RagChunks ORDER BY rowid")
	if err != nil {
		return 0, fmt.Errorf("read chunks: %w", err)
	}
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.text); err != nil {
			rows.Close()
			return 0, fmt.Errorf("read chunk: %w", err)
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, "UPDATE RagChunks SET TextEncrypted = ? WHERE Id = ?")
	if err != nil {
		return 0, fmt.Errorf("prepare rewrite: %w", err)
	}
	defer stmt.Close()

	for _, r := range all {
		text, err := fn(r.text)
		if err != nil {
			return 0, fmt.Errorf("rewrite chunk %s: %w", r.id, err)
		}
		if _, err := stmt.ExecContext(ctx, text, r.id); err != nil {
			return 0, fmt.Errorf("update chunk %s: %w", r.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rewrite: %w", err)
	}
	return len(all), nil
}
