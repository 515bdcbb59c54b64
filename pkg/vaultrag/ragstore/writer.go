package ragstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrWriterClosed is returned by a Writer after Commit or Rollback.
var ErrWriterClosed = errors.New("ragstore: writer closed")

// Writer groups a document and its chunks into one transaction. Nothing it
// writes is visible to Scan until Commit returns.
type Writer struct {
	db   *sql.DB
	tx   *sql.Tx
	stmt *sql.Stmt
	now  time.Time
	done bool
}

// Begin opens a write transaction. The caller must end it with Commit or
// Rollback; Rollback after Commit is a no-op, so it can be deferred.
func (s *Store) Begin(ctx context.Context) (*Writer, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Writer{db: db, tx: tx, now: time.Now().UTC()}, nil
}

// AddDocument inserts the document row. A zero CreatedAt is set to the
// transaction start time.
func (w *Writer) AddDocument(ctx context.Context, doc Document) error {
	if w.done {
		return ErrWriterClosed
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = w.now
	}
	_, err := w.tx.ExecContext(ctx,
		"INSERT INTO RagDocuments (Id, Name, Path, CreatedAt) VALUES (?, ?, ?, ?)",
		doc.ID, doc.Name, doc.Path, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// AddChunk inserts one chunk. An empty ID is derived from DocID and Index.
func (w *Writer) AddChunk(ctx context.Context, c Chunk) error {
	if w.done {
		return ErrWriterClosed
	}
	if w.stmt == nil {
		stmt, err := w.tx.PrepareContext(ctx, `
			INSERT INTO RagChunks (Id, DocId, ChunkIndex, TextEncrypted, Embedding, CreatedAt)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare chunk insert: %w", err)
		}
		w.stmt = stmt
	}
	if c.ID == "" {
		c.ID = ChunkID(c.DocID, c.Index)
	}
	if _, err := w.stmt.ExecContext(ctx, c.ID, c.DocID, c.Index, c.TextEncrypted, c.Embedding, w.now); err != nil {
		return fmt.Errorf("insert chunk %s: %w", c.ID, err)
	}
	return nil
}

// Commit makes every row added so far visible and releases the connection.
func (w *Writer) Commit() error {
	if w.done {
		return ErrWriterClosed
	}
	w.done = true
	defer w.release()
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction. It is safe to call more than once.
func (w *Writer) Rollback() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.release()
	if err := w.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (w *Writer) release() {
	if w.stmt != nil {
		w.stmt.Close()
	}
	w.db.Close()
}
