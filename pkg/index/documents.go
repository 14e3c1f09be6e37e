package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

// ErrDocumentNotFound is returned when a document cannot be resolved.
var ErrDocumentNotFound = errors.New("document not found")

// Document is a registered source document of a knowledge base.
type Document struct {
	ID        string    `json:"id"`
	KBID      string    `json:"kb_id"`
	Name      string    `json:"name"`
	ChunkNum  int64     `json:"chunk_num"`
	TokenNum  int64     `json:"token_num"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Documents resolves documents and keeps their chunk counters.
type Documents interface {
	ResolveByName(ctx context.Context, kbID, name string) (Document, error)
	Get(ctx context.Context, id string) (Document, error)
	IncrementChunkNum(ctx context.Context, docID, kbID string, tokens, chunks int) error
	Upsert(ctx context.Context, doc Document) (Document, error)
}

// DuckDBDocuments keeps documents in the documents table.
type DuckDBDocuments struct {
	db *sql.DB
}

// NewDuckDBDocuments creates the documents table if needed.
func NewDuckDBDocuments(db *sql.DB) (*DuckDBDocuments, error) {
	d := &DuckDBDocuments{db: db}
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS documents (
		id VARCHAR PRIMARY KEY,
		kb_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		chunk_num BIGINT DEFAULT 0,
		token_num BIGINT DEFAULT 0,
		updated_at TIMESTAMP
	);`)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize documents schema: %w", err)
	}
	return d, nil
}

const documentColumns = "id, kb_id, name, chunk_num, token_num, updated_at"

func scanDocument(row *sql.Row) (Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.KBID, &doc.Name, &doc.ChunkNum, &doc.TokenNum, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrDocumentNotFound
	}
	return doc, err
}

// ResolveByName finds the document of kbID with the given name. When names
// repeat, the most recently updated one wins.
func (d *DuckDBDocuments) ResolveByName(ctx context.Context, kbID, name string) (Document, error) {
	doc, err := scanDocument(d.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE kb_id = ? AND name = ? ORDER BY updated_at DESC LIMIT 1",
		kbID, name))
	if err != nil {
		return Document{}, fmt.Errorf("resolve document %q in kb %s: %w", name, kbID, err)
	}
	return doc, nil
}

// Get returns the document with the given id.
func (d *DuckDBDocuments) Get(ctx context.Context, id string) (Document, error) {
	doc, err := scanDocument(d.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
	if err != nil {
		return Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// IncrementChunkNum adds to the document's token and chunk counters.
func (d *DuckDBDocuments) IncrementChunkNum(ctx context.Context, docID, kbID string, tokens, chunks int) error {
	res, err := d.db.ExecContext(ctx, `
	UPDATE documents SET token_num = token_num + ?, chunk_num = chunk_num + ?, updated_at = ?
	WHERE id = ? AND kb_id = ?`, tokens, chunks, utils.UTCNow(), docID, kbID)
	if err != nil {
		return fmt.Errorf("increment chunk num of %s: %w", docID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("increment chunk num of %s: %w", docID, ErrDocumentNotFound)
	}
	return nil
}

// Upsert stores doc. Without an id it takes the id of the document of the
// same kb and name, or a new one.
func (d *DuckDBDocuments) Upsert(ctx context.Context, doc Document) (Document, error) {
	if err := utils.ValidateRequired(map[string]string{"kb_id": doc.KBID, "name": doc.Name}); err != nil {
		return Document{}, err
	}
	if doc.ID == "" {
		existing, err := d.ResolveByName(ctx, doc.KBID, doc.Name)
		switch {
		case err == nil:
			doc.ID = existing.ID
		case errors.Is(err, ErrDocumentNotFound):
			doc.ID = uuid.NewString()
		default:
			return Document{}, err
		}
	}
	doc.UpdatedAt = utils.UTCNow()
	_, err := d.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.KBID, doc.Name, doc.ChunkNum, doc.TokenNum, doc.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return doc, nil
}
