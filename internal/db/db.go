// Package db persists document metadata rows in Postgres (Supabase).
// Chunk vectors live in the vector index; this registry holds the
// per-document facts the pipeline needs: upload time for recency
// scoring and existence for citation verification.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"grounded-rag/internal/config"
)

// ErrDocumentNotFound is returned for lookups of deleted or never
// ingested documents.
var ErrDocumentNotFound = errors.New("document not found")

const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID         string    `bun:"id,pk"`
	Title      string    `bun:"title,notnull"`
	MimeType   string    `bun:"mime_type,notnull"`
	FileSize   int64     `bun:"file_size"`
	PageCount  int       `bun:"page_count"`
	ChunkCount int       `bun:"chunk_count"`
	Status     string    `bun:"status,notnull"`
	UploadedAt time.Time `bun:"uploaded_at,notnull,default:current_timestamp"`

	// Supersedes lists documents this one replaces. Recorded for
	// downstream consumers; the reranker does not act on it yet.
	Supersedes []string `bun:"supersedes,array"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.SupabaseURL + "?sslmode=disable"
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn), pgdriver.WithPassword(cfg.SupabaseKey))), nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx)
	return err
}

// SaveDocument inserts the row or replaces it when the document is
// re-ingested under the same id.
func SaveDocument(ctx context.Context, db *bun.DB, doc *Document) error {
	_, err := db.NewInsert().
		Model(doc).
		On("CONFLICT (id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("mime_type = EXCLUDED.mime_type").
		Set("file_size = EXCLUDED.file_size").
		Set("page_count = EXCLUDED.page_count").
		Set("chunk_count = EXCLUDED.chunk_count").
		Set("status = EXCLUDED.status").
		Set("uploaded_at = EXCLUDED.uploaded_at").
		Exec(ctx)
	return err
}

// SetStatus flips a document's ingestion status.
func SetStatus(ctx context.Context, db *bun.DB, id, status string) error {
	res, err := db.NewUpdate().
		Model((*Document)(nil)).
		Set("status = ?", status).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return nil
}

func GetDocument(ctx context.Context, db *bun.DB, id string) (*Document, error) {
	doc := new(Document)
	err := db.NewSelect().Model(doc).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func ListDocuments(ctx context.Context, db *bun.DB) ([]Document, error) {
	var docs []Document
	err := db.NewSelect().Model(&docs).Order("uploaded_at DESC").Scan(ctx)
	return docs, err
}

func DeleteDocument(ctx context.Context, db *bun.DB, id string) error {
	res, err := db.NewDelete().Model((*Document)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return nil
}

// drop table documents

func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx)
	return err
}
