package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/docfuse/docfuse/pkg/types"
)

// SQLiteLexicalStore implements LexicalStore on an SQLite FTS5 table with
// BM25 relevance ranking.
type SQLiteLexicalStore struct {
	db *sql.DB
}

// NewSQLiteLexicalStore opens (or creates) the FTS index at path. Use
// ":memory:" for an ephemeral index.
func NewSQLiteLexicalStore(path string) (*SQLiteLexicalStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	const schema = `
		CREATE VIRTUAL TABLE IF NOT EXISTS units_fts USING fts5(
			unit_id UNINDEXED,
			document_id UNINDEXED,
			modality UNINDEXED,
			content
		);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create lexical index: %w", err)
	}

	return &SQLiteLexicalStore{db: db}, nil
}

func (s *SQLiteLexicalStore) Upsert(ctx context.Context, units []*types.ContentUnit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	for _, u := range units {
		if _, err := tx.ExecContext(ctx, `DELETE FROM units_fts WHERE unit_id = ?`, u.ID); err != nil {
			return fmt.Errorf("replace unit %s: %w", u.ID, err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO units_fts (unit_id, document_id, modality, content) VALUES (?, ?, ?, ?)`,
			u.ID, u.DocumentID, string(u.Modality), u.SearchText())
		if err != nil {
			return fmt.Errorf("index unit %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteLexicalStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM units_fts WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return nil
}

func (s *SQLiteLexicalStore) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_id, document_id, modality, content, bm25(units_fts) AS rank
		FROM units_fts
		WHERE units_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			hit      Hit
			modality string
			rank     float64
		)
		if err := rows.Scan(&hit.UnitID, &hit.DocumentID, &modality, &hit.Content, &rank); err != nil {
			return nil, err
		}
		hit.Modality = types.Modality(modality)
		// bm25() returns lower-is-better; negate so higher is better.
		hit.Score = -rank
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (s *SQLiteLexicalStore) Close() error {
	return s.db.Close()
}

// ftsMatchExpr quotes each query term so user input cannot inject FTS5
// operators, then ORs the terms.
func ftsMatchExpr(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}
