// Package fetchstore persists shard documents in PostgreSQL. It is the
// durable side of the in-memory shard engines: documents are written here,
// loaded per shard at startup, and can be re-fetched by ordinal when a
// shard's in-memory copy is not available.
package fetchstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/searchplatform/search-reduce/internal/shard"
	"github.com/searchplatform/search-reduce/pkg/postgres"
)

// Store reads and writes shard documents.
//
// It requires a `documents` table:
//
//	CREATE TABLE documents (
//	    shard   INT NOT NULL,
//	    ordinal INT NOT NULL,
//	    doc_id  TEXT NOT NULL,
//	    title   TEXT NOT NULL,
//	    body    TEXT NOT NULL,
//	    fields  JSONB,
//	    suggest JSONB,
//	    PRIMARY KEY (shard, ordinal)
//	);
//
// Field values round-trip through JSONB, so numbers come back as float64.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates a document store on the given connection.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "fetchstore"),
	}
}

// SaveShard replaces the stored documents of one shard in a single
// transaction. Ordinals are assigned from slice positions.
func (s *Store) SaveShard(ctx context.Context, shardNo int, docs []shard.Document) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE shard = $1`, shardNo); err != nil {
			return fmt.Errorf("clearing shard %d: %w", shardNo, err)
		}
		for ordinal, doc := range docs {
			fields, err := json.Marshal(doc.Fields)
			if err != nil {
				return fmt.Errorf("marshaling fields of %q: %w", doc.ID, err)
			}
			suggest, err := json.Marshal(doc.Suggest)
			if err != nil {
				return fmt.Errorf("marshaling suggest inputs of %q: %w", doc.ID, err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO documents (shard, ordinal, doc_id, title, body, fields, suggest)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				shardNo, ordinal, doc.ID, doc.Title, doc.Body, fields, suggest,
			)
			if err != nil {
				return fmt.Errorf("inserting %q into shard %d: %w", doc.ID, shardNo, err)
			}
		}
		return nil
	})
}

// LoadShard returns one shard's documents in ordinal order. Ordinals must be
// dense from zero, since slice position doubles as the ordinal everywhere
// downstream.
func (s *Store) LoadShard(ctx context.Context, shardNo int) ([]shard.Document, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT ordinal, doc_id, title, body, fields, suggest
		 FROM documents WHERE shard = $1 ORDER BY ordinal`,
		shardNo,
	)
	if err != nil {
		return nil, fmt.Errorf("loading shard %d: %w", shardNo, err)
	}
	defer rows.Close()

	var docs []shard.Document
	for rows.Next() {
		var ordinal int
		doc, err := scanDocument(rows, &ordinal)
		if err != nil {
			return nil, fmt.Errorf("scanning shard %d: %w", shardNo, err)
		}
		if ordinal != len(docs) {
			return nil, fmt.Errorf("shard %d has a gap at ordinal %d", shardNo, len(docs))
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading shard %d: %w", shardNo, err)
	}
	s.logger.Info("shard documents loaded", "shard", shardNo, "docs", len(docs))
	return docs, nil
}

// FetchByOrdinals loads the named ordinals of one shard and returns them in
// the exact order requested.
func (s *Store) FetchByOrdinals(ctx context.Context, shardNo int, ordinals []int) ([]shard.Document, error) {
	wanted := make([]int64, len(ordinals))
	for i, ord := range ordinals {
		wanted[i] = int64(ord)
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT ordinal, doc_id, title, body, fields, suggest
		 FROM documents WHERE shard = $1 AND ordinal = ANY($2)`,
		shardNo, pq.Array(wanted),
	)
	if err != nil {
		return nil, fmt.Errorf("fetching from shard %d: %w", shardNo, err)
	}
	defer rows.Close()

	byOrdinal := make(map[int]shard.Document, len(ordinals))
	for rows.Next() {
		var ordinal int
		doc, err := scanDocument(rows, &ordinal)
		if err != nil {
			return nil, fmt.Errorf("scanning shard %d: %w", shardNo, err)
		}
		byOrdinal[ordinal] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetching from shard %d: %w", shardNo, err)
	}

	docs := make([]shard.Document, len(ordinals))
	for i, ord := range ordinals {
		doc, ok := byOrdinal[ord]
		if !ok {
			return nil, fmt.Errorf("shard %d has no document at ordinal %d", shardNo, ord)
		}
		docs[i] = doc
	}
	return docs, nil
}

func scanDocument(rows *sql.Rows, ordinal *int) (shard.Document, error) {
	var doc shard.Document
	var fields, suggest []byte
	if err := rows.Scan(ordinal, &doc.ID, &doc.Title, &doc.Body, &fields, &suggest); err != nil {
		return shard.Document{}, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &doc.Fields); err != nil {
			return shard.Document{}, fmt.Errorf("decoding fields of %q: %w", doc.ID, err)
		}
	}
	if len(suggest) > 0 {
		if err := json.Unmarshal(suggest, &doc.Suggest); err != nil {
			return shard.Document{}, fmt.Errorf("decoding suggest inputs of %q: %w", doc.ID, err)
		}
	}
	return doc, nil
}
