// Package retrieval: SQLite-backed vector index over protocol passages.
//
// Embeddings are stored as little-endian float32 blobs alongside the passage
// text; retrieval embeds the query and ranks by cosine similarity. The table
// sizes involved (hundreds of passages) make a linear scan entirely adequate.
package retrieval

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/attunelab/trtflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS passages (
	id        TEXT PRIMARY KEY,
	stage     TEXT NOT NULL DEFAULT '',
	content   TEXT NOT NULL,
	embedding BLOB
);
CREATE INDEX IF NOT EXISTS idx_passages_stage ON passages(stage);
`

// SQLiteIndex is an embeddings-backed Retriever persisted in SQLite.
type SQLiteIndex struct {
	db       *sql.DB
	embedder Embedder
}

// NewSQLiteIndex opens (creating if needed) the passage index at path.
func NewSQLiteIndex(path string, embedder Embedder) (*SQLiteIndex, error) {
	slog.Debug("retrieval.NewSQLiteIndex: opening passage index", "path", path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		slog.Error("retrieval.NewSQLiteIndex: failed to create index directory", "error", err)
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		slog.Error("retrieval.NewSQLiteIndex: failed to open index", "error", err, "path", path)
		return nil, fmt.Errorf("failed to open passage index: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("passage index ping failed: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		return nil, fmt.Errorf("failed to apply passage index schema: %w", err)
	}
	return &SQLiteIndex{db: db, embedder: embedder}, nil
}

// Close closes the underlying database.
func (x *SQLiteIndex) Close() error {
	return x.db.Close()
}

// Add embeds and stores one passage, replacing any existing passage with the
// same id.
func (x *SQLiteIndex) Add(ctx context.Context, p Passage) error {
	vec, err := x.embedder.Embed(ctx, p.Content)
	if err != nil {
		return fmt.Errorf("failed to embed passage %s: %w", p.ID, err)
	}
	_, err = x.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO passages (id, stage, content, embedding) VALUES (?, ?, ?, ?)`,
		p.ID, p.Stage, p.Content, encodeFloat32Slice(vec))
	if err != nil {
		slog.Error("SQLiteIndex.Add: insert failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to store passage %s: %w", p.ID, err)
	}
	slog.Debug("SQLiteIndex.Add: passage stored", "id", p.ID, "stage", p.Stage)
	return nil
}

// Retrieve implements Retriever: embed the query, score every stored passage
// by cosine similarity (with a bias toward the hinted stage), return top k.
func (x *SQLiteIndex) Retrieve(ctx context.Context, query string, stageHint models.Stage, k int) ([]Passage, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	queryVec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := x.db.QueryContext(ctx, `SELECT id, stage, content, embedding FROM passages WHERE embedding IS NOT NULL`)
	if err != nil {
		slog.Error("SQLiteIndex.Retrieve: query failed", "error", err)
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer rows.Close()

	var scored []Passage
	for rows.Next() {
		var p Passage
		var blob []byte
		if err := rows.Scan(&p.ID, &p.Stage, &p.Content, &blob); err != nil {
			slog.Error("SQLiteIndex.Retrieve: scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan passage row: %w", err)
		}
		vec := decodeFloat32Slice(blob)
		if len(vec) != len(queryVec) {
			// Dimension mismatch after a model change; skip rather than fail.
			continue
		}
		p.Score = cosineSimilarity(queryVec, vec)
		if p.Stage == string(stageHint) {
			p.Score += 0.1
		}
		scored = append(scored, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate passage rows: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	slog.Debug("SQLiteIndex.Retrieve: passages ranked", "returned", len(scored), "k", k)
	return scored, nil
}

func encodeFloat32Slice(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeFloat32Slice(blob []byte) []float32 {
	if len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
