// Package routing persists the durable doc_id -> {tier, file_id, created_at}
// routing table backing the generational store, plus a file_id secondary
// index used by ParentChild retrieval to locate a chunk's siblings. The
// table also stores each chunk's content, metadata, and embedding so the
// archive flow and index rebuilds never need to re-embed anything.
package routing

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vretrieve/engine/internal/domain"
)

// Table is the SQLite-backed routing table. A single writer connection is
// used since SQLite serializes writers anyway and this avoids
// lock-contention churn.
type Table struct {
	db     *sql.DB
	path   string
	closed bool
}

// Open creates or opens the routing table at path. An empty path opens an
// in-memory table, used by tests.
func Open(path string) (*Table, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create routing dir: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open routing db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	t := &Table{db: db, path: path}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *Table) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS routing (
	chunk_id   TEXT PRIMARY KEY,
	file_id    TEXT NOT NULL,
	tier       TEXT NOT NULL,
	soft_del   INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	metadata   TEXT NOT NULL DEFAULT '{}',
	embedding  BLOB
);
CREATE INDEX IF NOT EXISTS idx_routing_file_id ON routing(file_id);
CREATE INDEX IF NOT EXISTS idx_routing_tier ON routing(tier);
CREATE INDEX IF NOT EXISTS idx_routing_created ON routing(tier, created_at);
CREATE TABLE IF NOT EXISTS kv_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	_, err := t.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrate routing schema: %w", err)
	}
	return nil
}

// EncodeVector serializes a float32 vector as a little-endian blob.
func EncodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector deserializes a little-endian float32 blob.
func DecodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// validateMetadata rejects non-primitive metadata values so that
// exact-match filtering stays decidable.
func validateMetadata(md map[string]any) error {
	for k, v := range md {
		switch v.(type) {
		case string, bool, float64, int, int64, float32:
		default:
			return fmt.Errorf("metadata key %q has unsupported type %T (only strings, numbers, booleans)", k, v)
		}
	}
	return nil
}

// PutChunks writes routing records together with chunk content and
// embeddings, atomically in one transaction.
func (t *Table) PutChunks(ctx context.Context, records []domain.RoutingRecord, chunks []domain.Chunk, embeddings [][]float32) error {
	if len(records) == 0 {
		return nil
	}
	if len(records) != len(chunks) || len(records) != len(embeddings) {
		return fmt.Errorf("records/chunks/embeddings length mismatch: %d/%d/%d", len(records), len(chunks), len(embeddings))
	}
	for _, c := range chunks {
		if err := validateMetadata(c.Metadata); err != nil {
			return err
		}
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO routing(chunk_id, file_id, tier, soft_del, created_at, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			file_id=excluded.file_id, tier=excluded.tier,
			soft_del=excluded.soft_del, created_at=excluded.created_at,
			content=excluded.content, metadata=excluded.metadata,
			embedding=excluded.embedding`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare put chunks: %w", err)
	}
	defer stmt.Close()
	for i, r := range records {
		md, err := json.Marshal(chunks[i].Metadata)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal metadata for %s: %w", r.ChunkID, err)
		}
		softDel := 0
		if r.SoftDel {
			softDel = 1
		}
		if _, err := stmt.ExecContext(ctx, r.ChunkID, r.FileID, string(r.Tier), softDel,
			r.CreatedAt.UnixNano(), chunks[i].Content, string(md), EncodeVector(embeddings[i])); err != nil {
			tx.Rollback()
			return fmt.Errorf("put chunk %s: %w", r.ChunkID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put chunks: %w", err)
	}
	return nil
}

// Upsert writes (or overwrites) routing records atomically in one
// transaction, leaving chunk content and embeddings untouched.
func (t *Table) Upsert(ctx context.Context, records []domain.RoutingRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO routing(chunk_id, file_id, tier, soft_del, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			file_id=excluded.file_id, tier=excluded.tier,
			soft_del=excluded.soft_del, created_at=excluded.created_at`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		softDel := 0
		if r.SoftDel {
			softDel = 1
		}
		if _, err := stmt.ExecContext(ctx, r.ChunkID, r.FileID, string(r.Tier), softDel, r.CreatedAt.UnixNano()); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert routing record %s: %w", r.ChunkID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit routing upsert: %w", err)
	}
	return nil
}

// SetTier moves records to a new tier atomically as one batch, the single
// observable transition the archive flow relies on.
func (t *Table) SetTier(ctx context.Context, chunkIDs []string, tier domain.Tier) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE routing SET tier = ? WHERE chunk_id = ?`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare set tier: %w", err)
	}
	defer stmt.Close()
	for _, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, string(tier), id); err != nil {
			tx.Rollback()
			return fmt.Errorf("set tier for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Get returns a single routing record, or nil if not found.
func (t *Table) Get(ctx context.Context, chunkID string) (*domain.RoutingRecord, error) {
	row := t.db.QueryRowContext(ctx, `SELECT chunk_id, file_id, tier, soft_del, created_at FROM routing WHERE chunk_id = ?`, chunkID)
	return scanRecord(row)
}

func scanRecord(row *sql.Row) (*domain.RoutingRecord, error) {
	var r domain.RoutingRecord
	var tier string
	var softDel int
	var createdAt int64
	if err := row.Scan(&r.ChunkID, &r.FileID, &tier, &softDel, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan routing record: %w", err)
	}
	r.Tier = domain.Tier(tier)
	r.SoftDel = softDel != 0
	r.CreatedAt = time.Unix(0, createdAt)
	return &r, nil
}

// GetChunks returns full chunks (content + metadata) for the given IDs.
// Missing IDs are skipped, not errors: a chunk can disappear between a
// search and its enrichment.
func (t *Table) GetChunks(ctx context.Context, chunkIDs []string) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, 0, len(chunkIDs))
	stmt, err := t.db.PrepareContext(ctx, `SELECT chunk_id, file_id, content, metadata, created_at FROM routing WHERE chunk_id = ? AND soft_del = 0`)
	if err != nil {
		return nil, fmt.Errorf("prepare get chunks: %w", err)
	}
	defer stmt.Close()
	for _, id := range chunkIDs {
		var c domain.Chunk
		var md string
		var createdAt int64
		err := stmt.QueryRowContext(ctx, id).Scan(&c.ID, &c.FileID, &c.Content, &md, &createdAt)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get chunk %s: %w", id, err)
		}
		if err := json.Unmarshal([]byte(md), &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", id, err)
		}
		c.CreatedAt = time.Unix(0, createdAt)
		out = append(out, c)
	}
	return out, nil
}

// GetEmbeddings returns the stored embeddings for the given IDs, keyed by
// chunk ID. Missing IDs are absent from the map.
func (t *Table) GetEmbeddings(ctx context.Context, chunkIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(chunkIDs))
	stmt, err := t.db.PrepareContext(ctx, `SELECT embedding FROM routing WHERE chunk_id = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare get embeddings: %w", err)
	}
	defer stmt.Close()
	for _, id := range chunkIDs {
		var blob []byte
		err := stmt.QueryRowContext(ctx, id).Scan(&blob)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get embedding %s: %w", id, err)
		}
		if v := DecodeVector(blob); v != nil {
			out[id] = v
		}
	}
	return out, nil
}

// ByFile returns every routing record for a given file_id, used both by
// delete-by-file and to expand child-chunk hits to their parent's chunks.
func (t *Table) ByFile(ctx context.Context, fileID string) ([]domain.RoutingRecord, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT chunk_id, file_id, tier, soft_del, created_at FROM routing WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, fmt.Errorf("query by file: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// ByTier returns every routing record currently assigned to tier, including
// soft-deleted ones (callers filter as needed).
func (t *Table) ByTier(ctx context.Context, tier domain.Tier) ([]domain.RoutingRecord, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT chunk_id, file_id, tier, soft_del, created_at FROM routing WHERE tier = ?`, string(tier))
	if err != nil {
		return nil, fmt.Errorf("query by tier: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// OlderThan returns up to limit non-soft-deleted records in tier with
// created_at before cutoff, oldest first. The archive scheduler walks Hot
// through this in batches so a crash mid-run leaves newer data in place.
func (t *Table) OlderThan(ctx context.Context, tier domain.Tier, cutoff time.Time, limit int) ([]domain.RoutingRecord, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT chunk_id, file_id, tier, soft_del, created_at FROM routing
		WHERE tier = ? AND soft_del = 0 AND created_at < ?
		ORDER BY created_at ASC LIMIT ?`, string(tier), cutoff.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("query older than: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func scanAll(rows *sql.Rows) ([]domain.RoutingRecord, error) {
	var out []domain.RoutingRecord
	for rows.Next() {
		var r domain.RoutingRecord
		var tier string
		var softDel int
		var createdAt int64
		if err := rows.Scan(&r.ChunkID, &r.FileID, &tier, &softDel, &createdAt); err != nil {
			return nil, fmt.Errorf("scan routing row: %w", err)
		}
		r.Tier = domain.Tier(tier)
		r.SoftDel = softDel != 0
		r.CreatedAt = time.Unix(0, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllIDs returns every non-soft-deleted chunk ID, used by the reconciliation
// pass as the source of truth to compare index contents against.
func (t *Table) AllIDs(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT chunk_id FROM routing WHERE soft_del = 0`)
	if err != nil {
		return nil, fmt.Errorf("query all ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkSoftDeleted flags records as soft-deleted without removing them, used
// by Cold's tombstone-only deletion path.
func (t *Table) MarkSoftDeleted(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE routing SET soft_del = 1 WHERE chunk_id = ?`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare soft-delete: %w", err)
	}
	defer stmt.Close()
	for _, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("soft-delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Delete physically removes records, used once Hot has confirmed a real
// physical delete (rather than a tombstone) succeeded.
func (t *Table) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM routing WHERE chunk_id = ?`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()
	for _, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Stats returns the routing table's counters broken down by tier.
func (t *Table) Stats(ctx context.Context) (total, hot, cold, files int, err error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN tier = 'hot' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN tier = 'cold' THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT file_id)
		FROM routing WHERE soft_del = 0`)
	if err = row.Scan(&total, &hot, &cold, &files); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("routing stats: %w", err)
	}
	return total, hot, cold, files, nil
}

// SoftDeletedCount and TotalCount support the Cold purge-window decision.
func (t *Table) SoftDeletedCount(ctx context.Context) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM routing WHERE soft_del = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count soft-deleted: %w", err)
	}
	return n, nil
}

func (t *Table) TotalCount(ctx context.Context) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM routing`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count total: %w", err)
	}
	return n, nil
}

// GetState/SetState back the persisted embedding_dimension key (checked at
// open against the configured dimension), the embedding_model key recorded
// beside it, plus the BM25 sync counter.
func (t *Table) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := t.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return v, nil
}

func (t *Table) SetState(ctx context.Context, key, value string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO kv_state(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.db.Close()
}
