package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AllenChen-Xingan/nvda-vision/internal/capture"
	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

// ErrNotFound is returned by Lookup when no live entry exists for a
// fingerprint. Expired entries are treated as misses.
var ErrNotFound = errors.New("not found")

// Stats summarizes cache contents and hit behavior.
type Stats struct {
	ScreenshotCount int     `json:"screenshot_count"`
	EntryCount      int     `json:"entry_count"`
	ElementCount    int     `json:"element_count"`
	TotalHits       int     `json:"total_hits"`
	HitRate         float64 `json:"hit_rate"`
}

// CacheRepository provides cache operations over recognition results.
type CacheRepository struct {
	db *sql.DB
}

// Cache returns the cache repository for this store.
func (s *Store) Cache() *CacheRepository {
	return &CacheRepository{db: s.db}
}

// Lookup returns the most recent non-expired result for a fingerprint.
// On a hit the entry's hit count and last-accessed time are updated in the
// same transaction before the result is returned. Misses return ErrNotFound.
func (r *CacheRepository) Lookup(fingerprint string) (*vision.Result, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()

	var rowID int64
	var resultJSON string
	var expiresAt int64
	err = tx.QueryRow(
		`SELECT r.id, r.result_json, s.expires_at
		 FROM results r
		 JOIN screenshots s ON r.screenshot_id = s.id
		 WHERE s.fingerprint = ? AND s.expires_at > ?
		 ORDER BY r.created_at DESC, r.id DESC
		 LIMIT 1`,
		fingerprint, now.UnixMilli(),
	).Scan(&rowID, &resultJSON, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	_, err = tx.Exec(
		`UPDATE results
		 SET hit_count = hit_count + 1, last_accessed_at = ?
		 WHERE id = ?`,
		now.UnixMilli(), rowID,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	result := &vision.Result{}
	if err := json.Unmarshal([]byte(resultJSON), result); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	result.ExpiresAt = time.UnixMilli(expiresAt)

	return result, nil
}

// Put stores a recognition result for a screenshot. If the entry count has
// reached maxEntries, the least-recently-accessed results are evicted first.
// Re-recognition of a known fingerprint appends a new result row (retaining
// history) and refreshes the screenshot's expiry.
func (r *CacheRepository) Put(shot *capture.Screenshot, result *vision.Result, ttl time.Duration, maxEntries int) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if maxEntries > 0 {
		if err := evictLRU(tx, maxEntries); err != nil {
			return fmt.Errorf("evict: %w", err)
		}
	}

	now := time.Now()
	expiresAt := now.Add(ttl)

	_, err = tx.Exec(
		`INSERT INTO screenshots (fingerprint, width, height, source, captured_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			captured_at = excluded.captured_at,
			expires_at = excluded.expires_at`,
		result.Fingerprint, shot.Width, shot.Height, shot.Source,
		now.UnixMilli(), expiresAt.UnixMilli(),
	)
	if err != nil {
		return err
	}

	var screenshotID int64
	err = tx.QueryRow(
		`SELECT id FROM screenshots WHERE fingerprint = ?`, result.Fingerprint,
	).Scan(&screenshotID)
	if err != nil {
		return err
	}

	res, err := tx.Exec(
		`INSERT INTO results (
			screenshot_id, result_id, model_name, tier, inference_ms,
			confidence, element_count, result_json, hit_count,
			last_accessed_at, status, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		screenshotID, result.ID, result.ModelName, string(result.Tier),
		result.InferenceMs, result.AverageConfidence(), result.ElementCount(),
		string(resultJSON), now.UnixMilli(), string(result.Status), now.UnixMilli(),
	)
	if err != nil {
		return err
	}

	resultRowID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for i := range result.Elements {
		e := &result.Elements[i]
		_, err = tx.Exec(
			`INSERT INTO elements (
				result_id, element_id, element_type, text_content,
				x1, y1, x2, y2, confidence, actionable, parent_id
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			resultRowID, e.ID, string(e.Type), e.Text,
			e.Box.X1, e.Box.Y1, e.Box.X2, e.Box.Y2,
			e.Confidence, e.Actionable, e.ParentID,
		)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	result.ExpiresAt = expiresAt
	return nil
}

// evictLRU deletes the least-recently-accessed results until the count is
// strictly below maxEntries, leaving room for one insert. Ties on
// last-accessed time break by insertion order (lower rowid first).
func evictLRU(tx *sql.Tx, maxEntries int) error {
	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM results`).Scan(&count); err != nil {
		return err
	}
	if count < maxEntries {
		return nil
	}

	toDelete := count - maxEntries + 1
	_, err := tx.Exec(
		`DELETE FROM results WHERE id IN (
			SELECT id FROM results
			ORDER BY last_accessed_at ASC, id ASC
			LIMIT ?
		 )`,
		toDelete,
	)
	if err != nil {
		return err
	}

	// Screenshots whose last result was just evicted are dead weight;
	// sweep them rather than waiting for their TTL.
	_, err = tx.Exec(
		`DELETE FROM screenshots WHERE id NOT IN (SELECT screenshot_id FROM results)`,
	)
	return err
}

// CleanupExpired deletes every screenshot whose expiry has passed, cascading
// to dependent results and elements. Returns the number of screenshots
// removed.
func (r *CacheRepository) CleanupExpired() (int64, error) {
	res, err := r.db.Exec(
		`DELETE FROM screenshots WHERE expires_at <= ?`, time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats returns cache metrics. The hit rate is hits divided by hits plus
// results (each result row began life as a miss).
func (r *CacheRepository) Stats() (*Stats, error) {
	stats := &Stats{}

	if err := r.db.QueryRow(`SELECT COUNT(*) FROM screenshots`).Scan(&stats.ScreenshotCount); err != nil {
		return nil, err
	}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM results`).Scan(&stats.EntryCount); err != nil {
		return nil, err
	}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM elements`).Scan(&stats.ElementCount); err != nil {
		return nil, err
	}

	var totalHits sql.NullInt64
	if err := r.db.QueryRow(`SELECT SUM(hit_count) FROM results`).Scan(&totalHits); err != nil {
		return nil, err
	}
	stats.TotalHits = int(totalHits.Int64)

	if accesses := stats.TotalHits + stats.EntryCount; accesses > 0 {
		stats.HitRate = float64(stats.TotalHits) / float64(accesses)
	}

	return stats, nil
}

// Clear empties all cache tables and reclaims storage.
func (r *CacheRepository) Clear() error {
	for _, stmt := range []string{
		`DELETE FROM elements`,
		`DELETE FROM results`,
		`DELETE FROM screenshots`,
	} {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}

	if _, err := r.db.Exec(`VACUUM`); err != nil {
		return err
	}
	return nil
}
