package store

// runMigrations executes all database migrations.
// Timestamps are stored as unix milliseconds so that expiry and LRU
// comparisons are exact integer comparisons.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Screenshots table - one row per distinct screen fingerprint
		`CREATE TABLE IF NOT EXISTS screenshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fingerprint TEXT NOT NULL UNIQUE,
			width INTEGER NOT NULL CHECK(width > 0),
			height INTEGER NOT NULL CHECK(height > 0),
			source TEXT,
			captured_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,

		// Results table - recognition results per screenshot; re-recognition
		// appends a new row so the history is retained
		`CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			screenshot_id INTEGER NOT NULL REFERENCES screenshots(id) ON DELETE CASCADE,
			result_id TEXT NOT NULL,
			model_name TEXT NOT NULL,
			tier TEXT NOT NULL,
			inference_ms INTEGER NOT NULL CHECK(inference_ms >= 0),
			confidence REAL CHECK(confidence >= 0 AND confidence <= 1),
			element_count INTEGER NOT NULL DEFAULT 0 CHECK(element_count >= 0),
			result_json TEXT NOT NULL,
			hit_count INTEGER NOT NULL DEFAULT 0 CHECK(hit_count >= 0),
			last_accessed_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'success',
			created_at INTEGER NOT NULL
		)`,

		// Elements table - denormalized element rows for querying
		`CREATE TABLE IF NOT EXISTS elements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			result_id INTEGER NOT NULL REFERENCES results(id) ON DELETE CASCADE,
			element_id TEXT,
			element_type TEXT NOT NULL,
			text_content TEXT,
			x1 INTEGER NOT NULL,
			y1 INTEGER NOT NULL,
			x2 INTEGER NOT NULL,
			y2 INTEGER NOT NULL,
			confidence REAL NOT NULL CHECK(confidence >= 0 AND confidence <= 1),
			actionable INTEGER NOT NULL DEFAULT 0,
			parent_id TEXT
		)`,

		// Indexes for lookup, expiry, and LRU eviction paths
		`CREATE INDEX IF NOT EXISTS idx_screenshots_expires ON screenshots(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_results_screenshot ON results(screenshot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_results_accessed ON results(last_accessed_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_elements_result ON elements(result_id)`,
		`CREATE INDEX IF NOT EXISTS idx_elements_actionable ON elements(actionable)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
