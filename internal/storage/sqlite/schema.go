package sqlite

const schemaSQL = `
-- Ingestion jobs: the durable work queue
CREATE TABLE IF NOT EXISTS ingestion_jobs (
	id TEXT PRIMARY KEY,
	job_type TEXT NOT NULL,
	source_identifier TEXT NOT NULL,
	original_file_name TEXT,
	priority INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'queued',
	attempts INTEGER NOT NULL DEFAULT 0,
	last_attempt_at INTEGER,
	next_attempt_at INTEGER,
	completed_at INTEGER,
	error_info TEXT,
	failed_stage TEXT,
	job_specific_data TEXT,
	related_object_id TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

-- Poll query: runnable jobs by priority then age
CREATE INDEX IF NOT EXISTS idx_jobs_status_priority ON ingestion_jobs(status, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_jobs_next_attempt ON ingestion_jobs(next_attempt_at) WHERE status = 'retry_pending';
CREATE INDEX IF NOT EXISTS idx_jobs_related_object ON ingestion_jobs(related_object_id) WHERE related_object_id IS NOT NULL;

-- Content objects: one row per ingested artifact
CREATE TABLE IF NOT EXISTS objects (
	id TEXT PRIMARY KEY,
	object_type TEXT NOT NULL,
	source_uri TEXT NOT NULL,
	file_hash TEXT,
	title TEXT NOT NULL DEFAULT '',
	cleaned_text TEXT NOT NULL DEFAULT '',
	summary TEXT,
	parsed_content_json TEXT,
	ai_metadata_json TEXT,
	propositions_json TEXT,
	tags_json TEXT,
	status TEXT NOT NULL DEFAULT 'new',
	error_info TEXT,
	parsed_at INTEGER,
	summary_generated_at INTEGER,
	last_accessed_at INTEGER,
	internal_file_path TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

-- One live copy of a file: duplicate detection looks up the fingerprint of
-- non-failed file objects. Failed rows stay for diagnostics and may repeat.
CREATE UNIQUE INDEX IF NOT EXISTS idx_objects_file_hash_live ON objects(file_hash)
	WHERE file_hash IS NOT NULL
	AND object_type = 'pdf_document'
	AND status NOT IN ('fetch_failed', 'parse_failed', 'embedding_failed', 'error');
CREATE INDEX IF NOT EXISTS idx_objects_status ON objects(status, updated_at ASC);
CREATE INDEX IF NOT EXISTS idx_objects_type ON objects(object_type);

-- Chunks: ordered fragments of an object's cleaned text
CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	object_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
	chunk_idx INTEGER NOT NULL,
	content TEXT NOT NULL,
	summary TEXT,
	tags_json TEXT,
	propositions_json TEXT,
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE(object_id, chunk_idx)
);

CREATE INDEX IF NOT EXISTS idx_chunks_object ON chunks(object_id, chunk_idx);

-- Embedding links: chunk -> vector store document
CREATE TABLE IF NOT EXISTS embeddings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chunk_id INTEGER NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
	model TEXT NOT NULL,
	vector_id TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	UNIQUE(chunk_id, model)
);

CREATE INDEX IF NOT EXISTS idx_embeddings_chunk ON embeddings(chunk_id);
`

// InitSchema initializes the database schema
func (s *SQLiteDB) InitSchema() error {
	_, err := s.db.Exec(schemaSQL)
	if err != nil {
		return err
	}
	s.logger.Info().Msg("Database schema initialized")

	// Run migrations for schema evolution
	if err := s.runMigrations(); err != nil {
		return err
	}

	return nil
}

// runMigrations checks for and applies schema migrations for existing databases
func (s *SQLiteDB) runMigrations() error {
	columnsQuery := `PRAGMA table_info(ingestion_jobs)`
	rows, err := s.db.Query(columnsQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	hasFailedStage := false
	hasRelatedObjectID := false

	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, dfltValue, pk interface{}
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		switch name {
		case "failed_stage":
			hasFailedStage = true
		case "related_object_id":
			hasRelatedObjectID = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if !hasFailedStage {
		s.logger.Info().Msg("Running migration: Adding failed_stage column to ingestion_jobs")
		if _, err := s.db.Exec(`ALTER TABLE ingestion_jobs ADD COLUMN failed_stage TEXT`); err != nil {
			return err
		}
	}

	if !hasRelatedObjectID {
		s.logger.Info().Msg("Running migration: Adding related_object_id column to ingestion_jobs")
		if _, err := s.db.Exec(`ALTER TABLE ingestion_jobs ADD COLUMN related_object_id TEXT`); err != nil {
			return err
		}
	}

	return nil
}
