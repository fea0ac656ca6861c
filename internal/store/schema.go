// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package store

// migrate applies idempotent schema migrations in order, following the
// CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS convention
// used throughout this codebase's repository constructors.
func (db *DB) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS objects (
			id TEXT PRIMARY KEY,
			object_type TEXT NOT NULL,
			source_uri TEXT UNIQUE,
			title TEXT,
			status TEXT NOT NULL DEFAULT 'new',
			cleaned_text TEXT,
			parsed_content_json TEXT,
			raw_content_ref TEXT,
			error_info TEXT,
			summary TEXT,
			tags_json TEXT,
			propositions_json TEXT,
			file_hash TEXT,
			original_file_name TEXT,
			file_size_bytes INTEGER,
			file_mime_type TEXT,
			internal_file_path TEXT,
			object_bio_json TEXT,
			object_relationships_json TEXT,
			child_object_ids_json TEXT,
			layer TEXT NOT NULL DEFAULT 'lom',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			parsed_at TEXT,
			summary_generated_at TEXT,
			last_accessed_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_objects_status ON objects(status);`,
		`CREATE INDEX IF NOT EXISTS idx_objects_file_hash ON objects(file_hash);`,
		`CREATE INDEX IF NOT EXISTS idx_objects_layer ON objects(layer);`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			object_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
			chunk_idx INTEGER NOT NULL,
			content TEXT NOT NULL,
			summary TEXT,
			tags_json TEXT,
			propositions_json TEXT,
			token_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_object_id ON chunks(object_id, chunk_idx);`,

		`CREATE TABLE IF NOT EXISTS embedding_links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chunk_id INTEGER NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
			model TEXT NOT NULL,
			vector_id TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_embedding_links_chunk_id ON embedding_links(chunk_id);`,

		`CREATE TABLE IF NOT EXISTS notebooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS ingestion_jobs (
			id TEXT PRIMARY KEY,
			job_type TEXT NOT NULL,
			source_identifier TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'queued',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			chunking_status TEXT NOT NULL DEFAULT 'pending',
			chunking_error_info TEXT,
			related_object_id TEXT,
			job_specific_data_json TEXT,
			error_info TEXT,
			next_attempt_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_priority ON ingestion_jobs(status, priority DESC, created_at ASC);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_related_object ON ingestion_jobs(related_object_id);`,

		`CREATE TABLE IF NOT EXISTS notebook_objects (
			notebook_id TEXT NOT NULL,
			object_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
			added_at TEXT NOT NULL,
			PRIMARY KEY (notebook_id, object_id)
		);`,
	}

	for _, stmt := range statements {
		if _, err := db.sql.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
