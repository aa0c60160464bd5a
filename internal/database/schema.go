package database

// Timestamps are stored as unix milliseconds so the same DDL works on MySQL and SQLite.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		created_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS knowledge_items (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		project_id VARCHAR(64) NOT NULL,
		kind VARCHAR(32) NOT NULL,
		title VARCHAR(512) NOT NULL,
		body TEXT,
		status VARCHAR(32) NOT NULL DEFAULT '',
		priority VARCHAR(16) NOT NULL DEFAULT '',
		sub_type VARCHAR(32) NOT NULL DEFAULT '',
		lane VARCHAR(16) NOT NULL DEFAULT '',
		links TEXT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL DEFAULT 0
	)`,
}

type indexDef struct {
	name    string
	table   string
	columns string
}

var schemaIndexes = []indexDef{
	{name: "idx_knowledge_items_project_kind", table: "knowledge_items", columns: "project_id, kind"},
}
