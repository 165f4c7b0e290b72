package database

// SQL schemas for all ClickHouse tables.

const (
	// SignalSamplesTableSQL creates the append-only sample table, one row per
	// reading, ordered by timestamp within each entity.
	SignalSamplesTableSQL = `
		CREATE TABLE IF NOT EXISTS signal_samples (
			timestamp DateTime64(3),
			entity_id String,
			value Float64
		) ENGINE = MergeTree()
		ORDER BY (entity_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// EntityRegistryTableSQL creates the tracked-subject metadata table.
	EntityRegistryTableSQL = `
		CREATE TABLE IF NOT EXISTS entity_registry (
			entity_id String,
			name String,
			species String,
			created_at DateTime64(3),
			last_seen DateTime64(3),
			is_active Bool
		) ENGINE = ReplacingMergeTree(last_seen)
		ORDER BY entity_id
	`
)

// AllTables returns all table creation SQL statements.
func AllTables() []string {
	return []string{
		SignalSamplesTableSQL,
		EntityRegistryTableSQL,
	}
}
