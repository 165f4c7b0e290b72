package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

// ErrEntityNotFound is returned when the registry has no row for an entity.
var ErrEntityNotFound = errors.New("database: entity not found")

type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB opens a ClickHouse connection and initializes the schema.
func NewClickHouseDB(addr, database, username, password string) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Printf("Connected to ClickHouse at %s", addr)

	db := &ClickHouseDB{conn: conn}
	if err := db.InitSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// InitSchema creates the necessary tables if they don't exist.
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	log.Println("Database schema initialized successfully")
	return nil
}

// InsertSample appends one reading for an entity.
func (db *ClickHouseDB) InsertSample(ctx context.Context, entityID string, s models.Sample) error {
	query := `
		INSERT INTO signal_samples (timestamp, entity_id, value)
		VALUES (?, ?, ?)
	`
	if err := db.conn.Exec(ctx, query, s.Timestamp, entityID, s.Value); err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

// GetSamples returns the entity's samples in ascending timestamp order.
// A zero since means no lower bound; limit <= 0 means no limit.
func (db *ClickHouseDB) GetSamples(ctx context.Context, entityID string, since time.Time, limit int) ([]models.Sample, error) {
	query := `
		SELECT timestamp, value
		FROM signal_samples
		WHERE entity_id = ?
	`
	args := []interface{}{entityID}
	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since)
	}
	query += " ORDER BY timestamp ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []models.Sample
	for rows.Next() {
		var s models.Sample
		if err := rows.Scan(&s.Timestamp, &s.Value); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// LatestTimestamp returns the newest sample timestamp for an entity, or the
// zero time when no samples exist.
func (db *ClickHouseDB) LatestTimestamp(ctx context.Context, entityID string) (time.Time, error) {
	query := `
		SELECT timestamp
		FROM signal_samples
		WHERE entity_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`
	var ts time.Time
	row := db.conn.QueryRow(ctx, query, entityID)
	if err := row.Scan(&ts); err != nil {
		// No samples yet.
		return time.Time{}, nil
	}
	return ts, nil
}

// UpsertEntity inserts or refreshes an entity in the registry.
func (db *ClickHouseDB) UpsertEntity(ctx context.Context, e *models.Entity) error {
	query := `
		INSERT INTO entity_registry (entity_id, name, species, created_at, last_seen, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	err := db.conn.Exec(ctx, query,
		e.EntityID,
		e.Name,
		e.Species,
		e.CreatedAt,
		e.LastSeen,
		e.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

// GetEntity returns the registry row for one entity.
func (db *ClickHouseDB) GetEntity(ctx context.Context, entityID string) (*models.Entity, error) {
	query := `
		SELECT entity_id, name, species, created_at, last_seen, is_active
		FROM entity_registry FINAL
		WHERE entity_id = ?
		LIMIT 1
	`
	var e models.Entity
	row := db.conn.QueryRow(ctx, query, entityID)
	if err := row.Scan(&e.EntityID, &e.Name, &e.Species, &e.CreatedAt, &e.LastSeen, &e.IsActive); err != nil {
		return nil, ErrEntityNotFound
	}
	return &e, nil
}

// ListEntities returns every registered entity.
func (db *ClickHouseDB) ListEntities(ctx context.Context) ([]models.Entity, error) {
	query := `
		SELECT entity_id, name, species, created_at, last_seen, is_active
		FROM entity_registry FINAL
		ORDER BY created_at DESC
	`
	rows, err := db.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		var e models.Entity
		if err := rows.Scan(&e.EntityID, &e.Name, &e.Species, &e.CreatedAt, &e.LastSeen, &e.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// DeleteEntity cascades: all samples for the entity are removed first, then
// the registry row itself.
func (db *ClickHouseDB) DeleteEntity(ctx context.Context, entityID string) error {
	if err := db.conn.Exec(ctx, `ALTER TABLE signal_samples DELETE WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("failed to delete samples: %w", err)
	}
	if err := db.conn.Exec(ctx, `ALTER TABLE entity_registry DELETE WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	log.Printf("Deleted entity %s and its samples", entityID)
	return nil
}

// Close closes the ClickHouse connection.
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		log.Println("ClickHouse connection closed")
	}
	return nil
}
