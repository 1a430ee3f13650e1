package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/irrigo/internal/models"
	"github.com/desertthunder/irrigo/internal/shared"
)

// ReadingRepository caches sensor readings observed locally.
type ReadingRepository struct {
	db *sql.DB
}

// NewReadingRepository creates a new [ReadingRepository] with the given database connection
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// Record stores a reading and reports whether it was new. Readings without an id get a generated one.
func (r *ReadingRepository) Record(ctx context.Context, reading models.SensorReading) (bool, error) {
	if reading.DeviceID == "" {
		return false, fmt.Errorf("%w: reading has no device id", shared.ErrInvalidInput)
	}
	if reading.ID == "" {
		reading.ID = models.ID(shared.GenerateID())
	}
	recorded := reading.Timestamp.Time
	if recorded.IsZero() {
		recorded = time.Now()
	}

	query := `
		INSERT OR IGNORE INTO readings (id, device_id, soil_moisture, temperature, humidity, rain_sensor, recorded_at, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		reading.ID.String(), reading.DeviceID.String(),
		reading.SoilMoisture, reading.Temperature, reading.Humidity, reading.RainSensor,
		recorded.UTC(), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert reading: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// List retrieves cached readings, oldest first.
//
// Supported criteria: "device_id" (string or [models.ID]), "since" ([time.Time]), "limit" (int, keeps the newest).
func (r *ReadingRepository) List(ctx context.Context, criteria map[string]any) ([]models.SensorReading, error) {
	query := `
		SELECT id, device_id, soil_moisture, temperature, humidity, rain_sensor, recorded_at
		FROM readings
		WHERE 1 = 1
	`
	args := []any{}

	switch id := criteria["device_id"].(type) {
	case string:
		if id != "" {
			query += " AND device_id = ?"
			args = append(args, id)
		}
	case models.ID:
		if id != "" {
			query += " AND device_id = ?"
			args = append(args, id.String())
		}
	}

	if since, ok := criteria["since"].(time.Time); ok && !since.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, since.UTC())
	}

	query += " ORDER BY recorded_at DESC"
	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []models.SensorReading
	for rows.Next() {
		var (
			id, deviceID string
			reading      models.SensorReading
			recordedAt   time.Time
		)
		err := rows.Scan(&id, &deviceID, &reading.SoilMoisture, &reading.Temperature, &reading.Humidity, &reading.RainSensor, &recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		reading.ID = models.ID(id)
		reading.DeviceID = models.ID(deviceID)
		reading.Timestamp = models.NewTimestamp(recordedAt.UTC())
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
	return readings, nil
}

// Prune deletes readings recorded before cutoff and returns how many were removed.
func (r *ReadingRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM readings WHERE recorded_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune readings: %w", err)
	}
	return result.RowsAffected()
}
