package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/skybeep/skybeep/pkg/beep"
	"github.com/skybeep/skybeep/pkg/config"
	"github.com/skybeep/skybeep/pkg/geo"
)

//go:embed schema.sql
var schemaSQL embed.FS

// PostgresStore implements Store on PostgreSQL through a single shared
// connection pool. Request paths never open ad-hoc connections.
type PostgresStore struct {
	db      *sql.DB
	postgis bool
}

// Connect establishes a connection to the PostgreSQL database.
func Connect(cfg config.DatabaseConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: sqlDB, postgis: cfg.PostGIS}, nil
}

// InitSchema creates or updates the database schema.
// This should be called once at application startup.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schemaBytes, err := schemaSQL.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Ping verifies the backend is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &TransientError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreateSighting persists a new sighting. Re-creating an existing id is a
// no-op. The true coordinates go into their own columns; the sensor_data
// JSON only ever holds the jittered position.
func (s *PostgresStore) CreateSighting(ctx context.Context, sighting *beep.Sighting) error {
	if sighting.ID == "" {
		sighting.ID = uuid.NewString()
	}

	sensorJSON, err := json.Marshal(sighting.SensorData)
	if err != nil {
		return fmt.Errorf("failed to encode sensor data: %w", err)
	}
	mediaJSON, err := json.Marshal(sighting.MediaInfo)
	if err != nil {
		return fmt.Errorf("failed to encode media info: %w", err)
	}
	enrichJSON, err := json.Marshal(orEmpty(sighting.EnrichmentData))
	if err != nil {
		return fmt.Errorf("failed to encode enrichment data: %w", err)
	}
	tagsJSON, err := json.Marshal(orEmptyTags(sighting.Tags))
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	loc := sighting.SensorData.Location
	var origLat, origLon sql.NullFloat64
	if loc.OriginalLat != nil && loc.OriginalLon != nil {
		origLat = sql.NullFloat64{Float64: *loc.OriginalLat, Valid: true}
		origLon = sql.NullFloat64{Float64: *loc.OriginalLon, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sightings (
			id, created_at, updated_at,
			reporter_device_id, reporter_id,
			title, description, category, tags,
			latitude, longitude, original_latitude, original_longitude,
			sensor_data, media_info, enrichment_data,
			alert_level, status, witness_count, is_public
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
		ON CONFLICT (id) DO NOTHING`,
		sighting.ID, sighting.CreatedAt, sighting.UpdatedAt,
		sighting.ReporterDeviceID, sighting.ReporterID,
		sighting.Title, sighting.Description, sighting.Category, tagsJSON,
		loc.Lat, loc.Lon, origLat, origLon,
		sensorJSON, mediaJSON, enrichJSON,
		string(sighting.AlertLevel), string(sighting.Status),
		sighting.WitnessCount, sighting.IsPublic,
	)
	if err != nil {
		return s.classify("create sighting", err)
	}
	return nil
}

const sightingColumns = `id, created_at, updated_at,
	reporter_device_id, reporter_id,
	title, description, category, tags,
	sensor_data, media_info, enrichment_data,
	alert_level, status, witness_count, is_public`

// GetSighting returns a sighting by id, or ErrNotFound. The original
// coordinates are never part of the result.
func (s *PostgresStore) GetSighting(ctx context.Context, id string) (*beep.Sighting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sightingColumns+` FROM sightings WHERE id = $1`, id)

	sighting, err := scanSighting(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.classify("get sighting", err)
	}
	return sighting, nil
}

// ListPublicSightings returns public sightings newest first.
func (s *PostgresStore) ListPublicSightings(ctx context.Context, limit, offset int) ([]beep.Sighting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sightingColumns+`
		 FROM sightings
		 WHERE is_public = TRUE
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, s.classify("list sightings", err)
	}
	defer rows.Close()

	var out []beep.Sighting
	for rows.Next() {
		sighting, err := scanSighting(rows)
		if err != nil {
			return nil, s.classify("list sightings", err)
		}
		out = append(out, *sighting)
	}
	return out, rows.Err()
}

// MergeEnrichment merges one processor's result into enrichment_data.
// The jsonb concatenation happens store-side, so concurrent merges for
// different processors never lose writes.
func (s *PostgresStore) MergeEnrichment(ctx context.Context, sightingID, processor string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode enrichment payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sightings
		 SET enrichment_data = enrichment_data || jsonb_build_object($2::text, $3::jsonb),
		     updated_at = $4
		 WHERE id = $1`,
		sightingID, processor, payload, time.Now().UTC(),
	)
	if err != nil {
		return s.classify("merge enrichment", err)
	}
	return requireRow(res)
}

// UpdateAlertLevel raises a sighting's alert level. The CASE guard keeps
// the level monotonic under concurrent escalations.
func (s *PostgresStore) UpdateAlertLevel(ctx context.Context, sightingID string, level beep.AlertLevel) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sightings
		 SET alert_level = $2, updated_at = $3
		 WHERE id = $1
		   AND CASE alert_level
		       WHEN 'low' THEN 0 WHEN 'normal' THEN 1
		       WHEN 'urgent' THEN 2 ELSE 3 END
		     < CASE $2
		       WHEN 'low' THEN 0 WHEN 'normal' THEN 1
		       WHEN 'urgent' THEN 2 ELSE 3 END`,
		sightingID, string(level), time.Now().UTC(),
	)
	if err != nil {
		return s.classify("update alert level", err)
	}
	// No row updated can mean missing or already at/above the level.
	// Distinguish the two for the caller.
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM sightings WHERE id = $1)`, sightingID,
		).Scan(&exists); err != nil {
			return s.classify("update alert level", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// AttachMedia appends a media file inside a row-locked transaction so
// concurrent uploads for the same sighting serialize cleanly.
func (s *PostgresStore) AttachMedia(ctx context.Context, sightingID string, file beep.MediaFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify("attach media", err)
	}
	defer tx.Rollback()

	var mediaJSON []byte
	err = tx.QueryRowContext(ctx,
		`SELECT media_info FROM sightings WHERE id = $1 FOR UPDATE`, sightingID,
	).Scan(&mediaJSON)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return s.classify("attach media", err)
	}

	var info beep.MediaInfo
	if err := json.Unmarshal(mediaJSON, &info); err != nil {
		return fmt.Errorf("failed to decode media info: %w", err)
	}
	info.Files = append(info.Files, file)
	info.Count = len(info.Files)

	updated, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode media info: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sightings SET media_info = $2, updated_at = $3 WHERE id = $1`,
		sightingID, updated, time.Now().UTC(),
	); err != nil {
		return s.classify("attach media", err)
	}

	if err := tx.Commit(); err != nil {
		return s.classify("attach media", err)
	}
	return nil
}

// AddWitness inserts the confirmation and increments the sighting's
// witness count in one transaction. The unique constraint on
// (sighting_id, device_id) enforces one confirmation per device.
func (s *PostgresStore) AddWitness(ctx context.Context, w *beep.WitnessConfirmation) (int, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.classify("add witness", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO witness_confirmations (
			id, sighting_id, device_id, confirmed_at,
			latitude, longitude, altitude_m, accuracy_m, bearing_deg,
			still_visible, confidence, description, platform, app_version,
			distance_km
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		w.ID, w.SightingID, w.DeviceID, w.ConfirmedAt,
		w.Latitude, w.Longitude, w.AltitudeM, w.AccuracyM, w.BearingDeg,
		w.StillVisible, string(w.Confidence), w.Description, w.Platform, w.AppVersion,
		w.DistanceKmToSighting,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return 0, ErrDuplicateWitness
			case "foreign_key_violation":
				return 0, ErrNotFound
			}
		}
		return 0, s.classify("add witness", err)
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`UPDATE sightings
		 SET witness_count = witness_count + 1, updated_at = $2
		 WHERE id = $1
		 RETURNING witness_count`,
		w.SightingID, time.Now().UTC(),
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, s.classify("add witness", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, s.classify("add witness", err)
	}
	return count, nil
}

// ListWitnesses returns confirmations oldest first.
func (s *PostgresStore) ListWitnesses(ctx context.Context, sightingID string) ([]beep.WitnessConfirmation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sighting_id, device_id, confirmed_at,
		        latitude, longitude, altitude_m, accuracy_m, bearing_deg,
		        still_visible, confidence, description, platform, app_version,
		        distance_km
		 FROM witness_confirmations
		 WHERE sighting_id = $1
		 ORDER BY confirmed_at ASC`,
		sightingID,
	)
	if err != nil {
		return nil, s.classify("list witnesses", err)
	}
	defer rows.Close()

	var out []beep.WitnessConfirmation
	for rows.Next() {
		var w beep.WitnessConfirmation
		var confidence string
		err := rows.Scan(
			&w.ID, &w.SightingID, &w.DeviceID, &w.ConfirmedAt,
			&w.Latitude, &w.Longitude, &w.AltitudeM, &w.AccuracyM, &w.BearingDeg,
			&w.StillVisible, &confidence, &w.Description, &w.Platform, &w.AppVersion,
			&w.DistanceKmToSighting,
		)
		if err != nil {
			return nil, s.classify("list witnesses", err)
		}
		w.Confidence = beep.WitnessConfidence(confidence)
		out = append(out, w)
	}
	return out, rows.Err()
}

// CountRecentWitnessesNear counts located confirmations within radiusKm of
// the center since the given time. A bounding box narrows the scan; the
// exact haversine check runs on the survivors.
func (s *PostgresStore) CountRecentWitnessesNear(ctx context.Context, lat, lon, radiusKm float64, since time.Time) (int, error) {
	box, err := geo.BBox(lat, lon, radiusKm)
	if err != nil {
		return 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT latitude, longitude
		 FROM witness_confirmations
		 WHERE confirmed_at >= $1
		   AND latitude IS NOT NULL AND longitude IS NOT NULL
		   AND latitude BETWEEN $2 AND $3
		   AND longitude BETWEEN $4 AND $5`,
		since, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon,
	)
	if err != nil {
		return 0, s.classify("count recent witnesses", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var wLat, wLon float64
		if err := rows.Scan(&wLat, &wLon); err != nil {
			return 0, s.classify("count recent witnesses", err)
		}
		if geo.DistanceKm(lat, lon, wLat, wLon) <= radiusKm {
			count++
		}
	}
	return count, rows.Err()
}

// UpsertDevice registers or refreshes a device keyed by device_id.
func (s *PostgresStore) UpsertDevice(ctx context.Context, d *beep.Device) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (
			id, device_id, user_id, platform,
			push_token, push_provider, push_enabled,
			alert_notifications, chat_notifications, system_notifications,
			is_active, last_seen, latitude, longitude
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (device_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			push_token = EXCLUDED.push_token,
			push_provider = EXCLUDED.push_provider,
			push_enabled = EXCLUDED.push_enabled,
			alert_notifications = EXCLUDED.alert_notifications,
			chat_notifications = EXCLUDED.chat_notifications,
			system_notifications = EXCLUDED.system_notifications,
			is_active = EXCLUDED.is_active,
			last_seen = EXCLUDED.last_seen,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude`,
		d.ID, d.DeviceID, d.UserID, string(d.Platform),
		d.PushToken, string(d.PushProvider), d.PushEnabled,
		d.AlertNotifications, d.ChatNotifications, d.SystemNotifications,
		d.IsActive, d.LastSeen, d.Lat, d.Lon,
	)
	if err != nil {
		return s.classify("upsert device", err)
	}
	return nil
}

const deviceColumns = `id, device_id, user_id, platform,
	push_token, push_provider, push_enabled,
	alert_notifications, chat_notifications, system_notifications,
	is_active, last_seen, latitude, longitude,
	notifications_sent, notifications_opened`

// GetDevice returns a device by its client-chosen device_id.
func (s *PostgresStore) GetDevice(ctx context.Context, deviceID string) (*beep.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`, deviceID)

	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.classify("get device", err)
	}
	return d, nil
}

// DisablePushToken turns off push for every device holding the token.
func (s *PostgresStore) DisablePushToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET push_enabled = FALSE WHERE push_token = $1`, token)
	if err != nil {
		return s.classify("disable push token", err)
	}
	return nil
}

// AppendEngagement records an event and bumps the notification counters
// for sent/opened events.
func (s *PostgresStore) AppendEngagement(ctx context.Context, e *beep.EngagementEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify("append engagement", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO engagement_events (id, device_id, sighting_id, event_type, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.DeviceID, e.SightingID, string(e.EventType), e.Timestamp,
	); err != nil {
		return s.classify("append engagement", err)
	}

	var bump string
	switch e.EventType {
	case beep.EngagementAlertSent:
		bump = `UPDATE devices SET notifications_sent = notifications_sent + 1 WHERE device_id = $1`
	case beep.EngagementAlertOpened:
		bump = `UPDATE devices SET notifications_opened = notifications_opened + 1 WHERE device_id = $1`
	}
	if bump != "" {
		if _, err := tx.ExecContext(ctx, bump, e.DeviceID); err != nil {
			return s.classify("append engagement", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.classify("append engagement", err)
	}
	return nil
}

// RecordAlert persists outbound delivery metadata.
func (s *PostgresStore) RecordAlert(ctx context.Context, a *beep.AlertRecord) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_records (
			id, sighting_id, device_id, distance_km, ring_km,
			level, sent_at, delivered, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.SightingID, a.DeviceID, a.DistanceKm, a.RingKm,
		string(a.Level), a.SentAt, a.Delivered, a.Error,
	)
	if err != nil {
		return s.classify("record alert", err)
	}
	return nil
}

// classify wraps backend failures, marking connection-level and
// concurrency-level pq error classes as transient.
func (s *PostgresStore) classify(op string, err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return &TransientError{Op: op, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	// Driver-level failures (broken pipe, refused connection) arrive as
	// plain errors; treat them as transient too.
	return &TransientError{Op: op, Err: err}
}

// requireRow converts a zero-row update into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSighting(row scanner) (*beep.Sighting, error) {
	var s beep.Sighting
	var tagsJSON, sensorJSON, mediaJSON, enrichJSON []byte
	var level, status string

	err := row.Scan(
		&s.ID, &s.CreatedAt, &s.UpdatedAt,
		&s.ReporterDeviceID, &s.ReporterID,
		&s.Title, &s.Description, &s.Category, &tagsJSON,
		&sensorJSON, &mediaJSON, &enrichJSON,
		&level, &status, &s.WitnessCount, &s.IsPublic,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(tagsJSON, &s.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if err := json.Unmarshal(sensorJSON, &s.SensorData); err != nil {
		return nil, fmt.Errorf("failed to decode sensor data: %w", err)
	}
	if err := json.Unmarshal(mediaJSON, &s.MediaInfo); err != nil {
		return nil, fmt.Errorf("failed to decode media info: %w", err)
	}
	if err := json.Unmarshal(enrichJSON, &s.EnrichmentData); err != nil {
		return nil, fmt.Errorf("failed to decode enrichment data: %w", err)
	}

	s.AlertLevel = beep.AlertLevel(level)
	s.Status = beep.SightingStatus(status)
	return &s, nil
}

func scanDevice(row scanner) (*beep.Device, error) {
	var d beep.Device
	var platform, provider string

	err := row.Scan(
		&d.ID, &d.DeviceID, &d.UserID, &platform,
		&d.PushToken, &provider, &d.PushEnabled,
		&d.AlertNotifications, &d.ChatNotifications, &d.SystemNotifications,
		&d.IsActive, &d.LastSeen, &d.Lat, &d.Lon,
		&d.NotificationsSent, &d.NotificationsOpened,
	)
	if err != nil {
		return nil, err
	}

	d.Platform = beep.Platform(platform)
	d.PushProvider = beep.PushProvider(provider)
	return &d, nil
}

func orEmpty(m beep.EnrichmentData) beep.EnrichmentData {
	if m == nil {
		return beep.EnrichmentData{}
	}
	return m
}

func orEmptyTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
