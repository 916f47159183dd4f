package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS backend_types (
		type_id              VARCHAR(64) PRIMARY KEY,
		name                 VARCHAR(255) NOT NULL,
		description          TEXT,
		base_url             VARCHAR(512) NOT NULL,
		auth_token           VARCHAR(512),
		default_width        INTEGER,
		default_height       INTEGER,
		default_bit_depth    INTEGER,
		is_active            BOOLEAN NOT NULL DEFAULT TRUE,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS instances (
		instance_id          VARCHAR(64) PRIMARY KEY,
		name                 VARCHAR(255) NOT NULL,
		type                 VARCHAR(64) NOT NULL,
		backend_type_id      VARCHAR(64) REFERENCES backend_types(type_id),
		access_token         VARCHAR(255),
		initialized          BOOLEAN NOT NULL DEFAULT FALSE,
		ready                BOOLEAN NOT NULL DEFAULT FALSE,
		needs_configuration  BOOLEAN NOT NULL DEFAULT FALSE,
		configuration_url    VARCHAR(1024),
		display_width        INTEGER,
		display_height       INTEGER,
		display_bit_depth    INTEGER,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		initialized_at       TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_instances_backend_type ON instances(backend_type_id)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id                VARCHAR(64) PRIMARY KEY,
		hardware_id              VARCHAR(255) NOT NULL UNIQUE,
		device_secret_hash       VARCHAR(255) NOT NULL,
		firmware_version         VARCHAR(64) NOT NULL,
		auth_status              VARCHAR(16) NOT NULL DEFAULT 'pending',
		authorized_at            TIMESTAMPTZ,
		authorized_by            VARCHAR(255),
		current_refresh_jti      VARCHAR(64),
		display_width            INTEGER NOT NULL,
		display_height           INTEGER NOT NULL,
		display_bit_depth        INTEGER NOT NULL,
		display_partial_refresh  BOOLEAN NOT NULL DEFAULT FALSE,
		current_frame_id         VARCHAR(64),
		active_instance_id       VARCHAR(64) REFERENCES instances(instance_id) ON DELETE SET NULL,
		last_seen_at             TIMESTAMPTZ,
		created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_active_instance ON devices(active_instance_id)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_auth_status ON devices(auth_status)`,
	`CREATE TABLE IF NOT EXISTS device_instances (
		device_id    VARCHAR(64) NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
		instance_id  VARCHAR(64) NOT NULL REFERENCES instances(instance_id) ON DELETE CASCADE,
		position     INTEGER NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (device_id, instance_id)
	)`,
	`CREATE TABLE IF NOT EXISTS frames (
		frame_id     VARCHAR(64) PRIMARY KEY,
		instance_id  VARCHAR(64) REFERENCES instances(instance_id) ON DELETE SET NULL,
		data         BYTEA NOT NULL,
		hash         VARCHAR(64) NOT NULL,
		width        INTEGER,
		height       INTEGER,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_frames_instance_created ON frames(instance_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_frames_instance_hash ON frames(instance_id, hash)`,
	`CREATE TABLE IF NOT EXISTS input_events (
		id               BIGSERIAL PRIMARY KEY,
		device_id        VARCHAR(64) NOT NULL,
		instance_id      VARCHAR(64),
		button           VARCHAR(16) NOT NULL,
		event_type       VARCHAR(16) NOT NULL,
		event_timestamp  TIMESTAMPTZ NOT NULL,
		received_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_input_events_device ON input_events(device_id, received_at DESC)`,
}

// Migrate creates missing tables and indexes. Every statement is idempotent.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
