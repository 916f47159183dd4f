package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"screen-service/internal/models"

	"go.uber.org/zap"
	"gocloud.dev/postgres"
	_ "gocloud.dev/postgres/awspostgres"
	_ "gocloud.dev/postgres/gcppostgres"
)

// PostgresRepository handles database operations
type PostgresRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresRepository opens databaseURL through gocloud's postgres URL
// opener, so awspostgres:// and gcppostgres:// URLs work as well.
func NewPostgresRepository(ctx context.Context, databaseURL string, logger *zap.Logger) (*PostgresRepository, error) {
	var db *sql.DB
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		db, err = postgres.Open(ctx, databaseURL)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				break
			}
			db.Close()
		}
		if i < maxRetries-1 {
			waitTime := time.Duration(i+1) * time.Second
			logger.Warn("Failed to connect to database, retrying...", zap.Int("attempt", i+1), zap.Duration("wait", waitTime), zap.Error(err))
			time.Sleep(waitTime)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	return &PostgresRepository{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func displayColumns(d *models.DisplayConfig) (w, h, b sql.NullInt64) {
	if d == nil {
		return
	}
	return sql.NullInt64{Int64: int64(d.Width), Valid: true},
		sql.NullInt64{Int64: int64(d.Height), Valid: true},
		sql.NullInt64{Int64: int64(d.BitDepth), Valid: true}
}

func displayFromColumns(w, h, b sql.NullInt64) *models.DisplayConfig {
	if !w.Valid || !h.Valid || !b.Valid {
		return nil
	}
	return &models.DisplayConfig{Width: int(w.Int64), Height: int(h.Int64), BitDepth: int(b.Int64)}
}

// ---------------------------------------------------------------------------
// Devices

const deviceColumns = `device_id, hardware_id, device_secret_hash, firmware_version, auth_status,
	authorized_at, authorized_by, current_refresh_jti, display_width, display_height,
	display_bit_depth, display_partial_refresh, current_frame_id, active_instance_id,
	last_seen_at, created_at, updated_at`

func scanDevice(s rowScanner) (*models.Device, error) {
	var d models.Device
	var authorizedAt, lastSeenAt sql.NullTime
	var authorizedBy, jti, frameID, activeID sql.NullString
	err := s.Scan(
		&d.DeviceID,
		&d.HardwareID,
		&d.SecretHash,
		&d.FirmwareVersion,
		&d.AuthStatus,
		&authorizedAt,
		&authorizedBy,
		&jti,
		&d.Display.Width,
		&d.Display.Height,
		&d.Display.BitDepth,
		&d.Display.PartialRefresh,
		&frameID,
		&activeID,
		&lastSeenAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.AuthorizedAt = timePtr(authorizedAt)
	d.AuthorizedBy = authorizedBy.String
	d.CurrentRefreshJTI = jti.String
	d.CurrentFrameID = frameID.String
	d.ActiveInstanceID = activeID.String
	d.LastSeenAt = timePtr(lastSeenAt)
	return &d, nil
}

// CreateDevice inserts a device; a taken hardware id yields ErrDuplicate
func (r *PostgresRepository) CreateDevice(ctx context.Context, d *models.Device) error {
	query := `
		INSERT INTO devices (device_id, hardware_id, device_secret_hash, firmware_version, auth_status,
			display_width, display_height, display_bit_depth, display_partial_refresh, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (hardware_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		d.DeviceID,
		d.HardwareID,
		d.SecretHash,
		d.FirmwareVersion,
		d.AuthStatus,
		d.Display.Width,
		d.Display.Height,
		d.Display.BitDepth,
		d.Display.PartialRefresh,
		d.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create device", zap.String("hardware_id", d.HardwareID), zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetDevice retrieves a device by device_id
func (r *PostgresRepository) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`, deviceID)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get device", zap.String("device_id", deviceID), zap.Error(err))
		return nil, err
	}
	return d, nil
}

// GetDeviceByHardwareID retrieves a device by hardware_id
func (r *PostgresRepository) GetDeviceByHardwareID(ctx context.Context, hardwareID string) (*models.Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE hardware_id = $1`, hardwareID)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get device by hardware id", zap.String("hardware_id", hardwareID), zap.Error(err))
		return nil, err
	}
	return d, nil
}

// ListDevices lists devices, optionally filtered by status
func (r *PostgresRepository) ListDevices(ctx context.Context, status models.AuthStatus) ([]*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices`
	var args []any
	if status != "" {
		query += ` WHERE auth_status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list devices", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpdateDevice locks the row, applies fn and writes every mutable column back
func (r *PostgresRepository) UpdateDevice(ctx context.Context, deviceID string, fn DeviceMutation) (*models.Device, error) {
	var updated *models.Device
	var fnErr error
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = $1 FOR UPDATE`, deviceID)
		d, err := scanDevice(row)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := fn(d); err != nil {
			fnErr = err
			return err
		}
		d.UpdatedAt = time.Now().UTC()

		query := `
			UPDATE devices SET
				device_secret_hash = $2, firmware_version = $3, auth_status = $4,
				authorized_at = $5, authorized_by = $6, current_refresh_jti = $7,
				display_width = $8, display_height = $9, display_bit_depth = $10,
				display_partial_refresh = $11, current_frame_id = $12, active_instance_id = $13,
				last_seen_at = $14, updated_at = $15
			WHERE device_id = $1
		`
		if _, err := tx.ExecContext(ctx, query,
			d.DeviceID,
			d.SecretHash,
			d.FirmwareVersion,
			d.AuthStatus,
			nullTime(d.AuthorizedAt),
			nullString(d.AuthorizedBy),
			nullString(d.CurrentRefreshJTI),
			d.Display.Width,
			d.Display.Height,
			d.Display.BitDepth,
			d.Display.PartialRefresh,
			nullString(d.CurrentFrameID),
			nullString(d.ActiveInstanceID),
			nullTime(d.LastSeenAt),
			d.UpdatedAt,
		); err != nil {
			return err
		}
		updated = d
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) && err != fnErr {
			r.logger.Error("Failed to update device", zap.String("device_id", deviceID), zap.Error(err))
		}
		return nil, err
	}
	return updated, nil
}

// TouchDevice sets last_seen_at to now
func (r *PostgresRepository) TouchDevice(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE devices SET last_seen_at = $1 WHERE device_id = $2`, time.Now().UTC(), deviceID)
	if err != nil {
		r.logger.Error("Failed to update device last_seen_at", zap.String("device_id", deviceID), zap.Error(err))
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Instances

const instanceColumns = `instance_id, name, type, backend_type_id, access_token, initialized, ready,
	needs_configuration, configuration_url, display_width, display_height, display_bit_depth,
	created_at, initialized_at`

func scanInstance(s rowScanner) (*models.Instance, error) {
	var inst models.Instance
	var typeID, token, cfgURL sql.NullString
	var w, h, b sql.NullInt64
	var initializedAt sql.NullTime
	err := s.Scan(
		&inst.InstanceID,
		&inst.Name,
		&inst.Type,
		&typeID,
		&token,
		&inst.Initialized,
		&inst.Ready,
		&inst.NeedsConfiguration,
		&cfgURL,
		&w, &h, &b,
		&inst.CreatedAt,
		&initializedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.BackendTypeID = typeID.String
	inst.AccessToken = token.String
	inst.ConfigurationURL = cfgURL.String
	inst.Display = displayFromColumns(w, h, b)
	inst.InitializedAt = timePtr(initializedAt)
	return &inst, nil
}

// CreateInstance inserts an instance
func (r *PostgresRepository) CreateInstance(ctx context.Context, inst *models.Instance) error {
	w, h, b := displayColumns(inst.Display)
	query := `
		INSERT INTO instances (instance_id, name, type, backend_type_id, access_token,
			display_width, display_height, display_bit_depth, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (instance_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		inst.InstanceID,
		inst.Name,
		inst.Type,
		nullString(inst.BackendTypeID),
		nullString(inst.AccessToken),
		w, h, b,
		inst.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create instance", zap.String("instance_id", inst.InstanceID), zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetInstance retrieves an instance by instance_id
func (r *PostgresRepository) GetInstance(ctx context.Context, instanceID string) (*models.Instance, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE instance_id = $1`, instanceID)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, err
	}
	return inst, nil
}

// ListInstances lists instances, optionally for one backend type
func (r *PostgresRepository) ListInstances(ctx context.Context, backendTypeID string) ([]*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances`
	var args []any
	if backendTypeID != "" {
		query += ` WHERE backend_type_id = $1`
		args = append(args, backendTypeID)
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var instances []*models.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// UpdateInstance locks the row, applies fn and writes it back
func (r *PostgresRepository) UpdateInstance(ctx context.Context, instanceID string, fn InstanceMutation) (*models.Instance, error) {
	var updated *models.Instance
	var fnErr error
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE instance_id = $1 FOR UPDATE`, instanceID)
		inst, err := scanInstance(row)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := fn(inst); err != nil {
			fnErr = err
			return err
		}

		w, h, b := displayColumns(inst.Display)
		query := `
			UPDATE instances SET
				name = $2, access_token = $3, initialized = $4, ready = $5,
				needs_configuration = $6, configuration_url = $7,
				display_width = $8, display_height = $9, display_bit_depth = $10,
				initialized_at = $11
			WHERE instance_id = $1
		`
		if _, err := tx.ExecContext(ctx, query,
			inst.InstanceID,
			inst.Name,
			nullString(inst.AccessToken),
			inst.Initialized,
			inst.Ready,
			inst.NeedsConfiguration,
			nullString(inst.ConfigurationURL),
			w, h, b,
			nullTime(inst.InitializedAt),
		); err != nil {
			return err
		}
		updated = inst
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) && err != fnErr {
			r.logger.Error("Failed to update instance", zap.String("instance_id", instanceID), zap.Error(err))
		}
		return nil, err
	}
	return updated, nil
}

// DeleteInstance removes the instance and its relationships in one transaction
func (r *PostgresRepository) DeleteInstance(ctx context.Context, instanceID string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM device_instances WHERE instance_id = $1`,
			`UPDATE devices SET active_instance_id = NULL, updated_at = NOW() WHERE active_instance_id = $1`,
			`UPDATE frames SET instance_id = NULL WHERE instance_id = $1`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, instanceID); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE instance_id = $1`, instanceID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.logger.Error("Failed to delete instance", zap.String("instance_id", instanceID), zap.Error(err))
	}
	return err
}

// ---------------------------------------------------------------------------
// Backend types

const backendTypeColumns = `type_id, name, description, base_url, auth_token, default_width,
	default_height, default_bit_depth, is_active, created_at, updated_at`

func scanBackendType(s rowScanner) (*models.BackendType, error) {
	var bt models.BackendType
	var desc, token sql.NullString
	var w, h, b sql.NullInt64
	err := s.Scan(
		&bt.TypeID,
		&bt.Name,
		&desc,
		&bt.BaseURL,
		&token,
		&w, &h, &b,
		&bt.IsActive,
		&bt.CreatedAt,
		&bt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	bt.Description = desc.String
	bt.AuthToken = token.String
	bt.DefaultDisplay = displayFromColumns(w, h, b)
	return &bt, nil
}

// CreateBackendType inserts a backend type; a taken type_id yields ErrDuplicate
func (r *PostgresRepository) CreateBackendType(ctx context.Context, bt *models.BackendType) error {
	w, h, b := displayColumns(bt.DefaultDisplay)
	query := `
		INSERT INTO backend_types (type_id, name, description, base_url, auth_token,
			default_width, default_height, default_bit_depth, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (type_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		bt.TypeID,
		bt.Name,
		nullString(bt.Description),
		bt.BaseURL,
		nullString(bt.AuthToken),
		w, h, b,
		bt.IsActive,
		bt.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create backend type", zap.String("type_id", bt.TypeID), zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetBackendType retrieves a backend type by type_id
func (r *PostgresRepository) GetBackendType(ctx context.Context, typeID string) (*models.BackendType, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+backendTypeColumns+` FROM backend_types WHERE type_id = $1`, typeID)
	bt, err := scanBackendType(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get backend type", zap.String("type_id", typeID), zap.Error(err))
		return nil, err
	}
	return bt, nil
}

// ListBackendTypes lists backend types ordered by name
func (r *PostgresRepository) ListBackendTypes(ctx context.Context, activeOnly bool) ([]*models.BackendType, error) {
	query := `SELECT ` + backendTypeColumns + ` FROM backend_types`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list backend types", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var types []*models.BackendType
	for rows.Next() {
		bt, err := scanBackendType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, bt)
	}
	return types, rows.Err()
}

// UpdateBackendType locks the row, applies fn and writes it back
func (r *PostgresRepository) UpdateBackendType(ctx context.Context, typeID string, fn BackendTypeMutation) (*models.BackendType, error) {
	var updated *models.BackendType
	var fnErr error
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+backendTypeColumns+` FROM backend_types WHERE type_id = $1 FOR UPDATE`, typeID)
		bt, err := scanBackendType(row)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := fn(bt); err != nil {
			fnErr = err
			return err
		}
		bt.UpdatedAt = time.Now().UTC()

		w, h, b := displayColumns(bt.DefaultDisplay)
		query := `
			UPDATE backend_types SET
				name = $2, description = $3, base_url = $4, auth_token = $5,
				default_width = $6, default_height = $7, default_bit_depth = $8,
				is_active = $9, updated_at = $10
			WHERE type_id = $1
		`
		if _, err := tx.ExecContext(ctx, query,
			bt.TypeID,
			bt.Name,
			nullString(bt.Description),
			bt.BaseURL,
			nullString(bt.AuthToken),
			w, h, b,
			bt.IsActive,
			bt.UpdatedAt,
		); err != nil {
			return err
		}
		updated = bt
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) && err != fnErr {
			r.logger.Error("Failed to update backend type", zap.String("type_id", typeID), zap.Error(err))
		}
		return nil, err
	}
	return updated, nil
}

// DeleteBackendType deletes an unreferenced backend type. The row lock
// conflicts with the key-share lock an instance insert takes on it.
func (r *PostgresRepository) DeleteBackendType(ctx context.Context, typeID string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var dummy int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM backend_types WHERE type_id = $1 FOR UPDATE`, typeID).Scan(&dummy)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var refs int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances WHERE backend_type_id = $1`, typeID).Scan(&refs); err != nil {
			return err
		}
		if refs > 0 {
			return ErrInUse
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM backend_types WHERE type_id = $1`, typeID)
		return err
	})
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInUse) {
		r.logger.Error("Failed to delete backend type", zap.String("type_id", typeID), zap.Error(err))
	}
	return err
}

// ---------------------------------------------------------------------------
// Assignments

// AddAssignment inserts an assignment; it reports false if it already existed
func (r *PostgresRepository) AddAssignment(ctx context.Context, a *models.Assignment) (bool, error) {
	query := `
		INSERT INTO device_instances (device_id, instance_id, position, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, instance_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, a.DeviceID, a.InstanceID, a.Position, a.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to add assignment", zap.String("device_id", a.DeviceID), zap.String("instance_id", a.InstanceID), zap.Error(err))
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveAssignment deletes an assignment; it reports false if none existed
func (r *PostgresRepository) RemoveAssignment(ctx context.Context, deviceID, instanceID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM device_instances WHERE device_id = $1 AND instance_id = $2`, deviceID, instanceID)
	if err != nil {
		r.logger.Error("Failed to remove assignment", zap.String("device_id", deviceID), zap.String("instance_id", instanceID), zap.Error(err))
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListAssignments returns a device's assignments in cycling order
func (r *PostgresRepository) ListAssignments(ctx context.Context, deviceID string) ([]*models.Assignment, error) {
	query := `
		SELECT device_id, instance_id, position, created_at
		FROM device_instances
		WHERE device_id = $1
		ORDER BY position, created_at
	`
	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		r.logger.Error("Failed to list assignments", zap.String("device_id", deviceID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var out []*models.Assignment
	for rows.Next() {
		var a models.Assignment
		if err := rows.Scan(&a.DeviceID, &a.InstanceID, &a.Position, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Frames

const frameColumns = `frame_id, instance_id, data, hash, width, height, created_at`

func scanFrame(s rowScanner) (*models.Frame, error) {
	var f models.Frame
	var instanceID sql.NullString
	var w, h sql.NullInt64
	if err := s.Scan(&f.FrameID, &instanceID, &f.Data, &f.Hash, &w, &h, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.InstanceID = instanceID.String
	f.Width = int(w.Int64)
	f.Height = int(h.Int64)
	return &f, nil
}

// StoreFrame writes, fans out and prunes in one transaction. Writers for the
// same instance are serialized with an advisory lock.
func (r *PostgresRepository) StoreFrame(ctx context.Context, f *models.Frame, retain int) (*models.Frame, bool, error) {
	var stored *models.Frame
	var created bool
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, f.InstanceID); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `SELECT `+frameColumns+` FROM frames WHERE instance_id = $1 ORDER BY created_at DESC LIMIT 1`, f.InstanceID)
		latest, err := scanFrame(row)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		if latest != nil && latest.Hash == f.Hash {
			stored = latest
		} else {
			query := `
				INSERT INTO frames (frame_id, instance_id, data, hash, width, height, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`
			if _, err := tx.ExecContext(ctx, query,
				f.FrameID,
				nullString(f.InstanceID),
				f.Data,
				f.Hash,
				sql.NullInt64{Int64: int64(f.Width), Valid: f.Width > 0},
				sql.NullInt64{Int64: int64(f.Height), Valid: f.Height > 0},
				f.CreatedAt,
			); err != nil {
				return err
			}
			stored = f
			created = true
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE devices SET current_frame_id = $1, updated_at = NOW() WHERE active_instance_id = $2`,
			stored.FrameID, f.InstanceID,
		); err != nil {
			return err
		}

		if created && retain > 0 {
			prune := `
				DELETE FROM frames
				WHERE instance_id = $1
				  AND frame_id NOT IN (
					SELECT frame_id FROM frames WHERE instance_id = $1
					ORDER BY created_at DESC LIMIT $2
				  )
				  AND frame_id NOT IN (
					SELECT current_frame_id FROM devices WHERE current_frame_id IS NOT NULL
				  )
			`
			if _, err := tx.ExecContext(ctx, prune, f.InstanceID, retain); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to store frame", zap.String("instance_id", f.InstanceID), zap.Error(err))
		return nil, false, err
	}
	return stored, created, nil
}

// GetFrame retrieves a frame by frame_id
func (r *PostgresRepository) GetFrame(ctx context.Context, frameID string) (*models.Frame, error) {
	return r.queryFrame(ctx, `SELECT `+frameColumns+` FROM frames WHERE frame_id = $1`, frameID)
}

// LatestFrame returns the newest frame of an instance
func (r *PostgresRepository) LatestFrame(ctx context.Context, instanceID string) (*models.Frame, error) {
	return r.queryFrame(ctx, `SELECT `+frameColumns+` FROM frames WHERE instance_id = $1 ORDER BY created_at DESC LIMIT 1`, instanceID)
}

// FindFrameByHash returns the newest frame of an instance with the given hash
func (r *PostgresRepository) FindFrameByHash(ctx context.Context, instanceID, hash string) (*models.Frame, error) {
	return r.queryFrame(ctx, `SELECT `+frameColumns+` FROM frames WHERE instance_id = $1 AND hash = $2 ORDER BY created_at DESC LIMIT 1`, instanceID, hash)
}

func (r *PostgresRepository) queryFrame(ctx context.Context, query string, args ...any) (*models.Frame, error) {
	f, err := scanFrame(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to query frame", zap.Error(err))
		return nil, err
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// Audit and stats

// RecordInput writes an input audit row
func (r *PostgresRepository) RecordInput(ctx context.Context, rec *models.InputRecord) error {
	query := `
		INSERT INTO input_events (device_id, instance_id, button, event_type, event_timestamp, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		rec.DeviceID,
		nullString(rec.InstanceID),
		rec.Button,
		rec.EventType,
		rec.EventTimestamp,
		rec.ReceivedAt,
	).Scan(&rec.ID)
	if err != nil {
		r.logger.Error("Failed to record input event", zap.String("device_id", rec.DeviceID), zap.Error(err))
		return err
	}
	return nil
}

// Stats counts registry rows
func (r *PostgresRepository) Stats(ctx context.Context) (*models.SystemStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM devices),
			(SELECT COUNT(*) FROM devices WHERE auth_status = 'pending'),
			(SELECT COUNT(*) FROM instances),
			(SELECT COUNT(*) FROM instances WHERE ready),
			(SELECT COUNT(*) FROM instances WHERE NOT initialized),
			(SELECT COUNT(*) FROM instances WHERE needs_configuration),
			(SELECT COUNT(*) FROM backend_types WHERE is_active)
	`
	var s models.SystemStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&s.Devices,
		&s.PendingDevices,
		&s.Instances,
		&s.ReadyInstances,
		&s.PendingInitialization,
		&s.NeedsConfiguration,
		&s.BackendTypes,
	)
	if err != nil {
		r.logger.Error("Failed to collect stats", zap.Error(err))
		return nil, err
	}
	return &s, nil
}
