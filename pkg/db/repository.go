package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mdcvision/dumpwatch/pkg/errors"
)

const timeFormat = "2006-01-02 15:04:05"

// Repository provides database operations for sessions, cameras and
// captured images.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the database and creates the schema.
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// SeedFactory writes the singleton site record.
func (r *Repository) SeedFactory(info FactoryInfo) error {
	query := `
		INSERT INTO factory_info (id, factory_id, factory_name, milling_process, total_dumps)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    factory_id = excluded.factory_id,
		    factory_name = excluded.factory_name,
		    milling_process = excluded.milling_process,
		    total_dumps = excluded.total_dumps
	`
	_, err := r.db.Exec(query, info.FactoryID, info.FactoryName, info.MillingProcess, info.TotalDumps)
	if err != nil {
		slog.Error("database_seed_factory_failed", "error", err)
		return errors.Wrap(err, "failed to seed factory info")
	}
	slog.Info("database_factory_seeded", "factory_id", info.FactoryID, "total_dumps", info.TotalDumps)
	return nil
}

// Factory returns the site record, or nil when the database was never
// seeded.
func (r *Repository) Factory() (*FactoryInfo, error) {
	query := `SELECT factory_id, factory_name, milling_process, total_dumps FROM factory_info WHERE id = 1`
	var info FactoryInfo
	err := r.db.QueryRow(query).Scan(&info.FactoryID, &info.FactoryName, &info.MillingProcess, &info.TotalDumps)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_factory_failed", "error", err)
		return nil, errors.Wrap(err, "failed to query factory info")
	}
	return &info, nil
}

// SeedCamera registers or replaces the stream URL for one station role.
func (r *Repository) SeedCamera(dumpID int, role, url string) error {
	query := `
		INSERT INTO dump_cameras (dump_id, role, url) VALUES (?, ?, ?)
		ON CONFLICT(dump_id, role) DO UPDATE SET url = excluded.url
	`
	if _, err := r.db.Exec(query, dumpID, role, url); err != nil {
		slog.Error("database_seed_camera_failed", "dump_id", dumpID, "role", role, "error", err)
		return errors.Wrap(err, "failed to seed camera")
	}
	return nil
}

// CamerasForDump returns the registered cameras for one station,
// keyed by role.
func (r *Repository) CamerasForDump(dumpID int) (map[string]Camera, error) {
	query := `SELECT id, dump_id, role, url FROM dump_cameras WHERE dump_id = ?`
	rows, err := r.db.Query(query, dumpID)
	if err != nil {
		slog.Error("database_query_cameras_failed", "dump_id", dumpID, "error", err)
		return nil, errors.Wrap(err, "failed to query cameras")
	}
	defer rows.Close()

	cameras := make(map[string]Camera)
	for rows.Next() {
		var cam Camera
		if err := rows.Scan(&cam.ID, &cam.DumpID, &cam.Role, &cam.URL); err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		cameras[cam.Role] = cam
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return cameras, nil
}

// CreateSession opens a new session for a station and returns its UUID.
func (r *Repository) CreateSession(dumpID int, startTime time.Time) (string, error) {
	id := uuid.NewString()
	slog.Info("database_create_session", "dump_id", dumpID, "session_uuid", id)

	query := `
		INSERT INTO dump_sessions (uuid, dump_id, start_time, status)
		VALUES (?, ?, ?, ?)
	`
	if _, err := r.db.Exec(query, id, dumpID, startTime.Format(timeFormat), StatusOpen); err != nil {
		slog.Error("database_insert_failed", "dump_id", dumpID, "error", err)
		return "", errors.Wrap(err, "failed to insert session")
	}
	return id, nil
}

// UpdateSession applies the non-nil fields of upd to a session.
func (r *Repository) UpdateSession(sessionUUID string, upd SessionUpdate) error {
	slog.Info("database_update_session", "session_uuid", sessionUUID)

	set := ""
	var args []any
	appendSet := func(column string, value any) {
		if set != "" {
			set += ", "
		}
		set += column + " = ?"
		args = append(args, value)
	}
	if upd.EndTime != nil {
		appendSet("end_time", *upd.EndTime)
	}
	if upd.PlateNumber != nil {
		appendSet("plate_number", *upd.PlateNumber)
	}
	if upd.Status != nil {
		appendSet("status", *upd.Status)
	}
	if upd.MergedImagePath != nil {
		appendSet("merged_image_path", *upd.MergedImagePath)
	}
	if set == "" {
		return nil
	}

	args = append(args, sessionUUID)
	result, err := r.db.Exec("UPDATE dump_sessions SET "+set+" WHERE uuid = ?", args...)
	if err != nil {
		slog.Error("database_update_failed", "session_uuid", sessionUUID, "error", err)
		return errors.Wrap(err, "failed to update session")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_session_not_found_for_update", "session_uuid", sessionUUID)
		return fmt.Errorf("session not found: uuid=%s", sessionUUID)
	}
	return nil
}

// GetSession retrieves a session by UUID, nil when absent.
func (r *Repository) GetSession(sessionUUID string) (*Session, error) {
	query := `
		SELECT uuid, dump_id, start_time, end_time, plate_number, status, merged_image_path
		FROM dump_sessions WHERE uuid = ?
	`
	var s Session
	var endTime, plate, merged sql.NullString
	err := r.db.QueryRow(query, sessionUUID).Scan(
		&s.UUID, &s.DumpID, &s.StartTime, &endTime, &plate, &s.Status, &merged)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "session_uuid", sessionUUID, "error", err)
		return nil, errors.Wrap(err, "failed to query session")
	}
	s.EndTime = endTime.String
	s.PlateNumber = plate.String
	s.MergedImagePath = merged.String
	return &s, nil
}

// LogTransition records a state machine edge for a session.
func (r *Repository) LogTransition(sessionUUID, fromState, toState string) error {
	query := `INSERT INTO state_transitions (session_uuid, from_state, to_state) VALUES (?, ?, ?)`
	if _, err := r.db.Exec(query, sessionUUID, fromState, toState); err != nil {
		slog.Error("database_log_transition_failed", "session_uuid", sessionUUID, "error", err)
		return errors.Wrap(err, "failed to log transition")
	}
	return nil
}

// LogImage records a captured keyframe. Repeated captures of the same
// slot within a session keep the first record.
func (r *Repository) LogImage(sessionUUID, imageType, filePath string) error {
	slog.Info("database_log_image", "session_uuid", sessionUUID, "image_type", imageType)

	query := `
		INSERT OR IGNORE INTO captured_images (session_uuid, image_type, file_path)
		VALUES (?, ?, ?)
	`
	if _, err := r.db.Exec(query, sessionUUID, imageType, filePath); err != nil {
		slog.Error("database_log_image_failed", "session_uuid", sessionUUID, "image_type", imageType, "error", err)
		return errors.Wrap(err, "failed to log captured image")
	}
	return nil
}

// SessionImages returns the captured images of a session in slot order.
func (r *Repository) SessionImages(sessionUUID string) ([]*CapturedImage, error) {
	query := `
		SELECT id, session_uuid, image_type, file_path, captured_at
		FROM captured_images WHERE session_uuid = ? ORDER BY image_type
	`
	rows, err := r.db.Query(query, sessionUUID)
	if err != nil {
		slog.Error("database_query_images_failed", "session_uuid", sessionUUID, "error", err)
		return nil, errors.Wrap(err, "failed to query captured images")
	}
	defer rows.Close()

	var images []*CapturedImage
	for rows.Next() {
		var img CapturedImage
		if err := rows.Scan(&img.ID, &img.SessionUUID, &img.ImageType, &img.FilePath, &img.CapturedAt); err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		images = append(images, &img)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return images, nil
}

// RecentSessions returns the newest sessions first, up to limit.
func (r *Repository) RecentSessions(limit int) ([]*Session, error) {
	query := `
		SELECT uuid, dump_id, start_time, end_time, plate_number, status, merged_image_path
		FROM dump_sessions ORDER BY start_time DESC LIMIT ?
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var s Session
		var endTime, plate, merged sql.NullString
		err := rows.Scan(&s.UUID, &s.DumpID, &s.StartTime, &endTime, &plate, &s.Status, &merged)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		s.EndTime = endTime.String
		s.PlateNumber = plate.String
		s.MergedImagePath = merged.String
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return sessions, nil
}

// SessionCounts returns the number of sessions per status.
func (r *Repository) SessionCounts() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM dump_sessions GROUP BY status`)
	if err != nil {
		slog.Error("database_count_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to count sessions")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return counts, nil
}

// PruneSessions deletes sessions older than cutoff along with their
// captured images and transitions. It returns the number of sessions
// removed.
func (r *Repository) PruneSessions(cutoff time.Time) (int64, error) {
	slog.Info("database_prune_sessions", "cutoff", cutoff.Format(timeFormat))

	tx, err := r.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	limit := cutoff.Format(timeFormat)
	childQuery := `DELETE FROM %s WHERE session_uuid IN (SELECT uuid FROM dump_sessions WHERE start_time < ?)`
	if _, err := tx.Exec(fmt.Sprintf(childQuery, "captured_images"), limit); err != nil {
		return 0, errors.Wrap(err, "failed to prune captured images")
	}
	if _, err := tx.Exec(fmt.Sprintf(childQuery, "state_transitions"), limit); err != nil {
		return 0, errors.Wrap(err, "failed to prune transitions")
	}

	result, err := tx.Exec(`DELETE FROM dump_sessions WHERE start_time < ?`, limit)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune sessions")
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit transaction")
	}

	slog.Info("database_sessions_pruned", "removed", removed)
	return removed, nil
}
