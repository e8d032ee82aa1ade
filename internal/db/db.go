package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/headtrack/internal/config"
	"github.com/banshee-data/headtrack/internal/pointtracker"
)

// ErrUnknownSession is returned when a pose references a session that was
// never started.
var ErrUnknownSession = errors.New("unknown session")

type DB struct {
	*sql.DB
	path string
}

// NewDB opens (or creates) the pose database at path and applies all
// embedded migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent and
	// serialises writers.
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the path the database was opened with.
func (db *DB) Path() string { return db.path }

// Session is one tracking run. Settings holds the JSON snapshot of the
// tunables the run started with.
type Session struct {
	ID        string    `json:"session_id"`
	Label     string    `json:"label"`
	Settings  string    `json:"settings"`
	StartedAt time.Time `json:"started_at"`
}

func (db *DB) StartSession(label string, settings config.Settings, now time.Time) (Session, error) {
	raw, err := json.Marshal(settings)
	if err != nil {
		return Session{}, fmt.Errorf("failed to encode settings: %w", err)
	}
	s := Session{
		ID:        uuid.NewString(),
		Label:     label,
		Settings:  string(raw),
		StartedAt: now,
	}
	_, err = db.Exec(
		`INSERT INTO sessions (session_id, label, settings_json, started_unix_ns) VALUES (?, ?, ?, ?)`,
		s.ID, s.Label, s.Settings, now.UnixNano(),
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to insert session: %w", err)
	}
	return s, nil
}

// Sessions lists sessions, most recent first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`SELECT session_id, label, settings_json, started_unix_ns
		FROM sessions ORDER BY started_unix_ns DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s       Session
			started int64
		)
		if err := rows.Scan(&s.ID, &s.Label, &s.Settings, &started); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, started).UTC()
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (db *DB) RecordPose(sessionID string, s pointtracker.Sample) error {
	valid := 0
	if s.Valid {
		valid = 1
	}
	_, err := db.Exec(
		`INSERT INTO poses (
			session_id, taken_unix_ns, valid, yaw, pitch, roll, x, y, z, reprojection_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, s.Time.UnixNano(), valid,
		s.Pose.Yaw, s.Pose.Pitch, s.Pose.Roll, s.Pose.X, s.Pose.Y, s.Pose.Z,
		s.ReprojectionError,
	)
	if err != nil {
		// The only foreign key on poses is the session.
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
		return fmt.Errorf("failed to insert pose: %w", err)
	}
	return nil
}

// Poses returns the most recent limit samples of a session in time order.
// A limit <= 0 returns every sample.
func (db *DB) Poses(sessionID string, limit int) ([]pointtracker.Sample, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT taken_unix_ns, valid, yaw, pitch, roll, x, y, z, reprojection_error
		FROM (
			SELECT * FROM poses WHERE session_id = ?
			ORDER BY taken_unix_ns DESC, pose_id DESC LIMIT ?
		) ORDER BY taken_unix_ns ASC, pose_id ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []pointtracker.Sample
	for rows.Next() {
		var (
			s     pointtracker.Sample
			taken int64
			valid int
		)
		if err := rows.Scan(&taken, &valid,
			&s.Pose.Yaw, &s.Pose.Pitch, &s.Pose.Roll, &s.Pose.X, &s.Pose.Y, &s.Pose.Z,
			&s.ReprojectionError,
		); err != nil {
			return nil, err
		}
		s.Time = time.Unix(0, taken).UTC()
		s.Valid = valid != 0
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func isConstraintError(err error) bool {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		// SQLITE_CONSTRAINT and its extended codes share the low byte.
		return coder.Code()&0xff == 19
	}
	return false
}

// Recorder appends polled samples to a single session.
type Recorder struct {
	db      *DB
	session Session
}

func (db *DB) NewRecorder(label string, settings config.Settings, now time.Time) (*Recorder, error) {
	s, err := db.StartSession(label, settings, now)
	if err != nil {
		return nil, err
	}
	return &Recorder{db: db, session: s}, nil
}

func (r *Recorder) Session() Session { return r.session }

func (r *Recorder) Publish(s pointtracker.Sample) error {
	return r.db.RecordPose(r.session.ID, s)
}
