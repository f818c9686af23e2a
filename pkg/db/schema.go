package db

// Schema defines the SQLite database schema for dump-station
// monitoring: site identity, camera registrations, unload sessions and
// their captured images and state transitions.
const Schema = `
CREATE TABLE IF NOT EXISTS factory_info (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    factory_id TEXT NOT NULL,
    factory_name TEXT NOT NULL,
    milling_process TEXT NOT NULL,
    total_dumps INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS dump_cameras (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    dump_id INTEGER NOT NULL,
    role TEXT NOT NULL CHECK(role IN ('front', 'top')),
    url TEXT NOT NULL,
    UNIQUE(dump_id, role)
);

CREATE TABLE IF NOT EXISTS dump_sessions (
    uuid TEXT PRIMARY KEY,
    dump_id INTEGER NOT NULL,
    start_time TIMESTAMP NOT NULL,
    end_time TIMESTAMP,
    plate_number TEXT,
    status TEXT NOT NULL CHECK(status IN ('OPEN', 'COMPLETE', 'INCOMPLETE')),
    merged_image_path TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_dump_id ON dump_sessions(dump_id);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON dump_sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON dump_sessions(start_time);

CREATE TABLE IF NOT EXISTS captured_images (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_uuid TEXT NOT NULL REFERENCES dump_sessions(uuid),
    image_type TEXT NOT NULL,
    file_path TEXT NOT NULL,
    captured_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(session_uuid, image_type)
);

CREATE TABLE IF NOT EXISTS state_transitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_uuid TEXT NOT NULL REFERENCES dump_sessions(uuid),
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_transitions_session ON state_transitions(session_uuid);
`

// Session status constants
const (
	StatusOpen       = "OPEN"
	StatusComplete   = "COMPLETE"
	StatusIncomplete = "INCOMPLETE"
)

// Camera roles
const (
	RoleFront = "front"
	RoleTop   = "top"
)

// FactoryInfo identifies the site the service monitors.
type FactoryInfo struct {
	FactoryID      string
	FactoryName    string
	MillingProcess string
	TotalDumps     int
}

// Camera is a registered stream for one station role.
type Camera struct {
	ID     int64
	DumpID int
	Role   string
	URL    string
}

// Session records one unload cycle at a station.
type Session struct {
	UUID            string
	DumpID          int
	StartTime       string
	EndTime         string
	PlateNumber     string
	Status          string
	MergedImagePath string
}

// CapturedImage records one keyframe saved during a session.
type CapturedImage struct {
	ID          int64
	SessionUUID string
	ImageType   string
	FilePath    string
	CapturedAt  string
}

// Transition records a state machine edge taken during a session.
type Transition struct {
	ID          int64
	SessionUUID string
	FromState   string
	ToState     string
	CreatedAt   string
}

// SessionUpdate carries the fields to change on an existing session.
// Nil fields are left untouched.
type SessionUpdate struct {
	EndTime         *string
	PlateNumber     *string
	Status          *string
	MergedImagePath *string
}
