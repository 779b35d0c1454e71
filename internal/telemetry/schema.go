package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS health_samples (
	       id              INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp       INTEGER NOT NULL,
	       session         TEXT NOT NULL,
	       state           TEXT NOT NULL,
	       mode            TEXT NOT NULL,
	       status          TEXT NOT NULL,
	       overall         REAL NOT NULL CHECK (overall BETWEEN 0 AND 1),
	       network         REAL NOT NULL,
	       memory          REAL NOT NULL,
	       sensor          REAL NOT NULL,
	       system          REAL NOT NULL,
	       memory_pressure REAL NOT NULL,
	       cpu_load        REAL NOT NULL,
	       temperature     REAL
	   );
	   CREATE INDEX IF NOT EXISTS idx_health_samples_timestamp ON health_samples (timestamp);
	   CREATE TABLE IF NOT EXISTS events (
	       id         INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp  INTEGER NOT NULL,
	       session    TEXT NOT NULL,
	       kind       TEXT NOT NULL,
	       priority   TEXT NOT NULL,
	       from_value TEXT NOT NULL,
	       to_value   TEXT NOT NULL,
	       subject    TEXT NOT NULL,
	       value      REAL NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp);`

	insertSampleSQL = `
    INSERT INTO health_samples (
        timestamp, session, state, mode, status,
        overall, network, memory, sensor, system,
        memory_pressure, cpu_load, temperature
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertEventSQL = `
    INSERT INTO events (
        timestamp, session, kind, priority,
        from_value, to_value, subject, value
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	recentSamplesSQL = `
    SELECT timestamp, session, state, mode, status,
           overall, network, memory, sensor, system,
           memory_pressure, cpu_load, temperature
    FROM health_samples
    ORDER BY id DESC
    LIMIT ?`

	recentEventsSQL = `
    SELECT timestamp, session, kind, priority, from_value, to_value, subject, value
    FROM events
    ORDER BY id DESC
    LIMIT ?`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "create_tables",
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Telemetry schema initialized")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
