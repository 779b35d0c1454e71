package telemetry

import (
	"time"

	"codeberg.org/mutker/streamctl/internal/errors"
)

const (
	defaultDirPerm   = 0o755
	defaultDBPath    = "/var/lib/streamctl/telemetry.db"
	defaultBackupDir = "/var/lib/streamctl/backups"
)

type Config struct {
	Enabled bool
	DBPath  string
	// BackupDir receives a copy of the database before an incompatible
	// schema is replaced.
	BackupDir    string
	BatchSize    int
	BatchTimeout time.Duration
	// QueueSize bounds records waiting for the writer goroutine; records
	// beyond it are dropped.
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		DBPath:       defaultDBPath,
		BackupDir:    defaultBackupDir,
		BatchSize:    32,
		BatchTimeout: 30 * time.Second,
		QueueSize:    256,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 1 || c.QueueSize < 1 {
		return errFactory.WithData(ErrInvalidConfig, "batch and queue sizes must be positive")
	}
	return nil
}
