package telemetry

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []record
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

// NewRepository opens the sqlite database at cfg.DBPath and starts the
// periodic flusher.
func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.BackupDir, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Telemetry repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]record, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(cfg.BatchTimeout)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) Record(rec record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, rec)
	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}
	return nil
}

func (r *repository) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flush()
}

func (r *repository) Close() error {
	var closeErr error
	r.closeOnce.Do(func() {
		close(r.shutdownChan)
		if r.flushTicker != nil {
			r.flushTicker.Stop()
		}
		<-r.flushDoneChan

		r.mu.Lock()
		defer r.mu.Unlock()

		if err := r.flush(); err != nil {
			r.logger.Warn().Err(err).Msg("Final telemetry flush failed")
		}

		if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "checkpoint_wal",
				Error: err.Error(),
			})
			return
		}

		if err := r.db.Close(); err != nil {
			closeErr = errors.New().Wrap(ErrStorageClose, err)
			return
		}

		r.logger.Info().Msg("Telemetry repository closed")
	})
	return closeErr
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic telemetry flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes the buffer in one transaction. The caller holds r.mu.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	rollback := func(cause error) error {
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, cause)
	}

	sampleStmt, err := tx.Prepare(insertSampleSQL)
	if err != nil {
		return rollback(err)
	}
	defer sampleStmt.Close()

	eventStmt, err := tx.Prepare(insertEventSQL)
	if err != nil {
		return rollback(err)
	}
	defer eventStmt.Close()

	var samples, evts int
	for _, rec := range r.buffer {
		switch {
		case rec.sample != nil:
			s := rec.sample
			var temp sql.NullFloat64
			if s.Temperature != nil {
				temp = sql.NullFloat64{Float64: *s.Temperature, Valid: true}
			}
			_, err = sampleStmt.Exec(
				s.Timestamp.UnixMilli(), s.Session, s.State, s.Mode, s.Status,
				s.Overall, s.Network, s.Memory, s.Sensor, s.System,
				s.MemoryPressure, s.CPULoad, temp,
			)
			samples++
		case rec.event != nil:
			e := rec.event
			_, err = eventStmt.Exec(
				e.Timestamp.UnixMilli(), e.Session, e.Kind, e.Priority,
				e.From, e.To, e.Subject, e.Value,
			)
			evts++
		}
		if err != nil {
			return rollback(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("samples", samples).Int("events", evts).Msg("Flushed telemetry to database")
	r.buffer = r.buffer[:0]

	return nil
}

// RecentSamples returns up to limit samples, newest first.
func (r *repository) RecentSamples(limit int) ([]Sample, error) {
	rows, err := r.db.Query(recentSamplesSQL, limit)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			s    Sample
			ts   int64
			temp sql.NullFloat64
		)
		if err := rows.Scan(
			&ts, &s.Session, &s.State, &s.Mode, &s.Status,
			&s.Overall, &s.Network, &s.Memory, &s.Sensor, &s.System,
			&s.MemoryPressure, &s.CPULoad, &temp,
		); err != nil {
			return nil, errors.New().Wrap(ErrStorageAccess, err)
		}
		s.Timestamp = time.UnixMilli(ts).UTC()
		if temp.Valid {
			v := temp.Float64
			s.Temperature = &v
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	return out, nil
}

// RecentEvents returns up to limit events, newest first.
func (r *repository) RecentEvents(limit int) ([]EventRecord, error) {
	rows, err := r.db.Query(recentEventsSQL, limit)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			e  EventRecord
			ts int64
		)
		if err := rows.Scan(&ts, &e.Session, &e.Kind, &e.Priority, &e.From, &e.To, &e.Subject, &e.Value); err != nil {
			return nil, errors.New().Wrap(ErrStorageAccess, err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	return out, nil
}
