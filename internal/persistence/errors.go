package persistence

import "codeberg.org/mutker/streamctl/internal/errors"

const (
	ErrNotFound     = errors.ErrorCode("persistence_not_found")
	ErrCorrupt      = errors.ErrorCode("persistence_corrupt_record")
	ErrChecksum     = errors.ErrorCode("persistence_checksum_mismatch")
	ErrMissingField = errors.ErrorCode("persistence_missing_field")
	ErrVersion      = errors.ErrorCode("persistence_unsupported_version")
	ErrStoreOpen    = errors.ErrorCode("persistence_store_open_failed")
	ErrStoreRead    = errors.ErrorCode("persistence_store_read_failed")
	ErrStoreWrite   = errors.ErrorCode("persistence_store_write_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrNotFound:     "No persisted state",
		ErrCorrupt:      "Persisted record is corrupt",
		ErrChecksum:     "Persisted record checksum mismatch",
		ErrMissingField: "Persisted record lacks a required field",
		ErrVersion:      "Unsupported persisted schema version",
		ErrStoreOpen:    "Failed to open state store",
		ErrStoreRead:    "Failed to read state store",
		ErrStoreWrite:   "Failed to write state store",
	})
}
