package telemetry

import "codeberg.org/mutker/streamctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidDBPath = errors.ErrorCode("telemetry_invalid_db_path")

	// Storage Errors
	ErrStorageInit            = errors.ErrorCode("telemetry_storage_init_failed")
	ErrStorageAccess          = errors.ErrorCode("telemetry_storage_access_failed")
	ErrStorageClose           = errors.ErrorCode("telemetry_storage_close_failed")
	ErrTransactionFailed      = errors.ErrorCode("telemetry_transaction_failed")
	ErrSchemaInitFailed       = errors.ErrorCode("telemetry_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("telemetry_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("telemetry_schema_migration_failed")

	// Operation Errors
	ErrQueueFull       = errors.ErrorCode("telemetry_queue_full")
	ErrServiceShutdown = errors.ErrorCode("telemetry_service_shutdown_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrInvalidConfig:          "Invalid telemetry configuration",
		ErrInvalidDBPath:          "Invalid telemetry database path",
		ErrStorageInit:            "Failed to initialize telemetry storage",
		ErrStorageAccess:          "Failed to access telemetry storage",
		ErrStorageClose:           "Failed to close telemetry storage",
		ErrTransactionFailed:      "Telemetry transaction failed",
		ErrSchemaInitFailed:       "Failed to initialize telemetry schema",
		ErrSchemaValidationFailed: "Failed to validate telemetry schema",
		ErrSchemaMigrationFailed:  "Failed to migrate telemetry schema",
		ErrQueueFull:              "Telemetry queue is full",
		ErrServiceShutdown:        "Failed to shut down telemetry",
	})
}
