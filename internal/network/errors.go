package network

import "codeberg.org/mutker/streamctl/internal/errors"

const (
	ErrNoCandidates     = errors.ErrorCode("network_no_candidates")
	ErrDuplicateNetwork = errors.ErrorCode("network_duplicate_candidate")
	ErrUnknownNetwork   = errors.ErrorCode("network_unknown_candidate")
	ErrSwitchLimited    = errors.ErrorCode("network_switch_rate_limited")

	ErrNoPrimary   = errors.ErrorCode("pool_no_primary")
	ErrNoBackup    = errors.ErrorCode("pool_no_backup")
	ErrPoolFull    = errors.ErrorCode("pool_full")
	ErrWriteFailed = errors.ErrorCode("pool_write_failed")
	ErrDialFailed  = errors.ErrorCode("pool_dial_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrNoCandidates:     "No candidate networks configured",
		ErrDuplicateNetwork: "Candidate network already registered",
		ErrUnknownNetwork:   "Unknown candidate network",
		ErrSwitchLimited:    "Network switch rate limited",
		ErrNoPrimary:        "No primary server connection",
		ErrNoBackup:         "No backup server connection",
		ErrPoolFull:         "Connection pool is full",
		ErrWriteFailed:      "Failed to write to server connection",
		ErrDialFailed:       "Failed to dial server",
	})
}
