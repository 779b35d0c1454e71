package config

import "codeberg.org/mutker/streamctl/internal/errors"

const (
	ErrRead         = errors.ErrReadConfig
	ErrDecode       = errors.ErrorCode("config_decode_failed")
	ErrNoConfigFile = errors.ErrorCode("config_no_file")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrDecode:       "Failed to decode configuration",
		ErrNoConfigFile: "No configuration file to watch",
	})
}
