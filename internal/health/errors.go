package health

import "codeberg.org/mutker/streamctl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
)
