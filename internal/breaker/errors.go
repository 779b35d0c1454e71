package breaker

import "codeberg.org/mutker/streamctl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrOpen          = errors.ErrorCode("breaker_open")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrOpen: "Circuit breaker is open",
	})
}
