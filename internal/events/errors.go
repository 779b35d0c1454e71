package events

import "codeberg.org/mutker/streamctl/internal/errors"

const (
	ErrSinkConnect = errors.ErrorCode("events_sink_connect_failed")
	ErrSinkPublish = errors.ErrorCode("events_sink_publish_failed")
)

func init() {
	errors.RegisterMessages(map[errors.ErrorCode]string{
		ErrSinkConnect: "Failed to connect event sink",
		ErrSinkPublish: "Failed to publish event",
	})
}
