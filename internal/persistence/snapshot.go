package persistence

// SchemaVersion is written into every record. Records with another version
// are discarded.
const SchemaVersion uint8 = 1

// NoNetwork marks an unset active network index.
const NoNetwork int16 = -1

// ConnectionStats are cumulative counters carried across restarts.
type ConnectionStats struct {
	UptimeSeconds uint32 `json:"uptime_seconds"`
	Reconnects    uint32 `json:"reconnects"`
	Failovers     uint32 `json:"failovers"`
	Errors        uint32 `json:"errors"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
}

// HealthSummary is the last overall score and status bucket.
type HealthSummary struct {
	Score  float32 `json:"score"`
	Status uint8   `json:"status"`
}

// Snapshot is the crash-survivable subset of control plane state. Mode and
// Health.Status hold the numeric values of the degradation mode and health
// status enums.
type Snapshot struct {
	Version       uint8           `json:"version"`
	ActiveNetwork int16           `json:"active_network"`
	Stats         ConnectionStats `json:"stats"`
	Health        HealthSummary   `json:"health"`
	Mode          uint8           `json:"mode"`
}

// Default is the snapshot used when nothing trustworthy was stored.
func Default() Snapshot {
	return Snapshot{
		Version:       SchemaVersion,
		ActiveNetwork: NoNetwork,
		Health:        HealthSummary{Score: 1, Status: 4},
	}
}

// Significant reports whether b differs from a enough to be worth a write.
// Uptime and byte counters alone never are.
func Significant(a, b Snapshot) bool {
	return a.Mode != b.Mode ||
		a.ActiveNetwork != b.ActiveNetwork ||
		a.Health.Status != b.Health.Status ||
		a.Stats.Reconnects != b.Stats.Reconnects ||
		a.Stats.Failovers != b.Stats.Failovers ||
		a.Stats.Errors != b.Stats.Errors
}
