package telemetry

import "time"

// Sample is one stored health check.
type Sample struct {
	Timestamp      time.Time
	Session        string
	State          string
	Mode           string
	Status         string
	Overall        float64
	Network        float64
	Memory         float64
	Sensor         float64
	System         float64
	MemoryPressure float64
	CPULoad        float64
	// Temperature is nil when no sensor reading was available.
	Temperature *float64
}

// EventRecord is one stored control plane event.
type EventRecord struct {
	Timestamp time.Time
	Session   string
	Kind      string
	Priority  string
	From      string
	To        string
	Subject   string
	Value     float64
}

// record is what travels from the control thread to the writer. Exactly one
// of the fields is set.
type record struct {
	sample *Sample
	event  *EventRecord
}

// Repository is the storage behind the Service.
type Repository interface {
	Record(r record) error
	Flush() error
	RecentSamples(limit int) ([]Sample, error)
	RecentEvents(limit int) ([]EventRecord, error)
	Close() error
}
