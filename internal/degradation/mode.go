package degradation

import "time"

// Mode is the operating mode, ordered from least to most degraded.
type Mode int

const (
	Normal Mode = iota
	ReducedQuality
	SafeMode
	Recovery
)

func (m Mode) String() string {
	switch m {
	case Normal:
		return "normal"
	case ReducedQuality:
		return "reduced_quality"
	case SafeMode:
		return "safe_mode"
	case Recovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// ParseMode is the inverse of String.
func ParseMode(s string) (Mode, bool) {
	for m := Normal; m <= Recovery; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return Normal, false
}

func (m Mode) Valid() bool { return m >= Normal && m <= Recovery }

// FeatureSet is what the rest of the loop may do in a mode. A zero
// TelemetryInterval means telemetry is off.
type FeatureSet struct {
	HighFidelity      bool          `json:"high_fidelity"`
	Capture           bool          `json:"capture"`
	TelemetryInterval time.Duration `json:"telemetry_interval"`
	Predictions       bool          `json:"predictions"`
	DataPath          bool          `json:"data_path"`
	Backup            bool          `json:"backup"`
}

// FeaturesFor maps a mode to its features. telemetry is the NORMAL interval;
// REDUCED_QUALITY reports four times less often.
func FeaturesFor(m Mode, telemetry time.Duration) FeatureSet {
	switch m {
	case Normal:
		return FeatureSet{
			HighFidelity:      true,
			Capture:           true,
			TelemetryInterval: telemetry,
			Predictions:       true,
			DataPath:          true,
			Backup:            true,
		}
	case ReducedQuality:
		return FeatureSet{
			Capture:           true,
			TelemetryInterval: 4 * telemetry,
			Predictions:       true,
			DataPath:          true,
			Backup:            true,
		}
	case SafeMode:
		return FeatureSet{
			Capture:  true,
			DataPath: true,
		}
	default:
		return FeatureSet{}
	}
}
