package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/streamctl/internal/breaker"
	"codeberg.org/mutker/streamctl/internal/degradation"
	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/events"
	"codeberg.org/mutker/streamctl/internal/health"
	"codeberg.org/mutker/streamctl/internal/network"
	"codeberg.org/mutker/streamctl/internal/persistence"
	"codeberg.org/mutker/streamctl/internal/pid"
	"codeberg.org/mutker/streamctl/internal/recovery"
	"codeberg.org/mutker/streamctl/internal/scheduler"
	"codeberg.org/mutker/streamctl/internal/telemetry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix = "STREAMCTL"
	configName       = "streamctl"
	defaultDataDir   = "/var/lib/streamctl"
)

type Config struct {
	Debug       bool              `mapstructure:"debug"`
	Verbose     bool              `mapstructure:"verbose"`
	Log         LogConfig         `mapstructure:"log"`
	PIDFile     string            `mapstructure:"pid_file"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Health      HealthConfig      `mapstructure:"health"`
	Degradation DegradationConfig `mapstructure:"degradation"`
	Network     NetworkConfig     `mapstructure:"network"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Status      StatusConfig      `mapstructure:"status"`
	Events      EventsConfig      `mapstructure:"events"`
	Watchdog    WatchdogConfig    `mapstructure:"watchdog"`

	v *viper.Viper
}

type LogConfig struct {
	// Level overrides the debug and verbose flags when set.
	Level string `mapstructure:"level"`
}

type SchedulerConfig struct {
	Period         time.Duration  `mapstructure:"period"`
	Budget         time.Duration  `mapstructure:"budget"`
	DisconnectHold time.Duration  `mapstructure:"disconnect_hold"`
	HistorySize    int            `mapstructure:"history_size"`
	ControlQueue   int            `mapstructure:"control_queue"`
	Timeouts       StateTimeouts  `mapstructure:"timeouts"`
	Recovery       RecoveryConfig `mapstructure:"recovery"`
}

// StateTimeouts is the maximum time per state; zero disables it.
type StateTimeouts struct {
	Initializing     time.Duration `mapstructure:"initializing"`
	ConnectingLink   time.Duration `mapstructure:"connecting_link"`
	ConnectingServer time.Duration `mapstructure:"connecting_server"`
	Connected        time.Duration `mapstructure:"connected"`
	Disconnected     time.Duration `mapstructure:"disconnected"`
	Error            time.Duration `mapstructure:"error"`
	Maintenance      time.Duration `mapstructure:"maintenance"`
}

type RecoveryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type BreakerConfig struct {
	FailureThreshold   int           `mapstructure:"failure_threshold"`
	Window             time.Duration `mapstructure:"window"`
	RecoveryTimeout    time.Duration `mapstructure:"recovery_timeout"`
	MaxRecoveryTimeout time.Duration `mapstructure:"max_recovery_timeout"`
}

type HealthConfig struct {
	Period        time.Duration    `mapstructure:"period"`
	HistorySize   int              `mapstructure:"history_size"`
	Horizon       time.Duration    `mapstructure:"horizon"`
	MinSamples    int              `mapstructure:"min_samples"`
	FailureScore  float64          `mapstructure:"failure_score"`
	AutoRecovery  bool             `mapstructure:"auto_recovery"`
	ProbeInterval time.Duration    `mapstructure:"probe_interval"`
	Weights       WeightsConfig    `mapstructure:"weights"`
	Thresholds    ThresholdsConfig `mapstructure:"thresholds"`
}

type WeightsConfig struct {
	Network float64 `mapstructure:"network"`
	Memory  float64 `mapstructure:"memory"`
	Sensor  float64 `mapstructure:"sensor"`
	System  float64 `mapstructure:"system"`
}

type ThresholdsConfig struct {
	MemoryPressure float64 `mapstructure:"memory_pressure"`
	LinkStability  float64 `mapstructure:"link_stability"`
	SensorQuality  float64 `mapstructure:"sensor_quality"`
	CPULoad        float64 `mapstructure:"cpu_load"`
	Temperature    float64 `mapstructure:"temperature"`
	Unhealthy      float64 `mapstructure:"unhealthy"`
}

type DegradationConfig struct {
	ReducedBelow          float64       `mapstructure:"reduced_below"`
	SafeBelow             float64       `mapstructure:"safe_below"`
	RecoveryBelow         float64       `mapstructure:"recovery_below"`
	RestoreAbove          float64       `mapstructure:"restore_above"`
	DegradeAfter          time.Duration `mapstructure:"degrade_after"`
	RestoreAfter          time.Duration `mapstructure:"restore_after"`
	SafeAfterFailures     int           `mapstructure:"safe_after_failures"`
	RecoveryAfterFailures int           `mapstructure:"recovery_after_failures"`
	TelemetryInterval     time.Duration `mapstructure:"telemetry_interval"`
}

type NetworkConfig struct {
	// Driver selects the link implementation. Only "sim" ships today.
	Driver            string              `mapstructure:"driver"`
	Candidates        []network.Candidate `mapstructure:"candidates"`
	Smoothing         float64             `mapstructure:"smoothing"`
	SamplePeriod      time.Duration       `mapstructure:"sample_period"`
	HistorySize       int                 `mapstructure:"history_size"`
	DropWindow        time.Duration       `mapstructure:"drop_window"`
	ConnectTimeout    time.Duration       `mapstructure:"connect_timeout"`
	MinSwitchInterval time.Duration       `mapstructure:"min_switch_interval"`
	SwitchBelowRSSI   int                 `mapstructure:"switch_below_rssi"`
	SwitchAboveLoss   float64             `mapstructure:"switch_above_loss"`
	Reconnect         ReconnectConfig     `mapstructure:"reconnect"`
	Server            ServerConfig        `mapstructure:"server"`
	Sim               SimConfig           `mapstructure:"sim"`
}

type ReconnectConfig struct {
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Jitter         float64       `mapstructure:"jitter"`
	FastRetryRate  float64       `mapstructure:"fast_retry_rate"`
	PoorRate       float64       `mapstructure:"poor_rate"`
	FastRetrySteps int           `mapstructure:"fast_retry_steps"`
	SkipBelowRSSI  int           `mapstructure:"skip_below_rssi"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
	// Scheme is "tcp", "ws" or "sim".
	Scheme              string        `mapstructure:"scheme"`
	MaxConnections      int           `mapstructure:"max_connections"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	BackupAfter         time.Duration `mapstructure:"backup_after"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	MaxErrors           int           `mapstructure:"max_errors"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

type SimConfig struct {
	ConnectDelay time.Duration `mapstructure:"connect_delay"`
	// Conditions maps a candidate id to a preset name such as "good".
	// Keys are case-folded by the loader.
	Conditions       map[string]string `mapstructure:"conditions"`
	PipelineInterval time.Duration     `mapstructure:"pipeline_interval"`
	MaxBacklog       int               `mapstructure:"max_backlog"`
}

type PersistenceConfig struct {
	// Backend is "file", "badger" or "memory".
	Backend          string        `mapstructure:"backend"`
	Path             string        `mapstructure:"path"`
	StateDir         string        `mapstructure:"state_dir"`
	MinWriteInterval time.Duration `mapstructure:"min_write_interval"`
}

type TelemetryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DBPath       string        `mapstructure:"db_path"`
	BackupDir    string        `mapstructure:"backup_dir"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	QueueSize    int           `mapstructure:"queue_size"`
}

type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Metrics bool   `mapstructure:"metrics"`
}

type EventsConfig struct {
	QueueSize     int    `mapstructure:"queue_size"`
	MaxDispatch   int    `mapstructure:"max_dispatch"`
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type WatchdogConfig struct {
	// Timeout of the software watchdog; zero disables it.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads defaults, the TOML file, STREAMCTL_* environment variables and
// flags, in increasing order of precedence, and validates the result.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if f := fs.Lookup("config"); f != nil && f.Changed {
		path = f.Value.String()
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}
	if err := readConfig(v, path); err != nil {
		return nil, err
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(ErrDecode, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfig(v *viper.Viper, path string) error {
	errFactory := errors.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(ErrRead, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.SetConfigType("toml")
	v.AddConfigPath("/etc/streamctl")
	v.AddConfigPath("$HOME/.config/streamctl")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.Wrap(ErrRead, err)
		}
	}
	return nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Path to the configuration file")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.String("log-level", "", "Log level (debug, info, warning, error)")
	fs.String("pid-file", "", "Path to the PID file")
	fs.String("state-dir", "", "Directory for boot markers")
	fs.String("driver", "", "Link driver")
	fs.String("listen", "", "Status API listen address")
	fs.Bool("telemetry", false, "Record health samples and events to sqlite")
	fs.String("nats-url", "", "Forward events to this NATS server")
	return fs
}

var flagKeys = map[string]string{
	"debug":     "debug",
	"verbose":   "verbose",
	"log-level": "log.level",
	"pid-file":  "pid_file",
	"state-dir": "persistence.state_dir",
	"driver":    "network.driver",
	"listen":    "status.listen",
	"telemetry": "telemetry.enabled",
	"nats-url":  "events.nats_url",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	sc := scheduler.DefaultConfig()
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("log.level", "")
	v.SetDefault("pid_file", pid.DefaultPath())

	v.SetDefault("scheduler.period", sc.Period)
	v.SetDefault("scheduler.budget", sc.Budget)
	v.SetDefault("scheduler.disconnect_hold", sc.DisconnectHold)
	v.SetDefault("scheduler.history_size", sc.HistorySize)
	v.SetDefault("scheduler.control_queue", sc.ControlQueue)
	for _, s := range scheduler.States() {
		v.SetDefault("scheduler.timeouts."+s.String(), sc.Timeouts[s])
	}
	v.SetDefault("scheduler.recovery.max_attempts", sc.Recovery.MaxAttempts)
	v.SetDefault("scheduler.recovery.backoff", sc.Recovery.Backoff)
	v.SetDefault("scheduler.recovery.max_backoff", sc.Recovery.MaxBackoff)

	bc := breaker.DefaultConfig()
	v.SetDefault("breaker.failure_threshold", bc.FailureThreshold)
	v.SetDefault("breaker.window", bc.Window)
	v.SetDefault("breaker.recovery_timeout", bc.RecoveryTimeout)
	v.SetDefault("breaker.max_recovery_timeout", bc.MaxRecoveryTimeout)

	hc := health.DefaultConfig()
	v.SetDefault("health.period", hc.Period)
	v.SetDefault("health.history_size", hc.HistorySize)
	v.SetDefault("health.horizon", hc.Horizon)
	v.SetDefault("health.min_samples", hc.MinSamples)
	v.SetDefault("health.failure_score", hc.FailureScore)
	v.SetDefault("health.auto_recovery", true)
	v.SetDefault("health.probe_interval", 5*time.Second)
	v.SetDefault("health.weights.network", hc.Weights.Network)
	v.SetDefault("health.weights.memory", hc.Weights.Memory)
	v.SetDefault("health.weights.sensor", hc.Weights.Sensor)
	v.SetDefault("health.weights.system", hc.Weights.System)
	v.SetDefault("health.thresholds.memory_pressure", hc.Thresholds.MemoryPressure)
	v.SetDefault("health.thresholds.link_stability", hc.Thresholds.LinkStability)
	v.SetDefault("health.thresholds.sensor_quality", hc.Thresholds.SensorQuality)
	v.SetDefault("health.thresholds.cpu_load", hc.Thresholds.CPULoad)
	v.SetDefault("health.thresholds.temperature", hc.Thresholds.Temperature)
	v.SetDefault("health.thresholds.unhealthy", hc.Thresholds.Unhealthy)

	dc := degradation.DefaultConfig()
	v.SetDefault("degradation.reduced_below", dc.ReducedBelow)
	v.SetDefault("degradation.safe_below", dc.SafeBelow)
	v.SetDefault("degradation.recovery_below", dc.RecoveryBelow)
	v.SetDefault("degradation.restore_above", dc.RestoreAbove)
	v.SetDefault("degradation.degrade_after", dc.DegradeAfter)
	v.SetDefault("degradation.restore_after", dc.RestoreAfter)
	v.SetDefault("degradation.safe_after_failures", dc.SafeAfterFailures)
	v.SetDefault("degradation.recovery_after_failures", dc.RecoveryAfterFailures)
	v.SetDefault("degradation.telemetry_interval", dc.TelemetryInterval)

	qc := network.DefaultQualityConfig()
	selc := network.DefaultSelectorConfig()
	rc := network.DefaultReconnectConfig()
	pc := network.DefaultPoolConfig()
	v.SetDefault("network.driver", "sim")
	v.SetDefault("network.smoothing", qc.Smoothing)
	v.SetDefault("network.sample_period", qc.SamplePeriod)
	v.SetDefault("network.history_size", qc.HistorySize)
	v.SetDefault("network.drop_window", qc.DropWindow)
	v.SetDefault("network.connect_timeout", selc.ConnectTimeout)
	v.SetDefault("network.min_switch_interval", selc.MinSwitchInterval)
	v.SetDefault("network.switch_below_rssi", selc.SwitchBelowRSSI)
	v.SetDefault("network.switch_above_loss", selc.SwitchAboveLoss)
	v.SetDefault("network.reconnect.base_delay", rc.BaseDelay)
	v.SetDefault("network.reconnect.max_delay", rc.MaxDelay)
	v.SetDefault("network.reconnect.jitter", rc.Jitter)
	v.SetDefault("network.reconnect.fast_retry_rate", rc.FastRetryRate)
	v.SetDefault("network.reconnect.poor_rate", rc.PoorRate)
	v.SetDefault("network.reconnect.fast_retry_steps", rc.FastRetrySteps)
	v.SetDefault("network.reconnect.skip_below_rssi", rc.SkipBelowRSSI)
	v.SetDefault("network.server.address", "collector:9000")
	v.SetDefault("network.server.scheme", "sim")
	v.SetDefault("network.server.max_connections", pc.MaxConnections)
	v.SetDefault("network.server.connect_timeout", pc.ConnectTimeout)
	v.SetDefault("network.server.backup_after", pc.BackupAfter)
	v.SetDefault("network.server.idle_timeout", pc.IdleTimeout)
	v.SetDefault("network.server.max_errors", pc.MaxErrors)
	v.SetDefault("network.server.health_check_interval", pc.HealthCheckInterval)
	v.SetDefault("network.sim.connect_delay", 2*time.Second)
	v.SetDefault("network.sim.pipeline_interval", 100*time.Millisecond)
	v.SetDefault("network.sim.max_backlog", 64)

	tc := telemetry.DefaultConfig()
	v.SetDefault("persistence.backend", "file")
	v.SetDefault("persistence.path", defaultDataDir+"/state")
	v.SetDefault("persistence.state_dir", defaultDataDir)
	v.SetDefault("persistence.min_write_interval", persistence.DefaultConfig().MinWriteInterval)

	v.SetDefault("telemetry.enabled", tc.Enabled)
	v.SetDefault("telemetry.db_path", tc.DBPath)
	v.SetDefault("telemetry.backup_dir", tc.BackupDir)
	v.SetDefault("telemetry.batch_size", tc.BatchSize)
	v.SetDefault("telemetry.batch_timeout", tc.BatchTimeout)
	v.SetDefault("telemetry.queue_size", tc.QueueSize)

	v.SetDefault("status.enabled", true)
	v.SetDefault("status.listen", "127.0.0.1:9420")
	v.SetDefault("status.metrics", true)

	v.SetDefault("events.queue_size", events.DefaultQueueSize)
	v.SetDefault("events.max_dispatch", events.DefaultMaxDispatch)
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", events.DefaultSubjectPrefix)

	v.SetDefault("watchdog.timeout", 5*time.Second)
}

// FileUsed returns the configuration file that was read, if any.
func (c *Config) FileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

func (c *Config) LogLevel() LogLevel {
	return LogLevel(c.Log.Level)
}

func (t StateTimeouts) timeouts() scheduler.Timeouts {
	var out scheduler.Timeouts
	out[scheduler.Initializing] = t.Initializing
	out[scheduler.ConnectingLink] = t.ConnectingLink
	out[scheduler.ConnectingServer] = t.ConnectingServer
	out[scheduler.Connected] = t.Connected
	out[scheduler.Disconnected] = t.Disconnected
	out[scheduler.Error] = t.Error
	out[scheduler.Maintenance] = t.Maintenance
	return out
}

func (c *Config) SchedulerConfig() scheduler.Config {
	s := c.Scheduler
	return scheduler.Config{
		Period:         s.Period,
		Budget:         s.Budget,
		Timeouts:       s.Timeouts.timeouts(),
		DisconnectHold: s.DisconnectHold,
		HistorySize:    s.HistorySize,
		ControlQueue:   s.ControlQueue,
		Recovery: recovery.Config{
			MaxAttempts: s.Recovery.MaxAttempts,
			Backoff:     s.Recovery.Backoff,
			MaxBackoff:  s.Recovery.MaxBackoff,
		},
	}
}

func (c *Config) BreakerConfig() breaker.Config {
	return breaker.Config(c.Breaker)
}

func (c *Config) HealthConfig() health.Config {
	h := c.Health
	return health.Config{
		Period:       h.Period,
		HistorySize:  h.HistorySize,
		Weights:      health.Weights(h.Weights),
		Thresholds:   health.Thresholds(h.Thresholds),
		Horizon:      h.Horizon,
		MinSamples:   h.MinSamples,
		FailureScore: h.FailureScore,
	}
}

func (c *Config) DegradationConfig() degradation.Config {
	return degradation.Config(c.Degradation)
}

func (c *Config) QualityConfig() network.QualityConfig {
	n := c.Network
	return network.QualityConfig{
		SamplePeriod: n.SamplePeriod,
		Smoothing:    n.Smoothing,
		HistorySize:  n.HistorySize,
		DropWindow:   n.DropWindow,
	}
}

func (c *Config) SelectorConfig() network.SelectorConfig {
	n := c.Network
	return network.SelectorConfig{
		ConnectTimeout:    n.ConnectTimeout,
		MinSwitchInterval: n.MinSwitchInterval,
		SwitchBelowRSSI:   n.SwitchBelowRSSI,
		SwitchAboveLoss:   n.SwitchAboveLoss,
	}
}

func (c *Config) ReconnectConfig() network.ReconnectConfig {
	return network.ReconnectConfig(c.Network.Reconnect)
}

func (c *Config) PoolConfig() network.PoolConfig {
	s := c.Network.Server
	return network.PoolConfig{
		Address:             s.Address,
		MaxConnections:      s.MaxConnections,
		ConnectTimeout:      s.ConnectTimeout,
		BackupAfter:         s.BackupAfter,
		IdleTimeout:         s.IdleTimeout,
		MaxErrors:           s.MaxErrors,
		HealthCheckInterval: s.HealthCheckInterval,
	}
}

func (c *Config) PersistenceConfig() persistence.Config {
	return persistence.Config{MinWriteInterval: c.Persistence.MinWriteInterval}
}

func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config(c.Telemetry)
}

// Thresholds collects the tunables that may be swapped at runtime.
func (c *Config) Thresholds() scheduler.Thresholds {
	return scheduler.Thresholds{
		Timeouts:    c.Scheduler.Timeouts.timeouts(),
		Health:      health.Thresholds(c.Health.Thresholds),
		Degradation: c.DegradationConfig(),
		Breaker:     c.BreakerConfig(),
		Selector:    c.SelectorConfig(),
		Reconnect:   c.ReconnectConfig(),
		Smoothing:   c.Network.Smoothing,
	}
}
