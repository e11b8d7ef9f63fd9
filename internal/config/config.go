package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can use humane literals
// like "30s" or "2h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the shared configuration file for all simq components.
// Each binary reads the same file and uses its own section.
type Config struct {
	QueueServerAddress string `yaml:"queue_server_address"`
	QueueServerPort    int    `yaml:"queue_server_port"`
	RequestSecret      string `yaml:"request_secret"`

	Queue    QueueConfig    `yaml:"queue"`
	Worker   WorkerConfig   `yaml:"worker"`
	Web      WebConfig      `yaml:"web"`
	Registry RegistryConfig `yaml:"registry"`
	Mail     MailConfig     `yaml:"mail"`
}

// QueueConfig holds queue-server settings.
type QueueConfig struct {
	ConfirmTimeout    Duration `yaml:"confirm_timeout"`
	HeartbeatTimeout  Duration `yaml:"heartbeat_timeout"`
	WorkerWindow      Duration `yaml:"worker_window"`
	TerminalRetention Duration `yaml:"terminal_retention"`
	HistoryPath       string   `yaml:"history_path"`
}

// WorkerConfig holds worker settings.
type WorkerConfig struct {
	PollInterval      Duration `yaml:"poll_interval"`
	ErrorSleepTime    Duration `yaml:"error_sleep_time"`
	MaxErrors         int      `yaml:"max_errors"`
	KeepAliveInterval Duration `yaml:"keep_alive_interval"`
	WorkDir           string   `yaml:"work_dir"`
}

// WebConfig holds web front-end settings.
type WebConfig struct {
	// BaseURL is the externally reachable address of the front-end,
	// used to build the confirmation links placed in emails.
	BaseURL string `yaml:"base_url"`
	// KeepAliveTimeout is how long a successful has-workers probe is
	// cached before the front-end asks the queue again.
	KeepAliveTimeout Duration `yaml:"keep_alive_timeout"`
}

// RegistryConfig holds model registry settings.
type RegistryConfig struct {
	Dir            string   `yaml:"dir"`
	RescanInterval Duration `yaml:"rescan_interval"`
}

// MailConfig holds SMTP transport settings. An empty host selects the
// log-only mailer (useful for development).
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	StartTLS bool   `yaml:"starttls"`
}

// Default returns the configuration defaults applied before the file
// is read.
func Default() Config {
	return Config{
		QueueServerAddress: "localhost",
		QueueServerPort:    8001,
		Queue: QueueConfig{
			ConfirmTimeout:    Duration(1 * time.Hour),
			HeartbeatTimeout:  Duration(2 * time.Minute),
			TerminalRetention: Duration(5 * time.Minute),
		},
		Worker: WorkerConfig{
			PollInterval:      Duration(10 * time.Second),
			ErrorSleepTime:    Duration(10 * time.Second),
			MaxErrors:         3,
			KeepAliveInterval: Duration(30 * time.Second),
		},
		Web: WebConfig{
			BaseURL:          "http://localhost:8000",
			KeepAliveTimeout: Duration(60 * time.Second),
		},
		Registry: RegistryConfig{
			RescanInterval: Duration(1 * time.Minute),
		},
		Mail: MailConfig{
			Port:     25,
			From:     "simq@localhost",
			StartTLS: true,
		},
	}
}

// Load reads the YAML config at path on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations no component can run with.
func (c *Config) Validate() error {
	if c.RequestSecret == "" {
		return fmt.Errorf("config: request_secret is required")
	}
	if c.QueueServerPort <= 0 || c.QueueServerPort > 65535 {
		return fmt.Errorf("config: queue_server_port %d out of range", c.QueueServerPort)
	}
	if c.Queue.ConfirmTimeout <= 0 {
		return fmt.Errorf("config: queue.confirm_timeout must be positive")
	}
	if c.Queue.HeartbeatTimeout <= 0 {
		return fmt.Errorf("config: queue.heartbeat_timeout must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("config: worker.poll_interval must be positive")
	}
	if c.Worker.KeepAliveInterval.Std() >= c.Queue.HeartbeatTimeout.Std() {
		return fmt.Errorf("config: worker.keep_alive_interval must be below queue.heartbeat_timeout")
	}
	return nil
}

// QueueURL returns the base URL workers and the web front-end use to
// reach the queue server.
func (c *Config) QueueURL() string {
	return fmt.Sprintf("http://%s:%d", c.QueueServerAddress, c.QueueServerPort)
}

// WorkerWindow returns the sliding window used to decide whether live
// workers exist: the configured value, or twice the worker poll
// interval when unset.
func (c *Config) WorkerWindow() time.Duration {
	if c.Queue.WorkerWindow > 0 {
		return c.Queue.WorkerWindow.Std()
	}
	return 2 * c.Worker.PollInterval.Std()
}

// SweepInterval returns the expiry sweeper cadence: a quarter of the
// shorter of the two queue timeouts.
func (c *Config) SweepInterval() time.Duration {
	min := c.Queue.ConfirmTimeout.Std()
	if hb := c.Queue.HeartbeatTimeout.Std(); hb < min {
		min = hb
	}
	interval := min / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
