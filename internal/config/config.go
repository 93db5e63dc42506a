package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Farm      FarmConfig      `mapstructure:"farm" validate:"required"`
	Tracker   TrackerConfig   `mapstructure:"tracker" validate:"required"`
	Zimit     ZimitConfig     `mapstructure:"zimit" validate:"required"`
	Mail      MailConfig      `mapstructure:"mail"`
	Hook      HookConfig      `mapstructure:"hook" validate:"required"`
	Public    PublicConfig    `mapstructure:"public" validate:"required"`
	Blacklist BlacklistConfig `mapstructure:"blacklist"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// AllowedOrigins is the CORS allow-list, separated by "|" when set from the environment.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// TrustedProxies lists the addresses or CIDR ranges whose X-Forwarded-For
	// and X-Real-IP headers are honored, separated by "|" when set from the
	// environment. Empty means the peer address is always used.
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// FarmConfig contains the settings used to reach the task-execution farm API.
type FarmConfig struct {
	APIURL          string        `mapstructure:"api_url" validate:"required,url"`
	Username        string        `mapstructure:"username" validate:"required"`
	Password        string        `mapstructure:"password" validate:"required"`
	RequestsTimeout time.Duration `mapstructure:"requests_timeout" validate:"gt=0"`
	MaxRetries      uint64        `mapstructure:"max_retries" validate:"lte=10"`
	// Worker pins requested tasks to a given farm worker when set.
	Worker string `mapstructure:"worker"`
}

// TrackerConfig contains the admission-control settings.
type TrackerConfig struct {
	// DigestKey is the hex-encoded secret used to sign identity tokens.
	DigestKey         string        `mapstructure:"digest_key" validate:"required,hexadecimal,min=16"`
	MaxTasksPerClient int           `mapstructure:"max_tasks_per_client" validate:"gte=1"`
	OracleTimeout     time.Duration `mapstructure:"oracle_timeout" validate:"gt=0"`
	SweepSchedule     string        `mapstructure:"sweep_schedule"`
	// FailOpen treats unreachable task statuses as completed.
	FailOpen bool `mapstructure:"fail_open"`
}

// ZimitConfig contains the limits and resources applied to every capture task.
type ZimitConfig struct {
	Image      string `mapstructure:"image" validate:"required,contains=:"`
	SizeLimit  int64  `mapstructure:"size_limit" validate:"gt=0"`
	TimeLimit  int64  `mapstructure:"time_limit" validate:"gt=0"`
	TaskCPU    int    `mapstructure:"task_cpu" validate:"gt=0"`
	TaskMemory string `mapstructure:"task_memory" validate:"required"`
	TaskDisk   string `mapstructure:"task_disk" validate:"required"`
}

// MailConfig contains the SMTP settings for completion notifications.
type MailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     int    `mapstructure:"port" validate:"omitempty,gt=0,lt=65536"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from" validate:"required_if=Enabled true"`
	Hello    string `mapstructure:"hello"`
	Workers  int    `mapstructure:"workers" validate:"gte=0"`
	Queue    int    `mapstructure:"queue" validate:"gte=0"`
}

// HookConfig contains the webhook settings the farm calls back into.
type HookConfig struct {
	Token           string `mapstructure:"token" validate:"required,min=16"`
	CallbackBaseURL string `mapstructure:"callback_base_url" validate:"required,url"`
}

// PublicConfig contains the public URLs embedded in notifications and task info.
type PublicConfig struct {
	URL            string `mapstructure:"url" validate:"required,url"`
	ZimDownloadURL string `mapstructure:"zim_download_url" validate:"required,url"`
	ContactUsURL   string `mapstructure:"contact_us_url" validate:"required,url"`
}

// BlacklistConfig contains the URL blacklist source.
type BlacklistConfig struct {
	URL             string `mapstructure:"url" validate:"omitempty,url"`
	RefreshSchedule string `mapstructure:"refresh_schedule"`
}
