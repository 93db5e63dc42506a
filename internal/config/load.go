package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "ZIMIT"

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/zimit-broker")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables, e.g. ZIMIT_SERVER_PORT
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Lists come from the environment as a single "|" separated string
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)
	cfg.Server.TrustedProxies = splitList(cfg.Server.TrustedProxies)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// Sizes are parsed after struct validation so the error names the field
	if _, err := cfg.Zimit.MemoryBytes(); err != nil {
		return nil, fmt.Errorf("config validation failed: zimit.task_memory: %w", err)
	}
	if _, err := cfg.Zimit.DiskBytes(); err != nil {
		return nil, fmt.Errorf("config validation failed: zimit.task_disk: %w", err)
	}
	if _, err := cfg.Server.TrustedProxyPrefixes(); err != nil {
		return nil, fmt.Errorf("config validation failed: server.trusted_proxies: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value of every optional key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.allowed_origins", "http://localhost|http://localhost:8000|http://localhost:8080")
	v.SetDefault("server.request_timeout", "60s")

	v.SetDefault("farm.api_url", "https://api.farm.zimit.kiwix.org/v1")
	v.SetDefault("farm.requests_timeout", "10s")
	v.SetDefault("farm.max_retries", 2)

	v.SetDefault("tracker.max_tasks_per_client", 1)
	v.SetDefault("tracker.oracle_timeout", "10s")
	v.SetDefault("tracker.sweep_schedule", "@every 10m")
	v.SetDefault("tracker.fail_open", true)

	v.SetDefault("zimit.image", "openzim/zimit:1.2.0")
	v.SetDefault("zimit.size_limit", int64(4)<<30)
	v.SetDefault("zimit.time_limit", 2*3600)
	v.SetDefault("zimit.task_cpu", 3)
	v.SetDefault("zimit.task_memory", "1GiB")
	v.SetDefault("zimit.task_disk", "1GiB")

	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from", "Zimit <info@zimit.kiwix.org>")
	v.SetDefault("mail.hello", "localhost")
	v.SetDefault("mail.workers", 2)
	v.SetDefault("mail.queue", 100)

	v.SetDefault("hook.callback_base_url", "https://zimit.kiwix.org/api/v1/hook")

	v.SetDefault("public.url", "https://zimit.kiwix.org")
	v.SetDefault("public.zim_download_url", "https://s3.us-west-1.wasabisys.com/org-kiwix-zimit/zim")
	v.SetDefault("public.contact_us_url", "https://www.kiwix.org/en/contact/")

	v.SetDefault("blacklist.refresh_schedule", "@every 1h")
}

// bindEnvKeys binds keys without defaults so AutomaticEnv picks them up on Unmarshal.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.trusted_proxies",
		"farm.username",
		"farm.password",
		"farm.worker",
		"tracker.digest_key",
		"mail.enabled",
		"mail.host",
		"mail.username",
		"mail.password",
		"hook.token",
		"blacklist.url",
	} {
		_ = v.BindEnv(key)
	}
}

func splitList(raw []string) []string {
	var items []string
	for _, entry := range raw {
		for _, item := range strings.Split(entry, "|") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single
// host range.
func (c ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// MemoryBytes returns TaskMemory parsed as a byte count (e.g. "1GiB").
func (c ZimitConfig) MemoryBytes() (uint64, error) {
	return humanize.ParseBytes(c.TaskMemory)
}

// DiskBytes returns TaskDisk parsed as a byte count.
func (c ZimitConfig) DiskBytes() (uint64, error) {
	return humanize.ParseBytes(c.TaskDisk)
}
