package main

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-tick/gaspar"
	"github.com/spf13/viper"
)

type Config struct {
	Namespace      string        `mapstructure:"namespace"`
	Identity       string        `mapstructure:"identity"`
	LogLevel       string        `mapstructure:"log_level"`
	AllowTTY       bool          `mapstructure:"allow_tty"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`

	Store   StoreConfig   `mapstructure:"store"`
	AMQP    AMQPConfig    `mapstructure:"amqp"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Jobs    []JobConfig   `mapstructure:"jobs"`
}

type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Scripting bool   `mapstructure:"scripting"`

	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	DSN           string        `mapstructure:"dsn"`
	Migrate       bool          `mapstructure:"migrate"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Queue    string `mapstructure:"queue"`
	Exchange string `mapstructure:"exchange"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// JobConfig declares one job. Exactly one of Every and Cron is set. A job
// with a Ref is enqueued on AMQP; any other job logs Log when it runs.
type JobConfig struct {
	Name  string `mapstructure:"name"`
	Every string `mapstructure:"every"`
	Cron  string `mapstructure:"cron"`
	Ref   string `mapstructure:"ref"`
	Args  []any  `mapstructure:"args"`
	Log   string `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("namespace", gaspar.DefaultNamespace)
	v.SetDefault("log_level", "info")
	v.SetDefault("drain_timeout", gaspar.DefaultDrainTimeout)
	v.SetDefault("resync_interval", gaspar.DefaultResyncInterval)
	v.SetDefault("lock_timeout", gaspar.DefaultLockTimeout)
	v.SetDefault("store.driver", "redis")
	v.SetDefault("store.scripting", true)
	v.SetDefault("store.addr", "localhost:6379")
	v.SetDefault("store.purge_interval", time.Hour)
	v.SetDefault("amqp.queue", "gaspar")
}

// loadConfig reads path, if given, on top of the defaults. GASPAR_*
// environment variables override both, e.g. GASPAR_STORE_ADDR.
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GASPAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "redis", "postgres", "memory":
	default:
		return errors.Newf("unknown store driver %q", c.Store.Driver)
	}

	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return errors.New("store.dsn is required for the postgres driver")
	}

	for i, job := range c.Jobs {
		if (job.Every == "") == (job.Cron == "") {
			return errors.Newf("jobs[%d]: exactly one of every and cron must be set", i)
		}
		if job.Ref != "" && c.AMQP.URL == "" {
			return errors.Newf("jobs[%d]: ref %q needs amqp.url", i, job.Ref)
		}
	}

	return nil
}
