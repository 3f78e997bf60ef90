// Package config loads service configuration from defaults, an optional YAML
// file and VITRUVIUS_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Log      Log      `koanf:"log"`
	Postgres Postgres `koanf:"postgres"`
	Redis    Redis    `koanf:"redis"`
	Temporal Temporal `koanf:"temporal"`
	Sandbox  Sandbox  `koanf:"sandbox"`
	Pipeline Pipeline `koanf:"pipeline"`
	HTTP     HTTP     `koanf:"http"`
	Otel     Otel     `koanf:"otel"`
	Neo4j    Neo4j    `koanf:"neo4j"`
	Storage  Storage  `koanf:"storage"`
	Worker   Worker   `koanf:"worker"`
}

type Log struct {
	Mode  string `koanf:"mode"`
	Level string `koanf:"level"`
}

type Postgres struct {
	// Driver is "postgres" or "sqlite". With sqlite, Name is the database file.
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	User         string `koanf:"user"`
	Password     string `koanf:"password"`
	Name         string `koanf:"name"`
	SSLMode      string `koanf:"sslmode"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// ConnString returns DSN when set, otherwise a postgres URL built from the parts.
func (p Postgres) ConnString() string {
	if strings.TrimSpace(p.DSN) != "" {
		return p.DSN
	}
	if p.Driver == "sqlite" {
		return p.Name
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   p.Host + ":" + strconv.Itoa(p.Port),
		Path:   "/" + p.Name,
	}
	q := u.Query()
	if p.SSLMode != "" {
		q.Set("sslmode", p.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type Redis struct {
	Enabled     bool          `koanf:"enabled"`
	Addr        string        `koanf:"addr"`
	DB          int           `koanf:"db"`
	Password    string        `koanf:"password"`
	Prefix      string        `koanf:"prefix"`
	TTL         time.Duration `koanf:"ttl"`
	Compress    bool          `koanf:"compress"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	Channel     string        `koanf:"channel"`
}

type Temporal struct {
	Address               string        `koanf:"address"`
	Namespace             string        `koanf:"namespace"`
	TaskQueue             string        `koanf:"task_queue"`
	ClientCertPath        string        `koanf:"client_cert_path"`
	ClientKeyPath         string        `koanf:"client_key_path"`
	ClientCAPath          string        `koanf:"client_ca_path"`
	AutoRegisterNamespace bool          `koanf:"auto_register_namespace"`
	DialMaxWait           time.Duration `koanf:"dial_max_wait"`
	ActivityTimeout       time.Duration `koanf:"activity_timeout"`
}

func (t Temporal) Enabled() bool { return strings.TrimSpace(t.Address) != "" }

type Sandbox struct {
	Enabled     bool          `koanf:"enabled"`
	MemoryMB    int           `koanf:"memory_mb"`
	CPUSeconds  int           `koanf:"cpu_seconds"`
	FileSizeMB  int           `koanf:"file_size_mb"`
	MaxElements int           `koanf:"max_elements"`
	GracePeriod time.Duration `koanf:"grace_period"`
	TempDir     string        `koanf:"temp_dir"`
}

type Pipeline struct {
	BaseProjectCost      float64 `koanf:"base_project_cost"`
	BaseProjectTimeDays  float64 `koanf:"base_project_time_days"`
	ClashMode            string  `koanf:"clash_mode"`
	ClearanceMM          float64 `koanf:"clearance_mm"`
	RetireStaleConflicts bool    `koanf:"retire_stale_conflicts"`
	// InterModelClash queues federated clash detection for the project
	// whenever one of its models finishes processing.
	InterModelClash bool `koanf:"inter_model_clash"`
}

type HTTP struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type Otel struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Environment string  `koanf:"environment"`
	Endpoint    string  `koanf:"endpoint"`
	Insecure    bool    `koanf:"insecure"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

type Neo4j struct {
	URI         string        `koanf:"uri"`
	User        string        `koanf:"user"`
	Password    string        `koanf:"password"`
	Database    string        `koanf:"database"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxPoolSize int           `koanf:"max_pool_size"`
}

type Storage struct {
	Bucket       string `koanf:"bucket"`
	EmulatorHost string `koanf:"emulator_host"`
	TempDir      string `koanf:"temp_dir"`
}

type Worker struct {
	Concurrency  int           `koanf:"concurrency"`
	PollInterval time.Duration `koanf:"poll_interval"`
	MaxAttempts  int           `koanf:"max_attempts"`
	RetryDelay   time.Duration `koanf:"retry_delay"`
	StaleRunning time.Duration `koanf:"stale_running"`
}

func Defaults() Config {
	return Config{
		Log: Log{Mode: "development", Level: "debug"},
		Postgres: Postgres{
			Driver:       "postgres",
			Host:         "localhost",
			Port:         5432,
			User:         "vitruvius",
			Name:         "vitruvius",
			SSLMode:      "disable",
			MaxOpenConns: 20,
		},
		Redis: Redis{
			Enabled:     true,
			Addr:        "localhost:6379",
			Prefix:      "vitruvius:ifc:",
			TTL:         7 * 24 * time.Hour,
			Compress:    true,
			DialTimeout: 5 * time.Second,
			Channel:     "vitruvius:events",
		},
		Temporal: Temporal{
			Namespace:       "vitruvius",
			TaskQueue:       "vitruvius-ifc",
			DialMaxWait:     60 * time.Second,
			ActivityTimeout: 2 * time.Hour,
		},
		Sandbox: Sandbox{
			Enabled:     true,
			MemoryMB:    512,
			CPUSeconds:  300,
			FileSizeMB:  50,
			MaxElements: 50000,
			GracePeriod: 5 * time.Second,
		},
		Pipeline: Pipeline{
			BaseProjectCost:      100000,
			BaseProjectTimeDays:  60,
			ClashMode:            "type_pair",
			ClearanceMM:          50,
			RetireStaleConflicts: true,
			InterModelClash:      true,
		},
		HTTP: HTTP{Enabled: true, Addr: ":8090"},
		Otel: Otel{ServiceName: "vitruvius", SampleRatio: 0.1},
		Neo4j: Neo4j{
			User:        "neo4j",
			Timeout:     10 * time.Second,
			MaxPoolSize: 50,
		},
		Worker: Worker{
			Concurrency:  4,
			PollInterval: time.Second,
			MaxAttempts:  3,
			RetryDelay:   30 * time.Second,
			StaleRunning: 30 * time.Minute,
		},
	}
}

func (c Config) Validate() error {
	switch c.Postgres.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("postgres.driver: unsupported %q", c.Postgres.Driver)
	}
	if c.Redis.Enabled {
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when redis is enabled")
		}
		if c.Redis.TTL <= 0 {
			return fmt.Errorf("redis.ttl must be positive")
		}
		if c.Redis.Prefix == "" {
			return fmt.Errorf("redis.prefix must not be empty")
		}
	}
	sb := c.Sandbox
	if sb.MemoryMB <= 0 || sb.CPUSeconds <= 0 || sb.FileSizeMB <= 0 || sb.MaxElements <= 0 {
		return fmt.Errorf("sandbox limits must be positive")
	}
	if sb.GracePeriod < 0 {
		return fmt.Errorf("sandbox.grace_period must not be negative")
	}
	p := c.Pipeline
	if p.BaseProjectCost <= 0 || p.BaseProjectTimeDays <= 0 {
		return fmt.Errorf("pipeline base project cost and time must be positive")
	}
	switch p.ClashMode {
	case "type_pair", "bounding_box":
	default:
		return fmt.Errorf("pipeline.clash_mode: unknown mode %q", p.ClashMode)
	}
	if p.ClearanceMM < 0 {
		return fmt.Errorf("pipeline.clearance_mm must not be negative")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	if c.Otel.SampleRatio < 0 || c.Otel.SampleRatio > 1 {
		return fmt.Errorf("otel.sample_ratio must be within [0,1]")
	}
	return nil
}
