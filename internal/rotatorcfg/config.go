package rotatorcfg

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Partition PartitionConfig `yaml:"partition"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Lock      LockConfig      `yaml:"lock"`
	Redis     RedisConfig     `yaml:"redis"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type DatabaseConfig struct {
	DSN               string `yaml:"dsn"`
	MaxConns          int    `yaml:"max_conns"`
	ConnMaxLifetimeMs int    `yaml:"conn_max_lifetime_ms"`
	// Upper bound for one batch round trip. Bootstrap batches on slow disks take minutes.
	TimeoutMs int `yaml:"timeout_ms"`
}

func (d DatabaseConfig) Timeout() time.Duration { return time.Duration(d.TimeoutMs) * time.Millisecond }

// PartitionConfig carries the window parameters and the logical names the
// generated DDL refers to. It is immutable once loaded.
type PartitionConfig struct {
	DatabaseName            string `yaml:"database_name"`
	TableName               string `yaml:"table_name"`
	FilePrefix              string `yaml:"file_prefix"`
	StoragePath             string `yaml:"storage_path"`
	FunctionName            string `yaml:"function_name"`
	SchemeName              string `yaml:"scheme_name"`
	FileSizeMB              int    `yaml:"file_size_mb"`
	FileMaxSizeMB           int    `yaml:"file_max_size_mb"`
	FileGrowthMB            int    `yaml:"file_growth_mb"`
	RetentionDays           int    `yaml:"retention_days"`
	TaskIntervalDays        int    `yaml:"task_interval_days"`
	LookaheadPartitionCount int    `yaml:"lookahead_partition_count"`
	KeyColumn               string `yaml:"key_column"`
	PartitionColumn         string `yaml:"partition_column"`
}

// RetentionLength is the number of trailing partitions kept bound.
func (p PartitionConfig) RetentionLength() int {
	if p.TaskIntervalDays <= 0 {
		return 0
	}
	return p.RetentionDays / p.TaskIntervalDays
}

type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval"`
	TimeZone string        `yaml:"time_zone"`
}

// Location resolves TimeZone; "" and "Local" mean the process zone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.TimeZone == "" || strings.EqualFold(s.TimeZone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(s.TimeZone)
}

const (
	LockLocal = "local"
	LockRedis = "redis"
	LockStore = "store"
)

type LockConfig struct {
	Backend string        `yaml:"backend"`
	Expiry  time.Duration `yaml:"expiry"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Buffer int    `yaml:"buffer"`
	Output string `yaml:"output"`
}

// envOverrides is filled from ROTATOR_* variables after the file is parsed.
type envOverrides struct {
	DBDSN         string `envconfig:"DB_DSN"`
	DBDSNFile     string `envconfig:"DB_DSN_FILE"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisPassFile string `envconfig:"REDIS_PASSWORD_FILE"`
	LockBackend   string `envconfig:"LOCK_BACKEND"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	p := &c.Partition
	if p.FileSizeMB <= 0 { p.FileSizeMB = 5 }
	if p.FileMaxSizeMB <= 0 { p.FileMaxSizeMB = 100 }
	if p.FileGrowthMB <= 0 { p.FileGrowthMB = 5 }
	if p.TaskIntervalDays <= 0 { p.TaskIntervalDays = 1 }
	if p.RetentionDays <= 0 { p.RetentionDays = 30 }
	if p.LookaheadPartitionCount <= 0 { p.LookaheadPartitionCount = 3 }
	if p.KeyColumn == "" { p.KeyColumn = "Id" }
	if p.PartitionColumn == "" { p.PartitionColumn = "CreateTime" }
	if p.FunctionName == "" && p.TableName != "" { p.FunctionName = p.TableName + "PartitionFunction" }
	if p.SchemeName == "" && p.TableName != "" { p.SchemeName = p.TableName + "PartitionScheme" }
	if p.FilePrefix == "" && p.TableName != "" { p.FilePrefix = p.TableName + "File" }

	if c.Database.MaxConns <= 0 { c.Database.MaxConns = 4 }
	if c.Database.TimeoutMs <= 0 { c.Database.TimeoutMs = 600000 }
	if c.Schedule.Interval <= 0 {
		c.Schedule.Interval = time.Duration(p.TaskIntervalDays) * 24 * time.Hour
	}
	if c.Lock.Backend == "" { c.Lock.Backend = LockLocal }
	// A tick holds the lock across the inventory read and both batches.
	if c.Lock.Expiry <= 0 { c.Lock.Expiry = 2*c.Database.Timeout() + 5*time.Minute }
	if c.Redis.KeyPrefix == "" { c.Redis.KeyPrefix = "rotator:" }
	if c.Server.Listen == "" { c.Server.Listen = ":7601" }
	if c.Logging.Buffer <= 0 { c.Logging.Buffer = 4096 }
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("ROTATOR", &env); err != nil {
		return fmt.Errorf("env: %w", err)
	}
	if env.DBDSN != "" { c.Database.DSN = env.DBDSN }
	if env.DBDSNFile != "" {
		if b, err := os.ReadFile(env.DBDSNFile); err == nil { c.Database.DSN = strings.TrimSpace(string(b)) }
	}
	if env.RedisAddr != "" { c.Redis.Addr = env.RedisAddr }
	if env.RedisPassword != "" { c.Redis.Password = env.RedisPassword }
	if env.RedisPassFile != "" {
		if b, err := os.ReadFile(env.RedisPassFile); err == nil { c.Redis.Password = strings.TrimSpace(string(b)) }
	}
	if env.LockBackend != "" { c.Lock.Backend = strings.ToLower(env.LockBackend) }
	if env.LogLevel != "" { c.Logging.Level = env.LogLevel }
	return nil
}

// Validate checks the window arithmetic and backend selection. Identifier
// charsets are checked by the DDL builder, which owns the templates.
func (c *Config) Validate() error {
	p := c.Partition
	if p.DatabaseName == "" || p.TableName == "" {
		return fmt.Errorf("partition: database_name and table_name are required")
	}
	if p.StoragePath == "" {
		return fmt.Errorf("partition: storage_path is required")
	}
	if p.TaskIntervalDays <= 0 {
		return fmt.Errorf("partition: task_interval_days must be > 0")
	}
	if p.RetentionDays < p.TaskIntervalDays {
		return fmt.Errorf("partition: retention_days (%d) must be >= task_interval_days (%d)", p.RetentionDays, p.TaskIntervalDays)
	}
	if p.LookaheadPartitionCount < 1 {
		return fmt.Errorf("partition: lookahead_partition_count must be >= 1")
	}
	if p.FileMaxSizeMB < p.FileSizeMB {
		return fmt.Errorf("partition: file_max_size_mb (%d) is below file_size_mb (%d)", p.FileMaxSizeMB, p.FileSizeMB)
	}
	switch c.Lock.Backend {
	case LockLocal:
	case LockStore:
		if c.Database.MaxConns < 2 {
			return fmt.Errorf("lock: store backend holds one connection for the whole tick, database.max_conns must be >= 2 (got %d)", c.Database.MaxConns)
		}
	case LockRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("lock: redis backend needs redis.addr")
		}
		if need := 2 * c.Database.Timeout(); c.Lock.Expiry <= need {
			return fmt.Errorf("lock: expiry %v must exceed two batch timeouts (%v)", c.Lock.Expiry, need)
		}
	default:
		return fmt.Errorf("lock: unknown backend %q", c.Lock.Backend)
	}
	if _, err := c.Schedule.Location(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("db=%s table=%s window=%d+%d lock=%s",
		c.Partition.DatabaseName, c.Partition.TableName,
		c.Partition.RetentionLength(), c.Partition.LookaheadPartitionCount, c.Lock.Backend)
}
