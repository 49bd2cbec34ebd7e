// Package config loads service settings from flags, environment and .env
// files, plus the draw catalog from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"prizedraw/internal/draw"
)

const EnvPrefix = "prizedraw"

// Keys double as flag names; env vars are PRIZEDRAW_<KEY> with '-' as '_'.
const (
	KeyAddr          = "addr"
	KeyDBPath        = "db-path"
	KeyBackupDir     = "backup-dir"
	KeyLogLevel      = "log-level"
	KeyLockTimeout   = "lock-timeout"
	KeyOpStaleAfter  = "op-stale-after"
	KeySweepInterval = "sweep-interval"
	KeyHoldWarn      = "hold-warn"
	KeyTimezone      = "timezone"
	KeyCatalog       = "catalog"
	KeyRedisURL      = "redis-url"
	KeyRedisList     = "redis-list"
	KeyRedisChannel  = "redis-channel"
	KeyServer        = "server"
)

type Config struct {
	Addr          string
	DBPath        string
	BackupDir     string
	LogLevel      string
	LockTimeout   time.Duration
	OpStaleAfter  time.Duration
	SweepInterval time.Duration
	HoldWarn      time.Duration
	Location      *time.Location
	Catalog       draw.Catalog
	RedisURL      string
	RedisList     string
	RedisChannel  string
}

// Init loads .env files and wires environment lookup into v.
func Init(v *viper.Viper) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// AddServeFlags registers the server flags on cmd.
func AddServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String(KeyAddr, ":8080", "HTTP listen address")
	f.String(KeyDBPath, "prizedraw.db", "sqlite database file")
	f.String(KeyBackupDir, "backups", "directory for database backups")
	f.String(KeyLogLevel, "info", "log level (debug, info, warn, error)")
	f.Duration(KeyLockTimeout, 30*time.Second, "default resource lock timeout")
	f.Duration(KeyOpStaleAfter, 30*time.Second, "age after which an active draw trigger is considered stale")
	f.Duration(KeySweepInterval, 5*time.Second, "maintenance sweep interval")
	f.Duration(KeyHoldWarn, time.Minute, "warn about locks held longer than this")
	f.String(KeyTimezone, "UTC", "IANA timezone used to compute draw periods")
	f.String(KeyCatalog, "", "draw catalog YAML file (built-in daily/weekly/monthly when empty)")
	f.String(KeyRedisURL, "", "redis URL for winner announcements (disabled when empty)")
	f.String(KeyRedisList, "prizedraw:announcements", "redis list receiving announcements")
	f.String(KeyRedisChannel, "prizedraw.announcements", "redis pub/sub channel for announcements")
}

// AddClientFlags registers the flags used by commands that talk to a server.
func AddClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String(KeyServer, "http://localhost:8080", "prizedraw server base URL")
}

// Load reads every server setting from v and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Addr:          v.GetString(KeyAddr),
		DBPath:        v.GetString(KeyDBPath),
		BackupDir:     v.GetString(KeyBackupDir),
		LogLevel:      v.GetString(KeyLogLevel),
		LockTimeout:   v.GetDuration(KeyLockTimeout),
		OpStaleAfter:  v.GetDuration(KeyOpStaleAfter),
		SweepInterval: v.GetDuration(KeySweepInterval),
		HoldWarn:      v.GetDuration(KeyHoldWarn),
		RedisURL:      v.GetString(KeyRedisURL),
		RedisList:     v.GetString(KeyRedisList),
		RedisChannel:  v.GetString(KeyRedisChannel),
	}
	if cfg.DBPath == "" {
		return Config{}, fmt.Errorf("%s is required", KeyDBPath)
	}
	if cfg.LockTimeout < 0 || cfg.OpStaleAfter < 0 {
		return Config{}, fmt.Errorf("timeouts must not be negative")
	}

	tz := v.GetString(KeyTimezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("timezone %q: %w", tz, err)
	}
	cfg.Location = loc

	cfg.Catalog = draw.DefaultCatalog()
	if path := v.GetString(KeyCatalog); path != "" {
		cat, err := LoadCatalog(path)
		if err != nil {
			return Config{}, err
		}
		cfg.Catalog = cat
	}
	return cfg, nil
}

type catalogFile struct {
	Draws []draw.DrawSpec `yaml:"draws"`
}

// LoadCatalog reads a YAML draw catalog:
//
//	draws:
//	  - name: daily
//	    cadence: daily
//	    prize_amount: 1000
//	    currency: USD
//	    cooldown_days: 7
func LoadCatalog(path string) (draw.Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(b)
}

func ParseCatalog(b []byte) (draw.Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Draws) == 0 {
		return nil, fmt.Errorf("catalog has no draws")
	}
	cat := make(draw.Catalog, len(f.Draws))
	for i, d := range f.Draws {
		switch {
		case d.Name == "":
			return nil, fmt.Errorf("catalog draw #%d: name required", i+1)
		case !d.Cadence.Valid():
			return nil, fmt.Errorf("catalog draw %q: %w %q", d.Name, draw.ErrInvalidCadence, d.Cadence)
		case d.PrizeAmount <= 0:
			return nil, fmt.Errorf("catalog draw %q: prize_amount must be > 0", d.Name)
		case d.CooldownDays < 0:
			return nil, fmt.Errorf("catalog draw %q: cooldown_days must be >= 0", d.Name)
		}
		if _, dup := cat[d.Name]; dup {
			return nil, fmt.Errorf("catalog draw %q defined twice", d.Name)
		}
		if d.Currency == "" {
			d.Currency = "USD"
		}
		cat[d.Name] = d
	}
	return cat, nil
}
