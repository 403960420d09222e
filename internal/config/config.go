package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ipwatch/internal/database"
	"ipwatch/internal/history"
	"ipwatch/internal/ipaddr"
	"ipwatch/internal/logger"
	"ipwatch/internal/resolver"
	"ipwatch/internal/retry"
	"ipwatch/internal/servers"
	"ipwatch/internal/state"
	"ipwatch/internal/utils"
	"ipwatch/internal/validator"
)

var (
	AppName = "ipwatch"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. IPWATCH_MACHINE
	EnvPrefix = "IPWATCH"

	DefaultTryCount       = 10
	DefaultAttemptsPerTry = 7
	DefaultStatusListen   = "127.0.0.1:8787"
)

// ExampleConfig is shown whenever the config cannot be used
const ExampleConfig = `receiver_email=jimmy@gmail.com # destination email address
machine=Home NAS # description of this machine
try_count=10 # number of tries to detect external ip
ip_blacklist=192.168.*.*,10.*.*.* # external ips that are not allowed
`

// configNames are probed in every search directory, in order
var configNames = []string{"config.txt", "config.yaml", "config.yml", "config.conf", "config.properties"}

// Config represents the ipwatch configuration
type Config struct {
	Machine        string        `mapstructure:"machine" validate:"required"`
	ReceiverEmail  []string      `mapstructure:"receiver_email" validate:"required,min=1,dive,required"`
	TryCount       int           `mapstructure:"try_count" validate:"min=1"`
	AttemptsPerTry int           `mapstructure:"attempts_per_try" validate:"min=1"`
	IPBlacklist    string        `mapstructure:"ip_blacklist" validate:"ipglob"`
	DryRun         bool          `mapstructure:"dry_run"`
	Force          bool          `mapstructure:"force"`
	Repeat         time.Duration `mapstructure:"repeat"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	CacheDir       string        `mapstructure:"cache_dir" validate:"required"`
	ServerListFile string        `mapstructure:"server_list_file"`
	ServerListURL  string        `mapstructure:"server_list_url" validate:"omitempty,url"`
	ServerListTTL  time.Duration `mapstructure:"server_list_ttl"`

	Store   state.Config   `mapstructure:"store"`
	History history.Config `mapstructure:"history"`
	Notify  NotifyConfig   `mapstructure:"notify"`
	Status  StatusConfig   `mapstructure:"status"`
	Log     logger.Config  `mapstructure:"log"`

	// File is the config file the values were read from, if any
	File string `mapstructure:"-"`

	v *viper.Viper
}

// StatusConfig represents the read-only status server configuration
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// InvalidConfigError reports a config that cannot be used. The message
// always ends with ExampleConfig.
type InvalidConfigError struct {
	File    string // config file that could not be read or parsed
	Missing string // first required field that is absent
	Err     error
}

func (e *InvalidConfigError) Error() string {
	var b strings.Builder
	b.WriteString("Invalid config file\n")

	switch {
	case e.File != "" && (e.Err == nil || errors.Is(e.Err, fs.ErrNotExist) || errors.Is(e.Err, fs.ErrPermission)):
		fmt.Fprintf(&b, "Could not read this file: %s\nPlease create it. ", e.File)
	case e.File != "" && e.Err != nil:
		fmt.Fprintf(&b, "Could not parse this file: %s: %v\n", e.File, e.Err)
	}

	if e.Missing != "" {
		fmt.Fprintf(&b, "Missing field: %s\n", e.Missing)
	} else if e.File == "" && e.Err != nil {
		fmt.Fprintf(&b, "%v\n", e.Err)
	}

	b.WriteString("Example config file content:\n")
	b.WriteString(ExampleConfig)
	return b.String()
}

func (e *InvalidConfigError) Unwrap() error {
	return e.Err
}

// flagKeys maps command line flags to config keys
var flagKeys = map[string]string{
	"machine":          "machine",
	"receiver-email":   "receiver_email",
	"try-count":        "try_count",
	"attempts-per-try": "attempts_per_try",
	"ip-blacklist":     "ip_blacklist",
	"dry-run":          "dry_run",
	"force":            "force",
	"repeat":           "repeat",
	"fetch-timeout":    "fetch_timeout",
	"cache-dir":        "cache_dir",
	"server-list-file": "server_list_file",
	"server-list-url":  "server_list_url",
	"log-level":        "log.level",
	"status-listen":    "status.listen",
}

// DefaultSearchPaths returns the directories probed when no file is given
func DefaultSearchPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, AppName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", AppName), filepath.Join(home, "."+AppName))
	}
	return append(paths, filepath.Join("/etc", AppName))
}

// DefaultFile is the file users are asked to create
func DefaultFile() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName, "config.txt")
	}
	return "config.txt"
}

// identityKeys are required only when a notification may be sent
var identityKeys = []string{"machine", "receiver_email"}

// LoadConfig loads configuration from path, or from the first file found in
// DefaultSearchPaths when path is empty. Environment variables and changed
// flags override file values.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	return load(path, flags, true)
}

// LoadSettings is LoadConfig without the machine and receiver_email
// requirement, for commands that never notify.
func LoadSettings(path string, flags *pflag.FlagSet) (*Config, error) {
	return load(path, flags, false)
}

func load(path string, flags *pflag.FlagSet, strict bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"machine", "receiver_email", "store.path", "history.path", "history.dsn", "log.file"} {
		_ = v.BindEnv(key)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path == "" {
		path = findConfigFile(DefaultSearchPaths())
	}

	// Without any file, env and flags may still supply everything
	missingFile := ""
	if path != "" {
		path = utils.ExpandHome(path)
		if err := readConfigFile(v, path); err != nil {
			return nil, &InvalidConfigError{File: path, Err: err}
		}
	} else {
		missingFile = DefaultFile()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &InvalidConfigError{File: path, Err: fmt.Errorf("failed to unmarshal config: %w", err)}
	}
	cfg.v = v
	cfg.File = path

	cfg.normalize()

	if err := validateConfig(&cfg, strict); err != nil {
		var ice *InvalidConfigError
		if errors.As(err, &ice) && ice.Missing != "" && missingFile != "" {
			ice.File = missingFile
			ice.Err = &fs.PathError{Op: "open", Path: missingFile, Err: fs.ErrNotExist}
		}
		return nil, err
	}

	return &cfg, nil
}

// findConfigFile returns the first existing config file
func findConfigFile(dirs []string) string {
	for _, dir := range dirs {
		for _, name := range configNames {
			p := filepath.Join(utils.ExpandHome(dir), name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p
			}
		}
	}
	return ""
}

// readConfigFile reads yaml files natively and everything else as
// key = value lines.
func readConfigFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	case ".json":
		v.SetConfigType("json")
	default:
		v.SetConfigType("properties")
		data = stripInlineComments(data)
	}

	return v.ReadConfig(bytes.NewReader(data))
}

// stripInlineComments drops trailing "# ..." remarks from key = value lines
func stripInlineComments(data []byte) []byte {
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!") {
			continue
		}
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = line[:idx]
		}
		if idx := strings.Index(line, "\t#"); idx >= 0 {
			line = line[:idx]
		}
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return []byte(strings.Join(lines, "\n"))
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("try_count", DefaultTryCount)
	v.SetDefault("attempts_per_try", DefaultAttemptsPerTry)
	v.SetDefault("ip_blacklist", ipaddr.DefaultBlacklist)
	v.SetDefault("dry_run", false)
	v.SetDefault("force", false)
	v.SetDefault("repeat", time.Duration(0))
	v.SetDefault("fetch_timeout", resolver.DefaultTimeout)
	v.SetDefault("cache_dir", defaultCacheDir())
	v.SetDefault("server_list_file", "")
	v.SetDefault("server_list_url", servers.CanonicalURL)
	v.SetDefault("server_list_ttl", servers.DefaultTTL)

	// Store defaults
	v.SetDefault("store.driver", state.DriverFile)
	v.SetDefault("store.redis.addr", "127.0.0.1:6379")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key", state.DefaultRedisKey)
	v.SetDefault("store.redis.dial_timeout", 5*time.Second)
	v.SetDefault("store.redis.read_timeout", 3*time.Second)
	v.SetDefault("store.redis.write_timeout", 3*time.Second)

	// History defaults
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.driver", database.DriverSQLite)
	v.SetDefault("history.retention", time.Duration(0))

	// Notify defaults
	v.SetDefault("notify.timeout", 30*time.Second)
	v.SetDefault("notify.command.enabled", true)
	v.SetDefault("notify.command.path", DefaultMailCommand)
	v.SetDefault("notify.email.enabled", false)
	v.SetDefault("notify.email.smtp_port", 587)
	v.SetDefault("notify.webhook.enabled", false)
	v.SetDefault("notify.webhook.timeout", 10*time.Second)
	def := retry.DefaultRetryConfig()
	v.SetDefault("notify.retry.enable", def.Enable)
	v.SetDefault("notify.retry.initial_attempts", def.InitialAttempts)
	v.SetDefault("notify.retry.initial_interval", def.InitialInterval)
	v.SetDefault("notify.retry.minute_attempts", def.MinuteAttempts)
	v.SetDefault("notify.retry.minute_interval", def.MinuteInterval)

	// Status defaults
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.listen", DefaultStatusListen)

	// Log defaults
	logDef := logger.DefaultConfig()
	v.SetDefault("log.name", logDef.Name)
	v.SetDefault("log.level", logDef.Level)
	v.SetDefault("log.format", logDef.Format)
	v.SetDefault("log.max_size", logDef.MaxSize)
	v.SetDefault("log.max_backups", logDef.MaxBackups)
	v.SetDefault("log.max_age", logDef.MaxAge)
}

// defaultCacheDir returns the per-user cache directory
func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(".", "."+AppName)
}

// normalize splits list fields and resolves paths
func (cfg *Config) normalize() {
	var receivers []string
	for _, item := range cfg.ReceiverEmail {
		receivers = append(receivers, utils.SplitList(item)...)
	}
	cfg.ReceiverEmail = receivers
	if len(cfg.ReceiverEmail) == 0 {
		cfg.ReceiverEmail = nil
	}

	cfg.Machine = strings.TrimSpace(cfg.Machine)
	cfg.IPBlacklist = ipaddr.ParseBlacklist(utils.NormalizeString(cfg.IPBlacklist)).String()

	cfg.CacheDir = utils.ExpandHome(cfg.CacheDir)
	cfg.ServerListFile = utils.ExpandHome(cfg.ServerListFile)
	cfg.Store.Path = utils.ExpandHome(cfg.Store.Path)
	cfg.Log.File = utils.ExpandHome(cfg.Log.File)

	cfg.History.Path = utils.ExpandHome(cfg.History.Path)
	if cfg.History.Path == "" && cfg.CacheDir != "" && cfg.History.Driver == database.DriverSQLite {
		cfg.History.Path = filepath.Join(cfg.CacheDir, history.DefaultFileName)
	}

	if len(cfg.Notify.Email.To) == 0 {
		cfg.Notify.Email.To = cfg.ReceiverEmail
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config, strict bool) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verr *validator.Error
		if !errors.As(err, &verr) {
			return &InvalidConfigError{Err: err}
		}
		if !strict {
			verr = withoutIdentity(verr)
		}
		if len(verr.Fields) > 0 {
			missing := verr.Missing()
			for _, key := range identityKeys {
				if slices.Contains(missing, key) {
					return &InvalidConfigError{Missing: key, Err: verr}
				}
			}
			return &InvalidConfigError{Err: verr}
		}
	}

	if cfg.Repeat < 0 {
		return &InvalidConfigError{Err: fmt.Errorf("repeat cannot be negative")}
	}
	if cfg.FetchTimeout <= 0 {
		return &InvalidConfigError{Err: fmt.Errorf("fetch_timeout must be positive")}
	}

	if cfg.Store.Driver == state.DriverRedis && cfg.Store.Redis.Addr == "" {
		return &InvalidConfigError{Err: fmt.Errorf("store.redis.addr is required for the redis store")}
	}

	if cfg.History.Retention < 0 {
		return &InvalidConfigError{Err: fmt.Errorf("history.retention cannot be negative")}
	}

	if err := cfg.Notify.Validate(); err != nil {
		return &InvalidConfigError{Err: fmt.Errorf("invalid notify config: %w", err)}
	}

	logCfg := cfg.Log.SetDefaults()
	if err := logCfg.Validate(); err != nil {
		return &InvalidConfigError{Err: fmt.Errorf("invalid log config: %w", err)}
	}

	return nil
}

// withoutIdentity drops failures of the identity keys
func withoutIdentity(verr *validator.Error) *validator.Error {
	out := &validator.Error{}
	for _, f := range verr.Fields {
		if !slices.Contains(identityKeys, f.Field) {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// Blacklist returns the parsed ip_blacklist
func (cfg *Config) Blacklist() ipaddr.Blacklist {
	return ipaddr.ParseBlacklist(cfg.IPBlacklist)
}

// Write persists the effective configuration to path. Files that are not
// yaml or json are written as key = value lines.
func (cfg *Config) Write(path string) error {
	if cfg.v == nil {
		return fmt.Errorf("config was not loaded from viper")
	}
	path = utils.ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Keep the list in its comma separated form
	cfg.v.Set("receiver_email", strings.Join(cfg.ReceiverEmail, ","))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg.v.SetConfigType("yaml")
	case ".json":
		cfg.v.SetConfigType("json")
	default:
		cfg.v.SetConfigType("properties")
	}

	if err := cfg.v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
