package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/vonshlovens/catalogsync/internal/model"
)

const appName = "catalogsync"

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database" validate:"required"`
	Import    ImportConfig    `mapstructure:"import" yaml:"import"`
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`
	SyncQueue SyncQueueConfig `mapstructure:"sync_queue" yaml:"sync_queue"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host           string `mapstructure:"host" yaml:"host" validate:"required"`
	Port           int    `mapstructure:"port" yaml:"port" validate:"required,min=1,max=65535"`
	User           string `mapstructure:"user" yaml:"user" validate:"required"`
	Password       string `mapstructure:"password" yaml:"password" validate:"required"`
	Database       string `mapstructure:"database" yaml:"database" validate:"required"`
	Schema         string `mapstructure:"schema" yaml:"schema"`
	SSLMode        string `mapstructure:"sslmode" yaml:"sslmode"`
	ConnectRetries int    `mapstructure:"connect_retries" yaml:"connect_retries" validate:"min=0,max=20"`
}

// ImportConfig controls the import orchestrator
type ImportConfig struct {
	PlaylistDelayMs int    `mapstructure:"playlist_delay_ms" yaml:"playlist_delay_ms" validate:"min=0"`
	IntervalMinutes int    `mapstructure:"interval_minutes" yaml:"interval_minutes" validate:"min=0"`
	StateFile       string `mapstructure:"state_file" yaml:"state_file"`
}

// PlaylistDelay returns the pause between song and playlist phases.
func (c ImportConfig) PlaylistDelay() time.Duration {
	return time.Duration(c.PlaylistDelayMs) * time.Millisecond
}

// ProvidersConfig holds one section per source provider
type ProvidersConfig struct {
	Local      LocalConfig       `mapstructure:"local" yaml:"local"`
	MediaStore MediaStoreConfig  `mapstructure:"mediastore" yaml:"mediastore"`
	Jellyfin   MediaServerConfig `mapstructure:"jellyfin" yaml:"jellyfin"`
	Emby       MediaServerConfig `mapstructure:"emby" yaml:"emby"`
	Plex       PlexConfig        `mapstructure:"plex" yaml:"plex"`
}

// LocalConfig configures the filesystem scanner
type LocalConfig struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
	Roots           []string `mapstructure:"roots" yaml:"roots" validate:"required_if=Enabled true,dive,dir"`
	Extensions      []string `mapstructure:"extensions" yaml:"extensions"`
	IncludePatterns []string `mapstructure:"include_patterns" yaml:"include_patterns"`
	IgnorePatterns  []string `mapstructure:"ignore_patterns" yaml:"ignore_patterns"`
}

// MediaStoreConfig configures the device media index reader
type MediaStoreConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path" validate:"required_if=Enabled true,omitempty,file"`
}

// MediaServerConfig configures a Jellyfin or Emby server
type MediaServerConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url" validate:"required_if=Enabled true,omitempty,url"`
	Token          string `mapstructure:"token" yaml:"token" validate:"required_if=Enabled true"`
	UserID         string `mapstructure:"user_id" yaml:"user_id" validate:"required_if=Enabled true"`
	PageSize       int    `mapstructure:"page_size" yaml:"page_size" validate:"min=0,max=5000"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds" validate:"min=0"`
}

// PlexConfig configures a Plex server
type PlexConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	BaseURL        string   `mapstructure:"base_url" yaml:"base_url" validate:"required_if=Enabled true,omitempty,url"`
	Token          string   `mapstructure:"token" yaml:"token" validate:"required_if=Enabled true"`
	SectionIDs     []string `mapstructure:"section_ids" yaml:"section_ids" validate:"required_if=Enabled true"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds" validate:"min=0"`
}

// SyncQueueConfig controls the replay worker
type SyncQueueConfig struct {
	Enabled             bool `mapstructure:"enabled" yaml:"enabled"`
	PollIntervalSeconds int  `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds" validate:"min=1"`
	BatchSize           int  `mapstructure:"batch_size" yaml:"batch_size" validate:"min=1"`
	MaxRetries          int  `mapstructure:"max_retries" yaml:"max_retries" validate:"min=1,max=100"`
}

// PollInterval returns the replay polling interval.
func (c SyncQueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// WatchConfig controls re-imports triggered by filesystem changes
type WatchConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	DebounceMs int  `mapstructure:"debounce_ms" yaml:"debounce_ms" validate:"min=0"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" validate:"min=0"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// TelemetryConfig controls OpenTelemetry export
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool   `mapstructure:"insecure" yaml:"insecure"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, sslMode,
	)
	if d.Schema != "" {
		connStr += "&search_path=" + d.Schema + ",public"
	}
	return connStr
}

// EnabledProviders returns the provider types switched on in the config,
// in a stable order.
func (c *Config) EnabledProviders() []model.ProviderType {
	var out []model.ProviderType
	if c.Providers.Local.Enabled {
		out = append(out, model.ProviderLocal)
	}
	if c.Providers.MediaStore.Enabled {
		out = append(out, model.ProviderMediaStore)
	}
	if c.Providers.Jellyfin.Enabled {
		out = append(out, model.ProviderJellyfin)
	}
	if c.Providers.Emby.Enabled {
		out = append(out, model.ProviderEmby)
	}
	if c.Providers.Plex.Enabled {
		out = append(out, model.ProviderPlex)
	}
	return out
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Port:           5432,
			Schema:         appName,
			SSLMode:        "require",
			ConnectRetries: 5,
		},
		Import: ImportConfig{
			PlaylistDelayMs: 500,
		},
		Providers: ProvidersConfig{
			Local: LocalConfig{
				Extensions: []string{".mp3", ".flac", ".m4a", ".ogg", ".opus", ".wav", ".aac", ".wma", ".aiff"},
				IgnorePatterns: []string{
					"**/.*/**",
					"**/@eaDir/**",
				},
			},
			Jellyfin: MediaServerConfig{PageSize: 500, TimeoutSeconds: 30},
			Emby:     MediaServerConfig{PageSize: 500, TimeoutSeconds: 30},
			Plex:     PlexConfig{TimeoutSeconds: 30},
		},
		SyncQueue: SyncQueueConfig{
			Enabled:             true,
			PollIntervalSeconds: 30,
			BatchSize:           50,
			MaxRetries:          3,
		},
		Watch: WatchConfig{
			DebounceMs: 2000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{
			ServiceName: appName,
		},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("CATALOGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay if we have environment variables
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Providers.Jellyfin.Token = os.ExpandEnv(cfg.Providers.Jellyfin.Token)
	cfg.Providers.Emby.Token = os.ExpandEnv(cfg.Providers.Emby.Token)
	cfg.Providers.Plex.Token = os.ExpandEnv(cfg.Providers.Plex.Token)

	for i, root := range cfg.Providers.Local.Roots {
		cfg.Providers.Local.Roots[i] = expandPath(root)
	}
	cfg.Providers.MediaStore.DatabasePath = expandPath(cfg.Providers.MediaStore.DatabasePath)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Import.StateFile = expandPath(cfg.Import.StateFile)

	if cfg.Database.Schema == "" {
		cfg.Database.Schema = appName
	} else {
		cfg.Database.Schema = SanitizeIdentifier(cfg.Database.Schema)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment variables can override
// settings that are absent from the config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.database", d.Database.Database)
	v.SetDefault("database.schema", d.Database.Schema)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.connect_retries", d.Database.ConnectRetries)

	v.SetDefault("import.playlist_delay_ms", d.Import.PlaylistDelayMs)
	v.SetDefault("import.interval_minutes", d.Import.IntervalMinutes)
	v.SetDefault("import.state_file", d.Import.StateFile)

	v.SetDefault("providers.local.enabled", d.Providers.Local.Enabled)
	v.SetDefault("providers.local.roots", d.Providers.Local.Roots)
	v.SetDefault("providers.local.extensions", d.Providers.Local.Extensions)
	v.SetDefault("providers.local.include_patterns", d.Providers.Local.IncludePatterns)
	v.SetDefault("providers.local.ignore_patterns", d.Providers.Local.IgnorePatterns)

	v.SetDefault("providers.mediastore.enabled", d.Providers.MediaStore.Enabled)
	v.SetDefault("providers.mediastore.database_path", d.Providers.MediaStore.DatabasePath)

	for name, s := range map[string]MediaServerConfig{"jellyfin": d.Providers.Jellyfin, "emby": d.Providers.Emby} {
		prefix := "providers." + name + "."
		v.SetDefault(prefix+"enabled", s.Enabled)
		v.SetDefault(prefix+"base_url", s.BaseURL)
		v.SetDefault(prefix+"token", s.Token)
		v.SetDefault(prefix+"user_id", s.UserID)
		v.SetDefault(prefix+"page_size", s.PageSize)
		v.SetDefault(prefix+"timeout_seconds", s.TimeoutSeconds)
	}

	v.SetDefault("providers.plex.enabled", d.Providers.Plex.Enabled)
	v.SetDefault("providers.plex.base_url", d.Providers.Plex.BaseURL)
	v.SetDefault("providers.plex.token", d.Providers.Plex.Token)
	v.SetDefault("providers.plex.section_ids", d.Providers.Plex.SectionIDs)
	v.SetDefault("providers.plex.timeout_seconds", d.Providers.Plex.TimeoutSeconds)

	v.SetDefault("sync_queue.enabled", d.SyncQueue.Enabled)
	v.SetDefault("sync_queue.poll_interval_seconds", d.SyncQueue.PollIntervalSeconds)
	v.SetDefault("sync_queue.batch_size", d.SyncQueue.BatchSize)
	v.SetDefault("sync_queue.max_retries", d.SyncQueue.MaxRetries)

	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.debounce_ms", d.Watch.DebounceMs)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()

	// Register custom validation for directory existence
	validate.RegisterValidation("dir", func(fl validator.FieldLevel) bool {
		path := fl.Field().String()
		if path == "" {
			return false
		}
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		return info.IsDir()
	})

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// getConfigDir returns the appropriate config directory for the OS
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", appName)
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, appName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appName)
	}
}

// GetStateDir returns the directory for storing state files
func GetStateDir() (string, error) {
	dir := getConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

// StateFilePath returns where the import state is kept.
func (c *Config) StateFilePath() (string, error) {
	if c.Import.StateFile != "" {
		return c.Import.StateFile, nil
	}
	dir, err := GetStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "import-state.json"), nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}

var (
	invalidIdentChars = regexp.MustCompile(`[^a-z0-9_]`)
	repeatedUnderline = regexp.MustCompile(`_+`)
)

// SanitizeIdentifier converts a name into a valid PostgreSQL identifier
// (lowercase, letters, digits and underscores, at most 63 characters).
func SanitizeIdentifier(name string) string {
	name = strings.ToLower(name)

	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")

	name = invalidIdentChars.ReplaceAllString(name, "")
	name = repeatedUnderline.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")

	if len(name) == 0 {
		name = appName
	} else if unicode.IsDigit(rune(name[0])) {
		name = appName + "_" + name
	}

	// PostgreSQL max identifier length is 63 characters
	if len(name) > 63 {
		name = name[:63]
		name = strings.TrimRight(name, "_")
	}

	return name
}
