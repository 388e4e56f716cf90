package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/kebairia/smb-snapshots/internal/command"
	"github.com/spf13/viper"
)

// DefaultPath is where the configuration is looked up without --config.
const DefaultPath = "/etc/smb-snapshots.yaml"

// EnvPrefix prefixes environment overrides, e.g. SMB_SNAPSHOTS_SNAPSHOTS_RETENTION.
const EnvPrefix = "SMB_SNAPSHOTS"

// ErrConfigNotFound indicates that no configuration file exists at the path.
var ErrConfigNotFound = errors.New("configuration file not found")

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// Config represents the top-level YAML configuration file.
type Config struct {
	Include     []string          `mapstructure:"include"     yaml:"include,omitempty"`
	Snapshots   SnapshotsConfig   `mapstructure:"snapshots"   yaml:"snapshots"`
	Hooks       HooksConfig       `mapstructure:"hooks"       yaml:"hooks"`
	Directories DirectoriesConfig `mapstructure:"directories" yaml:"directories"`
	Journal     JournalConfig     `mapstructure:"journal"     yaml:"journal"`
	Log         LogConfig         `mapstructure:"log"         yaml:"log"`
}

// SnapshotsConfig contains the options of a snapshot run.
type SnapshotsConfig struct {
	Retention        int           `mapstructure:"retention"         yaml:"retention"`
	Reflink          string        `mapstructure:"reflink"           yaml:"reflink"`
	StrictFilesystem bool          `mapstructure:"strict_filesystem" yaml:"strict_filesystem"`
	LockFile         string        `mapstructure:"lock_file"         yaml:"lock_file"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"   yaml:"command_timeout"`
}

// HooksConfig holds the commands run around the snapshots. Each one is a
// shell string or a list of arguments.
type HooksConfig struct {
	PreExec  command.Command `mapstructure:"pre_exec"  yaml:"pre_exec,omitempty"`
	PostExec command.Command `mapstructure:"post_exec" yaml:"post_exec,omitempty"`
}

// DirectoriesConfig locates shares and their snapshots.
type DirectoriesConfig struct {
	SharesRoot    string   `mapstructure:"shares_root"    yaml:"shares_root"`
	SnapshotsRoot string   `mapstructure:"snapshots_root" yaml:"snapshots_root"`
	Shares        []string `mapstructure:"shares"         yaml:"shares"`
}

// JournalConfig specifies where run records go and how many to keep.
type JournalConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Keep      int    `mapstructure:"keep"      yaml:"keep"`
}

// LogConfig configures the log file.
type LogConfig struct {
	File       string `mapstructure:"file"        yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("snapshots.retention", 210)
	v.SetDefault("snapshots.reflink", "auto")
	v.SetDefault("snapshots.strict_filesystem", false)
	v.SetDefault("snapshots.lock_file", "/run/smb-snapshots.pid")
	v.SetDefault("snapshots.command_timeout", "0s")
	v.SetDefault("journal.directory", "/var/lib/smb-snapshots")
	v.SetDefault("journal.keep", 100)
	v.SetDefault("log.file", "/var/log/smb-snapshots.log")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, unmarshals into the Config struct and validates it.
func (c *Config) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("%w: stat %s: %v", ErrLoadConfig, path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// Read base configuration
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
	}

	// Merge include files (if any)
	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	// Unmarshal into the Config struct
	if err := v.UnmarshalExact(c, viper.DecodeHook(decodeHook())); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return c.Validate()
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		commandHook,
		commaListHook,
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

var (
	commandType     = reflect.TypeOf(command.Command{})
	stringSliceType = reflect.TypeOf([]string{})
)

// commandHook turns a string or a list into a command.Command.
func commandHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != commandType {
		return data, nil
	}
	return command.FromValue(data)
}

// commaListHook accepts "a, b, c" wherever a list of strings is expected.
func commaListHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != stringSliceType {
		return data, nil
	}
	raw := data.(string)
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}
