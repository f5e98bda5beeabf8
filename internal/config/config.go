// Package config loads libship configuration from defaults, an optional
// config file, and environment variables.
//
// Precedence, lowest to highest: built-in defaults, libship.yaml (or the
// file given via --config), LIBSHIP_-prefixed environment variables. A
// local .env file is loaded into the process environment first, so values
// placed there behave like regular environment overrides.
//
// The defaults reproduce the credentials and paths the original publish
// scripts hardcoded; everything is overridable.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mmr-tortoise/libship/internal/model"
)

// Config holds all configuration for a libship run.
type Config struct {
	Image    ImageConfig
	Database DatabaseConfig
	Runner   RunnerConfig
	Clean    CleanConfig
}

// ImageConfig describes the builder image.
type ImageConfig struct {
	// Name and Tag form the image reference the build step tags.
	Name string
	Tag  string

	// ContextDir is the build context directory. Defaults to ".".
	ContextDir string

	// Dockerfile is the Dockerfile path relative to the context.
	Dockerfile string
}

// Ref returns the full image reference (name:tag).
func (c ImageConfig) Ref() string {
	return c.Name + ":" + c.Tag
}

// DatabaseConfig describes the throwaway MySQL service shared by all
// library builds in a run.
type DatabaseConfig struct {
	// Image is the MySQL container image.
	Image string

	// RootPassword, User, Password and Name configure the MySQL instance
	// via its standard environment variables.
	RootPassword string
	User         string
	Password     string
	Name         string

	// Port is the MySQL port, published to the same port on the host.
	Port int

	// Alias is the network alias builder containers reach the database
	// under.
	Alias string

	// ReadyTimeout bounds how long the orchestrator waits for the
	// database to accept connections before giving up.
	ReadyTimeout time.Duration

	// ReadyInterval is the delay between readiness probes.
	ReadyInterval time.Duration
}

// DSN returns a go-sql-driver/mysql connection string for host-side
// readiness probes against the published port.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(127.0.0.1:%d)/%s", c.User, c.Password, c.Port, c.Name)
}

// Env returns the MySQL container environment.
func (c DatabaseConfig) Env() []string {
	return []string{
		"MYSQL_ROOT_PASSWORD=" + c.RootPassword,
		"MYSQL_USER=" + c.User,
		"MYSQL_PASSWORD=" + c.Password,
		"MYSQL_DATABASE=" + c.Name,
	}
}

// RunnerConfig controls the per-library orchestration loop.
type RunnerConfig struct {
	// MountPrefix is the container-side directory each library is mounted
	// under (mount path = prefix + library name).
	MountPrefix string

	// Command is the packaging command executed inside each builder
	// container, in its library's mount path.
	Command []string

	// Libraries is the default library set used when neither CLI
	// arguments nor a manifest provide one.
	Libraries []string

	// FailFast stops the loop on the first failure, marking the remaining
	// libraries as skipped. Off by default: the loop historically always
	// attempted every library.
	FailFast bool

	// RemoveImage removes the builder image during teardown.
	RemoveImage bool
}

// CleanConfig controls the stale-artifact sweep that precedes the image
// build.
type CleanConfig struct {
	// TargetDir is the build-output directory name to remove ("target").
	TargetDir string

	// SkipMarker is a path segment that exempts a subtree from the sweep.
	SkipMarker string
}

// DefaultLibraries is the fixed library set processed when no argument,
// manifest or config overrides it.
var DefaultLibraries = []string{"sqllib", "configlib", "cachelib", "apilib"}

// Load reads configuration with the standard precedence. explicitFile, if
// non-empty, names a config file that must exist; otherwise libship.yaml
// is looked up in the working directory and is optional.
func Load(explicitFile string) (*Config, error) {
	// .env is a developer convenience; a missing file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if explicitFile != "" {
		v.SetConfigFile(explicitFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, model.WrapCLIError(model.ExitConfigError,
				fmt.Sprintf("failed to read config file %s", explicitFile), err)
		}
	} else {
		v.SetConfigName("libship")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, model.WrapCLIError(model.ExitConfigError, "failed to read config file", err)
			}
			// No config file: defaults and env vars only.
		}
	}

	// LIBSHIP_DATABASE_PASSWORD overrides database.password, etc.
	v.SetEnvPrefix("LIBSHIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Image: ImageConfig{
			Name:       v.GetString("image.name"),
			Tag:        v.GetString("image.tag"),
			ContextDir: v.GetString("image.context"),
			Dockerfile: v.GetString("image.dockerfile"),
		},
		Database: DatabaseConfig{
			Image:         v.GetString("database.image"),
			RootPassword:  v.GetString("database.root_password"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			Name:          v.GetString("database.name"),
			Port:          v.GetInt("database.port"),
			Alias:         v.GetString("database.alias"),
			ReadyTimeout:  v.GetDuration("database.ready_timeout"),
			ReadyInterval: v.GetDuration("database.ready_interval"),
		},
		Runner: RunnerConfig{
			MountPrefix: v.GetString("runner.mount_prefix"),
			Command:     v.GetStringSlice("runner.command"),
			Libraries:   v.GetStringSlice("runner.libraries"),
			FailFast:    v.GetBool("runner.fail_fast"),
			RemoveImage: v.GetBool("runner.remove_image"),
		},
		Clean: CleanConfig{
			TargetDir:  v.GetString("clean.target_dir"),
			SkipMarker: v.GetString("clean.skip_marker"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "invalid configuration", err)
	}
	return cfg, nil
}

// Validate checks invariants the rest of the code relies on.
func (c *Config) Validate() error {
	if c.Image.Name == "" || c.Image.Tag == "" {
		return fmt.Errorf("image name and tag must not be empty")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("database port %d out of range (1-65535)", c.Database.Port)
	}
	if c.Database.Alias == "" {
		return fmt.Errorf("database alias must not be empty")
	}
	if c.Database.ReadyTimeout <= 0 {
		return fmt.Errorf("database ready timeout must be positive")
	}
	if len(c.Runner.Command) == 0 {
		return fmt.Errorf("runner command must not be empty")
	}
	if c.Runner.MountPrefix == "" {
		return fmt.Errorf("runner mount prefix must not be empty")
	}
	if c.Clean.TargetDir == "" {
		return fmt.Errorf("clean target dir must not be empty")
	}
	return nil
}

// setDefaults registers the built-in defaults. The literals mirror the
// original publish scripts: pylibs-builder:latest, MySQL on 3306 under the
// "mysql" alias, libraries mounted under /srv/src, pyb publish.
func setDefaults(v *viper.Viper) {
	v.SetDefault("image.name", "pylibs-builder")
	v.SetDefault("image.tag", "latest")
	v.SetDefault("image.context", ".")
	v.SetDefault("image.dockerfile", "Dockerfile")

	v.SetDefault("database.image", "mysql:8.0")
	v.SetDefault("database.root_password", "root")
	v.SetDefault("database.user", "pylibs")
	v.SetDefault("database.password", "pylibs")
	v.SetDefault("database.name", "pylibs")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.alias", "mysql")
	v.SetDefault("database.ready_timeout", 60*time.Second)
	v.SetDefault("database.ready_interval", 2*time.Second)

	v.SetDefault("runner.mount_prefix", "/srv/src/")
	v.SetDefault("runner.command", []string{"pyb", "install_dependencies", "publish", "-v"})
	v.SetDefault("runner.libraries", DefaultLibraries)
	v.SetDefault("runner.fail_fast", false)
	v.SetDefault("runner.remove_image", false)

	v.SetDefault("clean.target_dir", "target")
	v.SetDefault("clean.skip_marker", ".venv")
}
