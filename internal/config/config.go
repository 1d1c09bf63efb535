// Package config loads tada settings from defaults, the global file
// (~/.tada/config.yaml), the project file (./.tada/config.yaml) and
// TADA_* environment variables, later sources winning.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModeLocal  = "local"
	ModeRemote = "remote"

	dirName  = ".tada"
	fileName = "config.yaml"
)

type Config struct {
	// Mode selects the store: "local" opens DataPath directly,
	// "remote" talks to a `todo serve` instance at ServerURL.
	Mode      string `mapstructure:"mode"`
	DataPath  string `mapstructure:"data_path"`
	ServerURL string `mapstructure:"server_url"`

	// Secret is the HS256 key. Servers require it; clients may leave it
	// empty and trust the server to verify tokens.
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`

	Listen         string `mapstructure:"listen"`
	CredentialsDir string `mapstructure:"credentials_dir"`
	Theme          string `mapstructure:"theme"`
}

func Default() *Config {
	home := homeDir()
	return &Config{
		Mode:           ModeLocal,
		DataPath:       filepath.Join(home, dirName, "tada.db"),
		ServerURL:      "http://127.0.0.1:8787",
		TokenTTL:       24 * time.Hour,
		Listen:         "127.0.0.1:8787",
		CredentialsDir: filepath.Join(home, dirName),
		Theme:          "classic",
	}
}

// Load merges every source. explicit, when non-empty, replaces the
// global and project files.
func Load(explicit string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	var paths []string
	if explicit != "" {
		paths = []string{explicit}
	} else {
		paths = []string{GlobalPath(), ProjectPath()}
	}
	for _, p := range paths {
		if err := mergeFile(v, p); err != nil {
			if explicit == "" && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config %s: %w", p, err)
		}
	}

	v.SetEnvPrefix("TADA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLocal:
		if c.DataPath == "" {
			return fmt.Errorf("config: data_path is required in local mode")
		}
	case ModeRemote:
		if c.ServerURL == "" {
			return fmt.Errorf("config: server_url is required in remote mode")
		}
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("mode", d.Mode)
	v.SetDefault("data_path", d.DataPath)
	v.SetDefault("server_url", d.ServerURL)
	v.SetDefault("secret", d.Secret)
	v.SetDefault("token_ttl", d.TokenTTL)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("credentials_dir", d.CredentialsDir)
	v.SetDefault("theme", d.Theme)
}

func mergeFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	return v.MergeInConfig()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// GlobalPath is ~/.tada/config.yaml.
func GlobalPath() string {
	return filepath.Join(homeDir(), dirName, fileName)
}

// ProjectPath is ./.tada/config.yaml.
func ProjectPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(dirName, fileName)
	}
	return filepath.Join(cwd, dirName, fileName)
}
