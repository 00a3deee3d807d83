// Package config loads the bridge's YAML configuration: the administrator's
// nick, the IRC server the virtual contacts connect to, and the database
// paths. Credential-bearing fields accept either a literal value or a
// "$ENV_VAR" reference resolved at load time, so secrets can stay out of
// the config file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Admin    string         `yaml:"admin"`
	IRC      IRCConfig      `yaml:"irc"`
	DBPath   string         `yaml:"db_path"`
	Whatsapp WhatsappConfig `yaml:"whatsapp"`
}

type IRCConfig struct {
	Hostname       string `yaml:"hostname"`
	Port           int    `yaml:"port"`
	TLS            bool   `yaml:"tls"`
	Password       string `yaml:"password"`
	Channel        string `yaml:"channel"`
	WebIRCPassword string `yaml:"webirc_password"`
	VhostSuffix    string `yaml:"vhost_suffix"`
}

type WhatsappConfig struct {
	DBPath string `yaml:"db_path"`
}

const (
	defaultIRCPort     = 6667
	defaultIRCSPort    = 6697
	defaultVhostSuffix = "local"
)

// ResolveCredential returns the value itself, or — when it starts with "$" —
// the contents of the named environment variable.
func ResolveCredential(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", errors.New("credential value cannot be empty")
	}

	if strings.HasPrefix(trimmed, "$") {
		envName := strings.TrimPrefix(trimmed, "$")
		envName = strings.TrimPrefix(envName, "{")
		envName = strings.TrimSuffix(envName, "}")
		envName = strings.TrimSpace(envName)
		if envName == "" {
			return "", errors.New("credential env reference is invalid")
		}

		resolved := strings.TrimSpace(os.Getenv(envName))
		if resolved == "" {
			return "", fmt.Errorf("environment variable %q is not set", envName)
		}

		return resolved, nil
	}

	return trimmed, nil
}

// Load reads, parses, and validates the config at path. Unknown keys are an
// error, so a typo'd key fails loudly instead of silently falling back to a
// default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	if err := resolveCredentials(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.IRC.Port == 0 {
		if cfg.IRC.TLS {
			cfg.IRC.Port = defaultIRCSPort
		} else {
			cfg.IRC.Port = defaultIRCPort
		}
	}

	if cfg.IRC.VhostSuffix == "" {
		cfg.IRC.VhostSuffix = defaultVhostSuffix
	}

	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}

	if cfg.Whatsapp.DBPath == "" {
		cfg.Whatsapp.DBPath = DefaultWhatsappDBPath()
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Admin) == "" {
		return errors.New("config must set admin (the administrator's IRC nick)")
	}

	if strings.TrimSpace(cfg.IRC.Hostname) == "" {
		return errors.New("config must set irc.hostname")
	}

	if cfg.IRC.Port < 1 || cfg.IRC.Port > 65535 {
		return fmt.Errorf("irc.port %d is out of range", cfg.IRC.Port)
	}

	if cfg.IRC.Channel != "" && !strings.HasPrefix(cfg.IRC.Channel, "#") {
		return fmt.Errorf("irc.channel %q must start with #", cfg.IRC.Channel)
	}

	return nil
}

func resolveCredentials(cfg *Config) error {
	if cfg.IRC.Password != "" {
		resolved, err := ResolveCredential(cfg.IRC.Password)
		if err != nil {
			return fmt.Errorf("irc.password: %w", err)
		}
		cfg.IRC.Password = resolved
	}

	if cfg.IRC.WebIRCPassword != "" {
		resolved, err := ResolveCredential(cfg.IRC.WebIRCPassword)
		if err != nil {
			return fmt.Errorf("irc.webirc_password: %w", err)
		}
		cfg.IRC.WebIRCPassword = resolved
	}

	return nil
}
