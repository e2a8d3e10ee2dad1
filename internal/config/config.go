package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Login failure policies.
const (
	LoginFailureFail   = "fail"
	LoginFailureStatic = "static"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	Server      struct {
		Address      string        `mapstructure:"address"`
		PublicURL    string        `mapstructure:"public_url"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Store struct {
		Driver   string `mapstructure:"driver"`
		DSN      string `mapstructure:"dsn"`
		Database string `mapstructure:"database"`
	} `mapstructure:"store"`
	Engine struct {
		InstanceURL      string        `mapstructure:"instance_url"`
		APIKey           string        `mapstructure:"api_key"`
		Username         string        `mapstructure:"username"`
		Password         string        `mapstructure:"password"`
		StaticAuthCookie string        `mapstructure:"static_auth_cookie"`
		StaticBrowserID  string        `mapstructure:"static_browser_id"`
		RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"engine"`
	Session struct {
		Provider         string        `mapstructure:"provider"`
		TTL              time.Duration `mapstructure:"ttl"`
		ValidateSchedule string        `mapstructure:"validate_schedule"`
		OnLoginFailure   string        `mapstructure:"on_login_failure"`
		LoginRate        time.Duration `mapstructure:"login_rate"`
		LoginTimeout     time.Duration `mapstructure:"login_timeout"`
		Headless         bool          `mapstructure:"headless"`
		BrowserBin       string        `mapstructure:"browser_bin"`
	} `mapstructure:"session"`
	Executor struct {
		Timeout     time.Duration `mapstructure:"timeout"`
		PollInitial time.Duration `mapstructure:"poll_initial"`
		PollMax     time.Duration `mapstructure:"poll_max"`
		MaxRetries  int           `mapstructure:"max_retries"`
	} `mapstructure:"executor"`
	Auth struct {
		Enabled         bool   `mapstructure:"enabled"`
		Issuer          string `mapstructure:"issuer"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "prod")
	v.SetDefault("server.address", ":6545")
	v.SetDefault("server.public_url", "http://localhost:6545")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 150*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database", "bridge")
	v.SetDefault("engine.request_timeout", 10*time.Second)
	v.SetDefault("session.provider", "browser")
	v.SetDefault("session.ttl", 6*24*time.Hour)
	v.SetDefault("session.validate_schedule", "@every 10m")
	v.SetDefault("session.on_login_failure", LoginFailureFail)
	v.SetDefault("session.login_rate", 5*time.Second)
	v.SetDefault("session.login_timeout", 60*time.Second)
	v.SetDefault("session.headless", true)
	v.SetDefault("executor.timeout", 120*time.Second)
	v.SetDefault("executor.poll_initial", 250*time.Millisecond)
	v.SetDefault("executor.poll_max", 5*time.Second)
	v.SetDefault("executor.max_retries", 3)
}

// LoadConfig loads the configuration from a file and the environment. An empty
// path searches for config.yaml in the working directory and ./config. A .env
// file in the working directory is applied to the process environment first.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Engine.InstanceURL = normalizeURL(config.Engine.InstanceURL)
	config.Server.PublicURL = normalizeURL(config.Server.PublicURL)
	config.Auth.Issuer = normalizeURL(config.Auth.Issuer)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.Engine.InstanceURL == "" {
		return errors.New("engine.instance_url is required")
	}
	switch c.Session.OnLoginFailure {
	case LoginFailureFail:
	case LoginFailureStatic:
		if c.Engine.StaticAuthCookie == "" {
			return errors.New("session.on_login_failure=static requires engine.static_auth_cookie")
		}
	default:
		return fmt.Errorf("unknown session.on_login_failure %q", c.Session.OnLoginFailure)
	}
	if c.Executor.Timeout <= 0 {
		return errors.New("executor.timeout must be positive")
	}
	return nil
}

// normalizeURL removes any trailing slash so that paths can be appended
// without producing double separators.
func normalizeURL(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
