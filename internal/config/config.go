package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"smartlocate/pkg/apperr"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerURL = "https://smartdriver.dev-tools.ai"
	DefaultLabelURL  = "https://smartdriver.dev-tools.ai/testcase/label"
)

type Config struct {
	AppConfig        *AppConfig
	ServiceConfig    *ServiceConfig
	ClassifyConfig   *ClassifyConfig
	BrowserConfig    *BrowserConfig
	ScreenshotConfig *ScreenshotConfig
}

type AppConfig struct {
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	Debug      bool   `envconfig:"DEBUG" default:"false"`
	ConfigFile string `envconfig:"DEVTOOLSAI_CONFIG_FILE" default:"smartdriver.yaml"`
}

// ServiceConfig has no envconfig defaults so that values from the config file
// are only overridden by variables that are actually set.
type ServiceConfig struct {
	APIKey         string        `envconfig:"DEVTOOLSAI_API_KEY" yaml:"api_key"`
	ServerURL      string        `envconfig:"DEVTOOLSAI_SERVER_URL" yaml:"server_url"`
	LabelURL       string        `envconfig:"DEVTOOLSAI_LABEL_URL" yaml:"label_url"`
	RequestTimeout time.Duration `envconfig:"DEVTOOLSAI_REQUEST_TIMEOUT" default:"30s" yaml:"-"`
}

type ClassifyConfig struct {
	Interactive  bool          `envconfig:"DEVTOOLSAI_INTERACTIVE" default:"false"`
	Timeout      time.Duration `envconfig:"DEVTOOLSAI_CLASSIFY_TIMEOUT" default:"100m"`
	PollInterval time.Duration `envconfig:"DEVTOOLSAI_POLL_INTERVAL" default:"2s"`
	AutoIngest   bool          `envconfig:"DEVTOOLSAI_AUTO_INGEST" default:"false"`
	TestRetries  int           `envconfig:"DEVTOOLSAI_TEST_RETRIES" default:"1"`
}

type BrowserConfig struct {
	Headless       bool   `envconfig:"BROWSER_HEADLESS" default:"false"`
	SlowMo         int    `envconfig:"BROWSER_SLOW_MO" default:"0"`
	Timeout        int    `envconfig:"BROWSER_TIMEOUT" default:"30000"`
	UserDataDir    string `envconfig:"BROWSER_USER_DATA_DIR" default:""`
	ViewportWidth  int    `envconfig:"BROWSER_VIEWPORT_WIDTH" default:"1280"`
	ViewportHeight int    `envconfig:"BROWSER_VIEWPORT_HEIGHT" default:"720"`
}

type ScreenshotConfig struct {
	Dir string `envconfig:"SCREENSHOT_DIR" default:"screenshots"`
}

func GetConfig() (*Config, error) {
	const op = "GetConfig"

	_ = godotenv.Load()

	var conf Config

	if err := envconfig.Process("", &conf); err != nil {
		return nil, apperr.Wrap(op, apperr.CodeConfigError, fmt.Errorf("read config from env vars: %w", err), map[string]any{
			apperr.MetaStage: apperr.StageConfig,
		})
	}

	file, err := readFile(conf.AppConfig.ConfigFile)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeConfigError, err, map[string]any{
			apperr.MetaStage:  apperr.StageConfig,
			apperr.MetaReason: "config_file_invalid",
		})
	}

	conf.ServiceConfig.merge(file)

	if err := conf.Validate(); err != nil {
		return nil, apperr.Wrap(op, apperr.CodeConfigError, err, map[string]any{
			apperr.MetaStage: apperr.StageConfig,
		})
	}

	return &conf, nil
}

// readFile loads the optional smartdriver config file. A missing file is not
// an error.
func readFile(path string) (*ServiceConfig, error) {
	if path == "" {
		return &ServiceConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &ServiceConfig{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file ServiceConfig

	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return &file, nil
}

func (s *ServiceConfig) merge(file *ServiceConfig) {
	if s.APIKey == "" {
		s.APIKey = file.APIKey
	}

	if s.ServerURL == "" {
		s.ServerURL = file.ServerURL
	}

	if s.LabelURL == "" {
		s.LabelURL = file.LabelURL
	}

	if s.ServerURL == "" {
		s.ServerURL = DefaultServerURL
	}

	if s.LabelURL == "" {
		s.LabelURL = DefaultLabelURL
	}
}

func (c *Config) Validate() error {
	if c.ServiceConfig.APIKey == "" {
		return errors.New("api key is missing: set DEVTOOLSAI_API_KEY or api_key in the smartdriver config file")
	}

	for name, raw := range map[string]string{
		"server url": c.ServiceConfig.ServerURL,
		"label url":  c.ServiceConfig.LabelURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s %q", name, raw)
		}
	}

	if c.ClassifyConfig.Timeout <= 0 {
		return errors.New("classification timeout must be positive")
	}

	if c.ClassifyConfig.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}

	if c.ClassifyConfig.TestRetries < 0 {
		return errors.New("test retries cannot be negative")
	}

	return nil
}
