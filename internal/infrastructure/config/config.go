package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFile         = ".env"
	DefaultConcurrency  = 15
	DefaultMaxWait      = 30
	DefaultPollInterval = 10
	DefaultHTTPTimeout  = 10
)

type SMTP struct {
	Server  string `toml:"server" yaml:"server"`
	User    string `toml:"user" yaml:"user"`
	Pass    string `toml:"pass" yaml:"pass"`
	From    string `toml:"from" yaml:"from"`
	To      string `toml:"to" yaml:"to"`
	Subject string `toml:"subject" yaml:"subject"`
}

func (s SMTP) Enabled() bool {
	return s != SMTP{}
}

// Config durations are whole seconds, as in the file format.
type Config struct {
	GroupID          uint64 `toml:"group_id" yaml:"group_id" validate:"required_without=ProjectID"`
	ProjectID        uint64 `toml:"project_id" yaml:"project_id"`
	PrivateToken     string `toml:"private_token" yaml:"private_token" validate:"required"`
	BaseURL          string `toml:"base_url" yaml:"base_url" validate:"required,url"`
	ProductionTagKey string `toml:"production_tag_key" yaml:"production_tag_key"`
	MaxWaitTime      uint64 `toml:"max_wait_time" yaml:"max_wait_time"`

	Concurrency       int     `toml:"concurrency" yaml:"concurrency" validate:"gte=0"`
	PollInterval      uint64  `toml:"poll_interval" yaml:"poll_interval"`
	HTTPTimeout       uint64  `toml:"http_timeout" yaml:"http_timeout"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	ReportPath        string  `toml:"report_path" yaml:"report_path"`
	PauseFile         string  `toml:"pause_file" yaml:"pause_file"`

	SMTP SMTP `toml:"smtp" yaml:"smtp"`
}

func (c Config) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitTime) * time.Second
}

func (c Config) Poll() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTPTimeout) * time.Second
}

// Path resolves the config file: explicit flag, then ENV_FILE, then .env.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	return getenv("ENV_FILE", DefaultFile)
}

// Load reads the file at path (missing is fine), overlays the environment on
// top of it and validates the result.
func Load(path string) (Config, error) {
	file, err := FromFile(path)
	if err != nil {
		return Config{}, err
	}

	c := withDefaults(Merge(FromEnv(), file))
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func FromFile(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &c)
	default:
		err = toml.Unmarshal(b, &c)
	}
	if err != nil {
		return c, fmt.Errorf("read %s: %w", path, err)
	}
	return c, nil
}

func FromEnv() Config {
	var c Config

	c.GroupID = envUint("GROUP_ID")
	c.ProjectID = envUint("PROJECT_ID")
	c.PrivateToken = os.Getenv("PRIVATE_TOKEN")
	c.BaseURL = os.Getenv("BASE_URL")
	c.ProductionTagKey = os.Getenv("PRODUCTION_TAG_KEY")
	c.MaxWaitTime = envUint("MAX_WAIT_TIME")

	if v := os.Getenv("CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency = n
		}
	}
	c.PollInterval = envUint("POLL_INTERVAL")
	c.HTTPTimeout = envUint("HTTP_TIMEOUT")
	if v := os.Getenv("REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RequestsPerSecond = f
		}
	}
	c.ReportPath = expandHome(os.Getenv("REPORT_PATH"))
	c.PauseFile = expandHome(os.Getenv("PAUSE_FILE"))

	c.SMTP = SMTP{
		Server:  os.Getenv("SMTP_SERVER"),
		User:    os.Getenv("SMTP_USER"),
		Pass:    os.Getenv("SMTP_PASS"),
		From:    os.Getenv("SMTP_FROM"),
		To:      os.Getenv("SMTP_TO"),
		Subject: os.Getenv("SMTP_SUBJECT"),
	}

	return c
}

// Merge fills every unset field of base from overlay.
func Merge(base, overlay Config) Config {
	out := base

	out.GroupID = pick(base.GroupID, overlay.GroupID)
	out.ProjectID = pick(base.ProjectID, overlay.ProjectID)
	out.PrivateToken = pick(base.PrivateToken, overlay.PrivateToken)
	out.BaseURL = pick(base.BaseURL, overlay.BaseURL)
	out.ProductionTagKey = pick(base.ProductionTagKey, overlay.ProductionTagKey)
	out.MaxWaitTime = pick(base.MaxWaitTime, overlay.MaxWaitTime)
	out.Concurrency = pick(base.Concurrency, overlay.Concurrency)
	out.PollInterval = pick(base.PollInterval, overlay.PollInterval)
	out.HTTPTimeout = pick(base.HTTPTimeout, overlay.HTTPTimeout)
	out.RequestsPerSecond = pick(base.RequestsPerSecond, overlay.RequestsPerSecond)
	out.ReportPath = pick(base.ReportPath, overlay.ReportPath)
	out.PauseFile = pick(base.PauseFile, overlay.PauseFile)

	out.SMTP = SMTP{
		Server:  pick(base.SMTP.Server, overlay.SMTP.Server),
		User:    pick(base.SMTP.User, overlay.SMTP.User),
		Pass:    pick(base.SMTP.Pass, overlay.SMTP.Pass),
		From:    pick(base.SMTP.From, overlay.SMTP.From),
		To:      pick(base.SMTP.To, overlay.SMTP.To),
		Subject: pick(base.SMTP.Subject, overlay.SMTP.Subject),
	}

	return out
}

func (c Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

func withDefaults(c Config) Config {
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxWaitTime == 0 {
		c.MaxWaitTime = DefaultMaxWait
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.PauseFile == "" {
		c.PauseFile = expandHome("~/.cache/ci-reconciler.paused")
	}
	c.ReportPath = expandHome(c.ReportPath)
	c.PauseFile = expandHome(c.PauseFile)
	return c
}

func pick[T comparable](base, overlay T) T {
	var zero T
	if base != zero {
		return base
	}
	return overlay
}

func envUint(k string) uint64 {
	v := os.Getenv(k)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
