// Package settings loads the process's runtime configuration: document paths,
// server options and one credential bundle per external system.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

const (
	defaultListen           = ":8080"
	defaultAuditTimeout     = 60 * time.Second
	defaultConnectorTimeout = 20 * time.Second
	defaultRateLimit        = 60
)

// Settings is the runtime configuration file.
type Settings struct {
	StatePath  string                 `toml:"state"`
	PolicyPath string                 `toml:"policy"`
	LogLevel   string                 `toml:"log_level"`
	Audit      Audit                  `toml:"audit"`
	Server     Server                 `toml:"server"`
	Approval   Approval               `toml:"approval"`
	Connectors map[string]Credentials `toml:"connectors"`
}

// Audit bounds audit runtime.
type Audit struct {
	Timeout          desired.Duration `toml:"timeout"`
	ConnectorTimeout desired.Duration `toml:"connector_timeout"`
}

// Server configures the administrative API.
type Server struct {
	Listen        string `toml:"listen"`
	JWTSecret     string `toml:"jwt_secret"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RateLimit     int    `toml:"rate_limit"`
}

// Approval configures the messaging integration used for approvals.
type Approval struct {
	BaseURL       string `toml:"base_url"`
	Token         string `toml:"token"`
	SigningSecret string `toml:"signing_secret"`
	Channel       string `toml:"channel"`
}

// Enabled reports whether approval requests can be sent.
func (a Approval) Enabled() bool {
	return a.Token != "" && a.Channel != ""
}

// Credentials is one system's secret bundle. Connectors decide which fields
// they need; a bundle missing them yields an unconfigured connector.
type Credentials struct {
	BaseURL string           `toml:"base_url"`
	Token   string           `toml:"token"`
	DSN     string           `toml:"dsn"`
	Project string           `toml:"project"`
	Team    string           `toml:"team"`
	Timeout desired.Duration `toml:"timeout"`
}

// Load reads path, expands ${VAR} references from the environment and applies defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, reconerrors.NewParseError(path, 0, err)
	}
	return Parse(data, path, os.LookupEnv)
}

// Parse decodes settings from data using lookup for variable expansion.
func Parse(data []byte, source string, lookup func(string) (string, bool)) (*Settings, error) {
	var s Settings
	meta, err := toml.Decode(string(data), &s)
	if err != nil {
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return nil, reconerrors.NewParseError(source, perr.Position.Line, err)
		}
		return nil, reconerrors.NewParseError(source, 0, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, reconerrors.NewParseError(source, 0, fmt.Errorf("unknown key %q", undecoded[0].String()))
	}

	s.expand(lookup)
	s.applyDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Credentials returns the bundle for system, if any.
func (s *Settings) Credentials(system string) (Credentials, bool) {
	if s == nil {
		return Credentials{}, false
	}
	c, ok := s.Connectors[system]
	return c, ok
}

func (s *Settings) expand(lookup func(string) (string, bool)) {
	ex := func(v string) string {
		return os.Expand(v, func(name string) string {
			value, _ := lookup(name)
			return value
		})
	}

	s.StatePath = ex(s.StatePath)
	s.PolicyPath = ex(s.PolicyPath)
	s.Server.JWTSecret = ex(s.Server.JWTSecret)
	s.Server.RedisAddr = ex(s.Server.RedisAddr)
	s.Server.RedisPassword = ex(s.Server.RedisPassword)
	s.Approval.Token = ex(s.Approval.Token)
	s.Approval.SigningSecret = ex(s.Approval.SigningSecret)
	s.Approval.BaseURL = ex(s.Approval.BaseURL)
	for name, c := range s.Connectors {
		c.BaseURL = ex(c.BaseURL)
		c.Token = ex(c.Token)
		c.DSN = ex(c.DSN)
		c.Project = ex(c.Project)
		c.Team = ex(c.Team)
		s.Connectors[name] = c
	}
}

func (s *Settings) applyDefaults() {
	if s.StatePath == "" {
		s.StatePath = "desired.yaml"
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.Audit.Timeout.Duration <= 0 {
		s.Audit.Timeout.Duration = defaultAuditTimeout
	}
	if s.Audit.ConnectorTimeout.Duration <= 0 {
		s.Audit.ConnectorTimeout.Duration = defaultConnectorTimeout
	}
	if s.Server.Listen == "" {
		s.Server.Listen = defaultListen
	}
	if s.Server.RateLimit <= 0 {
		s.Server.RateLimit = defaultRateLimit
	}
	if s.Approval.BaseURL == "" {
		s.Approval.BaseURL = "https://slack.com/api"
	}
	if s.Connectors == nil {
		s.Connectors = map[string]Credentials{}
	}
}

func (s *Settings) validate() error {
	for name := range s.Connectors {
		if !desired.IsSystem(name) {
			return reconerrors.NewValidationError("connectors", fmt.Sprintf("unknown system %q", strings.TrimSpace(name)), nil)
		}
	}
	if s.Audit.ConnectorTimeout.Duration > s.Audit.Timeout.Duration {
		return reconerrors.NewValidationError("audit.connector_timeout", "must not exceed audit.timeout", nil)
	}
	return nil
}
