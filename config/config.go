// Package config loads the sitefeed application configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pevans/sitefeed/acquire"
	"github.com/pevans/sitefeed/cache"
	"github.com/pevans/sitefeed/locate"
	"github.com/pevans/sitefeed/logging"
)

// Profile selects a family of timeouts.
type Profile string

const (
	// ProfileStandard suits an unconstrained host.
	ProfileStandard Profile = "standard"
	// ProfileConstrained suits hosting tiers with a hard wall-clock
	// ceiling per invocation.
	ProfileConstrained Profile = "constrained"
)

// Defaults for a fresh Config.
const (
	DefaultAddr        = "localhost:8080"
	DefaultSourcesPath = "sources.yaml"
	DefaultStatusDSN   = "status.db"
)

var (
	ErrUnknownProfile = errors.New("profile must be standard or constrained")
	ErrMissingAddr    = errors.New("addr is required")
	ErrMissingSources = errors.New("sources path is required")
	ErrInvalidTTL     = errors.New("cache ttl must be positive")
)

// Config is the structure of config.yaml.
type Config struct {
	Addr string `yaml:"addr"`
	// PublicURL is the externally visible base URL, used for feed self
	// links. Empty omits them.
	PublicURL   string         `yaml:"public_url"`
	Profile     Profile        `yaml:"profile"`
	SourcesPath string         `yaml:"sources"`
	StatusDSN   string         `yaml:"status_dsn"`
	Logging     logging.Config `yaml:"logging"`
	Cache       CacheConfig    `yaml:"cache"`
	Browser     BrowserConfig  `yaml:"browser"`

	// Timeouts override individual values of the profile.
	Timeouts    acquire.Timeouts `yaml:"timeouts"`
	RescanDelay time.Duration    `yaml:"rescan_delay"`
	RunBudget   time.Duration    `yaml:"run_budget"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// BrowserConfig configures the browser and the session limit.
type BrowserConfig struct {
	acquire.BrowserOptions `yaml:",inline"`
	MaxSessions            int64 `yaml:"max_sessions"`
}

// ProfileSettings are the values a profile fixes.
type ProfileSettings struct {
	Timeouts    acquire.Timeouts
	RescanDelay time.Duration
	RunBudget   time.Duration
}

// SettingsFor returns the built-in settings of a profile.
func SettingsFor(p Profile) (ProfileSettings, error) {
	switch p {
	case ProfileStandard, "":
		return ProfileSettings{
			Timeouts:    acquire.StandardTimeouts(),
			RescanDelay: locate.DefaultRescanDelay,
			RunBudget:   2 * time.Minute,
		}, nil
	case ProfileConstrained:
		return ProfileSettings{
			Timeouts:    acquire.ConstrainedTimeouts(),
			RescanDelay: 750 * time.Millisecond,
			RunBudget:   25 * time.Second,
		}, nil
	default:
		return ProfileSettings{}, fmt.Errorf("%w: %q", ErrUnknownProfile, p)
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Addr:        DefaultAddr,
		Profile:     ProfileStandard,
		SourcesPath: DefaultSourcesPath,
		StatusDSN:   DefaultStatusDSN,
		Logging:     logging.Config{Level: "info"},
		Cache:       CacheConfig{TTL: cache.DefaultTTL},
		Browser: BrowserConfig{
			BrowserOptions: acquire.BrowserOptions{Headless: true},
			MaxSessions:    acquire.DefaultMaxSessions,
		},
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return ErrMissingAddr
	}
	if strings.TrimSpace(c.SourcesPath) == "" {
		return ErrMissingSources
	}
	if _, err := SettingsFor(c.Profile); err != nil {
		return err
	}
	if c.Cache.TTL <= 0 {
		return ErrInvalidTTL
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// Settings resolves the profile and applies any explicit overrides.
func (c *Config) Settings() (ProfileSettings, error) {
	s, err := SettingsFor(c.Profile)
	if err != nil {
		return ProfileSettings{}, err
	}

	t := c.Timeouts
	override(&s.Timeouts.Navigation, t.Navigation)
	override(&s.Timeouts.NavigationSlow, t.NavigationSlow)
	override(&s.Timeouts.SelectorWait, t.SelectorWait)
	override(&s.Timeouts.ChallengeWait, t.ChallengeWait)
	override(&s.Timeouts.ChallengePoll, t.ChallengePoll)
	override(&s.Timeouts.SlotWait, t.SlotWait)
	override(&s.RescanDelay, c.RescanDelay)
	override(&s.RunBudget, c.RunBudget)
	return s, nil
}

func override(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
