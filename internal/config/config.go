// Package config loads and validates the notifier configuration.
//
// The file holds the non-secret knobs; secrets (bot token, GitHub token, RPC
// endpoint) are taken from the environment and only fall back to the file for
// local development setups. Required values missing at startup are a fatal
// error, never a per-tick one.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Log LogConfig `yaml:"log,omitempty"`

	// Schedule is a cron spec for the pipeline tick (5 or 6 fields, or a
	// descriptor like "@every 5m").
	Schedule string `yaml:"schedule,omitempty"`

	// TickTimeout is a Go duration string bounding one pipeline run.
	// Use "0s" to disable the budget.
	TickTimeout string `yaml:"tick_timeout,omitempty"`

	Telegram TelegramConfig `yaml:"telegram"`
	GitHub   GitHubConfig   `yaml:"github"`
	Chain    ChainConfig    `yaml:"chain"`
	Snapshot SnapshotConfig `yaml:"snapshot,omitempty"`
	Docs     DocsConfig     `yaml:"docs,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level,omitempty"`
}

type TelegramConfig struct {
	// Token is overridden by TELEGRAM_TOKEN when set.
	Token     string `yaml:"token,omitempty"`
	ChannelID int64  `yaml:"channel_id"`
}

type GitHubConfig struct {
	// Token is overridden by GITHUB_TOKEN when set.
	Token string `yaml:"token,omitempty"`
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`

	// UpstreamOwner is the owner of the repo pull requests target in a fork
	// workflow. Empty means Owner.
	UpstreamOwner string `yaml:"upstream_owner,omitempty"`

	// DevMode redirects pull requests back into Owner/Repo regardless of
	// UpstreamOwner.
	DevMode bool `yaml:"dev_mode,omitempty"`
}

type ChainConfig struct {
	// RPC is overridden by ETH_RPC when set.
	RPC      string `yaml:"rpc,omitempty"`
	Governor string `yaml:"governor,omitempty"`

	// LookbackBlocks is the window scanned behind the head each tick.
	LookbackBlocks uint64 `yaml:"lookback_blocks,omitempty"`
}

type SnapshotConfig struct {
	Endpoint string `yaml:"endpoint,omitempty"`
	Space    string `yaml:"space,omitempty"`
	PageSize int    `yaml:"page_size,omitempty"`
}

type DocsConfig struct {
	Dir        string `yaml:"dir,omitempty"`
	BaseBranch string `yaml:"base_branch,omitempty"`

	// EpochYear and TermOffset anchor document numbering:
	// term = (currentYear - EpochYear) + TermOffset.
	EpochYear  int `yaml:"epoch_year,omitempty"`
	TermOffset int `yaml:"term_offset,omitempty"`
}

type StoreConfig struct {
	Path string `yaml:"path,omitempty"`
}

const (
	defaultSchedule    = "*/5 * * * *"
	defaultTickTimeout = "45s"
	defaultGovernor    = "0x323A76393544d5ecca80cd6ef2A560C6a395b7E3"
	defaultLookback    = 50
	defaultEndpoint    = "https://hub.snapshot.org/graphql"
	defaultSpace       = "ens.eth"
	defaultPageSize    = 10
	defaultDocsDir     = "src/pages/dao/proposals"
	defaultBaseBranch  = "master"
	defaultEpochYear   = 2025
	defaultTermOffset  = 6
	defaultStorePath   = "./data/govbot.db"
)

// Load reads, defaults and validates the config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML strictly, applies env overrides and defaults, and
// validates the result.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv("ETH_RPC"); v != "" {
		c.Chain.RPC = v
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = defaultSchedule
	}
	if strings.TrimSpace(c.TickTimeout) == "" {
		c.TickTimeout = defaultTickTimeout
	}
	if strings.TrimSpace(c.Chain.Governor) == "" {
		c.Chain.Governor = defaultGovernor
	}
	if c.Chain.LookbackBlocks == 0 {
		c.Chain.LookbackBlocks = defaultLookback
	}
	if strings.TrimSpace(c.Snapshot.Endpoint) == "" {
		c.Snapshot.Endpoint = defaultEndpoint
	}
	if strings.TrimSpace(c.Snapshot.Space) == "" {
		c.Snapshot.Space = defaultSpace
	}
	if c.Snapshot.PageSize <= 0 {
		c.Snapshot.PageSize = defaultPageSize
	}
	if strings.TrimSpace(c.Docs.Dir) == "" {
		c.Docs.Dir = defaultDocsDir
	}
	if strings.TrimSpace(c.Docs.BaseBranch) == "" {
		c.Docs.BaseBranch = defaultBaseBranch
	}
	if c.Docs.EpochYear == 0 {
		c.Docs.EpochYear = defaultEpochYear
	}
	if c.Docs.TermOffset == 0 {
		c.Docs.TermOffset = defaultTermOffset
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = defaultStorePath
	}
	if strings.TrimSpace(c.GitHub.UpstreamOwner) == "" {
		c.GitHub.UpstreamOwner = c.GitHub.Owner
	}
}

// Validate is the fatal startup gate: any missing required value aborts the
// process before the first tick.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token (or TELEGRAM_TOKEN) is required"))
	}
	if c.Telegram.ChannelID == 0 {
		errs = append(errs, errors.New("telegram.channel_id is required"))
	}
	if strings.TrimSpace(c.GitHub.Token) == "" {
		errs = append(errs, errors.New("github.token (or GITHUB_TOKEN) is required"))
	}
	if strings.TrimSpace(c.GitHub.Owner) == "" {
		errs = append(errs, errors.New("github.owner is required"))
	}
	if strings.TrimSpace(c.GitHub.Repo) == "" {
		errs = append(errs, errors.New("github.repo is required"))
	}
	if strings.TrimSpace(c.Chain.RPC) == "" {
		errs = append(errs, errors.New("chain.rpc (or ETH_RPC) is required"))
	}
	if _, err := time.ParseDuration(c.TickTimeout); err != nil {
		errs = append(errs, fmt.Errorf("tick_timeout: %w", err))
	}
	return errors.Join(errs...)
}

// TickBudget returns the parsed per-tick wall-clock budget.
// Zero means no budget. Validate guarantees the string parses.
func (c *Config) TickBudget() time.Duration {
	d, _ := time.ParseDuration(c.TickTimeout)
	return d
}
