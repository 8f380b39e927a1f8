package config

import (
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
telegram:
  token: tg-token
  channel_id: -1001234567890
github:
  token: gh-token
  owner: someorg
  repo: dao-docs
chain:
  rpc: https://rpc.example.org
`

// clearSecretEnv keeps ambient environment variables from leaking into
// config tests.
func clearSecretEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("ETH_RPC", "")
}

func TestParseAppliesDefaults(t *testing.T) {
	clearSecretEnv(t)

	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Schedule != "*/5 * * * *" {
		t.Fatalf("Schedule = %q", cfg.Schedule)
	}
	if cfg.Chain.LookbackBlocks != 50 {
		t.Fatalf("LookbackBlocks = %d", cfg.Chain.LookbackBlocks)
	}
	if cfg.Snapshot.Space != "ens.eth" || cfg.Snapshot.PageSize != 10 {
		t.Fatalf("snapshot defaults wrong: %+v", cfg.Snapshot)
	}
	if cfg.Docs.EpochYear != 2025 || cfg.Docs.TermOffset != 6 {
		t.Fatalf("docs numbering defaults wrong: %+v", cfg.Docs)
	}
	if cfg.GitHub.UpstreamOwner != "someorg" {
		t.Fatalf("UpstreamOwner = %q, want owner fallback", cfg.GitHub.UpstreamOwner)
	}
	if cfg.TickBudget() != 45*time.Second {
		t.Fatalf("TickBudget = %v", cfg.TickBudget())
	}
}

func TestParseEnvOverridesFile(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv("TELEGRAM_TOKEN", "from-env")

	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("Token = %q, want env value", cfg.Telegram.Token)
	}
}

func TestParseMissingRequired(t *testing.T) {
	clearSecretEnv(t)

	tests := []struct {
		name string
		drop string
		want string
	}{
		{name: "telegram token", drop: "  token: tg-token\n", want: "telegram.token"},
		{name: "channel id", drop: "  channel_id: -1001234567890\n", want: "telegram.channel_id"},
		{name: "github owner", drop: "  owner: someorg\n", want: "github.owner"},
		{name: "rpc", drop: "  rpc: https://rpc.example.org\n", want: "chain.rpc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(strings.Replace(minimalYAML, tt.drop, "", 1)))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not name %q", err, tt.want)
			}
		})
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	clearSecretEnv(t)

	if _, err := Parse([]byte(minimalYAML + "surprise: true\n")); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseRejectsBadTickTimeout(t *testing.T) {
	clearSecretEnv(t)

	if _, err := Parse([]byte(minimalYAML + "tick_timeout: soon\n")); err == nil {
		t.Fatal("bad duration accepted")
	}
}
