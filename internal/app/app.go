// Package app wires the notifier together: it builds every collaborator from
// the validated config (no package-level clients) and drives the pipeline on
// a cron schedule.
package app

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"govbot/internal/config"
	"govbot/internal/ens"
	"govbot/internal/pipeline"
	"govbot/internal/sink"
	"govbot/internal/source"
	"govbot/internal/store"
)

type App struct {
	cfg     *config.Config
	cfgPath string
	log     zerolog.Logger

	eth    *ethclient.Client
	ledger store.Store
	pipe   *pipeline.Pipeline
	cron   *cron.Cron
}

// New constructs all collaborators. Any failure here is fatal for the
// process; nothing is retried at startup.
func New(cfg *config.Config, cfgPath string) (*App, error) {
	log := newLogger(cfg.Log.Level)

	eth, err := ethclient.Dial(cfg.Chain.RPC)
	if err != nil {
		return nil, fmt.Errorf("chain rpc: %w", err)
	}

	chain, err := source.NewChain(eth, common.HexToAddress(cfg.Chain.Governor), cfg.Chain.LookbackBlocks, comp(log, "chain"))
	if err != nil {
		eth.Close()
		return nil, err
	}
	indexer := source.NewIndexer(cfg.Snapshot.Endpoint, cfg.Snapshot.Space, cfg.Snapshot.PageSize, nil, comp(log, "indexer"))

	chat, err := sink.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChannelID, comp(log, "telegram"))
	if err != nil {
		eth.Close()
		return nil, err
	}
	docs := sink.NewGitHub(sink.GitHubParams{
		Token:         cfg.GitHub.Token,
		Owner:         cfg.GitHub.Owner,
		Repo:          cfg.GitHub.Repo,
		UpstreamOwner: cfg.GitHub.UpstreamOwner,
		DevMode:       cfg.GitHub.DevMode,
		Dir:           cfg.Docs.Dir,
		BaseBranch:    cfg.Docs.BaseBranch,
		EpochYear:     cfg.Docs.EpochYear,
		TermOffset:    cfg.Docs.TermOffset,
	}, comp(log, "github"))

	ledger, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("ledger: %w", err)
	}

	pipe := pipeline.New(
		[]pipeline.Source{chain, indexer},
		ens.NewResolver(eth, comp(log, "ens")),
		chat, docs, ledger,
		comp(log, "pipeline"),
	)

	return &App{cfg: cfg, cfgPath: cfgPath, log: log, eth: eth, ledger: ledger, pipe: pipe}, nil
}

// Start registers the tick schedule and begins running. It returns once the
// scheduler is up; ticks run in cron's goroutine.
func (a *App) Start(ctx context.Context) error {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(a.cfg.Schedule, func() { a.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", a.cfg.Schedule, err)
	}
	a.cron = c
	c.Start()

	// Only the log level is runtime-tunable; secrets and endpoints are
	// fixed until restart.
	if err := config.Watch(ctx, a.cfgPath, comp(a.log, "config"), func(next *config.Config) {
		applyLevel(next.Log.Level, a.log)
	}); err != nil {
		a.log.Warn().Err(err).Msg("config watcher unavailable")
	}

	notifySystemd(ctx, a.log)
	a.log.Info().Str("schedule", a.cfg.Schedule).Msg("notifier started")
	return nil
}

// tick runs one pipeline invocation under the configured wall-clock budget.
// Overlapping ticks are possible when a run outlasts the schedule interval;
// the ledger bounds the damage to duplicate dispatches, so no lock is taken.
func (a *App) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Any("panic", r).Str("stack", string(debug.Stack())).Msg("tick panicked")
		}
	}()

	tctx := ctx
	if budget := a.cfg.TickBudget(); budget > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	start := time.Now()
	if err := a.pipe.Run(tctx); err != nil {
		a.log.Error().Err(err).Dur("took", time.Since(start)).Msg("tick finished degraded")
		return
	}
	a.log.Debug().Dur("took", time.Since(start)).Msg("tick finished")
}

func (a *App) Stop(ctx context.Context) error {
	if a.cron != nil {
		// Wait for an in-flight tick, but never past the caller's deadline.
		select {
		case <-a.cron.Stop().Done():
		case <-ctx.Done():
		}
	}
	if a.eth != nil {
		a.eth.Close()
	}
	return a.ledger.Close()
}

func newLogger(level string) zerolog.Logger {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02T15:04:05.000Z07:00"}).
		With().Timestamp().Logger()
	applyLevel(level, log)
	return log
}

func applyLevel(level string, log zerolog.Logger) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, keeping current")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

// notifySystemd reports readiness and feeds the watchdog when running under
// systemd. Outside systemd both calls are no-ops.
func notifySystemd(ctx context.Context, log zerolog.Logger) {
	if ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady); ok {
		log.Debug().Msg("systemd notified ready")
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

func comp(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("comp", name).Logger()
}
