// Package pipeline is the per-tick orchestrator: fetch from all sources,
// filter already-seen proposals, enrich, compose, dispatch to the sinks,
// record. It is the only component with a notion of "run"; everything it
// calls is a stateless request/response collaborator except the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"govbot/internal/compose"
	"govbot/internal/proposal"
	"govbot/internal/store"
)

// Source yields the recent proposal window of one origin. An empty slice is
// a quiet window; an error is an outage and must not look like quiet.
type Source interface {
	Name() string
	FetchRecent(ctx context.Context) ([]proposal.Event, error)
}

// ChatSink delivers one notification message.
type ChatSink interface {
	Send(ctx context.Context, text string) error
}

// DocSink publishes one proposal document.
type DocSink interface {
	Publish(ctx context.Context, ev proposal.Event, doc, author, title string) error
}

// Resolver maps a proposer address to a display name. It never fails; at
// worst it returns a truncated address.
type Resolver interface {
	Resolve(ctx context.Context, addr common.Address) string
}

type Pipeline struct {
	sources  []Source
	resolver Resolver
	chat     ChatSink
	docs     DocSink
	ledger   store.Store
	log      zerolog.Logger
}

// New assembles a pipeline. Sources are fetched and their items processed in
// the given order.
func New(sources []Source, resolver Resolver, chat ChatSink, docs DocSink, ledger store.Store, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		sources:  sources,
		resolver: resolver,
		chat:     chat,
		docs:     docs,
		ledger:   ledger,
		log:      log,
	}
}

// Run executes one tick. Error policy (see DESIGN.md):
//
//   - A source fetch error skips that source's window for this tick; items
//     fetched from the other source still process. Nothing from the failed
//     source is recorded, so its window retries next tick.
//   - A dispatch error skips only the failed item, leaving it unrecorded for
//     retry; remaining items still process.
//   - A ledger error aborts the tick: without the dedup check every further
//     dispatch could be a duplicate.
//
// All failures are folded into the returned error so the operator sees the
// tick as degraded even when parts of it succeeded.
func (p *Pipeline) Run(ctx context.Context) error {
	var errs []error

	var events []proposal.Event
	for _, src := range p.sources {
		evs, err := src.FetchRecent(ctx)
		if err != nil {
			p.log.Error().Err(err).Str("source", src.Name()).Msg("fetch failed")
			errs = append(errs, fmt.Errorf("fetch %s: %w", src.Name(), err))
			continue
		}
		events = append(events, evs...)
	}

	for _, ev := range events {
		fatal, err := p.process(ctx, ev)
		if err == nil {
			continue
		}
		errs = append(errs, fmt.Errorf("proposal %s: %w", ev.ID, err))
		if fatal {
			p.log.Error().Err(err).Str("id", ev.ID).Msg("ledger unavailable, aborting tick")
			break
		}
		p.log.Error().Err(err).Str("id", ev.ID).Str("source", ev.Source.String()).Msg("dispatch failed, item retries next tick")
	}

	return errors.Join(errs...)
}

// process runs one item through filter → enrich → dispatch → record. The id
// is marked seen only after both dispatch attempts, so a failure (or crash)
// before recording re-dispatches the item next tick: at-least-once, with the
// ledger as the best-effort guard against more.
func (p *Pipeline) process(ctx context.Context, ev proposal.Event) (fatal bool, err error) {
	seen, err := p.ledger.Seen(ctx, ev.ID)
	if err != nil {
		return true, fmt.Errorf("ledger read: %w", err)
	}
	if seen {
		return false, nil
	}

	author := p.resolver.Resolve(ctx, ev.Proposer)
	title := ev.Title
	if title == "" {
		title, _ = compose.ExtractTitle(ev.Body)
	}

	if err := p.chat.Send(ctx, compose.Notification(ev, author, title)); err != nil {
		return false, fmt.Errorf("chat: %w", err)
	}
	if err := p.docs.Publish(ctx, ev, compose.Document(ev, author, title), author, title); err != nil {
		return false, fmt.Errorf("docs: %w", err)
	}

	if err := p.ledger.MarkSeen(ctx, ev.ID); err != nil {
		return true, fmt.Errorf("ledger write: %w", err)
	}
	p.log.Info().Str("id", ev.ID).Str("source", ev.Source.String()).Str("author", author).Msg("proposal dispatched")
	return false, nil
}
