package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"govbot/internal/proposal"
	"govbot/internal/store"
)

type fakeSource struct {
	name   string
	events []proposal.Event
	err    error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchRecent(context.Context) ([]proposal.Event, error) {
	return f.events, f.err
}

type fakeChat struct {
	sent           []string
	failIfContains string
}

func (c *fakeChat) Send(_ context.Context, text string) error {
	if c.failIfContains != "" && strings.Contains(text, c.failIfContains) {
		return errors.New("chat down")
	}
	c.sent = append(c.sent, text)
	return nil
}

type publishCall struct {
	id     string
	doc    string
	author string
	title  string
}

type fakeDocs struct {
	published []publishCall
	err       error
}

func (d *fakeDocs) Publish(_ context.Context, ev proposal.Event, doc, author, title string) error {
	if d.err != nil {
		return d.err
	}
	d.published = append(d.published, publishCall{id: ev.ID, doc: doc, author: author, title: title})
	return nil
}

type fakeResolver struct{ name string }

func (r *fakeResolver) Resolve(context.Context, common.Address) string { return r.name }

type brokenStore struct{}

func (brokenStore) Seen(context.Context, string) (bool, error) {
	return false, errors.New("disk gone")
}
func (brokenStore) MarkSeen(context.Context, string) error { return errors.New("disk gone") }
func (brokenStore) Close() error                           { return nil }

func onChainEvent(id, body string) proposal.Event {
	return proposal.Event{
		ID:       id,
		Source:   proposal.OnChain,
		Proposer: common.HexToAddress("0x0000000000000000000000000000000000000001"),
		Body:     body,
	}
}

func TestTickDispatchesOnceThenNever(t *testing.T) {
	t.Parallel()

	chain := &fakeSource{name: "chain", events: []proposal.Event{onChainEvent("42", "# Foo\n\nBody")}}
	chat := &fakeChat{}
	docs := &fakeDocs{}
	ledger := store.NewMemory()

	p := New([]Source{chain}, &fakeResolver{name: "nick.eth"}, chat, docs, ledger, zerolog.Nop())

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if len(chat.sent) != 1 {
		t.Fatalf("chat sends = %d, want 1", len(chat.sent))
	}
	if !strings.Contains(chat.sent[0], "42") {
		t.Fatalf("message does not mention the proposal id: %q", chat.sent[0])
	}
	if len(docs.published) != 1 {
		t.Fatalf("doc publishes = %d, want 1", len(docs.published))
	}
	if docs.published[0].title != "Foo" {
		t.Fatalf("title = %q, want Foo", docs.published[0].title)
	}
	if seen, err := ledger.Seen(context.Background(), "42"); err != nil || !seen {
		t.Fatalf("Seen(42) = %v, %v; want true, nil", seen, err)
	}

	// Same fetch result next tick: nothing new goes out.
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if len(chat.sent) != 1 || len(docs.published) != 1 {
		t.Fatalf("duplicate dispatch: chat=%d docs=%d", len(chat.sent), len(docs.published))
	}
}

func TestIndexerTitlePreferredOverBody(t *testing.T) {
	t.Parallel()

	ev := proposal.Event{ID: "0xabc", Source: proposal.OffChain, Title: "From Indexer", Body: "# From Body\n\ntext"}
	docs := &fakeDocs{}
	p := New([]Source{&fakeSource{name: "indexer", events: []proposal.Event{ev}}},
		&fakeResolver{name: "a.eth"}, &fakeChat{}, docs, store.NewMemory(), zerolog.Nop())

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if docs.published[0].title != "From Indexer" {
		t.Fatalf("title = %q, want the indexer's", docs.published[0].title)
	}
}

func TestPerItemIsolation(t *testing.T) {
	t.Parallel()

	chain := &fakeSource{name: "chain", events: []proposal.Event{
		onChainEvent("111", "# First\n\nbody"),
		onChainEvent("222", "# Second\n\nbody"),
	}}
	chat := &fakeChat{failIfContains: "111"}
	docs := &fakeDocs{}
	ledger := store.NewMemory()

	p := New([]Source{chain}, &fakeResolver{name: "nick.eth"}, chat, docs, ledger, zerolog.Nop())

	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected tick error for the failed item")
	}
	if len(docs.published) != 1 || docs.published[0].id != "222" {
		t.Fatalf("healthy item not processed: %+v", docs.published)
	}
	if seen, _ := ledger.Seen(context.Background(), "111"); seen {
		t.Fatal("failed item must stay unrecorded for retry")
	}
	if seen, _ := ledger.Seen(context.Background(), "222"); !seen {
		t.Fatal("healthy item not recorded")
	}

	// Next tick the chat sink recovers and the failed item goes out.
	chat.failIfContains = ""
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("retry tick: %v", err)
	}
	if seen, _ := ledger.Seen(context.Background(), "111"); !seen {
		t.Fatal("retried item not recorded")
	}
}

func TestSourceIndependence(t *testing.T) {
	t.Parallel()

	chain := &fakeSource{name: "chain", err: errors.New("rpc unreachable")}
	indexer := &fakeSource{name: "indexer", events: []proposal.Event{
		{ID: "0xdef", Source: proposal.OffChain, Title: "Social", Body: "text"},
	}}
	chat := &fakeChat{}
	ledger := store.NewMemory()

	p := New([]Source{chain, indexer}, &fakeResolver{name: "a.eth"}, chat, &fakeDocs{}, ledger, zerolog.Nop())

	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("fetch outage must surface in the tick error")
	}
	if len(chat.sent) != 1 {
		t.Fatalf("indexer item not processed despite chain outage: sends=%d", len(chat.sent))
	}
	if seen, _ := ledger.Seen(context.Background(), "0xdef"); !seen {
		t.Fatal("indexer item not recorded")
	}
}

func TestRecordOnlyAfterDispatch(t *testing.T) {
	t.Parallel()

	chain := &fakeSource{name: "chain", events: []proposal.Event{onChainEvent("77", "# X\n\nbody")}}
	chat := &fakeChat{}
	docs := &fakeDocs{err: errors.New("api limit")}
	ledger := store.NewMemory()

	p := New([]Source{chain}, &fakeResolver{name: "nick.eth"}, chat, docs, ledger, zerolog.Nop())

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected tick error")
	}
	// Chat already went out, but the failed publish leaves the id
	// unrecorded: the duplicate chat message next tick is the accepted
	// at-least-once cost.
	if len(chat.sent) != 1 {
		t.Fatalf("chat sends = %d, want 1", len(chat.sent))
	}
	if seen, _ := ledger.Seen(context.Background(), "77"); seen {
		t.Fatal("id recorded despite failed dispatch")
	}
}

func TestLedgerErrorAbortsTick(t *testing.T) {
	t.Parallel()

	chain := &fakeSource{name: "chain", events: []proposal.Event{
		onChainEvent("1", "a"),
		onChainEvent("2", "b"),
	}}
	chat := &fakeChat{}

	p := New([]Source{chain}, &fakeResolver{name: "x"}, chat, &fakeDocs{}, brokenStore{}, zerolog.Nop())

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected tick error")
	}
	if len(chat.sent) != 0 {
		t.Fatalf("dispatched without a working dedup check: %d sends", len(chat.sent))
	}
}

func TestChainItemsProcessedBeforeIndexer(t *testing.T) {
	t.Parallel()

	chain := &fakeSource{name: "chain", events: []proposal.Event{onChainEvent("1", "a")}}
	indexer := &fakeSource{name: "indexer", events: []proposal.Event{
		{ID: "0xa", Source: proposal.OffChain, Body: "b"},
	}}
	docs := &fakeDocs{}

	p := New([]Source{chain, indexer}, &fakeResolver{name: "x"}, &fakeChat{}, docs, store.NewMemory(), zerolog.Nop())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(docs.published) != 2 || docs.published[0].id != "1" || docs.published[1].id != "0xa" {
		t.Fatalf("order wrong: %+v", docs.published)
	}
}
