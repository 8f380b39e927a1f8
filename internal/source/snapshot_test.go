package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"govbot/internal/proposal"
)

func TestIndexerMapsRows(t *testing.T) {
	t.Parallel()

	var gotVars map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		gotVars = req.Variables

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"proposals":[
			{"id":"0xabc123","title":"Social Thing","author":"0xAbCdEf1234567890000000000000000000000001","state":"active","body":"# Social Thing\n\ntext"},
			{"id":"0xdef456","title":"","author":"0x0000000000000000000000000000000000000002","state":"active","body":"plain"}
		]}}`))
	}))
	defer srv.Close()

	idx := NewIndexer(srv.URL, "ens.eth", 10, srv.Client(), zerolog.Nop())
	events, err := idx.FetchRecent(context.Background())
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	ev := events[0]
	if ev.ID != "0xabc123" {
		t.Fatalf("ID = %q, want the raw content hash", ev.ID)
	}
	if ev.Source != proposal.OffChain {
		t.Fatalf("Source = %v", ev.Source)
	}
	if ev.Title != "Social Thing" {
		t.Fatalf("Title = %q", ev.Title)
	}
	if ev.Proposer != common.HexToAddress("0xAbCdEf1234567890000000000000000000000001") {
		t.Fatalf("Proposer = %s", ev.Proposer)
	}

	if gotVars["space"] != "ens.eth" {
		t.Fatalf("space var = %v", gotVars["space"])
	}
	if first, ok := gotVars["first"].(float64); !ok || int(first) != 10 {
		t.Fatalf("first var = %v", gotVars["first"])
	}
}

func TestIndexerEmptyPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"proposals":[]}}`))
	}))
	defer srv.Close()

	idx := NewIndexer(srv.URL, "ens.eth", 10, srv.Client(), zerolog.Nop())
	events, err := idx.FetchRecent(context.Background())
	if err != nil {
		t.Fatalf("empty page must not be an error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %d, want 0", len(events))
	}
}

func TestIndexerSurfacesOutage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	idx := NewIndexer(srv.URL, "ens.eth", 10, srv.Client(), zerolog.Nop())
	if _, err := idx.FetchRecent(context.Background()); err == nil {
		t.Fatal("outage must not look like a quiet window")
	}
}
