package source

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/machinebox/graphql"
	"github.com/rs/zerolog"

	"govbot/internal/proposal"
)

// proposalsQuery is the one query the indexer source ever issues: the newest
// active proposals in a space, bounded by page size.
const proposalsQuery = `
query ($space: String!, $first: Int!) {
  proposals(
    first: $first,
    skip: 0,
    where: { space: $space, state: "active" },
    orderBy: "created",
    orderDirection: desc
  ) {
    id
    title
    author
    state
    body
  }
}`

// Indexer reads active proposals from the off-chain signed-vote indexer.
type Indexer struct {
	client   *graphql.Client
	space    string
	pageSize int
	log      zerolog.Logger
}

func NewIndexer(endpoint, space string, pageSize int, httpClient *http.Client, log zerolog.Logger) *Indexer {
	var opts []graphql.ClientOption
	if httpClient != nil {
		opts = append(opts, graphql.WithHTTPClient(httpClient))
	}
	return &Indexer{
		client:   graphql.NewClient(endpoint, opts...),
		space:    space,
		pageSize: pageSize,
		log:      log,
	}
}

func (s *Indexer) Name() string { return "indexer" }

func (s *Indexer) FetchRecent(ctx context.Context) ([]proposal.Event, error) {
	req := graphql.NewRequest(proposalsQuery)
	req.Var("space", s.space)
	req.Var("first", s.pageSize)

	var resp struct {
		Proposals []struct {
			ID     string `json:"id"`
			Title  string `json:"title"`
			Author string `json:"author"`
			State  string `json:"state"`
			Body   string `json:"body"`
		} `json:"proposals"`
	}
	if err := s.client.Run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("indexer query: %w", err)
	}

	events := make([]proposal.Event, 0, len(resp.Proposals))
	for _, row := range resp.Proposals {
		events = append(events, proposal.Event{
			ID:       row.ID,
			Source:   proposal.OffChain,
			Proposer: common.HexToAddress(row.Author),
			Title:    row.Title,
			Body:     row.Body,
		})
	}
	s.log.Debug().Str("space", s.space).Int("rows", len(events)).Msg("queried indexer")
	return events, nil
}
