// Package source fetches recent proposal-like records from the two origins
// and normalizes them to proposal.Event. A source returning no items is a
// normal empty result; a source that cannot answer returns an error so the
// caller can tell an outage apart from a quiet window.
package source

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"govbot/internal/proposal"
)

// proposalCreatedABI is the governor's ProposalCreated event. All fields are
// non-indexed, so the full payload lives in the log data.
const proposalCreatedABI = `[{
  "anonymous": false,
  "inputs": [
    {"indexed": false, "internalType": "uint256",   "name": "proposalId",  "type": "uint256"},
    {"indexed": false, "internalType": "address",   "name": "proposer",    "type": "address"},
    {"indexed": false, "internalType": "address[]", "name": "targets",     "type": "address[]"},
    {"indexed": false, "internalType": "uint256[]", "name": "values",      "type": "uint256[]"},
    {"indexed": false, "internalType": "string[]",  "name": "signatures",  "type": "string[]"},
    {"indexed": false, "internalType": "bytes[]",   "name": "calldatas",   "type": "bytes[]"},
    {"indexed": false, "internalType": "uint256",   "name": "startBlock",  "type": "uint256"},
    {"indexed": false, "internalType": "uint256",   "name": "endBlock",    "type": "uint256"},
    {"indexed": false, "internalType": "string",    "name": "description", "type": "string"}
  ],
  "name": "ProposalCreated",
  "type": "event"
}]`

// ChainClient is the slice of ethclient.Client the chain source needs.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

var _ ChainClient = (*ethclient.Client)(nil)

// Chain reads ProposalCreated events from the governor contract over a fixed
// window behind the chain head.
type Chain struct {
	client    ChainClient
	governor  common.Address
	lookback  uint64
	abi       abi.ABI
	createdID common.Hash
	log       zerolog.Logger
}

func NewChain(client ChainClient, governor common.Address, lookback uint64, log zerolog.Logger) (*Chain, error) {
	parsed, err := abi.JSON(strings.NewReader(proposalCreatedABI))
	if err != nil {
		return nil, fmt.Errorf("governor abi: %w", err)
	}
	ev, ok := parsed.Events["ProposalCreated"]
	if !ok {
		return nil, fmt.Errorf("governor abi: ProposalCreated event missing")
	}
	return &Chain{
		client:    client,
		governor:  governor,
		lookback:  lookback,
		abi:       parsed,
		createdID: ev.ID,
		log:       log,
	}, nil
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) FetchRecent(ctx context.Context) ([]proposal.Event, error) {
	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	from := uint64(0)
	if head > c.lookback {
		from = head - c.lookback
	}

	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{c.governor},
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d,%d]: %w", from, head, err)
	}

	var events []proposal.Event
	for _, l := range logs {
		ev, ok, err := c.decode(l)
		if err != nil {
			return nil, fmt.Errorf("decode log %s: %w", l.TxHash, err)
		}
		if ok {
			events = append(events, ev)
		}
	}
	c.log.Debug().Uint64("from", from).Uint64("to", head).Int("matched", len(events)).Msg("scanned governor logs")
	return events, nil
}

// decode filters and normalizes one log entry. Entries for other governor
// events, removed (reorged) entries, and entries without a finalized
// transaction hash are dropped.
func (c *Chain) decode(l types.Log) (proposal.Event, bool, error) {
	if l.Removed || l.TxHash == (common.Hash{}) {
		return proposal.Event{}, false, nil
	}
	if len(l.Topics) == 0 || l.Topics[0] != c.createdID {
		return proposal.Event{}, false, nil
	}

	fields := map[string]any{}
	if err := c.abi.UnpackIntoMap(fields, "ProposalCreated", l.Data); err != nil {
		return proposal.Event{}, false, err
	}
	id, ok := fields["proposalId"].(*big.Int)
	if !ok {
		return proposal.Event{}, false, fmt.Errorf("proposalId has unexpected type %T", fields["proposalId"])
	}
	proposer, ok := fields["proposer"].(common.Address)
	if !ok {
		return proposal.Event{}, false, fmt.Errorf("proposer has unexpected type %T", fields["proposer"])
	}
	description, _ := fields["description"].(string)

	return proposal.Event{
		ID:       id.String(),
		Source:   proposal.OnChain,
		Proposer: proposer,
		Body:     description,
	}, true, nil
}
