// Package proposal defines the canonical, source-independent shape of a
// governance proposal as seen by the notification pipeline.
package proposal

import "github.com/ethereum/go-ethereum/common"

// Source identifies the origin of a proposal.
type Source int

const (
	// OnChain proposals come from the governor contract's event log.
	OnChain Source = iota
	// OffChain proposals come from the signed-vote indexer.
	OffChain
)

func (s Source) String() string {
	switch s {
	case OnChain:
		return "onchain"
	case OffChain:
		return "offchain"
	default:
		return "unknown"
	}
}

// Event is one newly-created proposal, normalized across sources.
//
// ID is the raw identifier exactly as the source returned it: a decimal
// numeric string for on-chain proposals, a content-addressed hash for
// off-chain ones. The formats cannot collide, so ID doubles as the dedup
// key and must never be reformatted.
type Event struct {
	ID       string
	Source   Source
	Proposer common.Address

	// Title is only populated when the source carries one (the indexer
	// does, the event log does not). The pipeline falls back to deriving
	// it from Body.
	Title string

	// Body is the full proposal text. On-chain this is the event's
	// description string; off-chain it is free-form markdown.
	Body string
}
