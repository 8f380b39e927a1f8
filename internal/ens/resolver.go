// Package ens turns proposer addresses into display names.
package ens

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	goens "github.com/wealdtech/go-ens/v3"
)

// Resolver resolves an address to its reverse-record name, degrading to a
// truncated address form. Resolution failure never propagates: a notification
// with a raw-ish address beats no notification.
type Resolver struct {
	lookup func(addr common.Address) (string, error)
	log    zerolog.Logger
}

func NewResolver(client *ethclient.Client, log zerolog.Logger) *Resolver {
	return &Resolver{
		lookup: func(addr common.Address) (string, error) {
			return goens.ReverseResolve(client, addr)
		},
		log: log,
	}
}

func (r *Resolver) Resolve(ctx context.Context, addr common.Address) string {
	name, err := r.lookup(addr)
	if err != nil {
		r.log.Debug().Err(err).Str("addr", addr.Hex()).Msg("reverse resolution failed")
	}
	if err != nil || strings.TrimSpace(name) == "" {
		return Truncate(addr.Hex())
	}
	return name
}

// Truncate shortens a 0x-hex address to its first six and last four hex
// characters: 0xAbCdEf...0001.
func Truncate(hexAddr string) string {
	if len(hexAddr) < 12 {
		return hexAddr
	}
	return hexAddr[:8] + "..." + hexAddr[len(hexAddr)-4:]
}
