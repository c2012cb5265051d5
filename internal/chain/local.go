// Package chain obtains settlement receipts for trades, either from a remote
// gateway or by synthesizing them locally.
package chain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand/v2"

	"equity_go/internal/domain"
)

const (
	// OneGwei is the synthesized gas price in wei.
	OneGwei uint64 = 1_000_000_000

	maxBlockNumber = 1_000_000
	minGas         = 50_000
	maxGas         = 150_000
)

// LocalSettler synthesizes a receipt without any network call.
type LocalSettler struct {
	custodian string
	contract  string
}

var _ domain.Settler = (*LocalSettler)(nil)

// NewLocalSettler stamps receipts as sent from custodian to contract.
func NewLocalSettler(custodian, contract string) *LocalSettler {
	return &LocalSettler{custodian: custodian, contract: contract}
}

// Submit always succeeds unless the system entropy source fails.
func (l *LocalSettler) Submit(_ context.Context, req domain.SubmitRequest) (domain.Receipt, error) {
	hash, err := randomHash()
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("failed to synthesize receipt hash: %w", err)
	}

	from := req.From
	if from == "" {
		from = l.custodian
	}

	return domain.Receipt{
		Hash:        hash,
		BlockNumber: mrand.Uint64N(maxBlockNumber),
		GasUsed:     minGas + mrand.Uint64N(maxGas-minGas),
		GasPrice:    OneGwei,
		From:        from,
		To:          l.contract,
		Simulated:   true,
	}, nil
}

func randomHash() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}
