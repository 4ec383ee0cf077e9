/*
Package bridge defines the domain model shared by the hub services:
cross-chain transfer orders, on-chain events, oracle health records and
decimal-string monetary helpers.
*/
package bridge

import "fmt"

// Chain identifies one of the two bridged networks.
type Chain string

// Chains the hub bridges between.
const (
	ChainSolana Chain = "solana"
	ChainQubic  Chain = "qubic"
)

// Valid reports whether c is a known chain.
func (c Chain) Valid() bool {
	return c == ChainSolana || c == ChainQubic
}

// Other returns the opposite chain. It panics for unknown chains.
func (c Chain) Other() Chain {
	switch c {
	case ChainSolana:
		return ChainQubic
	case ChainQubic:
		return ChainSolana
	default:
		panic(fmt.Sprintf("unknown chain %q", string(c)))
	}
}

// ParseChain converts a wire string into a Chain.
func ParseChain(s string) (Chain, error) {
	c := Chain(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown chain %q", s)
	}
	return c, nil
}
