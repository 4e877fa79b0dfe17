// Package wallet manages the client-side pairing and signing session with
// an external wallet, and builds the unsigned transfer transactions the
// wallet signs and submits.
package wallet

import (
	"context"
	"encoding/json"

	paymentapp "github.com/agear13/paymentapp-sub000"
)

// Pairing identifies the wallet–dApp relationship. Its topic is NOT valid
// for signing; only a session topic discovered through the registries is.
type Pairing struct {
	Topic     string
	AccountID string
	Network   paymentapp.Network
}

// SessionRecord is one entry of a bridge-internal session registry.
type SessionRecord struct {
	Topic        string
	Namespace    string // chain namespace, "hedera" for this network
	Acknowledged bool
}

// Bridge is the wallet-facing API, opaque to this core beyond the
// documented effects. Implementations wrap a WalletConnect-style relay.
type Bridge interface {
	// SavedPairing returns the pairing the underlying wallet has cached
	// from a previous connect, or (nil, nil) when there is none.
	SavedPairing(ctx context.Context) (*Pairing, error)

	// OpenPairing performs a fresh pairing handshake with the wallet.
	OpenPairing(ctx context.Context) (*Pairing, error)

	// Listener registration. The session manager attaches each listener
	// exactly once per bridge instance, not once per connect cycle.
	OnPairing(fn func(Pairing))
	OnConnectionChange(fn func(connected bool))
	OnDisconnect(fn func(topic string))

	// Sessions and SignClientSessions expose the two independently
	// populated registries a signing session must appear in before it is
	// safe to sign with.
	Sessions() []SessionRecord
	SignClientSessions() []SessionRecord

	// SendTransaction submits a byte-serialized unsigned transaction over
	// the signing session identified by sessionTopic, to be signed by
	// signerAccount. The response shape varies by wallet version.
	SendTransaction(ctx context.Context, sessionTopic, signerAccount string, txBytes []byte) (json.RawMessage, error)

	// Disconnect tears down the pairing.
	Disconnect(ctx context.Context, pairingTopic string) error
}
