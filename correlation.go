package paymentapp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// CorrelationID derives the deterministic settlement correlation id from the
// network prefix and the normalized transaction id. The same transaction
// observed through either wire format maps to the same id, which is what
// makes the duplicate check idempotent.
func CorrelationID(network Network, normalizedTxID string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", network.Prefix(), normalizedTxID)))
	return hex.EncodeToString(hash[:])
}

// DebitKey returns the idempotency key for the DEBIT leg of a posting.
func DebitKey(correlationID string) string {
	return correlationID + "-debit"
}

// CreditKey returns the idempotency key for the CREDIT leg of a posting.
func CreditKey(correlationID string) string {
	return correlationID + "-credit"
}
