// Package paymentapp holds the shared domain model of the crypto-payment
// settlement core: invoice and ledger types, the store interfaces the
// surrounding application implements, the error taxonomy, and the
// correlation ids that make settlement posting idempotent.
package paymentapp

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Network identifies the settlement network an invoice is paid on.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// Prefix returns the namespaced form used when deriving correlation ids,
// e.g. "hedera:mainnet".
func (n Network) Prefix() string {
	return "hedera:" + string(n)
}

// AssetType identifies the asset a payment was made in.
type AssetType string

const (
	AssetHBAR AssetType = "HBAR"
	AssetUSDC AssetType = "USDC"
	AssetUSDT AssetType = "USDT"
)

// IsNative reports whether the asset is the network's native asset
// (transferred as balance legs rather than token legs).
func (a AssetType) IsNative() bool {
	return a == AssetHBAR
}

// InvoiceStatus is the lifecycle status of an invoice.
type InvoiceStatus string

const (
	StatusDraft    InvoiceStatus = "DRAFT"
	StatusOpen     InvoiceStatus = "OPEN"
	StatusPaid     InvoiceStatus = "PAID"
	StatusExpired  InvoiceStatus = "EXPIRED"
	StatusCanceled InvoiceStatus = "CANCELED"
)

// Terminal reports whether the status admits no further transitions.
func (s InvoiceStatus) Terminal() bool {
	return s == StatusPaid || s == StatusExpired || s == StatusCanceled
}

// Payable reports whether a settlement may be posted against an invoice
// in this status.
func (s InvoiceStatus) Payable() bool {
	return s == StatusOpen
}

// Invoice is the read model of an invoice owned by the external invoice store.
// This core only reads it and transitions its status to PAID.
type Invoice struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organizationId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         InvoiceStatus   `json:"status"`
}

// PaymentEventType tags a payment event row.
type PaymentEventType string

const EventPaymentConfirmed PaymentEventType = "PAYMENT_CONFIRMED"

// PaymentEvent is an append-only confirmation record. Unique per
// (invoice id, correlation id); the duplicate check runs before any write.
type PaymentEvent struct {
	ID            string           `json:"id"`
	InvoiceID     string           `json:"invoiceId"`
	Type          PaymentEventType `json:"type"`
	TransactionID string           `json:"transactionId"` // normalized dash form
	Amount        decimal.Decimal  `json:"amount"`
	Asset         AssetType        `json:"asset"`
	CorrelationID string           `json:"correlationId"`
	Sender        string           `json:"sender,omitempty"`
	ConsensusAt   time.Time        `json:"consensusAt"`
	Network       Network          `json:"network"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// AccountType classifies a ledger account.
type AccountType string

const (
	AccountAsset      AccountType = "ASSET"
	AccountReceivable AccountType = "RECEIVABLE"
)

// LedgerAccount is created lazily the first time a settlement of a given
// asset type occurs for an organization.
type LedgerAccount struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organizationId"`
	Code           string      `json:"code"`
	Type           AccountType `json:"type"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// ClearingAccountCode returns the per-asset clearing account code,
// e.g. "crypto-clearing-usdc".
func ClearingAccountCode(asset AssetType) string {
	return fmt.Sprintf("crypto-clearing-%s", strings.ToLower(string(asset)))
}

// ReceivablesAccountCode is the organization's receivables account code.
const ReceivablesAccountCode = "accounts-receivable"

// EntryType is the side of a double-entry posting.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// LedgerEntry is one leg of a balanced double-entry posting. Every settlement
// produces exactly one DEBIT and one CREDIT of equal amount; the pair shares
// a correlation id with distinct "-debit" / "-credit" suffixes.
type LedgerEntry struct {
	ID             string          `json:"id"`
	InvoiceID      string          `json:"invoiceId"`
	AccountID      string          `json:"accountId"`
	Type           EntryType       `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotencyKey"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// SyncJob is an outbound external-ledger sync request, enqueued
// fire-and-forget after a successful posting.
type SyncJob struct {
	ID             string    `json:"id"`
	InvoiceID      string    `json:"invoiceId"`
	OrganizationID string    `json:"organizationId"`
	EnqueuedAt     time.Time `json:"enqueuedAt"`
}
