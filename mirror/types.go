// Package mirror implements a read-only client for a Hedera mirror node:
// the public ledger-query service used to observe transfers into the
// merchant account and to snapshot account balances and token associations.
package mirror

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Transfer is one hbar balance leg of a transaction. Amounts are tinybar;
// negative legs are outbound.
type Transfer struct {
	Account    string `json:"account"`
	Amount     int64  `json:"amount"`
	IsApproval bool   `json:"is_approval"`
}

// TokenTransfer is one fungible-token leg. Amounts are in the token's
// smallest unit.
type TokenTransfer struct {
	TokenID string `json:"token_id"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// Transaction is a single mirror node transaction record.
type Transaction struct {
	TransactionID      string          `json:"transaction_id"`
	Name               string          `json:"name"`
	Result             string          `json:"result"`
	ConsensusTimestamp string          `json:"consensus_timestamp"`
	MemoBase64         string          `json:"memo_base64"`
	Transfers          []Transfer      `json:"transfers"`
	TokenTransfers     []TokenTransfer `json:"token_transfers"`
}

// Succeeded reports whether the transaction reached consensus successfully.
func (t *Transaction) Succeeded() bool {
	return t.Result == "SUCCESS"
}

// DecodedMemo returns the transaction memo as plain text. Memos arrive
// base64-encoded; a memo that fails to decode is returned raw, since both
// encodings have been observed in the wild.
func (t *Transaction) DecodedMemo() string {
	if t.MemoBase64 == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(t.MemoBase64)
	if err != nil {
		return t.MemoBase64
	}
	return string(decoded)
}

// ConsensusTime parses the "seconds.nanos" consensus timestamp.
func (t *Transaction) ConsensusTime() (time.Time, error) {
	return ParseTimestamp(t.ConsensusTimestamp)
}

// ParseTimestamp parses a mirror node "seconds.nanos" timestamp string.
func ParseTimestamp(ts string) (time.Time, error) {
	parts := strings.SplitN(ts, ".", 2)
	secs, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid consensus timestamp %q: %w", ts, err)
	}
	var nanos int64
	if len(parts) == 2 {
		// Fractional part is nanoseconds, right-padded to 9 digits.
		frac := parts[1]
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid consensus timestamp %q: %w", ts, err)
		}
	}
	return time.Unix(secs, nanos).UTC(), nil
}

// FormatTimestamp renders a time as a mirror node query timestamp.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}

// TransactionsResponse is one page of /api/v1/transactions.
type TransactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
	Links        Links         `json:"links"`
}

// Links carries the next-page cursor, when present.
type Links struct {
	Next string `json:"next"`
}

// TokenBalance is one entry of an account's token balance list.
type TokenBalance struct {
	TokenID string `json:"token_id"`
	Balance int64  `json:"balance"`
}

// AccountBalance is the balance block of an account snapshot.
type AccountBalance struct {
	Balance int64          `json:"balance"` // tinybar
	Tokens  []TokenBalance `json:"tokens"`
}

// AccountResponse is /api/v1/accounts/{id}.
type AccountResponse struct {
	Account string         `json:"account"`
	Balance AccountBalance `json:"balance"`
}

// TokenAssociation is one entry of /api/v1/accounts/{id}/tokens.
type TokenAssociation struct {
	TokenID  string `json:"token_id"`
	Balance  int64  `json:"balance"`
	Decimals int    `json:"decimals"`
}

// AccountTokensResponse is /api/v1/accounts/{id}/tokens.
type AccountTokensResponse struct {
	Tokens []TokenAssociation `json:"tokens"`
	Links  Links              `json:"links"`
}
