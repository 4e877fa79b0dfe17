package match

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	paymentapp "github.com/agear13/paymentapp-sub000"
	"github.com/agear13/paymentapp-sub000/hbar"
	"github.com/agear13/paymentapp-sub000/mirror"
)

// defaultWindow is how far back a check looks for the payment.
const defaultWindow = 15 * time.Minute

// defaultCheckTimeout bounds a single check.
const defaultCheckTimeout = 8 * time.Second

// defaultPageLimit is the fixed page size scanned per check.
const defaultPageLimit = 25

// TransactionSource is the slice of the mirror client the matcher needs.
type TransactionSource interface {
	Transactions(ctx context.Context, query mirror.TransactionsQuery) (*mirror.TransactionsResponse, error)
}

// Expectation describes the payment a settlement attempt is waiting for.
type Expectation struct {
	InvoiceID string
	Asset     paymentapp.AssetType
	Amount    decimal.Decimal // human units

	// TokenID and TokenDecimals apply to token assets only.
	TokenID       string
	TokenDecimals int

	// Sender, when set, requires the counterpart outbound leg to come
	// from this account.
	Sender string

	// Memo, when set, requires the decoded transaction memo to contain it.
	Memo string

	// Window bounds how far back to look (defaults to 15 minutes).
	Window time.Duration
}

// Result is a transaction that satisfied every supplied predicate.
type Result struct {
	TransactionID string // normalized dash form
	Sender        string
	Amount        decimal.Decimal // human units
	Asset         paymentapp.AssetType
	ConsensusAt   time.Time
	Verdict       Verdict
}

// Config configures a Matcher.
type Config struct {
	// Source is the mirror client (required).
	Source TransactionSource

	// MerchantAccount is the account transfers are matched into (required).
	MerchantAccount string

	// CheckTimeout bounds a single check (optional, defaults to 8s).
	CheckTimeout time.Duration

	// PageLimit is the page size per check (optional, defaults to 25).
	PageLimit int

	// Logger (optional).
	Logger *zap.Logger
}

// Matcher evaluates mirror node transactions against an expectation.
type Matcher struct {
	source       TransactionSource
	merchant     string
	checkTimeout time.Duration
	pageLimit    int
	log          *zap.Logger
}

// NewMatcher creates a Matcher.
func NewMatcher(config *Config) *Matcher {
	checkTimeout := config.CheckTimeout
	if checkTimeout == 0 {
		checkTimeout = defaultCheckTimeout
	}
	pageLimit := config.PageLimit
	if pageLimit == 0 {
		pageLimit = defaultPageLimit
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Matcher{
		source:       config.Source,
		merchant:     config.MerchantAccount,
		checkTimeout: checkTimeout,
		pageLimit:    pageLimit,
		log:          log,
	}
}

// CheckOnce scans one page of recent transfers into the merchant account
// for a transaction satisfying the expectation. A (nil, nil) return means
// "not found yet": callers re-invoke on their own schedule. Mirror node
// failures are downgraded to not-found so the next scheduled check can
// still succeed.
func (m *Matcher) CheckOnce(ctx context.Context, exp Expectation) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	window := exp.Window
	if window == 0 {
		window = defaultWindow
	}

	page, err := m.source.Transactions(ctx, mirror.TransactionsQuery{
		AccountID:       m.merchant,
		Limit:           m.pageLimit,
		Order:           "desc",
		Since:           time.Now().Add(-window),
		TransactionType: "CRYPTOTRANSFER",
	})
	if err != nil {
		m.log.Warn("mirror node check failed, will retry next round",
			zap.String("invoiceId", exp.InvoiceID),
			zap.Error(err))
		return nil, nil
	}

	for i := range page.Transactions {
		tx := &page.Transactions[i]
		if !tx.Succeeded() {
			continue
		}
		if result := m.evaluate(tx, exp); result != nil {
			return result, nil
		}
	}
	return nil, nil
}

// evaluate applies the supplied predicates in order: sender, memo, amount.
func (m *Matcher) evaluate(tx *mirror.Transaction, exp Expectation) *Result {
	amount, sender, ok := m.extractInbound(tx, exp)
	if !ok {
		return nil
	}

	if exp.Sender != "" && sender != exp.Sender {
		return nil
	}

	if exp.Memo != "" && !strings.Contains(tx.DecodedMemo(), exp.Memo) {
		return nil
	}

	verdict := Validate(exp.Amount, amount, exp.Asset)
	if !verdict.Valid() {
		m.log.Info("candidate amount outside tolerance",
			zap.String("invoiceId", exp.InvoiceID),
			zap.String("transactionId", tx.TransactionID),
			zap.String("status", string(verdict.Status)),
			zap.String("difference", verdict.Difference.String()))
		return nil
	}

	normalized, ok := hbar.NormalizeTransactionID(tx.TransactionID)
	if !ok {
		m.log.Warn("unrecognized transaction id format",
			zap.String("transactionId", tx.TransactionID))
	}

	consensusAt, err := tx.ConsensusTime()
	if err != nil {
		m.log.Warn("unparseable consensus timestamp",
			zap.String("transactionId", tx.TransactionID),
			zap.Error(err))
	}

	return &Result{
		TransactionID: normalized,
		Sender:        sender,
		Amount:        amount,
		Asset:         exp.Asset,
		ConsensusAt:   consensusAt,
		Verdict:       verdict,
	}
}

// extractInbound pulls the inbound leg's amount in human units and the
// counterpart outbound sender from a transaction's transfer lists.
func (m *Matcher) extractInbound(tx *mirror.Transaction, exp Expectation) (decimal.Decimal, string, bool) {
	if exp.Asset.IsNative() {
		var inbound int64
		for _, transfer := range tx.Transfers {
			if transfer.Account == m.merchant && transfer.Amount > 0 {
				inbound += transfer.Amount
			}
		}
		if inbound == 0 {
			return decimal.Decimal{}, "", false
		}
		amount, err := hbar.FromTinybar(inbound)
		if err != nil {
			return decimal.Decimal{}, "", false
		}
		return amount, hbarSender(tx.Transfers, m.merchant), true
	}

	var inbound int64
	var sender string
	for _, transfer := range tx.TokenTransfers {
		if transfer.TokenID != exp.TokenID {
			continue
		}
		if transfer.Account == m.merchant && transfer.Amount > 0 {
			inbound += transfer.Amount
		}
		if transfer.Amount < 0 {
			sender = transfer.Account
		}
	}
	if inbound == 0 {
		return decimal.Decimal{}, "", false
	}
	amount, err := hbar.FromSmallestUnit(big.NewInt(inbound), exp.TokenDecimals)
	if err != nil {
		return decimal.Decimal{}, "", false
	}
	return amount, sender, true
}

// hbarSender picks the largest outbound hbar leg as the payer. Node and
// fee collection accounts only ever appear as small positive legs, so the
// dominant negative leg is the counterpart of the merchant's inbound leg.
func hbarSender(transfers []mirror.Transfer, merchant string) string {
	var sender string
	var largest int64
	for _, transfer := range transfers {
		if transfer.Account == merchant {
			continue
		}
		if transfer.Amount < largest {
			largest = transfer.Amount
			sender = transfer.Account
		}
	}
	return sender
}
