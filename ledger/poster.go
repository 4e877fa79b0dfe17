package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	paymentapp "github.com/agear13/paymentapp-sub000"
	"github.com/agear13/paymentapp-sub000/hbar"
)

// Settlement is a matched on-chain payment ready to post.
type Settlement struct {
	InvoiceID     string
	Network       paymentapp.Network
	TransactionID string // either wire format, normalized internally
	Asset         paymentapp.AssetType
	Amount        decimal.Decimal // received amount, human units
	Sender        string
	ConsensusAt   time.Time
}

// PostResult reports what a posting attempt did.
type PostResult struct {
	CorrelationID string

	// Duplicate is true when the settlement had already been posted; the
	// call was an idempotent no-op.
	Duplicate bool

	// LedgerPosted is false when the payment was confirmed but the ledger
	// entries could not be written; RetryLedgerPosting recovers this.
	LedgerPosted bool
}

// PosterConfig configures a Poster.
type PosterConfig struct {
	Invoices paymentapp.InvoiceStore
	Ledger   paymentapp.LedgerStore
	Queue    paymentapp.SyncQueue

	// Locks may be shared with other posters in the process (optional).
	Locks *KeyedLock

	// Logger (optional).
	Logger *zap.Logger

	// Now overrides the clock (optional, for tests).
	Now func() time.Time
}

// Poster owns the invoice-status transition and the ledger writes. One
// invoice has at most one in-flight settlement; the per-invoice try-lock is
// the only serialization point, so work on distinct invoices is fully
// parallel.
type Poster struct {
	invoices paymentapp.InvoiceStore
	ledger   paymentapp.LedgerStore
	queue    paymentapp.SyncQueue
	locks    *KeyedLock
	log      *zap.Logger
	now      func() time.Time
}

// NewPoster creates a Poster.
func NewPoster(config *PosterConfig) *Poster {
	locks := config.Locks
	if locks == nil {
		locks = NewKeyedLock()
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Poster{
		invoices: config.Invoices,
		ledger:   config.Ledger,
		queue:    config.Queue,
		locks:    locks,
		log:      log,
		now:      now,
	}
}

// PostSettlement posts a matched payment exactly once.
//
// Order matters: the duplicate check and the invoice-status check run
// before any side effect, the per-invoice lock is acquired non-blocking,
// and both checks repeat under the lock before the multi-write. A ledger
// failure after the status and event writes does not fail the settlement —
// a successful transfer must never be un-confirmed by an internal
// bookkeeping failure; the entries are recovered by RetryLedgerPosting.
func (p *Poster) PostSettlement(ctx context.Context, s Settlement) (*PostResult, error) {
	normalized, ok := hbar.NormalizeTransactionID(s.TransactionID)
	if !ok {
		p.log.Warn("unrecognized transaction id format, storing as-is",
			zap.String("invoiceId", s.InvoiceID),
			zap.String("transactionId", s.TransactionID))
	}
	correlationID := paymentapp.CorrelationID(s.Network, normalized)
	result := &PostResult{CorrelationID: correlationID}

	duplicate, err := p.isDuplicate(ctx, s.InvoiceID, correlationID, normalized)
	if err != nil {
		return nil, err
	}
	if duplicate {
		result.Duplicate = true
		result.LedgerPosted = true
		return result, nil
	}

	invoice, err := p.invoices.GetInvoice(ctx, s.InvoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.Status.Payable() {
		return nil, fmt.Errorf("invoice %s in status %s: %w",
			invoice.ID, invoice.Status, paymentapp.ErrInvoiceNotPayable)
	}

	if !p.locks.TryLock(s.InvoiceID) {
		return nil, paymentapp.ErrInvoiceLocked
	}
	defer p.locks.Unlock(s.InvoiceID)

	// Re-run both preconditions while holding the lock: another request
	// may have posted between the first check and acquisition.
	duplicate, err = p.isDuplicate(ctx, s.InvoiceID, correlationID, normalized)
	if err != nil {
		return nil, err
	}
	if duplicate {
		result.Duplicate = true
		result.LedgerPosted = true
		return result, nil
	}
	invoice, err = p.invoices.GetInvoice(ctx, s.InvoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.Status.Payable() {
		return nil, fmt.Errorf("invoice %s in status %s: %w",
			invoice.ID, invoice.Status, paymentapp.ErrInvoiceNotPayable)
	}

	event := &paymentapp.PaymentEvent{
		ID:            uuid.NewString(),
		InvoiceID:     invoice.ID,
		Type:          paymentapp.EventPaymentConfirmed,
		TransactionID: normalized,
		Amount:        s.Amount,
		Asset:         s.Asset,
		CorrelationID: correlationID,
		Sender:        s.Sender,
		ConsensusAt:   s.ConsensusAt,
		Network:       s.Network,
		CreatedAt:     p.now(),
	}
	if err := p.invoices.ConfirmPayment(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}

	// Payment is confirmed from here on, whatever happens to the entries.
	if err := p.postEntries(ctx, invoice, s.Asset, correlationID); err != nil {
		p.log.Error("ledger posting failed after confirmation, needs retry",
			zap.String("invoiceId", invoice.ID),
			zap.String("correlationId", correlationID),
			zap.Error(err))
	} else {
		result.LedgerPosted = true
	}

	p.enqueueSync(ctx, invoice)
	return result, nil
}

// RetryLedgerPosting re-attempts the double-entry write for a confirmed
// settlement whose entries failed, under the same per-invoice lock as
// PostSettlement so the two paths cannot race each other.
func (p *Poster) RetryLedgerPosting(ctx context.Context, invoiceID string) error {
	if !p.locks.TryLock(invoiceID) {
		return paymentapp.ErrInvoiceLocked
	}
	defer p.locks.Unlock(invoiceID)

	invoice, err := p.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	event, err := p.invoices.LatestPaymentEvent(ctx, invoiceID)
	if err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("invoice %s has no confirmed payment to post", invoiceID)
	}

	if err := p.postEntries(ctx, invoice, event.Asset, event.CorrelationID); err != nil {
		return fmt.Errorf("ledger posting retry failed: %w", err)
	}
	p.enqueueSync(ctx, invoice)
	return nil
}

// isDuplicate checks by correlation id and by both transaction id wire
// formats. The format check defends against rows written concurrently by a
// pre-normalization code path.
func (p *Poster) isDuplicate(ctx context.Context, invoiceID, correlationID, normalizedTxID string) (bool, error) {
	exists, err := p.invoices.PaymentEventExists(ctx, invoiceID, correlationID)
	if err != nil {
		return false, fmt.Errorf("duplicate check failed: %w", err)
	}
	if exists {
		return true, nil
	}

	exists, err = p.invoices.PaymentEventByTransactionID(ctx, hbar.TransactionIDVariants(normalizedTxID))
	if err != nil {
		return false, fmt.Errorf("duplicate check failed: %w", err)
	}
	return exists, nil
}

// postEntries upserts the asset clearing and receivables accounts and
// writes the balanced DEBIT/CREDIT pair, skipping when entries already
// exist. Callers hold the invoice lock.
func (p *Poster) postEntries(ctx context.Context, invoice *paymentapp.Invoice, asset paymentapp.AssetType, correlationID string) error {
	exists, err := p.ledger.EntriesExist(ctx, invoice.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	clearing, err := p.ledger.UpsertAccount(ctx, invoice.OrganizationID,
		paymentapp.ClearingAccountCode(asset), paymentapp.AccountAsset)
	if err != nil {
		return fmt.Errorf("failed to upsert clearing account: %w", err)
	}
	receivables, err := p.ledger.UpsertAccount(ctx, invoice.OrganizationID,
		paymentapp.ReceivablesAccountCode, paymentapp.AccountReceivable)
	if err != nil {
		return fmt.Errorf("failed to upsert receivables account: %w", err)
	}

	now := p.now()
	entries := []paymentapp.LedgerEntry{
		{
			ID:             uuid.NewString(),
			InvoiceID:      invoice.ID,
			AccountID:      clearing.ID,
			Type:           paymentapp.EntryDebit,
			Amount:         invoice.Amount,
			Currency:       invoice.Currency,
			IdempotencyKey: paymentapp.DebitKey(correlationID),
			CreatedAt:      now,
		},
		{
			ID:             uuid.NewString(),
			InvoiceID:      invoice.ID,
			AccountID:      receivables.ID,
			Type:           paymentapp.EntryCredit,
			Amount:         invoice.Amount,
			Currency:       invoice.Currency,
			IdempotencyKey: paymentapp.CreditKey(correlationID),
			CreatedAt:      now,
		},
	}
	if err := p.ledger.WriteEntries(ctx, entries); err != nil {
		return fmt.Errorf("failed to write ledger entries: %w", err)
	}
	return nil
}

// enqueueSync hands the invoice to the outbound sync queue. Fire and
// forget: a queue failure is logged, never fatal.
func (p *Poster) enqueueSync(ctx context.Context, invoice *paymentapp.Invoice) {
	if p.queue == nil {
		return
	}
	job := paymentapp.SyncJob{
		ID:             uuid.NewString(),
		InvoiceID:      invoice.ID,
		OrganizationID: invoice.OrganizationID,
		EnqueuedAt:     p.now(),
	}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		p.log.Warn("failed to enqueue external ledger sync",
			zap.String("invoiceId", invoice.ID),
			zap.Error(err))
	}
}
