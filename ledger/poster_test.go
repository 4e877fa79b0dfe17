package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	paymentapp "github.com/agear13/paymentapp-sub000"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openInvoice() *paymentapp.Invoice {
	return &paymentapp.Invoice{
		ID:             "inv-1",
		OrganizationID: "org-1",
		Amount:         d("50.00"),
		Currency:       "USD",
		Status:         paymentapp.StatusOpen,
	}
}

func usdcSettlement() Settlement {
	return Settlement{
		InvoiceID:     "inv-1",
		Network:       paymentapp.NetworkMainnet,
		TransactionID: "0.0.5363033@1769582713.055549545",
		Asset:         paymentapp.AssetUSDC,
		Amount:        d("50.01"),
		Sender:        "0.0.5363033",
		ConsensusAt:   time.Unix(1769582713, 55549545),
	}
}

func newTestPoster(store *MemoryStore) *Poster {
	return NewPoster(&PosterConfig{Invoices: store, Ledger: store, Queue: store})
}

func TestPostSettlement(t *testing.T) {
	store := NewMemoryStore()
	store.PutInvoice(openInvoice())
	poster := newTestPoster(store)

	result, err := poster.PostSettlement(context.Background(), usdcSettlement())
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.True(t, result.LedgerPosted)
	assert.NotEmpty(t, result.CorrelationID)

	invoice, err := store.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, paymentapp.StatusPaid, invoice.Status)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, paymentapp.EventPaymentConfirmed, events[0].Type)
	assert.Equal(t, "0.0.5363033-1769582713-055549545", events[0].TransactionID)
	assert.Equal(t, result.CorrelationID, events[0].CorrelationID)

	// Exactly one DEBIT and one CREDIT of the invoice amount, keyed by the
	// correlation id with distinct suffixes.
	entries := store.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, paymentapp.EntryDebit, entries[0].Type)
	assert.Equal(t, paymentapp.EntryCredit, entries[1].Type)
	assert.True(t, entries[0].Amount.Equal(d("50.00")))
	assert.True(t, entries[1].Amount.Equal(d("50.00")))
	assert.Equal(t, result.CorrelationID+"-debit", entries[0].IdempotencyKey)
	assert.Equal(t, result.CorrelationID+"-credit", entries[1].IdempotencyKey)
	assert.NotEqual(t, entries[0].AccountID, entries[1].AccountID)

	jobs := store.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "inv-1", jobs[0].InvoiceID)
	assert.Equal(t, "org-1", jobs[0].OrganizationID)
}

// The same transaction observed through either wire format is the same
// settlement: the second call is an idempotent no-op.
func TestPostSettlement_DuplicateAcrossFormats(t *testing.T) {
	store := NewMemoryStore()
	store.PutInvoice(openInvoice())
	poster := newTestPoster(store)

	first, err := poster.PostSettlement(context.Background(), usdcSettlement())
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	dashForm := usdcSettlement()
	dashForm.TransactionID = "0.0.5363033-1769582713-055549545"
	second, err := poster.PostSettlement(context.Background(), dashForm)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)

	assert.Len(t, store.Events(), 1)
	assert.Len(t, store.Entries(), 2)
}

func TestPostSettlement_AlreadyPaidRejectedBeforeLock(t *testing.T) {
	store := NewMemoryStore()
	invoice := openInvoice()
	invoice.Status = paymentapp.StatusPaid
	store.PutInvoice(invoice)

	locks := NewKeyedLock()
	poster := NewPoster(&PosterConfig{Invoices: store, Ledger: store, Queue: store, Locks: locks})

	// Hold the lock externally: the status rejection must fire without
	// ever attempting acquisition.
	require.True(t, locks.TryLock("inv-1"))
	defer locks.Unlock("inv-1")

	_, err := poster.PostSettlement(context.Background(), usdcSettlement())
	assert.ErrorIs(t, err, paymentapp.ErrInvoiceNotPayable)
}

func TestPostSettlement_TerminalStatuses(t *testing.T) {
	for _, status := range []paymentapp.InvoiceStatus{
		paymentapp.StatusExpired, paymentapp.StatusCanceled, paymentapp.StatusDraft,
	} {
		t.Run(string(status), func(t *testing.T) {
			store := NewMemoryStore()
			invoice := openInvoice()
			invoice.Status = status
			store.PutInvoice(invoice)

			_, err := newTestPoster(store).PostSettlement(context.Background(), usdcSettlement())
			assert.ErrorIs(t, err, paymentapp.ErrInvoiceNotPayable)
		})
	}
}

func TestPostSettlement_LockContention(t *testing.T) {
	store := NewMemoryStore()
	store.PutInvoice(openInvoice())

	locks := NewKeyedLock()
	poster := NewPoster(&PosterConfig{Invoices: store, Ledger: store, Queue: store, Locks: locks})

	require.True(t, locks.TryLock("inv-1"))
	defer locks.Unlock("inv-1")

	_, err := poster.PostSettlement(context.Background(), usdcSettlement())
	assert.ErrorIs(t, err, paymentapp.ErrInvoiceLocked)

	assert.Empty(t, store.Events(), "contention must not produce writes")
}

// Two concurrent postings of the same invoice and transaction: exactly one
// produces ledger entries; the other observes the duplicate check or the
// lock and performs zero writes.
func TestPostSettlement_ConcurrentSameInvoice(t *testing.T) {
	store := NewMemoryStore()
	store.PutInvoice(openInvoice())
	poster := newTestPoster(store)

	var wg sync.WaitGroup
	results := make([]*PostResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = poster.PostSettlement(context.Background(), usdcSettlement())
		}(i)
	}
	wg.Wait()

	var posted, duplicates, contended int
	for i := 0; i < 2; i++ {
		switch {
		case errs[i] == nil && !results[i].Duplicate:
			posted++
		case errs[i] == nil && results[i].Duplicate:
			duplicates++
		case errors.Is(errs[i], paymentapp.ErrInvoiceLocked),
			errors.Is(errs[i], paymentapp.ErrInvoiceNotPayable):
			contended++
		default:
			t.Fatalf("unexpected outcome: %v", errs[i])
		}
	}

	assert.Equal(t, 1, posted, "exactly one request posts")
	assert.Equal(t, 1, duplicates+contended, "the other is a no-op")
	assert.Len(t, store.Events(), 1)
	assert.Len(t, store.Entries(), 2)
}

// failingLedger wraps the memory store and fails entry writes on demand.
type failingLedger struct {
	*MemoryStore
	failWrites bool
}

func (f *failingLedger) WriteEntries(ctx context.Context, entries []paymentapp.LedgerEntry) error {
	if f.failWrites {
		return errors.New("ledger backend unavailable")
	}
	return f.MemoryStore.WriteEntries(ctx, entries)
}

// A ledger failure after the status and event writes leaves the payment
// confirmed; RetryLedgerPosting recovers the entries later.
func TestPostSettlement_LedgerFailureKeepsConfirmation(t *testing.T) {
	store := NewMemoryStore()
	store.PutInvoice(openInvoice())
	flaky := &failingLedger{MemoryStore: store, failWrites: true}
	poster := NewPoster(&PosterConfig{Invoices: store, Ledger: flaky, Queue: store})

	result, err := poster.PostSettlement(context.Background(), usdcSettlement())
	require.NoError(t, err, "bookkeeping failure must not fail the settlement")
	assert.False(t, result.LedgerPosted)

	invoice, _ := store.GetInvoice(context.Background(), "inv-1")
	assert.Equal(t, paymentapp.StatusPaid, invoice.Status)
	assert.Len(t, store.Events(), 1)
	assert.Empty(t, store.Entries())

	// Recovery path.
	flaky.failWrites = false
	require.NoError(t, poster.RetryLedgerPosting(context.Background(), "inv-1"))

	entries := store.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, result.CorrelationID+"-debit", entries[0].IdempotencyKey)
}

// failingInvoices wraps the memory store and fails the confirmation
// write on demand.
type failingInvoices struct {
	*MemoryStore
	failConfirm bool
}

func (f *failingInvoices) ConfirmPayment(ctx context.Context, event *paymentapp.PaymentEvent) error {
	if f.failConfirm {
		return errors.New("invoice store unavailable")
	}
	return f.MemoryStore.ConfirmPayment(ctx, event)
}

// The status transition and the confirmation event are one store write, so
// a failed confirmation leaves the invoice OPEN with no event and the next
// attempt settles normally instead of tripping the duplicate check.
func TestPostSettlement_ConfirmationFailureLeavesInvoiceOpen(t *testing.T) {
	store := NewMemoryStore()
	store.PutInvoice(openInvoice())
	flaky := &failingInvoices{MemoryStore: store, failConfirm: true}
	poster := NewPoster(&PosterConfig{Invoices: flaky, Ledger: store, Queue: store})

	_, err := poster.PostSettlement(context.Background(), usdcSettlement())
	require.Error(t, err)

	invoice, _ := store.GetInvoice(context.Background(), "inv-1")
	assert.Equal(t, paymentapp.StatusOpen, invoice.Status)
	assert.Empty(t, store.Events())
	assert.Empty(t, store.Entries())

	// The same settlement goes through once the store recovers.
	flaky.failConfirm = false
	result, err := poster.PostSettlement(context.Background(), usdcSettlement())
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.True(t, result.LedgerPosted)
	assert.Len(t, store.Events(), 1)
	assert.Len(t, store.Entries(), 2)
}

func TestRetryLedgerPosting_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	store.PutInvoice(openInvoice())
	poster := newTestPoster(store)

	_, err := poster.PostSettlement(context.Background(), usdcSettlement())
	require.NoError(t, err)
	require.Len(t, store.Entries(), 2)

	// Entries already exist: the retry is a no-op, not a double posting.
	require.NoError(t, poster.RetryLedgerPosting(context.Background(), "inv-1"))
	assert.Len(t, store.Entries(), 2)
}

func TestRetryLedgerPosting_SharesInvoiceLock(t *testing.T) {
	store := NewMemoryStore()
	store.PutInvoice(openInvoice())

	locks := NewKeyedLock()
	poster := NewPoster(&PosterConfig{Invoices: store, Ledger: store, Queue: store, Locks: locks})

	require.True(t, locks.TryLock("inv-1"))
	defer locks.Unlock("inv-1")

	err := poster.RetryLedgerPosting(context.Background(), "inv-1")
	assert.ErrorIs(t, err, paymentapp.ErrInvoiceLocked)
}

func TestRetryLedgerPosting_NoConfirmedPayment(t *testing.T) {
	store := NewMemoryStore()
	store.PutInvoice(openInvoice())
	poster := newTestPoster(store)

	err := poster.RetryLedgerPosting(context.Background(), "inv-1")
	assert.ErrorContains(t, err, "no confirmed payment")
}

// failingQueue always rejects enqueues.
type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, job paymentapp.SyncJob) error {
	return errors.New("queue unavailable")
}

func TestPostSettlement_SyncEnqueueFailureNotFatal(t *testing.T) {
	store := NewMemoryStore()
	store.PutInvoice(openInvoice())
	poster := NewPoster(&PosterConfig{Invoices: store, Ledger: store, Queue: failingQueue{}})

	result, err := poster.PostSettlement(context.Background(), usdcSettlement())
	require.NoError(t, err)
	assert.True(t, result.LedgerPosted)
}

func TestPostSettlement_LockReleasedAfterFailure(t *testing.T) {
	store := NewMemoryStore()
	store.PutInvoice(openInvoice())
	flaky := &failingLedger{MemoryStore: store, failWrites: true}
	poster := NewPoster(&PosterConfig{Invoices: store, Ledger: flaky, Queue: store})

	_, err := poster.PostSettlement(context.Background(), usdcSettlement())
	require.NoError(t, err)

	// The lock must be free for the retry path.
	flaky.failWrites = false
	assert.NoError(t, poster.RetryLedgerPosting(context.Background(), "inv-1"))
}
