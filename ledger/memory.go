package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	paymentapp "github.com/agear13/paymentapp-sub000"
)

// MemoryStore is an in-memory implementation of the invoice store, ledger
// store, and sync queue interfaces. Suitable for tests and single-process
// demos; production deployments back these interfaces with the
// application's database.
type MemoryStore struct {
	mu       sync.Mutex
	invoices map[string]*paymentapp.Invoice
	events   []paymentapp.PaymentEvent
	accounts map[string]*paymentapp.LedgerAccount // keyed by orgID/code
	entries  []paymentapp.LedgerEntry
	jobs     []paymentapp.SyncJob
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[string]*paymentapp.Invoice),
		accounts: make(map[string]*paymentapp.LedgerAccount),
	}
}

// PutInvoice seeds an invoice.
func (s *MemoryStore) PutInvoice(invoice *paymentapp.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *invoice
	s.invoices[invoice.ID] = &copied
}

func (s *MemoryStore) GetInvoice(ctx context.Context, id string) (*paymentapp.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[id]
	if !ok {
		return nil, paymentapp.ErrInvoiceNotFound
	}
	copied := *invoice
	return &copied, nil
}

func (s *MemoryStore) ConfirmPayment(ctx context.Context, event *paymentapp.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[event.InvoiceID]
	if !ok {
		return paymentapp.ErrInvoiceNotFound
	}
	invoice.Status = paymentapp.StatusPaid
	s.events = append(s.events, *event)
	return nil
}

func (s *MemoryStore) PaymentEventExists(ctx context.Context, invoiceID, correlationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range s.events {
		if event.InvoiceID == invoiceID && event.CorrelationID == correlationID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) PaymentEventByTransactionID(ctx context.Context, transactionIDs []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range s.events {
		for _, id := range transactionIDs {
			if event.TransactionID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *MemoryStore) LatestPaymentEvent(ctx context.Context, invoiceID string) (*paymentapp.PaymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].InvoiceID == invoiceID {
			copied := s.events[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) UpsertAccount(ctx context.Context, organizationID, code string, accountType paymentapp.AccountType) (*paymentapp.LedgerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s/%s", organizationID, code)
	if account, ok := s.accounts[key]; ok {
		copied := *account
		return &copied, nil
	}
	account := &paymentapp.LedgerAccount{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		Code:           code,
		Type:           accountType,
	}
	s.accounts[key] = account
	copied := *account
	return &copied, nil
}

func (s *MemoryStore) EntriesExist(ctx context.Context, invoiceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.entries {
		if entry.InvoiceID == invoiceID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) WriteEntries(ctx context.Context, entries []paymentapp.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		for _, existing := range s.entries {
			if existing.IdempotencyKey == entry.IdempotencyKey {
				return fmt.Errorf("duplicate idempotency key %s", entry.IdempotencyKey)
			}
		}
	}
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *MemoryStore) Enqueue(ctx context.Context, job paymentapp.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

// Entries returns a snapshot of all ledger entries.
func (s *MemoryStore) Entries() []paymentapp.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]paymentapp.LedgerEntry(nil), s.entries...)
}

// Events returns a snapshot of all payment events.
func (s *MemoryStore) Events() []paymentapp.PaymentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]paymentapp.PaymentEvent(nil), s.events...)
}

// Jobs returns a snapshot of all enqueued sync jobs.
func (s *MemoryStore) Jobs() []paymentapp.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]paymentapp.SyncJob(nil), s.jobs...)
}
