package paymentapp

import "context"

// InvoiceStore is the persistence boundary for invoices and their payment
// events. The store is owned by the surrounding application; this core only
// reads invoices, transitions them to PAID, and appends confirmation events.
type InvoiceStore interface {
	// GetInvoice retrieves an invoice by id. Returns ErrInvoiceNotFound
	// when no such invoice exists.
	GetInvoice(ctx context.Context, id string) (*Invoice, error)

	// ConfirmPayment transitions the invoice to PAID and appends the
	// confirmation event in one store operation. Implementations back both
	// writes with a single transaction so a partial failure cannot leave a
	// paid invoice without its event row.
	ConfirmPayment(ctx context.Context, event *PaymentEvent) error

	// PaymentEventExists reports whether an event with the given correlation
	// id already exists for the invoice.
	PaymentEventExists(ctx context.Context, invoiceID, correlationID string) (bool, error)

	// PaymentEventByTransactionID reports whether any event exists for one
	// of the given transaction id forms, regardless of invoice. Supports the
	// dual-format duplicate check against rows stored before normalization.
	PaymentEventByTransactionID(ctx context.Context, transactionIDs []string) (bool, error)

	// LatestPaymentEvent returns the most recent confirmation event for the
	// invoice, or nil when none exists.
	LatestPaymentEvent(ctx context.Context, invoiceID string) (*PaymentEvent, error)
}

// LedgerStore is the persistence boundary for ledger accounts and entries.
type LedgerStore interface {
	// UpsertAccount returns the account with the given code for the
	// organization, creating it if it does not exist yet.
	UpsertAccount(ctx context.Context, organizationID, code string, accountType AccountType) (*LedgerAccount, error)

	// EntriesExist reports whether ledger entries were already written for
	// the invoice.
	EntriesExist(ctx context.Context, invoiceID string) (bool, error)

	// WriteEntries writes a batch of entries. Implementations should treat
	// the batch atomically where the backend allows it.
	WriteEntries(ctx context.Context, entries []LedgerEntry) error
}

// SyncQueue receives outbound external-ledger sync jobs. Enqueue failures
// are logged by callers, never fatal.
type SyncQueue interface {
	Enqueue(ctx context.Context, job SyncJob) error
}
