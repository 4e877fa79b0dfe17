package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	paymentapp "github.com/agear13/paymentapp-sub000"
	"github.com/agear13/paymentapp-sub000/hbar"
)

// PaymentRequest describes a transfer to the merchant account.
type PaymentRequest struct {
	To     string
	Asset  paymentapp.AssetType
	Amount decimal.Decimal // human units

	// TokenID and TokenDecimals apply to token assets only.
	TokenID       string
	TokenDecimals int

	// Memo is carried on-chain and used later for matching.
	Memo string
}

// PaymentResult is the outcome of a submitted payment.
type PaymentResult struct {
	TransactionID string // normalized dash form
}

// accountAmount is one hbar balance leg of an unsigned transfer.
type accountAmount struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"` // tinybar, negative outbound
}

// tokenAmount is one token leg of an unsigned transfer.
type tokenAmount struct {
	TokenID string `json:"tokenId"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"` // smallest units, negative outbound
}

// transferBody is the unsigned transfer handed to the wallet for signing
// and submission. The two asset flows differ only in which leg list is
// populated; everything downstream of serialization is shared.
type transferBody struct {
	TransactionID  string          `json:"transactionId"`
	Memo           string          `json:"memo,omitempty"`
	HbarTransfers  []accountAmount `json:"hbarTransfers,omitempty"`
	TokenTransfers []tokenAmount   `json:"tokenTransfers,omitempty"`
}

// SendPayment builds an unsigned transfer from the paired account to the
// merchant account and hands it to the wallet over the signing session.
// The transaction id is generated client-side (paired account plus a
// client timestamp) since no network client is available to assign one.
// A failed or timed-out submission leaves the manager PAIRED; subsequent
// attempts reuse the same session.
func (m *Manager) SendPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	m.mu.Lock()
	pairing := m.pairing
	state := m.state
	m.mu.Unlock()

	if state != StatePaired || pairing == nil {
		return nil, paymentapp.NewPaymentError(paymentapp.ErrCodeNotPaired,
			"no wallet is paired; connect a wallet first", nil)
	}

	// Signing requires the session topic, never the pairing topic.
	topic, ok := m.SessionTopic(ctx)
	if !ok {
		return nil, paymentapp.NewPaymentError(paymentapp.ErrCodeSessionNotEstablished,
			"signing session not established; reconnect your wallet and try again", nil)
	}

	body, err := m.buildTransfer(pairing.AccountID, req)
	if err != nil {
		return nil, err
	}
	txBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transfer: %w", err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, m.submitTimeout)
	defer cancel()

	m.log.Info("submitting payment to wallet",
		zap.String("transactionId", body.TransactionID),
		zap.String("asset", string(req.Asset)),
		zap.String("amount", req.Amount.String()))

	raw, err := m.bridge.SendTransaction(submitCtx, topic, pairing.AccountID, txBytes)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// Wallet never answered; this is not a rejection.
			return nil, paymentapp.NewPaymentError(paymentapp.ErrCodeSubmissionTimeout,
				"the wallet did not respond in time; check the wallet app and retry", nil)
		}
		return nil, classifyBridgeError(err)
	}

	txID := extractTransactionID(raw)
	if txID == "" {
		txID = body.TransactionID
	}
	normalized, ok := hbar.NormalizeTransactionID(txID)
	if !ok {
		m.log.Warn("wallet returned unrecognized transaction id format",
			zap.String("transactionId", txID))
	}
	return &PaymentResult{TransactionID: normalized}, nil
}

// buildTransfer constructs the unsigned transfer legs for either asset flow.
func (m *Manager) buildTransfer(payer string, req PaymentRequest) (*transferBody, error) {
	if !hbar.ValidAccountID(req.To) {
		return nil, fmt.Errorf("invalid recipient account id: %q", req.To)
	}

	now := m.now()
	body := &transferBody{
		TransactionID: fmt.Sprintf("%s@%d.%09d", payer, now.Unix(), now.Nanosecond()),
		Memo:          req.Memo,
	}

	if req.Asset.IsNative() {
		tinybar, err := hbar.ToTinybar(req.Amount)
		if err != nil {
			return nil, err
		}
		body.HbarTransfers = []accountAmount{
			{Account: payer, Amount: -tinybar},
			{Account: req.To, Amount: tinybar},
		}
		return body, nil
	}

	units, err := hbar.ToSmallestUnit(req.Amount, req.TokenDecimals)
	if err != nil {
		return nil, err
	}
	if !units.IsInt64() {
		return nil, fmt.Errorf("token amount overflows transfer leg: %s", units)
	}
	body.TokenTransfers = []tokenAmount{
		{TokenID: req.TokenID, Account: payer, Amount: -units.Int64()},
		{TokenID: req.TokenID, Account: req.To, Amount: units.Int64()},
	}
	return body, nil
}

// extractTransactionID pulls the transaction id out of a wallet response.
// The id has been observed in three locations depending on wallet version;
// this is the one normalizing extraction point.
func extractTransactionID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var envelope struct {
		TransactionID string `json:"transactionId"`
		Response      struct {
			TransactionID string `json:"transactionId"`
		} `json:"response"`
		Result struct {
			TransactionID string `json:"transactionId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	switch {
	case envelope.TransactionID != "":
		return envelope.TransactionID
	case envelope.Response.TransactionID != "":
		return envelope.Response.TransactionID
	default:
		return envelope.Result.TransactionID
	}
}

// classifyBridgeError maps a wallet failure onto the error taxonomy. User
// rejection and the actionable wallet states are final; anything else is a
// transient handshake failure.
func classifyBridgeError(err error) *paymentapp.PaymentError {
	if pe, ok := paymentapp.AsPaymentError(err); ok {
		return pe
	}

	message := strings.ToUpper(err.Error())
	switch {
	case strings.Contains(message, "USER_REJECT") || strings.Contains(message, "REJECTED"):
		return paymentapp.NewPaymentError(paymentapp.ErrCodeUserRejected,
			"the payment was rejected in the wallet", nil)
	case strings.Contains(message, "TOKEN_NOT_ASSOCIATED"):
		return paymentapp.NewPaymentError(paymentapp.ErrCodeTokenNotAssociated,
			"your account is not associated with this token; associate it in your wallet and try again", nil)
	case strings.Contains(message, "INSUFFICIENT"):
		return paymentapp.NewPaymentError(paymentapp.ErrCodeInsufficientBalance,
			"your wallet balance does not cover this payment", nil)
	default:
		return paymentapp.NewPaymentError(paymentapp.ErrCodeTransientHandshake,
			err.Error(), nil)
	}
}
