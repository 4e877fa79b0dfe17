package wallet

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	paymentapp "github.com/agear13/paymentapp-sub000"
	"github.com/agear13/paymentapp-sub000/mirror"
)

// fakeBridge is a scriptable Bridge for tests.
type fakeBridge struct {
	mu sync.Mutex

	saved      *Pairing
	savedDelay time.Duration
	savedCalls int

	openResults []openResult
	openCalls   int

	sessions     []SessionRecord
	signSessions []SessionRecord

	sendFn    func(ctx context.Context, topic, signer string, tx []byte) (json.RawMessage, error)
	sendCalls []sendCall

	pairingFns       []func(Pairing)
	connFns          []func(bool)
	disconnectFns    []func(string)
	disconnectTopics []string
}

type openResult struct {
	pairing *Pairing
	err     error
}

type sendCall struct {
	topic  string
	signer string
	tx     []byte
}

func (b *fakeBridge) SavedPairing(ctx context.Context) (*Pairing, error) {
	b.mu.Lock()
	b.savedCalls++
	delay := b.savedDelay
	saved := b.saved
	b.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return saved, nil
}

func (b *fakeBridge) OpenPairing(ctx context.Context) (*Pairing, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.openCalls
	b.openCalls++
	if i < len(b.openResults) {
		return b.openResults[i].pairing, b.openResults[i].err
	}
	return &Pairing{Topic: "pairing-topic", AccountID: "0.0.5363033", Network: paymentapp.NetworkMainnet}, nil
}

func (b *fakeBridge) OnPairing(fn func(Pairing)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pairingFns = append(b.pairingFns, fn)
}

func (b *fakeBridge) OnConnectionChange(fn func(bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connFns = append(b.connFns, fn)
}

func (b *fakeBridge) OnDisconnect(fn func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnectFns = append(b.disconnectFns, fn)
}

func (b *fakeBridge) Sessions() []SessionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SessionRecord(nil), b.sessions...)
}

func (b *fakeBridge) SignClientSessions() []SessionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SessionRecord(nil), b.signSessions...)
}

func (b *fakeBridge) SendTransaction(ctx context.Context, topic, signer string, tx []byte) (json.RawMessage, error) {
	b.mu.Lock()
	b.sendCalls = append(b.sendCalls, sendCall{topic: topic, signer: signer, tx: tx})
	fn := b.sendFn
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, topic, signer, tx)
	}
	return json.RawMessage(`{"transactionId":"0.0.5363033@1769582713.055549545"}`), nil
}

func (b *fakeBridge) Disconnect(ctx context.Context, pairingTopic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnectTopics = append(b.disconnectTopics, pairingTopic)
	return nil
}

// setRegistries replaces both registries atomically.
func (b *fakeBridge) setRegistries(sessions, signSessions []SessionRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = sessions
	b.signSessions = signSessions
}

// listenerCounts returns how many listeners of each kind are attached.
func (b *fakeBridge) listenerCounts() (pairing, conn, disconnect int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pairingFns), len(b.connFns), len(b.disconnectFns)
}

// firePairing invokes every registered pairing listener.
func (b *fakeBridge) firePairing(pairing Pairing) {
	b.mu.Lock()
	fns := append([]func(Pairing){}, b.pairingFns...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn(pairing)
	}
}

// convergedRegistries returns a registry pair holding one acknowledged
// hedera session in both collections.
func convergedRegistries(topic string) ([]SessionRecord, []SessionRecord) {
	record := SessionRecord{Topic: topic, Namespace: "hedera", Acknowledged: true}
	return []SessionRecord{record}, []SessionRecord{record}
}

type tokenBalance struct {
	balance  int64
	decimals int
}

// fakeBalances is a canned BalanceSource.
type fakeBalances struct {
	hbarTinybar int64
	tokens      map[string]tokenBalance
}

func (f *fakeBalances) Account(ctx context.Context, accountID string) (*mirror.AccountResponse, error) {
	return &mirror.AccountResponse{
		Account: accountID,
		Balance: mirror.AccountBalance{Balance: f.hbarTinybar},
	}, nil
}

func (f *fakeBalances) AccountTokens(ctx context.Context, accountID string) (*mirror.AccountTokensResponse, error) {
	resp := &mirror.AccountTokensResponse{}
	for id, token := range f.tokens {
		resp.Tokens = append(resp.Tokens, mirror.TokenAssociation{
			TokenID:  id,
			Balance:  token.balance,
			Decimals: token.decimals,
		})
	}
	return resp, nil
}
