package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	paymentapp "github.com/agear13/paymentapp-sub000"
	"github.com/agear13/paymentapp-sub000/hbar"
	"github.com/agear13/paymentapp-sub000/mirror"
)

// State is the session manager's lifecycle state.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateInitializing  State = "INITIALIZING"
	StateReady         State = "READY" // initialized, not paired
	StatePairing       State = "PAIRING"
	StatePaired        State = "PAIRED"
	StateDisconnected  State = "DISCONNECTED"
)

// hederaNamespace is the chain namespace a signing session must carry.
const hederaNamespace = "hedera"

const (
	defaultTopicRetries  = 10
	defaultTopicDelay    = 500 * time.Millisecond
	defaultSubmitTimeout = 2 * time.Minute
)

// BalanceSource is the slice of the mirror client used for balance
// snapshots.
type BalanceSource interface {
	Account(ctx context.Context, accountID string) (*mirror.AccountResponse, error)
	AccountTokens(ctx context.Context, accountID string) (*mirror.AccountTokensResponse, error)
}

// ManagerConfig configures a session Manager.
type ManagerConfig struct {
	// Bridge is the wallet-facing API (required).
	Bridge Bridge

	// Network the manager pairs on (defaults to mainnet).
	Network paymentapp.Network

	// Balances is the mirror client for balance snapshots (optional).
	Balances BalanceSource

	// TopicRetries bounds the session-topic convergence poll (default 10).
	TopicRetries int

	// TopicDelay is the wait between convergence attempts (default 500ms).
	TopicDelay time.Duration

	// SubmitTimeout bounds a transaction submission (default 2 minutes).
	SubmitTimeout time.Duration

	// Logger (optional).
	Logger *zap.Logger

	// Now overrides the clock (optional, for tests).
	Now func() time.Time
}

// Manager owns the signing-session state for one wallet connection. It is
// constructed once at the application boundary and injected where needed;
// all methods are safe for concurrent use. Server-side code never reads it
// except indirectly, via the transaction the wallet submits.
type Manager struct {
	bridge        Bridge
	network       paymentapp.Network
	balances      BalanceSource
	topicRetries  int
	topicDelay    time.Duration
	submitTimeout time.Duration
	log           *zap.Logger
	now           func() time.Time

	initGroup     singleflight.Group
	listenersOnce sync.Once

	mu           sync.Mutex
	state        State
	pairing      *Pairing
	balanceCache map[string]decimal.Decimal // "HBAR" or token id
	subscribers  []func(State)
}

// NewManager creates a session Manager in the UNINITIALIZED state.
func NewManager(config *ManagerConfig) *Manager {
	network := config.Network
	if network == "" {
		network = paymentapp.NetworkMainnet
	}
	topicRetries := config.TopicRetries
	if topicRetries == 0 {
		topicRetries = defaultTopicRetries
	}
	topicDelay := config.TopicDelay
	if topicDelay == 0 {
		topicDelay = defaultTopicDelay
	}
	submitTimeout := config.SubmitTimeout
	if submitTimeout == 0 {
		submitTimeout = defaultSubmitTimeout
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		bridge:        config.Bridge,
		network:       network,
		balances:      config.Balances,
		topicRetries:  topicRetries,
		topicDelay:    topicDelay,
		submitTimeout: submitTimeout,
		log:           log,
		now:           now,
		state:         StateUninitialized,
		balanceCache:  make(map[string]decimal.Decimal),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Account returns the paired account id, or "" when not paired.
func (m *Manager) Account() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pairing == nil {
		return ""
	}
	return m.pairing.AccountID
}

// Subscribe registers a state-change callback. Callbacks run synchronously
// on the goroutine that caused the transition.
func (m *Manager) Subscribe(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	subscribers := append([]func(State){}, m.subscribers...)
	m.mu.Unlock()

	for _, fn := range subscribers {
		fn(state)
	}
}

// Init establishes the wallet connection. Idempotent and concurrency-safe:
// concurrent callers share one in-flight initialization, so a second
// caller never triggers a second handshake. On success the manager is
// PAIRED when the underlying wallet had a cached pairing to rehydrate
// from, READY otherwise.
func (m *Manager) Init(ctx context.Context) error {
	_, err, _ := m.initGroup.Do("init", func() (interface{}, error) {
		m.mu.Lock()
		state := m.state
		m.mu.Unlock()
		if state != StateUninitialized && state != StateDisconnected {
			return nil, nil
		}

		m.setState(StateInitializing)
		m.registerListeners()

		saved, err := m.bridge.SavedPairing(ctx)
		if err != nil {
			m.setState(StateUninitialized)
			return nil, fmt.Errorf("failed to restore wallet connection: %w", err)
		}
		if saved != nil {
			m.mu.Lock()
			m.pairing = saved
			m.mu.Unlock()
			m.setState(StatePaired)
			m.log.Info("rehydrated existing wallet pairing",
				zap.String("account", saved.AccountID))
			return nil, nil
		}

		m.setState(StateReady)
		return nil, nil
	})
	return err
}

// registerListeners attaches the three bridge listeners. Guarded by a
// sync.Once: listeners are attached once per underlying bridge instance,
// not once per connect cycle, so disconnect does not reset this.
func (m *Manager) registerListeners() {
	m.listenersOnce.Do(func() {
		m.bridge.OnPairing(func(pairing Pairing) {
			m.mu.Lock()
			m.pairing = &pairing
			m.mu.Unlock()
			m.setState(StatePaired)
		})
		m.bridge.OnConnectionChange(func(connected bool) {
			if !connected {
				m.log.Warn("wallet relay connection lost")
			}
		})
		m.bridge.OnDisconnect(func(topic string) {
			m.log.Info("wallet initiated disconnect", zap.String("topic", topic))
			m.clearPairing()
			m.setState(StateDisconnected)
		})
	})
}

// Pair performs a fresh pairing handshake. A transient failure is retried
// exactly once at this layer before being surfaced.
func (m *Manager) Pair(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StatePaired:
		m.mu.Unlock()
		return nil
	case StateUninitialized, StateInitializing:
		m.mu.Unlock()
		return fmt.Errorf("session manager is not initialized")
	}
	m.mu.Unlock()

	m.setState(StatePairing)

	pairing, err := m.bridge.OpenPairing(ctx)
	if err != nil {
		if classified := classifyBridgeError(err); classified.Code == paymentapp.ErrCodeTransientHandshake {
			m.log.Warn("pairing handshake failed, retrying once", zap.Error(err))
			pairing, err = m.bridge.OpenPairing(ctx)
		}
	}
	if err != nil {
		m.setState(StateReady)
		return classifyBridgeError(err)
	}

	m.mu.Lock()
	m.pairing = pairing
	m.mu.Unlock()
	m.setState(StatePaired)
	return nil
}

// SessionTopic discovers the topic of the signing-capable channel. The
// topic is not delivered synchronously with the pairing event: it appears
// asynchronously in two independent registries, and a session visible in
// only one of them is not yet safe to sign with. The poll retries with a
// bounded delay until a topic with the hedera namespace and an
// acknowledged flag is present in both. Exhaustion returns ("", false) —
// "signing session not established", which is distinct from not paired.
func (m *Manager) SessionTopic(ctx context.Context) (string, bool) {
	for attempt := 1; attempt <= m.topicRetries; attempt++ {
		if topic, ok := m.convergedTopic(); ok {
			return topic, true
		}
		if attempt == m.topicRetries {
			break
		}
		select {
		case <-time.After(m.topicDelay):
		case <-ctx.Done():
			return "", false
		}
	}
	m.log.Warn("signing session did not converge",
		zap.Int("attempts", m.topicRetries))
	return "", false
}

// convergedTopic scans both registries for a session acknowledged in each.
func (m *Manager) convergedTopic() (string, bool) {
	signClient := make(map[string]bool)
	for _, record := range m.bridge.SignClientSessions() {
		if record.Namespace == hederaNamespace && record.Acknowledged {
			signClient[record.Topic] = true
		}
	}
	for _, record := range m.bridge.Sessions() {
		if record.Namespace == hederaNamespace && record.Acknowledged && signClient[record.Topic] {
			return record.Topic, true
		}
	}
	return "", false
}

// Disconnect tears down the pairing, clears cached balances, and moves to
// DISCONNECTED. Listener registration survives: it is per bridge instance.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	pairing := m.pairing
	m.mu.Unlock()

	if pairing != nil && pairing.Topic != "" {
		if err := m.bridge.Disconnect(ctx, pairing.Topic); err != nil {
			m.log.Warn("bridge disconnect failed", zap.Error(err))
		}
	}
	m.clearPairing()
	m.setState(StateDisconnected)
	return nil
}

func (m *Manager) clearPairing() {
	m.mu.Lock()
	m.pairing = nil
	m.balanceCache = make(map[string]decimal.Decimal)
	m.mu.Unlock()
}

// RefreshBalances snapshots the paired account's hbar and token balances
// from the mirror node into the cache.
func (m *Manager) RefreshBalances(ctx context.Context) error {
	account := m.Account()
	if account == "" {
		return paymentapp.NewPaymentError(paymentapp.ErrCodeNotPaired, "no wallet is paired", nil)
	}
	if m.balances == nil {
		return fmt.Errorf("no balance source configured")
	}

	snapshot, err := m.balances.Account(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to fetch account balance: %w", err)
	}
	hbarBalance, err := hbar.FromTinybar(snapshot.Balance.Balance)
	if err != nil {
		return err
	}

	tokens, err := m.balances.AccountTokens(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to fetch token balances: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceCache = map[string]decimal.Decimal{"HBAR": hbarBalance}
	for _, token := range tokens.Tokens {
		units, err := hbar.FromSmallestUnit(big.NewInt(token.Balance), token.Decimals)
		if err != nil {
			continue
		}
		m.balanceCache[token.TokenID] = units
	}
	return nil
}

// Balance returns the cached balance for "HBAR" or a token id.
func (m *Manager) Balance(key string) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balanceCache[key]
	return balance, ok
}
