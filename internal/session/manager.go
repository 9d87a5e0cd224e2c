package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/costlens/costlens/internal/telemetry"
)

// Sentinel errors
var (
	// ErrRefreshExhausted is returned when a token refresh fails or no
	// refresh token exists; the session has been cleared.
	ErrRefreshExhausted = errors.New("refresh exhausted")

	// ErrSuperseded is returned when an in-flight operation completed after
	// a newer login or logout replaced the session; its result was discarded.
	ErrSuperseded = errors.New("superseded by newer operation")
)

// State is the session lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateHydrating
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHydrating:
		return "hydrating"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the session published to subscribers.
// Consumers never observe a half-updated session: tokens, claims and policy
// are replaced as a unit.
type Snapshot struct {
	State    State
	Claims   Claims
	Remember bool
}

// Authenticated reports whether the snapshot carries a usable identity.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated
}

// AuthAPI is the external auth collaborator consumed by the manager.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
}

// Manager is the single source of truth for the current session: whether
// the user is authenticated, what they can do, and which tenant applies.
// It owns the token pair, the persistence policy, and refresh coordination
// for the HTTP layer.
type Manager struct {
	mu        sync.Mutex
	auth      AuthAPI
	durable   Store
	ephemeral Store
	now       func() time.Time

	state    State
	pair     TokenPair
	claims   Claims
	remember bool
	hydrated bool

	// gen tags each session replacement so a stale in-flight login or
	// refresh result cannot overwrite a newer session.
	gen uint64

	refreshing  bool
	refreshDone chan struct{}

	subs    map[int]chan Snapshot
	nextSub int
}

// Option configures a Manager.
type Option func(*Manager)

// WithNow sets the time source (primarily for testing).
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a session manager. durable survives restarts and holds
// remembered sessions; ephemeral is scoped to the current process.
func NewManager(auth AuthAPI, durable, ephemeral Store, opts ...Option) *Manager {
	m := &Manager{
		auth:      auth,
		durable:   durable,
		ephemeral: ephemeral,
		now:       time.Now,
		state:     StateUninitialized,
		subs:      make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Hydrate restores a persisted session. The remember flag selects the
// medium; an unusable access token discards the pair but preserves the
// flag. Idempotent: only the first call does any work, so a double invoke
// at startup is harmless. Consumers must not make auth decisions while
// Initializing reports true.
func (m *Manager) Hydrate() error {
	m.mu.Lock()
	if m.hydrated {
		m.mu.Unlock()
		return nil
	}
	m.hydrated = true
	m.state = StateHydrating

	remember := m.readFlag(m.durable)
	active := m.ephemeral
	if remember {
		active = m.durable
	}

	access, err := active.Get(KeyAccessToken)
	if err != nil {
		log.Debug().Err(err).Msg("failed to read persisted access token")
	}
	refresh, err := active.Get(KeyRefreshToken)
	if err != nil {
		log.Debug().Err(err).Msg("failed to read persisted refresh token")
	}

	claims := DecodeClaims(access)
	if access == "" || !claims.Usable(m.now()) {
		m.clearTokens()
		m.pair = TokenPair{}
		m.claims = Claims{}
		m.remember = remember
		m.state = StateUnauthenticated
	} else {
		m.pair = TokenPair{AccessToken: access, RefreshToken: refresh}
		m.claims = claims
		m.remember = remember
		m.state = StateAuthenticated
	}

	snap := m.snapshotLocked()
	m.publishLocked(snap)
	m.mu.Unlock()

	log.Debug().
		Str("state", snap.State.String()).
		Bool("remember", snap.Remember).
		Msg("session hydrated")

	return nil
}

// Initializing reports whether hydration has yet to complete. Route guards
// must suspend redirect decisions while this is true.
func (m *Manager) Initializing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateUninitialized || m.state == StateHydrating
}

// Login authenticates with the external collaborator and replaces the
// session wholesale. remember selects the durable medium; the opposite
// medium is cleared so exactly one holds live tokens.
func (m *Manager) Login(ctx context.Context, email, password string, remember bool) (Snapshot, error) {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	pair, err := m.auth.Login(ctx, email, password)
	if err != nil {
		return m.Snapshot(), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return m.snapshotLocked(), ErrSuperseded
	}

	m.pair = *pair
	m.claims = DecodeClaims(pair.AccessToken)
	m.remember = remember
	m.state = StateAuthenticated
	m.persistLocked()

	telemetry.GetMetrics().LoginsTotal.Add(ctx, 1)

	snap := m.snapshotLocked()
	m.publishLocked(snap)

	log.Info().
		Str("subject", m.claims.Subject).
		Str("tenant", m.claims.TenantID).
		Bool("remember", remember).
		Msg("logged in")

	return snap, nil
}

// Logout clears the in-memory session and both storage media, and resets
// the persistence policy. It has no network side effect and never fails;
// calling it on an already-clear session is a no-op.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logoutLocked()
	m.publishLocked(m.snapshotLocked())
}

// Refresh exchanges the refresh token for a new pair. Both tokens rotate
// together; the old refresh token is single use. On any failure the session
// is cleared and ErrRefreshExhausted is returned; there is no automatic
// retry. Concurrent callers share a single in-flight attempt.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()

	if m.refreshing {
		done := m.refreshDone
		m.mu.Unlock()
		<-done
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state == StateAuthenticated {
			return nil
		}
		return ErrRefreshExhausted
	}

	refreshToken := m.pair.RefreshToken
	if refreshToken == "" {
		m.logoutLocked()
		m.publishLocked(m.snapshotLocked())
		m.mu.Unlock()
		return ErrRefreshExhausted
	}

	m.refreshing = true
	m.refreshDone = make(chan struct{})
	gen := m.gen
	m.mu.Unlock()

	pair, err := m.auth.Refresh(ctx, refreshToken)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshing = false
	close(m.refreshDone)

	if gen != m.gen {
		return ErrSuperseded
	}

	if err != nil {
		log.Debug().Err(err).Msg("token refresh failed, clearing session")
		telemetry.GetMetrics().RefreshFailuresTotal.Add(ctx, 1)
		m.logoutLocked()
		m.publishLocked(m.snapshotLocked())
		return ErrRefreshExhausted
	}

	m.pair = *pair
	m.claims = DecodeClaims(pair.AccessToken)
	m.state = StateAuthenticated
	m.persistLocked()

	telemetry.GetMetrics().RefreshesTotal.Add(ctx, 1)

	m.publishLocked(m.snapshotLocked())
	return nil
}

// AccessToken returns the current access token and whether it is usable.
// An unusable token is reported exactly like an absent one.
func (m *Manager) AccessToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pair.AccessToken == "" || !m.claims.Usable(m.now()) {
		return "", false
	}
	return m.pair.AccessToken, true
}

// Claims returns the claims derived from the current access token, or empty
// claims when no usable token exists.
func (m *Manager) Claims() Claims {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pair.AccessToken == "" || !m.claims.Usable(m.now()) {
		return Claims{}
	}
	return m.claims
}

// Snapshot returns the current immutable session view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers for session snapshots. The returned channel receives
// the snapshot current at subscribe time plus each subsequent replacement;
// slow consumers miss intermediate snapshots rather than block the manager.
// The returned func unsubscribes.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++

	ch := make(chan Snapshot, 8)
	m.subs[id] = ch
	ch <- m.snapshotLocked()

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}

	return ch, unsubscribe
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{State: m.state, Remember: m.remember}
	if m.state == StateAuthenticated {
		snap.Claims = m.claims
	}
	return snap
}

func (m *Manager) publishLocked(snap Snapshot) {
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// logoutLocked clears the session and both media. Storage failures are
// swallowed: in-memory state stays correct for the current process.
func (m *Manager) logoutLocked() {
	m.gen++
	m.pair = TokenPair{}
	m.claims = Claims{}
	m.remember = false
	if m.state != StateUninitialized && m.state != StateHydrating {
		m.state = StateUnauthenticated
	}
	m.clearTokens()
	m.writeFlag(m.durable, false)
	m.writeFlag(m.ephemeral, false)
}

// persistLocked mirrors the in-memory session into storage: tokens go to
// the medium selected by the remember flag, the opposite medium is cleared,
// and the flag itself is written to both.
func (m *Manager) persistLocked() {
	active, other := m.ephemeral, m.durable
	if m.remember {
		active, other = m.durable, m.ephemeral
	}

	if err := active.Set(KeyAccessToken, m.pair.AccessToken); err != nil {
		log.Debug().Err(err).Msg("failed to persist access token")
	}
	if err := active.Set(KeyRefreshToken, m.pair.RefreshToken); err != nil {
		log.Debug().Err(err).Msg("failed to persist refresh token")
	}
	if err := other.Delete(KeyAccessToken); err != nil {
		log.Debug().Err(err).Msg("failed to clear access token")
	}
	if err := other.Delete(KeyRefreshToken); err != nil {
		log.Debug().Err(err).Msg("failed to clear refresh token")
	}

	m.writeFlag(m.durable, m.remember)
	m.writeFlag(m.ephemeral, m.remember)
}

func (m *Manager) clearTokens() {
	for _, store := range []Store{m.durable, m.ephemeral} {
		if err := store.Delete(KeyAccessToken); err != nil {
			log.Debug().Err(err).Msg("failed to clear access token")
		}
		if err := store.Delete(KeyRefreshToken); err != nil {
			log.Debug().Err(err).Msg("failed to clear refresh token")
		}
	}
}

func (m *Manager) readFlag(store Store) bool {
	v, err := store.Get(KeyRemember)
	if err != nil {
		log.Debug().Err(err).Msg("failed to read remember flag")
		return false
	}
	return v == "true"
}

func (m *Manager) writeFlag(store Store, remember bool) {
	v := "false"
	if remember {
		v = "true"
	}
	if err := store.Set(KeyRemember, v); err != nil {
		log.Debug().Err(err).Msg("failed to persist remember flag")
	}
}
