// Package session holds the Auth State: the in-memory copy of the current
// session, the one-time load from the credential store, and the login and
// logout transitions that are its only writers.
//
// A State is constructed once at application start and injected into every
// consumer. Readers get immutable Snapshot values and may subscribe to be
// told synchronously about every transition.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"fleetdesk/internal/credstore"
	apperrors "fleetdesk/internal/errors"
	"fleetdesk/internal/logging"
	"fleetdesk/internal/model"
)

// Phase is the state machine position of the Auth State.
type Phase int

const (
	// Uninitialized: the credential store has not been read yet. Consumers
	// must treat this as "loading", never as "unauthenticated".
	Uninitialized Phase = iota
	Authenticated
	Unauthenticated
)

func (p Phase) String() string {
	switch p {
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "uninitialized"
	}
}

// Snapshot is an immutable view of the Auth State.
type Snapshot struct {
	Initialized bool
	Session     model.Session
}

// Phase derives the state machine position.
func (s Snapshot) Phase() Phase {
	switch {
	case !s.Initialized:
		return Uninitialized
	case s.Session.Authenticated():
		return Authenticated
	default:
		return Unauthenticated
	}
}

// IsAuthenticated is true only once initialized and with a token present.
func (s Snapshot) IsAuthenticated() bool {
	return s.Phase() == Authenticated
}

// Authenticator exchanges credentials for a session.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (model.Session, error)
}

// Invalidator revokes a token server-side.
type Invalidator interface {
	Invalidate(ctx context.Context, token string) error
}

// Validator checks whether the server still accepts a token. It returns an
// error wrapping errors.ErrTokenRejected when it does not.
type Validator interface {
	Validate(ctx context.Context, token string) error
}

// Option configures a State.
type Option func(*State)

// WithInvalidator enables best-effort server-side invalidation on logout.
func WithInvalidator(inv Invalidator) Option {
	return func(s *State) { s.invalidator = inv }
}

// WithValidator enables Revalidate.
func WithValidator(v Validator) Option {
	return func(s *State) { s.validator = v }
}

// WithExpiryDays sets the expiry of stored session entries. Zero keeps
// them until logout.
func WithExpiryDays(days int) Option {
	return func(s *State) { s.expiryDays = days }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *State) {
		if l != nil {
			s.logger = l
		}
	}
}

type subscriber struct {
	id uint64
	fn func(Snapshot)
}

// State is the process-wide Auth State.
type State struct {
	store       credstore.Store
	auth        Authenticator
	invalidator Invalidator
	validator   Validator
	expiryDays  int
	logger      *slog.Logger
	validate    *validator.Validate

	// mu serializes transitions. It is held across the login exchange so
	// concurrent callers observe either the pre or the post state.
	mu sync.Mutex

	snapMu sync.RWMutex
	snap   Snapshot

	subMu   sync.Mutex
	subs    []subscriber
	nextSub uint64
}

// New creates an uninitialized State.
func New(store credstore.Store, auth Authenticator, opts ...Option) *State {
	s := &State{
		store:    store,
		auth:     auth,
		logger:   logging.Discard(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current state. It never blocks on I/O.
func (s *State) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// IsAuthenticated reports whether the state is initialized and holds a token.
func (s *State) IsAuthenticated() bool {
	return s.Snapshot().IsAuthenticated()
}

// Subscribe registers fn to be called after every transition, in
// transition order, with the new snapshot. fn runs while the transition
// lock is held and must not call Login, Logout or InitializeAuth itself.
// The returned function unsubscribes and is safe to call more than once.
func (s *State) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// InitializeAuth loads the stored session once. Later calls return the
// current snapshot without touching the store.
func (s *State) InitializeAuth(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.Snapshot(); cur.Initialized {
		return cur
	}

	values := make(map[string]string, len(credstore.SessionKeys))
	for _, key := range credstore.SessionKeys {
		if v, ok := s.store.Get(ctx, key); ok {
			values[key] = v
		}
	}

	sess, ok := credstore.DecodeSession(values)
	if ok {
		if err := s.validate.Struct(sess); err != nil {
			ok = false
		}
	}
	if !ok {
		sess = model.Session{}
		if len(values) > 0 {
			// torn or stale leftovers from an interrupted write
			s.logger.Warn("discarding incomplete stored session", "keys", len(values))
			credstore.RemoveAll(ctx, s.store, credstore.ClearOrder()...)
		}
	}

	next := Snapshot{Initialized: true, Session: sess}
	s.commit(next)

	if next.IsAuthenticated() {
		s.logger.Info("restored stored session", "user_id", sess.UserID, "role", sess.Role)
	} else {
		s.logger.Debug("no stored session")
	}
	return next
}

// Login exchanges credentials through the Authenticator. On success the
// session is persisted and becomes current in one transition. On failure
// nothing changes and the returned error wraps ErrAuthenticationRejected
// with a message fit for display. A token replaced by the login is handed
// to the Invalidator.
func (s *State) Login(ctx context.Context, username, password string) error {
	replaced, err := s.login(ctx, username, password)
	if err != nil {
		return err
	}
	// best-effort, a failed revocation does not fail the login
	_ = s.invalidate(ctx, replaced)
	return nil
}

// login performs the transition and returns the token it replaced, if
// any and if different from the new one.
func (s *State) login(ctx context.Context, username, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.Snapshot().Session.Token

	sess, err := s.auth.Authenticate(ctx, username, password)
	if err != nil {
		s.logger.Info("login rejected", "username", username, "error", err)
		if errors.Is(err, apperrors.ErrAuthenticationRejected) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", apperrors.ErrAuthenticationRejected, err)
	}
	if err := s.validate.Struct(sess); err != nil {
		s.logger.Warn("authentication endpoint returned an invalid session", "error", err)
		return "", fmt.Errorf("%w: invalid authentication response", apperrors.ErrAuthenticationRejected)
	}

	credstore.SetAll(ctx, s.store, credstore.SessionEntries(sess), s.expiryDays)
	s.commit(Snapshot{Initialized: true, Session: sess})

	s.logger.Info("login succeeded", "user_id", sess.UserID, "role", sess.Role)
	if prev == sess.Token {
		return "", nil
	}
	return prev, nil
}

// Logout clears the stored entries and the in-memory session in one
// transition, then asks the Invalidator to revoke the old token. A failed
// invalidation is returned wrapping ErrLogoutEndpoint; the local session is
// already gone by then. Logging out while unauthenticated is a no-op.
func (s *State) Logout(ctx context.Context) error {
	s.mu.Lock()
	token, changed := s.clearLocked(ctx)
	s.mu.Unlock()

	if !changed {
		return nil
	}
	return s.invalidate(ctx, token)
}

// Revalidate asks the Validator whether the current token is still
// accepted and logs out when it is not. Transport failures keep the
// session and are returned as is.
func (s *State) Revalidate(ctx context.Context) error {
	if s.validator == nil {
		return nil
	}
	snap := s.Snapshot()
	if !snap.IsAuthenticated() {
		return nil
	}

	err := s.validator.Validate(ctx, snap.Session.Token)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperrors.ErrTokenRejected) {
		s.logger.Warn("session revalidation failed", "error", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// a login may have replaced the token while we were asking
	if s.Snapshot().Session.Token != snap.Session.Token {
		return nil
	}
	s.clearLocked(ctx)
	s.logger.Info("stored session no longer accepted", "user_id", snap.Session.UserID)
	return err
}

// clearLocked performs the logout transition. It reports the token that
// was current and whether anything changed.
func (s *State) clearLocked(ctx context.Context) (string, bool) {
	cur := s.Snapshot()
	if cur.Initialized && !cur.Session.Authenticated() {
		return "", false
	}

	credstore.RemoveAll(ctx, s.store, credstore.ClearOrder()...)
	s.commit(Snapshot{Initialized: true})

	if cur.Session.Authenticated() {
		s.logger.Info("logged out", "user_id", cur.Session.UserID)
	}
	return cur.Session.Token, true
}

func (s *State) invalidate(ctx context.Context, token string) error {
	if s.invalidator == nil || token == "" {
		return nil
	}
	if err := s.invalidator.Invalidate(ctx, token); err != nil {
		s.logger.Warn("server-side logout failed", "error", err)
		return fmt.Errorf("%w: %v", apperrors.ErrLogoutEndpoint, err)
	}
	return nil
}

// commit swaps the snapshot and notifies subscribers. Callers hold mu.
func (s *State) commit(next Snapshot) {
	s.snapMu.Lock()
	s.snap = next
	s.snapMu.Unlock()

	s.subMu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(next)
	}
}

// Message returns the human-readable part of a login error for display.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	prefix := apperrors.ErrAuthenticationRejected.Error() + ": "
	if strings.HasPrefix(msg, prefix) {
		return strings.TrimPrefix(msg, prefix)
	}
	return msg
}
