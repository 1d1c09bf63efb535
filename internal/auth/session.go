package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/model"
)

// Session is the client's identity source: it resolves the stored token
// into an identity and tells listeners about every sign-in, sign-out and
// token refresh.
type Session struct {
	creds  Credentials
	secret []byte

	// deliverMu keeps listeners seeing transitions in the order they
	// were made
	deliverMu sync.Mutex

	mu        sync.Mutex
	resolved  bool
	gen       uint64 // bumped by every transition
	token     string
	identity  *model.Identity
	nextID    int
	listeners map[int]func(*model.Identity)
}

// NewSession reads tokens from creds. With a non-empty secret tokens are
// fully verified; without one they are only parsed.
func NewSession(creds Credentials, secret []byte) *Session {
	return &Session{
		creds:     creds,
		secret:    secret,
		listeners: map[int]func(*model.Identity){},
	}
}

func (s *Session) parse(token string) (*model.Identity, *Claims, error) {
	if len(s.secret) > 0 {
		return Verify(token, s.secret)
	}
	return ParseUnverified(token)
}

// load never fails: an unreadable or invalid token means anonymous.
func (s *Session) load() (string, *model.Identity) {
	ti, err := s.creds.Load()
	if err != nil {
		glog.Warningf("[auth]credentials error = %s", err)
		return "", nil
	}
	if ti == nil {
		return "", nil
	}
	id, _, err := s.parse(ti.Token)
	if err != nil {
		glog.Warningf("[auth]stored token rejected = %s", err)
		return "", nil
	}
	return ti.Token, id
}

func (s *Session) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resolved {
		s.token, s.identity = s.load()
		s.resolved = true
	}
	return copyIdentity(s.identity), nil
}

// Token is the bearer token for the current identity, or "".
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) OnIdentityChange(fn func(*model.Identity)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SignIn validates and stores token, then announces the new identity.
func (s *Session) SignIn(token string) (*model.Identity, error) {
	id, claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if err := s.creds.Save(token, claims.Expiry()); err != nil {
		return nil, errs.Wrap(errs.Unknown, "sign in", err)
	}
	s.set(stripBearer(token), id)
	return id, nil
}

// Refresh swaps in a new token for the same user.
func (s *Session) Refresh(token string) error {
	id, claims, err := s.parse(token)
	if err != nil {
		return err
	}
	cur, _ := s.CurrentIdentity(context.Background())
	if cur == nil || cur.ID != id.ID {
		return errs.E(errs.Authentication, "refresh", "token belongs to a different user")
	}
	if err := s.creds.Save(token, claims.Expiry()); err != nil {
		return errs.Wrap(errs.Unknown, "refresh", err)
	}
	s.set(stripBearer(token), id)
	return nil
}

func (s *Session) SignOut() error {
	if err := s.creds.Delete(); err != nil {
		return errs.Wrap(errs.Unknown, "sign out", err)
	}
	s.set("", nil)
	return nil
}

// Watch re-reads the credentials every interval so a login or logout from
// another process is noticed. It returns when ctx is done.
func (s *Session) Watch(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.poll()
	}
}

// poll re-reads the credentials and applies them unless a transition
// happened while they were being read.
func (s *Session) poll() {
	gen := s.generation()
	token, id := s.load()
	if s.setIf(gen, token, id) {
		glog.V(2).Infof("[auth]credentials changed on disk")
	}
}

func (s *Session) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) set(token string, id *model.Identity) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	s.apply(token, id)
}

// setIf applies a token read from disk only when no transition happened
// since gen and the token actually changed.
func (s *Session) setIf(gen uint64, token string, id *model.Identity) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	if s.gen != gen || s.token == token {
		s.mu.Unlock()
		return false
	}
	s.apply(token, id)
	return true
}

// apply is called with mu and deliverMu held and releases mu before
// notifying.
func (s *Session) apply(token string, id *model.Identity) {
	s.resolved = true
	s.gen++
	s.token = token
	s.identity = id
	fns := make([]func(*model.Identity), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(copyIdentity(id))
	}
}

func copyIdentity(id *model.Identity) *model.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
