// Package authcode implements the ephemeral, single-use authorization code
// store. Codes are local to one process and live for a few seconds; in a
// multi-instance deployment the consuming flow must be pointed at a shared
// store with an atomic get-and-delete instead.
package authcode

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const codeLength = 32 // 256 bits of entropy, base64 raw-URL encoded

// ErrCodeNotFound is returned for absent, expired, and already-consumed
// codes alike. Callers must not be able to distinguish the three.
var ErrCodeNotFound = errors.New("authorization code not found")

// Payload is the authorization context captured at code issuance.
type Payload struct {
	UserID              string
	ClientID            string
	ProductID           string
	TenantID            string
	OrganizationID      string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	SessionID           string
	Nonce               string
	Email               string
	Roles               []string
}

// Entry is a stored authorization code together with its payload.
type Entry struct {
	Payload
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is a thread-safe in-memory code store with background pruning.
// Pruning runs at the code TTL interval and is owned by the store: Start
// launches it, Stop (or the Start context) ends it.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry

	ttl     time.Duration
	nowFunc func() time.Time
	logger  zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// StoreOption modifies a Store at construction time.
type StoreOption func(*Store)

// WithNowFunc sets the clock used for stamping and expiry (for testing).
func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = now
	}
}

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a code store whose codes expire after ttl.
func NewStore(ttl time.Duration, options ...StoreOption) (*Store, error) {
	if ttl <= 0 {
		return nil, errors.New("[NewStore] ttl must be positive")
	}

	s := &Store{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		nowFunc: time.Now,
		logger:  zerolog.Nop(),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	for _, opt := range options {
		opt(s)
	}

	return s, nil
}

// Create generates a random opaque code, binds it to payload, and stores the
// entry with a TTL-bound expiry. The returned entry includes the code.
func (s *Store) Create(payload Payload) (*Entry, error) {
	bytes := make([]byte, codeLength)
	if _, err := rand.Read(bytes); err != nil {
		return nil, errors.Wrap(err, "[Store.Create] rand.Read")
	}
	code := base64.RawURLEncoding.EncodeToString(bytes)

	now := s.nowFunc()
	entry := &Entry{
		Payload:   payload,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[code] = entry

	return copyEntry(entry), nil
}

// Consume looks up and deletes the entry for code. Deletion happens before
// the expiry check, so a code is gone after the first Consume no matter the
// outcome and two racing callers can never both win. Expired, consumed, and
// never-issued codes are all reported as ErrCodeNotFound.
func (s *Store) Consume(code string) (*Entry, error) {
	s.mu.Lock()
	entry, ok := s.entries[code]
	if ok {
		delete(s.entries, code)
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrCodeNotFound
	}
	if s.nowFunc().After(entry.ExpiresAt) {
		return nil, ErrCodeNotFound
	}
	return copyEntry(entry), nil
}

// Start launches the background prune loop. It returns immediately; the
// loop ends when ctx is cancelled or Stop is called.
func (s *Store) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.ttl)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Prune()
			}
		}
	}()
}

// Stop ends the prune loop and waits for it to exit. Safe to call more
// than once, and safe to call without a prior Start only via the context.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.done
}

// Len reports the number of stored codes, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Prune deletes every entry whose expiry has passed. The background loop
// calls it at the TTL interval; tests call it directly.
func (s *Store) Prune() {
	now := s.nowFunc()

	s.mu.Lock()
	removed := 0
	for code, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, code)
			removed++
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug().
			Int("removed", removed).
			Int("remaining", remaining).
			Msg("pruned expired authorization codes")
	}
}

// copyEntry returns a copy so callers cannot mutate stored state.
func copyEntry(e *Entry) *Entry {
	out := *e
	out.Roles = append([]string(nil), e.Roles...)
	return &out
}
