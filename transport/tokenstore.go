package transport

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// TokenStore persists the two kinds of opaque blob the handshake layer
// needs across connections: Retry tokens (short-lived, keyed by client
// identity) and session-resumption tickets (longer-lived, keyed by an
// application-chosen id). Grounded on A3 of the ambient stack.
type TokenStore interface {
	PutRetryToken(key string, token []byte, ttl time.Duration)
	TakeRetryToken(key string) ([]byte, bool)
	PutTicket(id string, ticket []byte)
	GetTicket(id string) ([]byte, bool)
}

// cacheTokenStore implements TokenStore on top of go-cache's in-memory
// TTL map, matching the pattern used elsewhere in the example corpus for
// short-lived, self-expiring state rather than hand-rolled map+mutex
// bookkeeping.
type cacheTokenStore struct {
	retryTokens *cache.Cache
	tickets     *cache.Cache
}

// NewCacheTokenStore returns the default TokenStore: Retry tokens expire
// on their own TTL (passed per-call, since RFC 9000 recommends a short,
// deployment-specific Retry token lifetime), and tickets are held for
// ticketLifetime with no sliding expiration.
func NewCacheTokenStore(ticketLifetime time.Duration) TokenStore {
	return &cacheTokenStore{
		retryTokens: cache.New(cache.NoExpiration, time.Minute),
		tickets:     cache.New(ticketLifetime, ticketLifetime/2),
	}
}

func (s *cacheTokenStore) PutRetryToken(key string, token []byte, ttl time.Duration) {
	s.retryTokens.Set(key, token, ttl)
}

func (s *cacheTokenStore) TakeRetryToken(key string) ([]byte, bool) {
	v, ok := s.retryTokens.Get(key)
	if !ok {
		return nil, false
	}
	s.retryTokens.Delete(key)
	tok, _ := v.([]byte)
	return tok, true
}

func (s *cacheTokenStore) PutTicket(id string, ticket []byte) {
	s.tickets.SetDefault(id, ticket)
}

func (s *cacheTokenStore) GetTicket(id string) ([]byte, bool) {
	v, ok := s.tickets.Get(id)
	if !ok {
		return nil, false
	}
	tk, _ := v.([]byte)
	return tk, true
}

var _ TokenStore = (*cacheTokenStore)(nil)
