package quic

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/quillquic/quic/transport"
)

// tokenStore holds the server-side, short-TTL state a listening Endpoint
// needs before a connection exists: retry tokens (so an address can be
// validated without holding per-client state), stateless-reset tokens
// keyed by the connection ID they protect, and session-resumption
// tickets an application may want to correlate by server name. The
// retry-token and ticket storage is transport.TokenStore (A3 of the
// ambient stack, cache.New grounded on cppla-moto/controller/server.go's
// `ipCache`); this type adds the HMAC token framing TokenStore itself is
// agnostic to, plus the stateless-reset lookup TokenStore doesn't cover.
type tokenStore struct {
	transport.TokenStore
	statelessReset *cache.Cache
	retryKey       [32]byte
}

const (
	retryTokenTTL     = 15 * time.Second
	statelessResetTTL = 10 * time.Minute
	ticketTTL         = time.Hour
)

func newTokenStore() *tokenStore {
	var key [32]byte
	_, _ = rand.Read(key[:])
	return &tokenStore{
		TokenStore:     transport.NewCacheTokenStore(ticketTTL),
		statelessReset: cache.New(statelessResetTTL, 2*statelessResetTTL),
		retryKey:       key,
	}
}

// issueRetryToken builds an HMAC-authenticated retry token binding the
// client's address and original destination connection ID, so
// validateRetryToken can check it without having stored any per-client
// state — the cache entry only exists to enforce retryTokenTTL's replay
// window (RFC 9000 section 8.1.2 "a token SHOULD have an expiration time").
func (s *tokenStore) issueRetryToken(addr net.Addr, odcid []byte) []byte {
	mac := hmac.New(sha256.New, s.retryKey[:])
	mac.Write([]byte(addr.String()))
	mac.Write(odcid)
	sum := mac.Sum(nil)
	token := make([]byte, 0, len(sum)+2+len(odcid))
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(odcid)))
	token = append(token, l[:]...)
	token = append(token, odcid...)
	token = append(token, sum...)
	s.PutRetryToken(fmt.Sprintf("%x", sum), token, retryTokenTTL)
	return token
}

// validateRetryToken reports whether token was issued by issueRetryToken
// for addr, is unexpired, and has not already been consumed, returning
// the original destination connection ID it carries.
func (s *tokenStore) validateRetryToken(addr net.Addr, token []byte) (odcid []byte, ok bool) {
	if len(token) < 2 {
		return nil, false
	}
	n := int(binary.BigEndian.Uint16(token[:2]))
	if len(token) < 2+n+sha256.Size {
		return nil, false
	}
	odcid = token[2 : 2+n]
	sum := token[2+n:]
	mac := hmac.New(sha256.New, s.retryKey[:])
	mac.Write([]byte(addr.String()))
	mac.Write(odcid)
	expect := mac.Sum(nil)
	if !hmac.Equal(expect, sum) {
		return nil, false
	}
	key := fmt.Sprintf("%x", sum)
	if _, found := s.TakeRetryToken(key); !found { // single use
		return nil, false
	}
	return odcid, true
}

// registerStatelessReset records cid's stateless reset token so a
// later-arriving short-header packet this endpoint can't otherwise
// associate with a live connection can still be matched to one (RFC
// 9000 section 10.3) and answered with a stateless reset instead of
// silently dropped.
func (s *tokenStore) registerStatelessReset(token [16]byte, cid []byte) {
	s.statelessReset.Set(string(token[:]), append([]byte(nil), cid...), cache.DefaultExpiration)
}

func (s *tokenStore) lookupStatelessReset(token []byte) ([]byte, bool) {
	v, found := s.statelessReset.Get(string(token))
	if !found {
		return nil, false
	}
	return v.([]byte), true
}

// saveTicket and loadTicket cache opaque session-resumption tickets by
// server name, the way tls.Config.ClientSessionCache would, but scoped
// to this Endpoint rather than process-global.
func (s *tokenStore) saveTicket(serverName string, ticket []byte) {
	s.PutTicket(serverName, ticket)
}

func (s *tokenStore) loadTicket(serverName string) ([]byte, bool) {
	return s.GetTicket(serverName)
}
