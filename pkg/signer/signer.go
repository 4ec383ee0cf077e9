/*
Package signer authenticates outbound hub requests. Every call gets a
canonical string built from the method, URL, hub id, timestamp, a fresh
nonce and the body hash; the string is signed with the current Ed25519 hub
key and shipped in X-Hub-* headers so oracles can verify the caller.
*/
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/qsbridge/bridgehub/pkg/keys"
)

// Request headers carrying hub authentication.
const (
	HeaderHubID     = "X-Hub-Id"
	HeaderKeyID     = "X-Key-Id"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderBodyHash  = "X-Body-Hash"
	HeaderSignature = "X-Signature"
)

const nonceSize = 16

// KeySource provides the active hub keys snapshot.
type KeySource interface {
	Current() *keys.HubKeys
}

// Signer signs outbound requests with the current hub key. It is safe for
// concurrent use; key rotation is picked up on the next Sign call.
type Signer struct {
	keys KeySource
	now  func() time.Time
	rand io.Reader
}

// New returns a Signer over the given key source.
func New(ks KeySource) *Signer {
	return &Signer{keys: ks, now: time.Now, rand: rand.Reader}
}

// Sign builds authentication headers for a single request. Each call draws
// a fresh nonce, so headers must never be reused across requests.
func (s *Signer) Sign(method, url string, body []byte) (http.Header, error) {
	hk := s.keys.Current()
	if hk == nil || hk.Current.Private == nil {
		return nil, errors.New("no signing key available")
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, fmt.Errorf("failed to draw nonce: %w", err)
	}
	var (
		ts       = strconv.FormatInt(s.now().Unix(), 10)
		nonceB64 = base64.StdEncoding.EncodeToString(nonce)
		bodyHash = HashBody(body)
		msg      = CanonicalString(method, url, hk.HubID, ts, nonceB64, bodyHash)
	)
	sig := ed25519.Sign(hk.Current.Private, []byte(msg))
	h := http.Header{}
	h.Set(HeaderHubID, hk.HubID)
	h.Set(HeaderKeyID, hk.Current.Kid)
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderNonce, nonceB64)
	h.Set(HeaderBodyHash, bodyHash)
	h.Set(HeaderSignature, base64.StdEncoding.EncodeToString(sig))
	return h, nil
}

// CanonicalString renders the exact byte string that gets signed. The
// trailing newline is part of the format.
func CanonicalString(method, url, hubID, timestamp, nonce, bodyHash string) string {
	return method + "\n" +
		url + "\n" +
		"hubId=" + hubID + "\n" +
		"timestamp=" + timestamp + "\n" +
		"nonce=" + nonce + "\n" +
		"bodyhash=" + bodyHash + "\n"
}

// HashBody returns the hex SHA-256 of the request body. A nil body hashes
// like an empty one.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Verify checks the authentication headers of a request against the given
// public key. It is the receiving half of Sign and is intended for tests
// and oracle-side verification.
func Verify(pub ed25519.PublicKey, method, url string, body []byte, h http.Header) error {
	for _, name := range []string{HeaderHubID, HeaderKeyID, HeaderTimestamp, HeaderNonce, HeaderBodyHash, HeaderSignature} {
		if h.Get(name) == "" {
			return fmt.Errorf("missing %s header", name)
		}
	}
	if got, want := h.Get(HeaderBodyHash), HashBody(body); got != want {
		return fmt.Errorf("body hash mismatch: %s vs %s", got, want)
	}
	sig, err := base64.StdEncoding.DecodeString(h.Get(HeaderSignature))
	if err != nil {
		return fmt.Errorf("bad signature encoding: %w", err)
	}
	msg := CanonicalString(method, url, h.Get(HeaderHubID), h.Get(HeaderTimestamp), h.Get(HeaderNonce), h.Get(HeaderBodyHash))
	if !ed25519.Verify(pub, []byte(msg), sig) {
		return errors.New("signature verification failed")
	}
	return nil
}
