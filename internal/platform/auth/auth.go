// Package auth signs and verifies owner requests. A request is signed with the owner's
// ed25519 key over its method, request URI, unix timestamp and body digest.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"golang.org/x/crypto/ed25519"

	"funblink/app/internal/domain/account"
)

// Request headers.
const (
	HeaderOwner     = "X-Blink-Owner"
	HeaderTimestamp = "X-Blink-Timestamp"
	HeaderSignature = "X-Blink-Signature"
	HeaderList      = "X-Blink-List"
)

const (
	messagePrefix  = "funblink-request"
	DefaultMaxSkew = 5 * time.Minute
)

var (
	// ErrUnauthenticated is returned for missing, malformed, stale or forged signatures.
	ErrUnauthenticated = eris.New("request signature is missing or invalid")
	// ErrReplayed is returned when a signature was already accepted inside the skew window.
	ErrReplayed = eris.Wrap(ErrUnauthenticated, "signature already used")
)

// Message builds the bytes covered by a request signature.
func Message(method, requestURI, timestamp string, body []byte) []byte {
	digest := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		messagePrefix,
		strings.ToUpper(method),
		requestURI,
		timestamp,
		hex.EncodeToString(digest[:]),
	}, "\n"))
}

// Headers are the values a signed request carries.
type Headers struct {
	Owner     string `json:"owner" yaml:"owner"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Signature string `json:"signature" yaml:"signature"`
}

// Apply sets the signature headers on h.
func (s Headers) Apply(h http.Header) {
	h.Set(HeaderOwner, s.Owner)
	h.Set(HeaderTimestamp, s.Timestamp)
	h.Set(HeaderSignature, s.Signature)
}

// Sign produces the headers for a request issued at ts.
func Sign(key ed25519.PrivateKey, method, requestURI string, ts time.Time, body []byte) (Headers, error) {
	owner, err := account.PubkeyFromPrivateKey(key)
	if err != nil {
		return Headers{}, err
	}

	timestamp := strconv.FormatInt(ts.Unix(), 10)
	signature := ed25519.Sign(key, Message(method, requestURI, timestamp, body))

	return Headers{
		Owner:     owner.String(),
		Timestamp: timestamp,
		Signature: account.EncodeSignature(signature),
	}, nil
}

// VerifierOptions configures signature verification.
type VerifierOptions struct {
	MaxSkew time.Duration
	Now     func() time.Time
}

// Verifier checks signed requests and rejects replays within the skew window.
type Verifier struct {
	maxSkew time.Duration
	now     func() time.Time
	seen    *cache.Cache
}

// NewVerifier returns a verifier; zero options fall back to a five minute skew and the wall clock.
func NewVerifier(opts VerifierOptions) *Verifier {
	maxSkew := opts.MaxSkew
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Verifier{
		maxSkew: maxSkew,
		now:     now,
		seen:    cache.New(2*maxSkew, maxSkew),
	}
}

// Verify authenticates a request and returns the signing owner.
func (v *Verifier) Verify(method, requestURI string, header http.Header, body []byte) (account.Pubkey, error) {
	rawOwner := strings.TrimSpace(header.Get(HeaderOwner))
	rawTimestamp := strings.TrimSpace(header.Get(HeaderTimestamp))
	rawSignature := strings.TrimSpace(header.Get(HeaderSignature))
	if rawOwner == "" || rawTimestamp == "" || rawSignature == "" {
		return account.Pubkey{}, eris.Wrap(ErrUnauthenticated, "signature headers are required")
	}

	owner, err := account.ParsePubkey(rawOwner)
	if err != nil {
		return account.Pubkey{}, eris.Wrap(ErrUnauthenticated, "owner is not a public key")
	}

	seconds, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil {
		return account.Pubkey{}, eris.Wrap(ErrUnauthenticated, "timestamp is not unix seconds")
	}
	skew := v.now().Sub(time.Unix(seconds, 0))
	if skew > v.maxSkew || skew < -v.maxSkew {
		return account.Pubkey{}, eris.Wrapf(ErrUnauthenticated, "timestamp is %s outside the allowed window", skew.Round(time.Second))
	}

	signature, err := account.ParseSignature(rawSignature)
	if err != nil {
		return account.Pubkey{}, eris.Wrap(ErrUnauthenticated, "signature is malformed")
	}

	if !account.Verify(owner, Message(method, requestURI, rawTimestamp, body), signature) {
		return account.Pubkey{}, eris.Wrap(ErrUnauthenticated, "signature does not match")
	}

	// keyed on the decoded bytes, not the header text
	if err := v.seen.Add(string(signature), struct{}{}, cache.DefaultExpiration); err != nil {
		return account.Pubkey{}, ErrReplayed
	}

	return owner, nil
}
