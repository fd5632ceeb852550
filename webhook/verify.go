// Package webhook verifies and deduplicates inbound webhook deliveries. Two signing
// protocols are supported: Discord interaction requests (Ed25519 detached signature)
// and Twitch EventSub notifications (HMAC-SHA256 with a freshness window).
//
// Verification always runs against the raw request body bytes as received on the wire.
// Re-serializing a parsed body breaks both protocols when key order or whitespace differ.
package webhook

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// EventSub notification headers.
const (
	HeaderMessageID        = "X-Event-Message-Id"
	HeaderMessageTimestamp = "X-Event-Message-Timestamp"
	HeaderMessageSignature = "X-Event-Message-Signature"
	HeaderMessageType      = "X-Event-Message-Type"
)

// Discord interaction headers.
const (
	HeaderSignatureEd25519   = "X-Signature-Ed25519"
	HeaderSignatureTimestamp = "X-Signature-Timestamp"
)

// MaxTimestampSkew bounds replay risk for EventSub deliveries: notifications whose
// timestamp is more than this far from now (either direction) are rejected.
const MaxTimestampSkew = 600 * time.Second

// InteractionVerifier checks Discord interaction request signatures against the
// application public key (hex-encoded, as shown in the developer portal).
type InteractionVerifier struct {
	publicKey ed25519.PublicKey
}

// NewInteractionVerifier parses the hex public key. An invalid key yields a verifier
// that rejects everything rather than an error at construction; the config is static
// and a bad key is caught by the first (failing) interaction in any case.
func NewInteractionVerifier(hexKey string) *InteractionVerifier {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return &InteractionVerifier{}
	}
	return &InteractionVerifier{publicKey: ed25519.PublicKey(key)}
}

// Verify reports whether the request carries a valid detached signature over
// timestamp + rawBody. Missing headers fail closed.
func (v *InteractionVerifier) Verify(header http.Header, rawBody []byte) bool {
	if v.publicKey == nil {
		return false
	}
	sigHex := header.Get(HeaderSignatureEd25519)
	ts := header.Get(HeaderSignatureTimestamp)
	if sigHex == "" || ts == "" {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg := make([]byte, 0, len(ts)+len(rawBody))
	msg = append(msg, ts...)
	msg = append(msg, rawBody...)
	return ed25519.Verify(v.publicKey, msg, sig)
}

// EventSubVerifier checks Twitch EventSub notification signatures: the signature header
// carries "sha256=" + hex(HMAC-SHA256(secret, messageId + timestamp + rawBody)).
type EventSubVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewEventSubVerifier returns a verifier for the shared webhook secret.
func NewEventSubVerifier(secret string) *EventSubVerifier {
	return &EventSubVerifier{secret: []byte(secret), now: time.Now}
}

// Verify reports whether the request signature matches and the message timestamp is
// within MaxTimestampSkew of now. Missing headers fail closed.
func (v *EventSubVerifier) Verify(header http.Header, rawBody []byte) bool {
	id := header.Get(HeaderMessageID)
	ts := header.Get(HeaderMessageTimestamp)
	sig := header.Get(HeaderMessageSignature)
	if id == "" || ts == "" || sig == "" {
		return false
	}
	if !v.fresh(ts) {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(id))
	mac.Write([]byte(ts))
	mac.Write(rawBody)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (v *EventSubVerifier) fresh(ts string) bool {
	t, err := parseTimestamp(ts)
	if err != nil {
		return false
	}
	d := v.now().Sub(t)
	if d < 0 {
		d = -d
	}
	return d <= MaxTimestampSkew
}

// parseTimestamp accepts RFC 3339 (the EventSub wire format) and, leniently, unix seconds.
func parseTimestamp(ts string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t, nil
	}
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0), nil
}
