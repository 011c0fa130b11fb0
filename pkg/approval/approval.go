// Package approval issues and verifies approval tokens. A token is the only
// proof that a human (or delegated supervisor policy) authorized publication
// of a specific piece of content; the state machine refuses to enter
// PUBLISHING without one.
package approval

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
)

const (
	issuer   = "chimera/approval"
	audience = "chimera.orchestrator"

	// DefaultTTL bounds how long an approval stays usable. A decision made
	// for one revision must not silently authorize a much later one.
	DefaultTTL = 24 * time.Hour
)

// Decision is the reviewer's verdict carried inside the token.
type Decision string

const (
	Approved          Decision = "approved"
	ApprovedWithEdits Decision = "approved_with_edits"
)

// Claims bind an approval to one content item and reviewer.
type Claims struct {
	jwt.RegisteredClaims
	ContentID string   `json:"cid"`
	Decision  Decision `json:"decision"`
	Edits     string   `json:"edits,omitempty"`
}

// Verifier checks approval tokens. The signing key is derived from the
// service secret with HKDF so the raw secret is never used directly and
// other token uses of the same secret cannot collide with approvals.
type Verifier struct {
	key   []byte
	clock func() time.Time
}

// NewVerifier derives the approval signing key from secret.
func NewVerifier(secret []byte) (*Verifier, error) {
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	return &Verifier{key: key, clock: time.Now}, nil
}

// WithClock overrides time for tests.
func (v *Verifier) WithClock(clock func() time.Time) *Verifier {
	v.clock = clock
	return v
}

func deriveKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("approval secret must not be empty")
	}
	r := hkdf.New(sha256.New, secret, nil, []byte("chimera-approval-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive approval key: %w", err)
	}
	return key, nil
}

// Verify validates token and confirms it approves contentID. Expired tokens
// and tokens for other content are security faults, never retried.
func (v *Verifier) Verify(token, contentID string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return v.key, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, faults.Wrap("SEC_TOKEN_EXPIRED", "approval token expired", err)
		}
		return nil, faults.Wrap("SEC_INVALID_TOKEN", "approval token rejected", err)
	}
	if !parsed.Valid {
		return nil, faults.New("SEC_INVALID_TOKEN", "approval token rejected")
	}
	if claims.ContentID != contentID {
		return nil, faults.Newf("SEC_INVALID_TOKEN",
			"approval token is for content %q, not %q", claims.ContentID, contentID)
	}
	switch claims.Decision {
	case Approved, ApprovedWithEdits:
	default:
		return nil, faults.Newf("SEC_INVALID_TOKEN", "unknown decision %q", claims.Decision)
	}
	return claims, nil
}

// Issuer mints approval tokens. Production reviews arrive from the approval
// surface already signed; the issuer backs that surface and the test suite.
type Issuer struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

// NewIssuer derives the signing key from the same secret the Verifier uses.
func NewIssuer(secret []byte, ttl time.Duration) (*Issuer, error) {
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{key: key, ttl: ttl, clock: time.Now}, nil
}

// WithClock overrides time for tests.
func (i *Issuer) WithClock(clock func() time.Time) *Issuer {
	i.clock = clock
	return i
}

// Issue signs an approval for contentID by reviewer.
func (i *Issuer) Issue(contentID, reviewer string, decision Decision, edits string) (string, error) {
	now := i.clock().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   reviewer,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		ContentID: contentID,
		Decision:  decision,
		Edits:     edits,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign approval: %w", err)
	}
	return signed, nil
}
