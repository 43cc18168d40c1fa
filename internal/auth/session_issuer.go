package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionTTL = 7 * 24 * time.Hour

	sessionIssuerName = "podium-auth"
	sessionAudience   = "podium-ws"

	// SubjectPresenter is the only subject the issuer mints. Viewers never
	// receive a session token.
	SubjectPresenter = "presenter"
)

var errMissingIssuerSecret = errors.New("session issuer: signing secret required")

// SessionIssuerConfig configures the presenter session JWT issuer.
type SessionIssuerConfig struct {
	SigningSecret []byte
	SessionTTL    time.Duration
	Clock         func() time.Time
}

// SessionIssuer mints presenter session tokens after a successful password check.
type SessionIssuer struct {
	signingSecret []byte
	sessionTTL    time.Duration
	clock         func() time.Time
}

// NewSessionIssuer constructs a SessionIssuer with sane defaults.
func NewSessionIssuer(cfg SessionIssuerConfig) (*SessionIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingIssuerSecret
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		sessionTTL:    ttl,
		clock:         clock,
	}, nil
}

// IssueSessionToken produces a signed presenter JWT and its expiry in seconds.
func (i *SessionIssuer) IssueSessionToken() (string, int64, error) {
	now := i.clock().UTC()
	expiresAt := now.Add(i.sessionTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   SubjectPresenter,
		Issuer:    sessionIssuerName,
		Audience:  []string{sessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}
