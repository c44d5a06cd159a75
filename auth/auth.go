// auth/auth.go
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/themindlocksyndicate/tmls-companion/logger"
)

const issuer = "tmls-companion"

// 认证错误
var (
	ErrInvalidToken  = errors.New("invalid identity token")
	ErrNotConfigured = errors.New("identity secret is not configured")
	ErrAttestation   = errors.New("attestation required")
)

// identityClaims is the token body; the subject is the anonymous uid.
type identityClaims struct {
	jwt.RegisteredClaims
}

// Identity issues and verifies anonymous participant tokens.
type Identity struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIdentity(secret string, ttl time.Duration) *Identity {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Identity{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// SignIn creates a fresh anonymous uid and its token.
func (i *Identity) SignIn() (uid, token string, err error) {
	uid = uuid.New().String()
	token, err = i.Issue(uid)
	return uid, token, err
}

// Issue signs a token for an existing uid.
func (i *Identity) Issue(uid string) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNotConfigured
	}
	now := i.now()
	claims := identityClaims{jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   uid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign identity token: %w", err)
	}
	return signed, nil
}

// Verify returns the uid a token was issued to.
func (i *Identity) Verify(token string) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNotConfigured
	}
	sub, err := parse(token, i.secret, i.now)
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// Resume keeps the uid of a valid token, or signs in afresh when the
// token is missing or no longer valid.
func (i *Identity) Resume(token string) (uid, fresh string, err error) {
	if token != "" {
		if uid, err := i.Verify(token); err == nil {
			fresh, err := i.Issue(uid)
			return uid, fresh, err
		}
	}
	return i.SignIn()
}

func parse(token string, secret []byte, now func() time.Time) (string, error) {
	var claims identityClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

// Attestation gates requests on a signed token in a header. With no secret
// configured the gate is open.
type Attestation struct {
	secret []byte
	header string
	now    func() time.Time
}

func NewAttestation(secret, header string) *Attestation {
	if header == "" {
		header = "X-Attestation-Token"
	}
	return &Attestation{secret: []byte(secret), header: header, now: time.Now}
}

// Enabled reports whether requests are checked at all.
func (a *Attestation) Enabled() bool {
	return len(a.secret) > 0
}

// Check validates the attestation header of r.
func (a *Attestation) Check(r *http.Request) error {
	if !a.Enabled() {
		return nil
	}
	token := r.Header.Get(a.header)
	if token == "" {
		// Browsers cannot set headers on websocket upgrades.
		token = r.URL.Query().Get("attestation")
	}
	if token == "" {
		return ErrAttestation
	}
	if _, err := parse(token, a.secret, a.now); err != nil {
		return errors.Join(ErrAttestation, err)
	}
	return nil
}

// Middleware rejects unattested requests with 401.
func (a *Attestation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Check(r); err != nil {
			logger.Log.Debugf("Attestation rejected for %s: %v", r.RemoteAddr, err)
			http.Error(w, "attestation required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
