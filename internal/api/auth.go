package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// ErrUnauthorized is returned for missing or invalid bearer tokens.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when a token's subject does not own the resource.
var ErrForbidden = errors.New("forbidden")

// Authenticator verifies HS256 bearer tokens whose subject is an owner id.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator returns nil for an empty secret, which disables auth.
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret), issuer: "solana-wallet-ledger"}
}

// IssueToken signs a token for subject valid for ttl.
func (a *Authenticator) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Subject returns the verified subject of the request's bearer token.
func (a *Authenticator) Subject(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", errors.Wrap(ErrUnauthorized, "missing bearer token")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(a.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", errors.Wrapf(ErrUnauthorized, "%v", err)
	}
	if claims.Subject == "" {
		return "", errors.Wrap(ErrUnauthorized, "token has no subject")
	}
	return claims.Subject, nil
}

// authorize checks the request's token. A non-empty owner must equal the subject.
func (a *Authenticator) authorize(r *http.Request, owner string) error {
	if a == nil {
		return nil
	}
	subject, err := a.Subject(r)
	if err != nil {
		return err
	}
	if owner != "" && subject != owner {
		return errors.Wrapf(ErrForbidden, "subject %q cannot access owner %q", subject, owner)
	}
	return nil
}
