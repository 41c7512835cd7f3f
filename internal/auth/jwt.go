package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/suPer8Hu/studytree-ai/internal/apperr"
)

// Identity is the caller extracted from a verified bearer token. It lives for
// one request.
type Identity struct {
	UserID uint64
}

// String is the form used in rate-limit keys and store headers.
func (i Identity) String() string {
	return strconv.FormatUint(i.UserID, 10)
}

type Claims struct {
	UserID uint64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier checks signature and expiry against a shared secret. It does no
// I/O and is safe for concurrent use.
type Verifier struct {
	secret []byte
	alg    string
	parser *jwt.Parser
}

func NewVerifier(secret, alg string) *Verifier {
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	return &Verifier{
		secret: []byte(secret),
		alg:    alg,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{alg}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify returns an *apperr.Error of KindAuth for anything malformed, expired
// or mis-signed. Auth failures are never retried.
func (v *Verifier) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, apperr.Auth("missing token", nil)
	}

	var claims Claims
	token, err := v.parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperr.Auth("token expired", err)
		}
		return Identity{}, apperr.Auth("invalid token", err)
	}
	if !token.Valid {
		return Identity{}, apperr.Auth("invalid token", nil)
	}
	if claims.UserID == 0 {
		uid, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil || uid == 0 {
			return Identity{}, apperr.Auth("token has no user id", nil)
		}
		claims.UserID = uid
	}
	return Identity{UserID: claims.UserID}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. It returns "" for any other scheme.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// SignJWT issues an HS256 token for userID. The identity provider owns token
// issuance in production; this is used by tests and local tooling.
func SignJWT(userID uint64, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("sign jwt: empty secret")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
