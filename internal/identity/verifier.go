package identity

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("authentication required")

// Claims are the verified fields of an identity token. The subject of
// the token is the user's fid.
type Claims struct {
	FID    int64
	Handle string
}

type tokenClaims struct {
	Handle string `json:"handle,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates identity tokens minted by the identity service.
// Tokens are HS256 JWTs whose audience must match the configured
// hostname, mirroring the domain binding the identity service applies.
type Verifier struct {
	secret   []byte
	hostname string
}

func NewVerifier(secret []byte, hostname string) *Verifier {
	return &Verifier{secret: secret, hostname: hostname}
}

// Verify checks the token signature, expiry and audience, and returns
// the authenticated user. All failures map to ErrUnauthenticated; the
// cause is wrapped for logging but never surfaced to clients.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrUnauthenticated
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithAudience(v.hostname))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrUnauthenticated
	}

	fid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || fid <= 0 {
		return nil, fmt.Errorf("%w: invalid subject", ErrUnauthenticated)
	}

	return &Claims{FID: fid, Handle: claims.Handle}, nil
}
