package security

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrInvalidAudience = errors.New("invalid audience")
	ErrTokenExpired    = errors.New("token expired or not valid yet")
	ErrInvalidSubject  = errors.New("invalid subject")
)

// AccessClaims are the claims of an access token issued by the auth service.
type AccessClaims struct {
	jwt.StandardClaims
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// JWTVerifier validates RS256 access tokens. It never issues tokens.
type JWTVerifier struct {
	public    *rsa.PublicKey
	issuer    string
	audience  string
	clockSkew time.Duration
	now       func() time.Time
}

func NewJWTVerifier(public *rsa.PublicKey, issuer, audience string, clockSkew time.Duration) *JWTVerifier {
	return &JWTVerifier{
		public:    public,
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
		now:       time.Now,
	}
}

func (v *JWTVerifier) ParseAndValidate(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parser := &jwt.Parser{SkipClaimsValidation: true}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok || t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, ErrInvalidToken
		}
		return v.public, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, ErrInvalidIssuer
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, ErrInvalidAudience
	}

	now := v.now()
	nbf := time.Unix(claims.NotBefore, 0).Add(-v.clockSkew)
	exp := time.Unix(claims.ExpiresAt, 0).Add(v.clockSkew)
	if now.Before(nbf) || now.After(exp) {
		return nil, ErrTokenExpired
	}
	if claims.Subject == "" {
		return nil, ErrInvalidSubject
	}

	return claims, nil
}

func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, err
	}

	return pub, nil
}
