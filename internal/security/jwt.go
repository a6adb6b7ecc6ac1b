package security

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

var (
	ErrInvalidToken    = fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	ErrInvalidIssuer   = fmt.Errorf("%w: invalid issuer", domain.ErrUnauthorized)
	ErrInvalidAudience = fmt.Errorf("%w: invalid audience", domain.ErrUnauthorized)
	ErrTokenExpired    = fmt.Errorf("%w: token expired", domain.ErrUnauthorized)
	ErrInvalidSubject  = fmt.Errorf("%w: invalid subject", domain.ErrUnauthorized)
)

type AccessClaims struct {
	jwt.StandardClaims // Issuer, Audience, ExpiresAt, NotBefore, IssuedAt, Subject
}

// Verifier проверяет RS256 access-токены, выпущенные auth-сервисом.
type Verifier struct {
	public    *rsa.PublicKey
	issuer    string
	audience  string
	clockSkew time.Duration
	now       func() time.Time
}

func NewVerifier(public *rsa.PublicKey, issuer, audience string, clockSkew time.Duration) *Verifier {
	return &Verifier{public: public, issuer: issuer, audience: audience, clockSkew: clockSkew, now: time.Now}
}

func (v *Verifier) ParseAndValidate(tokenStr string) (*AccessClaims, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}
	claims := &AccessClaims{}
	parser := &jwt.Parser{SkipClaimsValidation: true} // exp/nbf проверяем ниже, с clockSkew
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
	if claims.ExpiresAt == 0 || now.Before(nbf) || now.After(exp) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// SubjectAsUserID парсит sub в domain.UserID.
func SubjectAsUserID(claims *AccessClaims) (domain.UserID, error) {
	if claims == nil || claims.Subject == "" {
		return 0, ErrInvalidSubject
	}
	var id int64
	if _, err := fmt.Sscan(claims.Subject, &id); err != nil || id <= 0 {
		return 0, ErrInvalidSubject
	}
	return domain.UserID(id), nil
}

// PrincipalLoader достаёт профиль пользователя по id из токена.
type PrincipalLoader interface {
	Principal(ctx context.Context, id domain.UserID) (domain.Principal, error)
}

// Resolver turns a bearer token into an authenticated principal.
type Resolver struct {
	verifier *Verifier
	users    PrincipalLoader
}

func NewResolver(v *Verifier, users PrincipalLoader) *Resolver {
	return &Resolver{verifier: v, users: users}
}

func (r *Resolver) Resolve(ctx context.Context, token string) (domain.Principal, error) {
	claims, err := r.verifier.ParseAndValidate(token)
	if err != nil {
		return domain.Principal{}, err
	}
	id, err := SubjectAsUserID(claims)
	if err != nil {
		return domain.Principal{}, err
	}
	p, err := r.users.Principal(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Principal{}, fmt.Errorf("%w: unknown user %d", domain.ErrUnauthorized, id)
	}
	if err != nil {
		return domain.Principal{}, err
	}
	return p, nil
}

// Signer выпускает токены; в проде этим занимается auth-сервис, здесь — для
// тестов и dev-режима chatcli.
type Signer struct {
	private  *rsa.PrivateKey
	issuer   string
	audience string
	ttl      time.Duration
}

func NewSigner(private *rsa.PrivateKey, issuer, audience string, ttl time.Duration) *Signer {
	return &Signer{private: private, issuer: issuer, audience: audience, ttl: ttl}
}

func (s *Signer) SignAccessToken(userID domain.UserID, now time.Time) (string, error) {
	claims := AccessClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   fmt.Sprint(int64(userID)),
			Issuer:    s.issuer,
			Audience:  s.audience,
			IssuedAt:  now.Unix(),
			NotBefore: now.Unix(),
			ExpiresAt: now.Add(s.ttl).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.private)
}
