package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return k
}

type loaderFunc func(ctx context.Context, id domain.UserID) (domain.Principal, error)

func (f loaderFunc) Principal(ctx context.Context, id domain.UserID) (domain.Principal, error) {
	return f(ctx, id)
}

func TestVerifier(t *testing.T) {
	key := testKey(t)
	now := time.Now()
	signer := NewSigner(key, "auth", "chat", time.Minute)
	v := NewVerifier(&key.PublicKey, "auth", "chat", 5*time.Second)

	tok, err := signer.SignAccessToken(7, now)
	require.NoError(t, err)
	claims, err := v.ParseAndValidate(tok)
	require.NoError(t, err)
	id, err := SubjectAsUserID(claims)
	require.NoError(t, err)
	require.Equal(t, domain.UserID(7), id)

	_, err = v.ParseAndValidate("garbage")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	expired, _ := signer.SignAccessToken(7, now.Add(-time.Hour))
	_, err = v.ParseAndValidate(expired)
	require.ErrorIs(t, err, ErrTokenExpired)

	other := NewSigner(key, "someone-else", "chat", time.Minute)
	tok, _ = other.SignAccessToken(7, now)
	_, err = v.ParseAndValidate(tok)
	require.ErrorIs(t, err, ErrInvalidIssuer)

	foreign := NewSigner(testKey(t), "auth", "chat", time.Minute)
	tok, _ = foreign.SignAccessToken(7, now)
	_, err = v.ParseAndValidate(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolver(t *testing.T) {
	key := testKey(t)
	signer := NewSigner(key, "", "", time.Minute)
	v := NewVerifier(&key.PublicKey, "", "", 0)
	r := NewResolver(v, loaderFunc(func(ctx context.Context, id domain.UserID) (domain.Principal, error) {
		if id != 3 {
			return domain.Principal{}, domain.ErrNotFound
		}
		return domain.Principal{UserID: 3, Username: "carol"}, nil
	}))

	tok, _ := signer.SignAccessToken(3, time.Now())
	p, err := r.Resolve(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, "carol", p.Username)

	tok, _ = signer.SignAccessToken(4, time.Now())
	_, err = r.Resolve(context.Background(), tok)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestLoadKeysFromPEM(t *testing.T) {
	key := testKey(t)
	dir := t.TempDir()

	privPath := filepath.Join(dir, "private.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPath := filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600))

	priv, err := LoadRSAPrivateKey(privPath)
	require.NoError(t, err)
	require.True(t, priv.Equal(key))

	pub, err := LoadRSAPublicKey(pubPath)
	require.NoError(t, err)
	require.True(t, pub.Equal(&key.PublicKey))

	_, err = LoadRSAPublicKey("")
	require.Error(t, err)
	_, err = LoadRSAPrivateKey(filepath.Join(dir, "missing.pem"))
	require.Error(t, err)
}
