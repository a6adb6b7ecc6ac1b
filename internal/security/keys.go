package security

import (
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt"
)

// LoadRSAPrivateKey читает PEM (PKCS1 или PKCS8) с диска.
func LoadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("private key %s: %w", path, err)
	}
	return key, nil
}

func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("public key %s: %w", path, err)
	}
	return key, nil
}

func readPEM(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("key path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	return raw, nil
}
