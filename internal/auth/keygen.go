package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	keyPrefix       = "sk-"
	keyPrefixLength = 10
	keySecretLength = 48
	keyAlphabet     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateAdminKey mints a new admin key in the `sk-<prefix>.<secret>` shape.
// The prefix is stored in clear for lookup; only the argon2id hash of the
// secret is persisted. The full token is shown once at mint time.
func GenerateAdminKey() (prefix, secret, token string, err error) {
	prefix, err = randomString(keyPrefixLength)
	if err != nil {
		return "", "", "", fmt.Errorf("generate key prefix: %w", err)
	}
	secret, err = randomString(keySecretLength)
	if err != nil {
		return "", "", "", fmt.Errorf("generate key secret: %w", err)
	}
	token = fmt.Sprintf("%s%s.%s", keyPrefix, prefix, secret)
	return prefix, secret, token, nil
}

func randomString(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	out := make([]byte, length)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = keyAlphabet[n.Int64()]
	}
	return string(out), nil
}
