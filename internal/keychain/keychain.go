// Package keychain stores the community access token in the system keyring.
package keychain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	serviceName  = "vkbot"
	tokenAccount = "vk_token"

	// EnvToken overrides the keyring.
	EnvToken = "VKBOT_TOKEN"
)

// ErrNoToken is returned when neither the environment nor the keyring hold a
// token.
var ErrNoToken = errors.New("no access token: set " + EnvToken + " or run with --set-token")

// Get retrieves a secret from the system keychain.
func Get(account string) (string, error) {
	return keyring.Get(serviceName, account)
}

// Set stores a secret in the system keychain.
func Set(account, value string) error {
	return keyring.Set(serviceName, account, value)
}

// SetToken stores the community access token.
func SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty token")
	}
	return Set(tokenAccount, token)
}

// Token returns the access token from the environment, falling back to the
// keyring.
func Token(getenv func(string) string) (string, error) {
	if t := strings.TrimSpace(getenv(EnvToken)); t != "" {
		return t, nil
	}
	t, err := Get(tokenAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token from keyring: %w", err)
	}
	return t, nil
}
