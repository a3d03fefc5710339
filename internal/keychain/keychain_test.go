package keychain

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func env(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func TestTokenPrefersEnv(t *testing.T) {
	keyring.MockInit()
	if err := SetToken("from-keyring"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	got, err := Token(env(map[string]string{EnvToken: " from-env "}))
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != "from-env" {
		t.Errorf("token = %q, want from-env", got)
	}
}

func TestTokenFallsBackToKeyring(t *testing.T) {
	keyring.MockInit()
	if err := SetToken("from-keyring\n"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	got, err := Token(env(nil))
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != "from-keyring" {
		t.Errorf("token = %q, want from-keyring", got)
	}
}

func TestTokenMissing(t *testing.T) {
	keyring.MockInit()
	if _, err := Token(env(nil)); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
}

func TestTokenKeyringError(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus unavailable"))
	_, err := Token(env(nil))
	if err == nil || errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want keyring failure", err)
	}
}

func TestSetTokenRejectsEmpty(t *testing.T) {
	keyring.MockInit()
	if err := SetToken("  "); err == nil {
		t.Fatal("expected error for empty token")
	}
}
