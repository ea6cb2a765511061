// Package vault keeps exchange API credentials encrypted at rest.
//
// A vault file is a JSON envelope holding a scrypt salt and parameters and
// a chacha20poly1305 ciphertext of the JSON encoded credentials.
package vault

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const formatVersion = 1

var (
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted vault")
	ErrNoCredentials   = errors.New("no exchange credentials configured")
)

// Env names consulted by Load.
const (
	EnvAPIKey     = "KRAKEN_API_KEY"
	EnvAPISecret  = "KRAKEN_API_SECRET"
	EnvVaultFile  = "KRAKEN_VAULT_FILE"
	EnvPassphrase = "KRAKEN_VAULT_PASSPHRASE"
)

type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.APISecret == ""
}

// String masks both values so credentials never end up in logs.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{APIKey:%s, APISecret:%s}", mask(c.APIKey), mask(c.APISecret))
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

type envelope struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

// scrypt cost parameters; tests lower N through sealWithParams.
func defaultParams() (n, r, p int) { return 1 << 15, 8, 1 }

// Seal encrypts creds with a key derived from passphrase.
func Seal(passphrase string, creds Credentials) ([]byte, error) {
	n, r, p := defaultParams()
	return sealWithParams(passphrase, creds, n, r, p)
}

func sealWithParams(passphrase string, creds Credentials, n, r, p int) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}

	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt[:], n, r, p, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	// zero nonce is safe: every seal derives a fresh key from a fresh salt
	var nonce [chacha20poly1305.NonceSize]byte
	ct := aead.Seal(nil, nonce[:], raw, salt[:])

	return json.MarshalIndent(envelope{V: formatVersion, Salt: salt[:], N: n, R: r, P: p, Cipher: ct}, "", "  ")
}

// Open decrypts a sealed vault.
func Open(passphrase string, blob []byte) (Credentials, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return Credentials{}, fmt.Errorf("decode vault: %w", err)
	}
	if env.V > formatVersion {
		return Credentials{}, fmt.Errorf("unsupported vault version %d", env.V)
	}

	key, err := scrypt.Key([]byte(passphrase), env.Salt, env.N, env.R, env.P, chacha20poly1305.KeySize)
	if err != nil {
		return Credentials{}, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return Credentials{}, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], env.Cipher, env.Salt)
	if err != nil {
		return Credentials{}, ErrWrongPassphrase
	}

	var creds Credentials
	if err := json.Unmarshal(pt, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}

// WriteFile seals creds into path with owner-only permissions.
func WriteFile(path, passphrase string, creds Credentials) error {
	blob, err := Seal(passphrase, creds)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}

func ReadFile(path, passphrase string) (Credentials, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, err
	}
	return Open(passphrase, blob)
}

// Load resolves credentials from the environment: plain key and secret
// first, then a vault file unlocked with a passphrase.
func Load() (Credentials, error) {
	creds := Credentials{APIKey: os.Getenv(EnvAPIKey), APISecret: os.Getenv(EnvAPISecret)}
	if !creds.Empty() {
		return creds, nil
	}

	path := os.Getenv(EnvVaultFile)
	if path == "" {
		return Credentials{}, ErrNoCredentials
	}
	creds, err := ReadFile(path, os.Getenv(EnvPassphrase))
	if err != nil {
		return Credentials{}, fmt.Errorf("read vault %s: %w", path, err)
	}
	if creds.Empty() {
		return Credentials{}, ErrNoCredentials
	}
	return creds, nil
}
