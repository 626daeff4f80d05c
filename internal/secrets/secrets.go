// Package secrets encrypts Setting values in config.EncryptedKeys using
// age's passphrase-based (scrypt) recipient, keyed by a single
// process-level secret. Unlike a keypair-on-disk identity,
// a scrypt identity needs no provisioning step at boot beyond the secret
// itself being present in the environment.
package secrets

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// prefix marks an encrypted value so Decrypt can distinguish it from
// plaintext already present in a hand-edited config or legacy row.
const prefix = "enc:age-scrypt:"

// ErrNoSecret is returned when the process secret required to derive the
// encryption key is missing.
var ErrNoSecret = fmt.Errorf("encryption secret is not set")

// Cipher wraps a process-level secret used to derive the scrypt identity
// for all ENCRYPTED_KEYS values.
type Cipher struct {
	secret string
}

// New returns a Cipher keyed by secret. An empty secret is accepted so
// callers can construct a Cipher before checking whether encryption is
// actually required (see MustHaveSecret).
func New(secret string) *Cipher {
	return &Cipher{secret: secret}
}

// MustHaveSecret returns ErrNoSecret when c was built with an empty
// secret. Nothing in this module calls it at startup, so a missing secret
// is not detected when the server starts; Encrypt still returns
// ErrNoSecret for a non-empty value instead of passing plaintext through.
func (c *Cipher) MustHaveSecret() error {
	if c.secret == "" {
		return ErrNoSecret
	}
	return nil
}

// IsEncrypted reports whether value already carries the encrypted prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, prefix)
}

// Encrypt returns value encrypted under the process secret. Already
// encrypted or empty values pass through unchanged.
func (c *Cipher) Encrypt(value string) (string, error) {
	if value == "" || IsEncrypted(value) {
		return value, nil
	}
	if c.secret == "" {
		return "", ErrNoSecret
	}

	recipient, err := age.NewScryptRecipient(c.secret)
	if err != nil {
		return "", fmt.Errorf("deriving scrypt recipient: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := io.WriteString(w, value); err != nil {
		return "", fmt.Errorf("age encrypt write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("age encrypt close: %w", err)
	}

	return prefix + encodeBase64(buf.Bytes()), nil
}

// Decrypt reverses Encrypt. Plaintext (non-prefixed) values pass through
// unchanged so a hand-edited config.yml keeps working until the next save.
func (c *Cipher) Decrypt(value string) (string, error) {
	if value == "" || !IsEncrypted(value) {
		return value, nil
	}
	if c.secret == "" {
		return "", ErrNoSecret
	}

	raw, err := decodeBase64(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", fmt.Errorf("decoding encrypted value: %w", err)
	}

	identity, err := age.NewScryptIdentity(c.secret)
	if err != nil {
		return "", fmt.Errorf("deriving scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("age decrypt read: %w", err)
	}
	return string(out), nil
}
