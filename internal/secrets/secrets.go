package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the shortest application secret accepted.
const MinSecretLength = 32

// HKDF info labels. Changing either invalidates every token or ciphertext
// produced under the old label.
const (
	signingInfo    = "reviewcore/token-signing/v1"
	encryptionInfo = "reviewcore/credential-encryption/v1"
)

var (
	// ErrSecretTooShort is returned by New for secrets under MinSecretLength.
	ErrSecretTooShort = errors.New("secrets: application secret too short")

	// ErrDecrypt is returned when a ciphertext cannot be opened, either
	// because it is malformed or because it was sealed under another secret.
	ErrDecrypt = errors.New("secrets: cannot decrypt value")
)

// Context holds the key material derived from the application secret.
//
// One Context is built at startup and passed to every component that signs
// tokens or encrypts stored credentials. Tests build their own with
// distinct secrets.
type Context struct {
	signingKey []byte
	aead       cipher.AEAD
}

// New derives the signing and encryption keys from secret.
func New(secret string) (*Context, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}

	signingKey, err := derive(secret, signingInfo, sha256.Size)
	if err != nil {
		return nil, err
	}

	encKey, err := derive(secret, encryptionInfo, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	return &Context{signingKey: signingKey, aead: aead}, nil
}

func derive(secret, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", info, err)
	}
	return key, nil
}

// SigningKey returns the HMAC key for token signing.
// The returned slice must not be modified.
func (c *Context) SigningKey() []byte {
	return c.signingKey
}

// Encrypt seals plaintext and returns it as URL-safe base64 (nonce then ciphertext).
// Empty input encrypts to the empty string so optional fields stay empty.
func (c *Context) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any failure wraps ErrDecrypt.
func (c *Context) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	return string(plain), nil
}
