package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters, OWASP 2025 recommendation.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 1         // parallelism
	argonKeyLen  = chacha20poly1305.KeySize
	argonSaltLen = 16
)

// Sealer encrypts secrets at rest with a key derived from a passphrase.
// Output format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<nonce+ciphertext>
type Sealer struct {
	passphrase []byte
	time       uint32
	memory     uint32
}

// NewSealer returns a Sealer for passphrase. An empty passphrase still
// encrypts, it only stops casual reads of the database file.
func NewSealer(passphrase string) *Sealer {
	return &Sealer{passphrase: []byte(passphrase), time: argonTime, memory: argonMemory}
}

func (s *Sealer) key(salt []byte, t, m uint32) []byte {
	return argon2.IDKey(s.passphrase, salt, t, m, argonThreads, argonKeyLen)
}

// Seal encrypts plaintext.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key(salt, s.time, s.memory))
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, s.memory, s.time, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sealed),
	), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(encoded string) ([]byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, fmt.Errorf("%w: format", ErrSealed)
	}
	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return nil, fmt.Errorf("%w: parameters: %w", ErrSealed, err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %w", ErrSealed, err)
	}
	sealed, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrSealed, err)
	}
	aead, err := chacha20poly1305.NewX(s.key(salt, t, m))
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: short payload", ErrSealed)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSealed, err)
	}
	return plain, nil
}
