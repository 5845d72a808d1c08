package auth

import "errors"

var (
	// ErrInvalidSecret is returned when the proof secret is not 32 bytes.
	ErrInvalidSecret = errors.New("auth: secret must be 32 bytes")

	// ErrInvalidKeyMaterial is returned when stored key material cannot be decoded.
	ErrInvalidKeyMaterial = errors.New("auth: invalid key material")

	// ErrNotStored is returned when the store has no entry for a username.
	ErrNotStored = errors.New("auth: nothing stored")

	// ErrSealed is returned when sealed data cannot be opened with the passphrase.
	ErrSealed = errors.New("auth: cannot open sealed data")
)
