// Package auth holds the credentials used to talk to the La Marzocco
// customer-app API.
//
// It implements:
//   - Installation keys: a P-256 key pair plus a derived 32-byte secret that
//     signs every request (X-App-Installation-Id, X-Timestamp, X-Nonce,
//     X-Request-Signature)
//   - Access/refresh token bookkeeping with expiry read from the JWT
//   - At-rest sealing of key material with Argon2id + XChaCha20-Poly1305
//   - A SQLite store so a restart does not require a fresh registration
package auth
