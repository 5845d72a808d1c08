package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Header names added to every customer-app request.
const (
	HeaderInstallationID   = "X-App-Installation-Id"
	HeaderTimestamp        = "X-Timestamp"
	HeaderNonce            = "X-Nonce"
	HeaderRequestSignature = "X-Request-Signature"
	HeaderRequestProof     = "X-Request-Proof"
)

const secretLen = 32

// InstallationKey is the per-installation key material that identifies
// this client to the vendor cloud.
//
// The secret is derived from the installation id and the public key, so it
// never needs to be transmitted; only the public key is registered.
type InstallationKey struct {
	InstallationID string
	Secret         []byte
	PrivateKey     *ecdsa.PrivateKey
}

// GenerateInstallationKey creates fresh P-256 key material. An empty id is
// replaced with a random lowercase UUID.
func GenerateInstallationKey(installationID string) (*InstallationKey, error) {
	if installationID == "" {
		installationID = strings.ToLower(uuid.NewString())
	}
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	k := &InstallationKey{InstallationID: installationID, PrivateKey: priv}
	pub, err := k.publicDER()
	if err != nil {
		return nil, err
	}
	k.Secret = deriveSecret(installationID, pub)
	return k, nil
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// deriveSecret computes sha256("id.b64(pubDER).b64(sha256(id))").
func deriveSecret(installationID string, pubDER []byte) []byte {
	idHash := sha256.Sum256([]byte(installationID))
	triple := installationID + "." + b64(pubDER) + "." + b64(idHash[:])
	sum := sha256.Sum256([]byte(triple))
	return sum[:]
}

func (k *InstallationKey) publicDER() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&k.PrivateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}
	return der, nil
}

// PublicKeyB64 is the base64 SubjectPublicKeyInfo DER sent at registration.
func (k *InstallationKey) PublicKeyB64() (string, error) {
	der, err := k.publicDER()
	if err != nil {
		return "", err
	}
	return b64(der), nil
}

// BaseString is "id.b64(sha256(pubDER))", the registration proof input.
func (k *InstallationKey) BaseString() (string, error) {
	der, err := k.publicDER()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return k.InstallationID + "." + b64(sum[:]), nil
}

// RequestProof is the vendor's keyed digest of input. Each input byte picks
// a slot in a working copy of the secret, XORs into it, and rotates the slot
// left by the low three bits of its neighbour.
func RequestProof(input string, secret []byte) (string, error) {
	if len(secret) != secretLen {
		return "", fmt.Errorf("%w: got %d bytes", ErrInvalidSecret, len(secret))
	}
	work := make([]byte, secretLen)
	copy(work, secret)

	for _, b := range []byte(input) {
		idx := int(b) % secretLen
		shift := work[(idx+1)%secretLen] & 7
		x := b ^ work[idx]
		work[idx] = x<<shift | x>>(8-shift)
	}
	sum := sha256.Sum256(work)
	return b64(sum[:]), nil
}

// ExtraHeaders signs a fresh nonce and timestamp.
func (k *InstallationKey) ExtraHeaders() (map[string]string, error) {
	return k.headersAt(time.Now(), strings.ToLower(uuid.NewString()))
}

func (k *InstallationKey) headersAt(now time.Time, nonce string) (map[string]string, error) {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	input := k.InstallationID + "." + nonce + "." + ts
	proof, err := RequestProof(input, k.Secret)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256([]byte(input + "." + proof))
	sig, err := ecdsa.SignASN1(rand.Reader, k.PrivateKey, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}
	return map[string]string{
		HeaderInstallationID:   k.InstallationID,
		HeaderTimestamp:        ts,
		HeaderNonce:            nonce,
		HeaderRequestSignature: b64(sig),
	}, nil
}

// Registration is the body and headers of POST /auth/init.
type Registration struct {
	Headers map[string]string
	Body    map[string]string
}

// Registration builds the one-time public key registration request.
func (k *InstallationKey) Registration() (*Registration, error) {
	base, err := k.BaseString()
	if err != nil {
		return nil, err
	}
	proof, err := RequestProof(base, k.Secret)
	if err != nil {
		return nil, err
	}
	pub, err := k.PublicKeyB64()
	if err != nil {
		return nil, err
	}
	return &Registration{
		Headers: map[string]string{
			HeaderInstallationID: k.InstallationID,
			HeaderRequestProof:   proof,
		},
		Body: map[string]string{"pk": pub},
	}, nil
}

type installationJSON struct {
	InstallationID string `json:"installation_id"`
	Secret         string `json:"secret"`
	PrivateKey     string `json:"private_key"`
}

// MarshalJSON stores the private key as base64 PKCS#8 DER.
func (k *InstallationKey) MarshalJSON() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("encoding private key: %w", err)
	}
	return json.Marshal(installationJSON{
		InstallationID: k.InstallationID,
		Secret:         b64(k.Secret),
		PrivateKey:     b64(der),
	})
}

func (k *InstallationKey) UnmarshalJSON(b []byte) error {
	var raw installationJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	secret, err := base64.StdEncoding.DecodeString(raw.Secret)
	if err != nil {
		return fmt.Errorf("%w: secret: %w", ErrInvalidKeyMaterial, err)
	}
	der, err := base64.StdEncoding.DecodeString(raw.PrivateKey)
	if err != nil {
		return fmt.Errorf("%w: private key: %w", ErrInvalidKeyMaterial, err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return fmt.Errorf("%w: private key: %w", ErrInvalidKeyMaterial, err)
	}
	priv, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return fmt.Errorf("%w: private key is %T", ErrInvalidKeyMaterial, parsed)
	}
	if len(secret) != secretLen {
		return fmt.Errorf("%w: secret is %d bytes", ErrInvalidKeyMaterial, len(secret))
	}
	*k = InstallationKey{InstallationID: raw.InstallationID, Secret: secret, PrivateKey: priv}
	return nil
}
