package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/box"
)

const nonceSize = 24

// KeyPair holds this session's curve25519 keys. The private key never leaves
// the process; only the base64 public half is published to the relay.
type KeyPair struct {
	Public  *[32]byte
	Private *[32]byte
}

// NewKeyPair generates a fresh key pair.
func NewKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// PublicBase64 returns the shareable encoding of the public key.
func (kp *KeyPair) PublicBase64() string {
	return base64.StdEncoding.EncodeToString(kp.Public[:])
}

// Fingerprint returns a short human-checkable prefix of the public key.
func (kp *KeyPair) Fingerprint() string {
	return kp.PublicBase64()[:12]
}

// ParsePublicKey decodes a peer's published key.
func ParsePublicKey(encoded string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, errors.New("public key must be 32 bytes")
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// Seal encrypts plaintext for a peer. The random nonce is prepended to the
// box so the whole thing travels as one opaque base64 string.
func Seal(plaintext string, peer *[32]byte, kp *KeyPair) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	sealed := box.Seal(nonce[:], []byte(plaintext), &nonce, peer, kp.Private)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a box produced by Seal on the peer's side.
func Open(encoded string, peer *[32]byte, kp *KeyPair) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(raw) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	opened, ok := box.Open(nil, raw[nonceSize:], &nonce, peer, kp.Private)
	if !ok {
		return "", errors.New("decryption failed")
	}
	return string(opened), nil
}
