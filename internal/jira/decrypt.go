package jira

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/healthmetrix/recontact-service/internal/domain"
)

// Decrypter opens cohort attachments sealed with ChaCha20-Poly1305 (IETF).
// A payload is the 12-byte nonce followed by the ciphertext and its 16-byte tag.
// No additional data is authenticated.
type Decrypter struct {
	aead cipher.AEAD
}

// NewDecrypter creates a Decrypter for a 32-byte key.
func NewDecrypter(key []byte) (*Decrypter, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("creating cohort cipher: %w", err)
	}
	return &Decrypter{aead: aead}, nil
}

// Open decrypts payload.
func (d *Decrypter) Open(payload []byte) ([]byte, error) {
	nonceSize := d.aead.NonceSize()
	if len(payload) < nonceSize+d.aead.Overhead() {
		return nil, fmt.Errorf("%w: payload of %d bytes is too short", ErrDecryption, len(payload))
	}

	plaintext, err := d.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plaintext, nil
}

// Seal encrypts plaintext under a random nonce in the layout Open expects.
func (d *Decrypter) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, d.aead.NonceSize(), d.aead.NonceSize()+len(plaintext)+d.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return d.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// DecodeCohort decrypts payload and parses the cohort definition inside it.
func (d *Decrypter) DecodeCohort(payload []byte) (*domain.CohortDefinition, error) {
	plaintext, err := d.Open(payload)
	if err != nil {
		return nil, err
	}

	var def domain.CohortDefinition
	if err := json.Unmarshal(plaintext, &def); err != nil {
		return nil, fmt.Errorf("%w: parsing cohort: %v", ErrDecryption, err)
	}
	return &def, nil
}
