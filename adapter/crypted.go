package adapter

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// ErrDecrypt is returned when a ciphertext fails authentication, either
// because the secret is wrong or because the stored image was altered.
var ErrDecrypt = errors.New("cannot decrypt database image")

// crypted frame layout:
//
//	magic "DGOE" | version byte | 16-byte salt | 24-byte nonce | sealed payload
//
// The key is derived from the secret with scrypt, a fresh salt and nonce per
// save. XChaCha20-Poly1305 authenticates the whole payload.
var cryptedMagic = []byte("DGOE")

const (
	cryptedVersion = 1
	cryptedSaltLen = 16

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Crypted decorates an inner adapter with authenticated encryption of the
// database image. Combine with Compressed by wrapping Crypted around
// Compressed so the plaintext is compressed before sealing.
type Crypted struct {
	inner  Adapter
	secret []byte
}

// NewCrypted wraps inner, sealing and opening images with a key derived
// from secret.
func NewCrypted(inner Adapter, secret []byte) *Crypted {
	return &Crypted{inner: inner, secret: append([]byte(nil), secret...)}
}

// Save seals the image and delegates to the inner adapter.
func (c *Crypted) Save(ctx context.Context, name string, data []byte) error {
	salt := make([]byte, cryptedSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	aead, err := c.aead(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	frame := make([]byte, 0, len(cryptedMagic)+1+len(salt)+len(nonce)+len(data)+aead.Overhead())
	frame = append(frame, cryptedMagic...)
	frame = append(frame, cryptedVersion)
	frame = append(frame, salt...)
	frame = append(frame, nonce...)
	frame = aead.Seal(frame, nonce, data, nil)

	return c.inner.Save(ctx, name, frame)
}

// Load reads the frame from the inner adapter and opens it.
func (c *Crypted) Load(ctx context.Context, name string) ([]byte, error) {
	frame, err := c.inner.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	headerLen := len(cryptedMagic) + 1 + cryptedSaltLen + chacha20poly1305.NonceSizeX
	if len(frame) < headerLen || !bytes.Equal(frame[:len(cryptedMagic)], cryptedMagic) {
		return nil, fmt.Errorf("crypted adapter: %s: not an encrypted database image", name)
	}
	if v := frame[len(cryptedMagic)]; v != cryptedVersion {
		return nil, fmt.Errorf("crypted adapter: %s: unsupported frame version %d", name, v)
	}
	salt := frame[len(cryptedMagic)+1 : len(cryptedMagic)+1+cryptedSaltLen]
	nonce := frame[len(cryptedMagic)+1+cryptedSaltLen : headerLen]

	aead, err := c.aead(salt)
	if err != nil {
		return nil, err
	}
	data, err := aead.Open(nil, nonce, frame[headerLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("crypted adapter: %s: %w", name, ErrDecrypt)
	}
	return data, nil
}

// Delete delegates to the inner adapter when it supports deletion.
func (c *Crypted) Delete(ctx context.Context, name string) error {
	if d, ok := c.inner.(Deleter); ok {
		return d.Delete(ctx, name)
	}
	return nil
}

func (c *Crypted) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(c.secret, salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(key)
}
