// Package secret реализует шифрование секретов на границе хранилища.
// Пароли роутеров и VPN-аккаунтов лежат в БД только в виде Sealed;
// расшифровка — явный вызов Open, никаких «прозрачных» свойств.
package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCorrupted — шифротекст повреждён или зашифрован другим ключом.
var ErrCorrupted = errors.New("секрет повреждён или ключ не подходит")

// Sealed — зашифрованный секрет: base64(nonce || ciphertext).
type Sealed string

// IsZero сообщает, что секрет не задан.
func (s Sealed) IsZero() bool { return s == "" }

// Box шифрует и расшифровывает секреты ключом приложения (XChaCha20-Poly1305).
type Box struct {
	aead cipher.AEAD
}

// NewBox создаёт Box из 32-байтового ключа.
func NewBox(key []byte) (*Box, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("некорректный ключ шифрования: %w", err)
	}
	return &Box{aead: aead}, nil
}

// NewBoxFromBase64 создаёт Box из ключа в base64 (формат ENCRYPTION_KEY).
func NewBoxFromBase64(encoded string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY не base64: %w", err)
	}
	return NewBox(key)
}

// GenerateKey возвращает новый случайный ключ в base64.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("ошибка генерации ключа: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal шифрует открытый текст. Пустая строка остаётся пустой.
func (b *Box) Seal(plain string) (Sealed, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plain)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, []byte(plain), nil)
	return Sealed(base64.StdEncoding.EncodeToString(out)), nil
}

// Open расшифровывает секрет.
func (b *Box) Open(s Sealed) (string, error) {
	if s.IsZero() {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(string(s))
	if err != nil {
		return "", ErrCorrupted
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns+b.aead.Overhead() {
		return "", ErrCorrupted
	}
	plain, err := b.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrCorrupted
	}
	return string(plain), nil
}
