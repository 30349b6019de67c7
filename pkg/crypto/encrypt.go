package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// Ошибки шифрования
var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed: authentication error")
)

// KeySize - длина ключа AES-256
const KeySize = 32

// SecretBox шифрует exchange secret конфигураций ботов (AES-256-GCM)
//
// id бота передается как additional data: шифротекст одной конфигурации
// не расшифруется, если его скопировать в строку другого бота.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox создает SecretBox для 32-байтного ключа
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &SecretBox{aead: gcm}, nil
}

// Seal шифрует secret бота и возвращает base64 (nonce || ciphertext || tag)
//
// Пустой secret остается пустым: у бота нет ключей биржи.
func (b *SecretBox) Seal(botID, secret string) (string, error) {
	if secret == "" {
		return "", nil
	}

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := b.aead.Seal(nonce, nonce, []byte(secret), []byte(botID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open расшифровывает secret бота
func (b *SecretBox) Open(botID, sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := b.aead.NonceSize()
	if len(raw) < nonceSize+b.aead.Overhead() {
		return "", ErrCiphertextTooShort
	}

	nonce, data := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, data, []byte(botID))
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// Mask скрывает secret для ответа API: видны только последние 4 символа
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", 8) + secret[len(secret)-4:]
}

// GenerateKeyString генерирует ключ из 32 печатных символов (для .env файла)
func GenerateKeyString() (string, error) {
	raw := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
