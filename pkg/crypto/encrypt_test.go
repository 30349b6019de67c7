package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

func newTestBox(t *testing.T) *SecretBox {
	t.Helper()
	box, err := NewSecretBox([]byte(strings.Repeat("k", KeySize)))
	if err != nil {
		t.Fatalf("NewSecretBox failed: %v", err)
	}
	return box
}

// TestSecretBoxSealOpen проверяет цикл шифрования/расшифровки
func TestSecretBoxSealOpen(t *testing.T) {
	box := newTestBox(t)

	tests := []struct {
		name   string
		secret string
	}{
		{"api secret", "abc123def456ghi789"},
		{"unicode", "секрет 你好"},
		{"json credentials", `{"key":"k","secret":"s","password":"p"}`},
		{"long", strings.Repeat("a", 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := box.Seal("bot-1", tt.secret)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}

			if _, err := base64.StdEncoding.DecodeString(sealed); err != nil {
				t.Errorf("sealed value is not valid base64: %v", err)
			}
			if strings.Contains(sealed, tt.secret) {
				t.Error("sealed value leaks plaintext")
			}

			opened, err := box.Open("bot-1", sealed)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if opened != tt.secret {
				t.Errorf("Open mismatch: got %q, want %q", opened, tt.secret)
			}
		})
	}
}

// TestSecretBoxEmpty: пустой secret не шифруется
func TestSecretBoxEmpty(t *testing.T) {
	box := newTestBox(t)

	sealed, err := box.Seal("bot-1", "")
	if err != nil || sealed != "" {
		t.Errorf("Seal empty: got %q, %v", sealed, err)
	}

	opened, err := box.Open("bot-1", "")
	if err != nil || opened != "" {
		t.Errorf("Open empty: got %q, %v", opened, err)
	}
}

// TestSecretBoxNonceDiffers проверяет, что каждый Seal дает новый nonce
func TestSecretBoxNonceDiffers(t *testing.T) {
	box := newTestBox(t)

	first, _ := box.Seal("bot-1", "secret")
	second, _ := box.Seal("bot-1", "secret")
	if first == second {
		t.Error("two seals of the same secret should differ")
	}
}

// TestSecretBoxBoundToBot: шифротекст другого бота не открывается
func TestSecretBoxBoundToBot(t *testing.T) {
	box := newTestBox(t)

	sealed, err := box.Seal("bot-1", "secret")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if _, err := box.Open("bot-2", sealed); err != ErrDecryptionFailed {
		t.Errorf("expected ErrDecryptionFailed for another bot, got %v", err)
	}
}

func TestSecretBoxErrors(t *testing.T) {
	if _, err := NewSecretBox([]byte("short")); err != ErrInvalidKeyLength {
		t.Errorf("expected ErrInvalidKeyLength, got %v", err)
	}

	box := newTestBox(t)

	if _, err := box.Open("bot-1", "!!!not-base64!!!"); err != ErrInvalidCiphertext {
		t.Errorf("expected ErrInvalidCiphertext, got %v", err)
	}

	short := base64.StdEncoding.EncodeToString([]byte("tiny"))
	if _, err := box.Open("bot-1", short); err != ErrCiphertextTooShort {
		t.Errorf("expected ErrCiphertextTooShort, got %v", err)
	}

	sealed, _ := box.Seal("bot-1", "secret")
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)
	if _, err := box.Open("bot-1", tampered); err != ErrDecryptionFailed {
		t.Errorf("expected ErrDecryptionFailed for tampered data, got %v", err)
	}

	other, _ := NewSecretBox([]byte(strings.Repeat("x", KeySize)))
	if _, err := other.Open("bot-1", sealed); err != ErrDecryptionFailed {
		t.Errorf("expected ErrDecryptionFailed for wrong key, got %v", err)
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		secret string
		want   string
	}{
		{"", ""},
		{"abc", "***"},
		{"abcdefgh1234", "********1234"},
	}

	for _, tt := range tests {
		if got := Mask(tt.secret); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.secret, got, tt.want)
		}
	}
}

func TestGenerateKeyString(t *testing.T) {
	key, err := GenerateKeyString()
	if err != nil {
		t.Fatalf("GenerateKeyString failed: %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("expected %d characters, got %d", KeySize, len(key))
	}
	if _, err := NewSecretBox([]byte(key)); err != nil {
		t.Errorf("generated key rejected: %v", err)
	}

	another, _ := GenerateKeyString()
	if key == another {
		t.Error("two generated keys should differ")
	}
}

func BenchmarkSecretBoxSeal(b *testing.B) {
	box, _ := NewSecretBox([]byte(strings.Repeat("k", KeySize)))
	for i := 0; i < b.N; i++ {
		_, _ = box.Seal("bot-1", "api_secret_key_12345")
	}
}
