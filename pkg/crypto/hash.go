package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования
var (
	ErrEmptyPassword    = errors.New("password cannot be empty")
	ErrPasswordMismatch = errors.New("password does not match hash")
	ErrInvalidHash      = errors.New("invalid password hash format")
	ErrPasswordTooLong  = errors.New("password exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость хеширования по умолчанию
const DefaultCost = 12

// MaxPasswordLength - максимальная длина пароля для bcrypt (72 байта)
const MaxPasswordLength = 72

// HashPassword хеширует пароль bcrypt (для METRICS_PASSWORD_HASH)
func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, DefaultCost)
}

// HashPasswordWithCost хеширует пароль с указанной стоимостью
// cost приводится к диапазону bcrypt.MinCost..bcrypt.MaxCost
func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}

	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// VerifyPassword проверяет соответствие пароля хешу
func VerifyPassword(password, hash string) error {
	if password == "" {
		return ErrEmptyPassword
	}

	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return ErrInvalidHash
	}

	return nil
}

// BasicAuthVerifier проверяет Basic auth для /metrics
//
// Prometheus приходит каждые 15-30 секунд с одним и тем же паролем; bcrypt
// с cost 12 стоит ~250ms, поэтому sha256 последнего подтвержденного пароля
// кешируется и сравнивается за константное время.
type BasicAuthVerifier struct {
	user string
	hash string

	mu       sync.Mutex
	verified [sha256.Size]byte
	cached   bool
}

// NewBasicAuthVerifier создает проверку для пользователя и bcrypt хеша
func NewBasicAuthVerifier(user, hash string) *BasicAuthVerifier {
	return &BasicAuthVerifier{user: user, hash: hash}
}

// Verify возвращает true, если пара user/password верна
func (v *BasicAuthVerifier) Verify(user, password string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(v.user)) != 1 {
		return false
	}

	digest := sha256.Sum256([]byte(password))

	v.mu.Lock()
	if v.cached && subtle.ConstantTimeCompare(digest[:], v.verified[:]) == 1 {
		v.mu.Unlock()
		return true
	}
	v.mu.Unlock()

	if VerifyPassword(password, v.hash) != nil {
		return false
	}

	v.mu.Lock()
	v.verified = digest
	v.cached = true
	v.mu.Unlock()
	return true
}
