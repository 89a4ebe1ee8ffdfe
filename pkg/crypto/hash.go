package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptySecret    = errors.New("secret cannot be empty")
	ErrSecretMismatch = errors.New("secret does not match hash")
	ErrInvalidHash    = errors.New("invalid secret hash format")
	ErrSecretTooLong  = errors.New("secret exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость bcrypt для секретов вебхука.
// Проверка выполняется на каждый входящий сигнал, поэтому ниже, чем для паролей.
const DefaultCost = 10

// MaxSecretLength - предел входа bcrypt
const MaxSecretLength = 72

// HashSecret хэширует секрет вебхука владельца
func HashSecret(secret string) (string, error) {
	return HashSecretWithCost(secret, DefaultCost)
}

// HashSecretWithCost - HashSecret с явной стоимостью, ограниченной диапазоном bcrypt
func HashSecretWithCost(secret string, cost int) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if len(secret) > MaxSecretLength {
		return "", ErrSecretTooLong
	}

	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifySecret сравнивает секрет с хэшем
func VerifySecret(secret, hash string) error {
	if secret == "" {
		return ErrEmptySecret
	}
	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrSecretMismatch
	default:
		return ErrInvalidHash
	}
}

// SecretMatches - VerifySecret в виде bool
func SecretMatches(secret, hash string) bool {
	return VerifySecret(secret, hash) == nil
}
