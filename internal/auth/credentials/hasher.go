package credentials

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted on set or reset.
const MinPasswordLength = 6

var ErrPasswordTooShort = errors.New("password too short")

// Hasher hashes and compares passwords with bcrypt.
type Hasher struct {
	// Cost defaults to bcrypt.DefaultCost when zero.
	Cost int
}

func (h Hasher) cost() int {
	if h.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return h.Cost
}

// Hash hashes a plaintext password.
func (h Hasher) Hash(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost())
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// Compare compares a plaintext password with a stored hash.
func (h Hasher) Compare(hash string, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
