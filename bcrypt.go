package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher is the PasswordAuthenticator backed by bcrypt
type BcryptHasher struct {
	Cost int
}

var _ PasswordAuthenticator = BcryptHasher{}

// NewBcryptHasher uses the build default cost when cost is zero
func NewBcryptHasher(cost int) BcryptHasher {
	if cost <= 0 {
		cost = passwordHashCost()
	}
	return BcryptHasher{Cost: cost}
}

func (h BcryptHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}
	cost := h.Cost
	if cost <= 0 {
		cost = passwordHashCost()
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(b), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func (h BcryptHasher) ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	return NewBcryptHasher(0).HashPassword(password)
}

// ComparePasswordAndHash checks password against hash with the default hasher
func ComparePasswordAndHash(password, hash string) error {
	return NewBcryptHasher(0).ComparePasswordAndHash(password, hash)
}
