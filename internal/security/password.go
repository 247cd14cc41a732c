package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrPasswordTooShort = errors.New("password too short")

type BcryptConfig struct {
	Cost      int // bcrypt.DefaultCost when 0
	MinLength int // 4 when 0
}

// HashPassword hashes a room password.
func HashPassword(plain string, cfg *BcryptConfig) (string, error) {
	minLen := 4
	cost := bcrypt.DefaultCost

	if cfg != nil {
		if cfg.MinLength > 0 {
			minLen = cfg.MinLength
		}
		if cfg.Cost > 0 {
			cost = cfg.Cost
		}
	}

	if len(plain) < minLen {
		return "", ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// ComparePassword returns nil when plain matches hash.
func ComparePassword(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
