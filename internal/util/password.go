package util

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes password+pepper with bcrypt. The salt is per hash; the
// pepper is shared by the whole deployment.
func HashPassword(password, pepper string, cost int) (string, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password+pepper), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword verifies password+pepper against a bcrypt hash.
func CheckPassword(password, pepper, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password+pepper))
	return err == nil
}
