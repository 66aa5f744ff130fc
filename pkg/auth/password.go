package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// HashOperatorToken hashes an operator token using bcrypt. Used by
// deployment tooling to produce the OPERATOR_TOKEN_HASH value.
func HashOperatorToken(token string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(bytes), err
}

// VerifyOperatorToken compares a presented token with the configured hash
func VerifyOperatorToken(token, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	return err == nil
}
