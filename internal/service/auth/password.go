package auth

import "golang.org/x/crypto/bcrypt"

// PasswordVerifier checks an operator login password against the
// configured hash.
type PasswordVerifier interface {
	// Compare returns nil when password matches hashedPassword, or an
	// error on mismatch or a malformed hash.
	Compare(hashedPassword, password string) error
}

// BcryptVerifier is the production PasswordVerifier. The operator hash
// it checks against comes from configuration, typically produced with
// the hash-generator command.
type BcryptVerifier struct{}

// NewBcryptVerifier creates a BcryptVerifier.
func NewBcryptVerifier() *BcryptVerifier {
	return &BcryptVerifier{}
}

// Compare implements PasswordVerifier.
func (v *BcryptVerifier) Compare(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
