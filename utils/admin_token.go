package utils

import "golang.org/x/crypto/bcrypt"

// HashAdminToken returns the bcrypt hash to put in admin.TokenHash / ADMIN_TOKEN_HASH.
func HashAdminToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckAdminToken compares a presented X-Admin-Token with the configured hash.
// An empty hash disables token access.
func CheckAdminToken(hash, token string) bool {
	if hash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
