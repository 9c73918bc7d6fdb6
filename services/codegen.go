package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// codeAlphabet omits 0/O and 1/I so codes survive being read aloud or retyped.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codeGroups    = 4
	codeGroupSize = 4
)

var (
	generatedCodePattern = regexp.MustCompile(`^[A-Z2-9]{4}(-[A-Z2-9]{4}){3}$`)
	importedCodePattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{3,63}$`)
)

// GenerateRedemptionCode returns a random code formatted as XXXX-XXXX-XXXX-XXXX.
func GenerateRedemptionCode() (string, error) {
	var b strings.Builder
	alphabetLen := big.NewInt(int64(len(codeAlphabet)))
	for g := 0; g < codeGroups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < codeGroupSize; i++ {
			n, err := rand.Int(rand.Reader, alphabetLen)
			if err != nil {
				return "", fmt.Errorf("generate code: %w", err)
			}
			b.WriteByte(codeAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// IsGeneratedCode reports whether s has the format produced by GenerateRedemptionCode.
func IsGeneratedCode(s string) bool {
	return generatedCodePattern.MatchString(s)
}

// ValidImportCode accepts vendor codes: 4-64 chars of letters, digits, '-' and '_'.
func ValidImportCode(s string) bool {
	return importedCodePattern.MatchString(s)
}
