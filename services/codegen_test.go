package services

import "testing"

func TestGenerateRedemptionCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		c, err := GenerateRedemptionCode()
		if err != nil {
			t.Fatal(err)
		}
		if !IsGeneratedCode(c) {
			t.Fatalf("bad format %q", c)
		}
		if seen[c] {
			t.Fatalf("duplicate %q", c)
		}
		seen[c] = true
	}
}

func TestValidImportCode(t *testing.T) {
	good := []string{"ABCD", "vendor_code-01", "A1B2C3D4E5"}
	bad := []string{"", "abc", "-ABCD", "AB CD", "ABCD!"}
	for _, s := range good {
		if !ValidImportCode(s) {
			t.Errorf("ValidImportCode(%q) = false", s)
		}
	}
	for _, s := range bad {
		if ValidImportCode(s) {
			t.Errorf("ValidImportCode(%q) = true", s)
		}
	}
}
