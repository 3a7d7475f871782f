package logger

import "strings"

// RedactPhone masks a phone number for safe logging, keeping only the last
// two digits: "+573001234567" → "**********67".
// Inputs with fewer than 4 digits are fully masked.
func RedactPhone(phone string) string {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 4 {
		return "***"
	}
	trimmed := strings.TrimSpace(phone)
	return strings.Repeat("*", len(trimmed)-2) + trimmed[len(trimmed)-2:]
}
