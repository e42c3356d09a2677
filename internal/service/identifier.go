package service

import (
	"regexp"
	"strings"
)

var (
	phonePattern = regexp.MustCompile(`^(\+91|91)?[6-9]\d{9}$`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// NormalizeIdentifier validates a login identifier and returns its canonical
// form: Indian mobile numbers as +91XXXXXXXXXX, email addresses lower-cased.
// Spaces and dashes in phone numbers are stripped before validation.
func NormalizeIdentifier(raw string) (string, error) {
	identifier := strings.TrimSpace(raw)
	if identifier == "" {
		return "", ErrInvalidInput
	}

	if strings.Contains(identifier, "@") {
		identifier = strings.ToLower(identifier)
		if !emailPattern.MatchString(identifier) {
			return "", ErrInvalidInput
		}
		return identifier, nil
	}

	cleaned := strings.NewReplacer(" ", "", "-", "").Replace(identifier)
	if !phonePattern.MatchString(cleaned) {
		return "", ErrInvalidInput
	}
	// Reduce to the bare 10-digit subscriber number before prefixing. Length
	// checks keep numbers like 9198xxxxxxxx from losing their leading digits.
	switch {
	case len(cleaned) == 13 && strings.HasPrefix(cleaned, "+91"):
		cleaned = cleaned[3:]
	case len(cleaned) == 12 && strings.HasPrefix(cleaned, "91"):
		cleaned = cleaned[2:]
	}
	return "+91" + cleaned, nil
}
