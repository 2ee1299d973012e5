package utils

import (
	"regexp"
	"strings"
)

var (
	e164Pattern      = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	e164Parts        = regexp.MustCompile(`^(\+)(\d{1,3})(\d{3})(\d+)$`)
	dialNoisePattern = regexp.MustCompile(`[\s\-().]`)
)

// MaskPhoneNumber masks a phone number for logging
// Example: +919876543210 -> +919876••3210
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	phone = strings.TrimSpace(phone)

	matches := e164Parts.FindStringSubmatch(phone)
	if len(matches) == 5 {
		countryCode := matches[2]
		first3 := matches[3]
		lastDigits := matches[4]

		if len(lastDigits) >= 4 {
			last4 := lastDigits[len(lastDigits)-4:]
			masked := strings.Repeat("•", len(lastDigits)-4)
			return "+" + countryCode + first3 + masked + last4
		}
	}

	// Fallback: mask all but last 4 characters
	if len(phone) > 4 {
		masked := strings.Repeat("•", len(phone)-4)
		return masked + phone[len(phone)-4:]
	}

	return strings.Repeat("•", len(phone))
}

// ValidateE164 validates E.164 phone number format
func ValidateE164(phone string) bool {
	return e164Pattern.MatchString(phone)
}

// NormalizeDialTarget strips the punctuation people paste into numbers
// ("+1 (555) 010-9999") so the result can go into a dial string.
// Extensions and SIP users pass through unchanged apart from trimming.
func NormalizeDialTarget(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}

	cleaned := dialNoisePattern.ReplaceAllString(target, "")
	if strings.HasPrefix(cleaned, "+") && ValidateE164(cleaned) {
		return cleaned
	}
	return target
}
