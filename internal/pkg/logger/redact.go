package logger

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// personalNameKeys are field keys whose values are subscriber names.
var personalNameKeys = map[string]bool{
	"first_name": true,
	"last_name":  true,
	"full_name":  true,
}

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}

// RedactName keeps the first letter of a personal name.
func RedactName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return string([]rune(name)[:1]) + "***"
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	switch {
	case personalNameKeys[key]:
		return RedactName(val)
	case strings.Contains(key, "email") && strings.Contains(val, "@"):
		return RedactEmail(val)
	}
	// Redact any embedded emails in generic fields
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
