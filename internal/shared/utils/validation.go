package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Size limits (in bytes)
const (
	MaxMessageSize   = 64 * 1024   // single inbound websocket message
	MaxClipboardSize = 1024 * 1024 // clipboard text pushed to the display
)

// String length limits
const (
	MaxIDLength          = 128
	MaxNameLength        = 256
	MaxKeyLength         = 64
	MaxModifierCount     = 4
	MaxParticipantsLimit = 100
)

var (
	// SafeIDPattern allows alphanumeric, hyphens, underscores
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// AppNamePattern allows catalogue names such as "libreoffice" or "code-insiders"
	AppNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	// KeyPattern allows X keysym names ("Return", "a", "F5", "KP_Enter")
	KeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

var allowedModifiers = map[string]bool{
	"ctrl":  true,
	"alt":   true,
	"shift": true,
	"super": true,
	"meta":  true,
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	// Null bytes end up truncating argv strings
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}

// ValidateApplicationName validates a catalogue name given by a client
func ValidateApplicationName(name string) error {
	if err := ValidateString(name, "application name", 1, MaxNameLength, true); err != nil {
		return err
	}
	if !AppNamePattern.MatchString(name) {
		return fmt.Errorf("application name contains invalid characters")
	}
	return nil
}

// ValidateSessionName validates an optional session display name
func ValidateSessionName(name string) error {
	return ValidateString(name, "session name", 1, MaxNameLength, false)
}

// ValidateMaxParticipants validates a requested participant limit
func ValidateMaxParticipants(n int) error {
	if n < 1 || n > MaxParticipantsLimit {
		return fmt.Errorf("max_participants must be between 1 and %d", MaxParticipantsLimit)
	}
	return nil
}

// ValidateKey validates a keysym and its modifiers
func ValidateKey(key string, modifiers []string) error {
	if err := ValidateString(key, "key", 1, MaxKeyLength, true); err != nil {
		return err
	}
	if !KeyPattern.MatchString(key) {
		return fmt.Errorf("key contains invalid characters")
	}
	if len(modifiers) > MaxModifierCount {
		return fmt.Errorf("too many modifiers")
	}
	for _, m := range modifiers {
		if !allowedModifiers[strings.ToLower(m)] {
			return fmt.Errorf("unknown modifier %q", m)
		}
	}
	return nil
}

// ValidateClipboard validates clipboard text pushed by a client
func ValidateClipboard(text string) error {
	if len(text) > MaxClipboardSize {
		return fmt.Errorf("clipboard size %d bytes exceeds maximum %d bytes", len(text), MaxClipboardSize)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("clipboard text is not valid UTF-8")
	}
	return nil
}
