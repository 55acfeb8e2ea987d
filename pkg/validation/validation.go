package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxChatBodyChars is the longest chat body accepted on the wire.
const MaxChatBodyChars = 500

var (
	// SessionIDRegex validates session ID format
	SessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// ParticipantIDRegex validates participant ID format
	ParticipantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateSessionID validates session ID
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if len(sessionID) > 100 {
		return fmt.Errorf("session ID is too long (max 100 characters)")
	}
	if !SessionIDRegex.MatchString(sessionID) {
		return fmt.Errorf("invalid session ID format")
	}
	return nil
}

// ValidateParticipantID validates participant ID
func ValidateParticipantID(participantID string) error {
	if participantID == "" {
		return fmt.Errorf("participant ID is required")
	}
	if len(participantID) > 100 {
		return fmt.Errorf("participant ID is too long (max 100 characters)")
	}
	if !ParticipantIDRegex.MatchString(participantID) {
		return fmt.Errorf("invalid participant ID format")
	}
	return nil
}

// ValidateDisplayName validates a participant display name
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if utf8.RuneCountInString(name) > 50 {
		return fmt.Errorf("display name is too long (max 50 characters)")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	return nil
}

// ValidateChatBody validates a chat message body
func ValidateChatBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("chat body is required")
	}
	if !utf8.ValidString(body) {
		return fmt.Errorf("chat body contains invalid characters")
	}
	if utf8.RuneCountInString(body) > MaxChatBodyChars {
		return fmt.Errorf("chat body is too long (max %d characters)", MaxChatBodyChars)
	}
	return nil
}

// ValidateSessionTitle validates the title given to a session
func ValidateSessionTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("session title is required")
	}
	if len(title) > 100 {
		return fmt.Errorf("session title is too long (max 100 characters)")
	}
	if !utf8.ValidString(title) {
		return fmt.Errorf("session title contains invalid characters")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateManifestURL validates an HLS manifest URL
func ValidateManifestURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("manifest URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid manifest URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid manifest URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("manifest URL must have a host")
	}
	return nil
}

// ValidateResolution validates capture resolution
func ValidateResolution(width, height int) error {
	if width < 16 || height < 16 {
		return fmt.Errorf("resolution is too small (min 16x16)")
	}
	if width > 3840 || height > 2160 {
		return fmt.Errorf("resolution is too large (max 3840x2160)")
	}
	return nil
}

// ValidateFrameRate validates capture frame rate
func ValidateFrameRate(fps int) error {
	if fps < 1 {
		return fmt.Errorf("frame rate must be at least 1")
	}
	if fps > 120 {
		return fmt.Errorf("frame rate is too high (max 120)")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
