package validation

import (
	"strings"
	"testing"
)

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		wantErr   bool
	}{
		{"valid session ID", "session-123", false},
		{"valid with underscore", "session_123", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"invalid chars", "session 123", true},
		{"invalid chars 2", "session@123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.sessionID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateParticipantID(t *testing.T) {
	tests := []struct {
		name          string
		participantID string
		wantErr       bool
	}{
		{"valid participant ID", "viewer-42", false},
		{"valid with underscore", "viewer_42", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"invalid chars", "viewer 42", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParticipantID(tt.participantID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateParticipantID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		wantErr     bool
	}{
		{"valid name", "Alice", false},
		{"valid with spaces", "Alice B", false},
		{"valid unicode", "Алиса", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", 51), true},
		{"max length ok", strings.Repeat("a", 50), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.displayName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDisplayName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChatBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid body", "hello everyone", false},
		{"valid unicode", "привет 👋", false},
		{"empty", "", true},
		{"whitespace only", "  \t ", true},
		{"max length ok", strings.Repeat("a", MaxChatBodyChars), false},
		{"too long", strings.Repeat("a", MaxChatBodyChars+1), true},
		{"multibyte counted as runes", strings.Repeat("я", MaxChatBodyChars), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChatBody(tt.body)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateChatBody() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid http", "http://example.com", false},
		{"valid https", "https://example.com", false},
		{"valid ws", "ws://example.com", false},
		{"valid wss", "wss://example.com", false},
		{"empty", "", true},
		{"invalid scheme", "ftp://example.com", true},
		{"no host", "http://", true},
		{"invalid format", "not-a-url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateManifestURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid http playlist", "http://example.com/live/abc.m3u8", false},
		{"valid https playlist", "https://cdn.example.com/live/abc/index.m3u8", false},
		{"ws scheme rejected", "ws://example.com/live/abc.m3u8", true},
		{"empty", "", true},
		{"no host", "https://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateManifestURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateManifestURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateResolution(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		height  int
		wantErr bool
	}{
		{"valid 720p", 1280, 720, false},
		{"valid 4k", 3840, 2160, false},
		{"minimum", 16, 16, false},
		{"too small", 8, 8, true},
		{"too large", 7680, 4320, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResolution(tt.width, tt.height)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateResolution() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFrameRate(t *testing.T) {
	tests := []struct {
		name    string
		fps     int
		wantErr bool
	}{
		{"valid 30", 30, false},
		{"valid 60", 60, false},
		{"minimum", 1, false},
		{"zero", 0, true},
		{"too high", 240, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFrameRate(tt.fps)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFrameRate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
