package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxStreamIDLength     = 256
	MaxStableIDLength     = 256
	MaxConnectionIDLength = 128
)

var (
	// ConnectionIDRegex matches relay-assigned ids and client supplied test ids.
	ConnectionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
)

// ValidateStreamID validates a room name. Stream ids are opaque, so only
// emptiness, length and encoding are checked.
func ValidateStreamID(streamID string) error {
	if strings.TrimSpace(streamID) == "" {
		return fmt.Errorf("stream ID is required")
	}
	if len(streamID) > MaxStreamIDLength {
		return fmt.Errorf("stream ID is too long (max %d bytes)", MaxStreamIDLength)
	}
	if !utf8.ValidString(streamID) {
		return fmt.Errorf("stream ID contains invalid characters")
	}
	return nil
}

// ValidateStableID validates a stable identity such as a wallet address.
func ValidateStableID(stableID string) error {
	if stableID == "" {
		return fmt.Errorf("stable ID is required")
	}
	if len(stableID) > MaxStableIDLength {
		return fmt.Errorf("stable ID is too long (max %d bytes)", MaxStableIDLength)
	}
	if !utf8.ValidString(stableID) {
		return fmt.Errorf("stable ID contains invalid characters")
	}
	for _, r := range stableID {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("stable ID must not contain whitespace or control characters")
		}
	}
	return nil
}

// ValidateConnectionID validates a connection (network) identity.
func ValidateConnectionID(id string) error {
	if id == "" {
		return fmt.Errorf("connection ID is required")
	}
	if len(id) > MaxConnectionIDLength {
		return fmt.Errorf("connection ID is too long (max %d characters)", MaxConnectionIDLength)
	}
	if !ConnectionIDRegex.MatchString(id) {
		return fmt.Errorf("invalid connection ID format")
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

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
