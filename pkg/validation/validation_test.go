package validation

import (
	"strings"
	"testing"
)

func TestValidateStreamID(t *testing.T) {
	tests := []struct {
		name     string
		streamID string
		wantErr  bool
	}{
		{"valid stream ID", "room42", false},
		{"opaque characters allowed", "my stream/room #1", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", MaxStreamIDLength+1), true},
		{"max length", strings.Repeat("a", MaxStreamIDLength), false},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStreamID(tt.streamID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStreamID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStableID(t *testing.T) {
	tests := []struct {
		name     string
		stableID string
		wantErr  bool
	}{
		{"wallet address", "0xSTREAMER_ADDRESS", false},
		{"empty", "", true},
		{"contains space", "addr A", true},
		{"contains newline", "addr\nA", true},
		{"too long", strings.Repeat("b", MaxStableIDLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStableID(tt.stableID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStableID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConnectionID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "8d2b3c6e-4f0a-4d7e-9a43-1f9e0c2b7a11", false},
		{"simple", "peer123", false},
		{"empty", "", true},
		{"spaces", "peer 123", true},
		{"too long", strings.Repeat("c", MaxConnectionIDLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConnectionID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConnectionID() error = %v, wantErr %v", err, tt.wantErr)
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
		{"websocket", "ws://localhost:8081/ws", false},
		{"https", "https://relay.example.com", false},
		{"empty", "", true},
		{"bad scheme", "ftp://example.com", true},
		{"no host", "http://", true},
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
