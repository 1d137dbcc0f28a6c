package connection

import (
	"errors"
	"testing"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{
			name:   "https origin",
			origin: "https://console.example.com",
			want:   "wss://console.example.com/ws/chat?token=tok123",
		},
		{
			name:   "http origin",
			origin: "http://localhost:8000",
			want:   "ws://localhost:8000/ws/chat?token=tok123",
		},
		{
			name:   "wss passthrough",
			origin: "wss://console.example.com",
			want:   "wss://console.example.com/ws/chat?token=tok123",
		},
		{
			name:   "ws passthrough",
			origin: "ws://localhost:8000",
			want:   "ws://localhost:8000/ws/chat?token=tok123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildURL(tt.origin, "/ws/chat", "tok123")
			if err != nil {
				t.Fatalf("BuildURL failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("BuildURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildURL_EncodesToken(t *testing.T) {
	got, err := BuildURL("https://console.example.com", "/ws/chat", "a b+c&d=e")
	if err != nil {
		t.Fatalf("BuildURL failed: %v", err)
	}
	want := "wss://console.example.com/ws/chat?token=a+b%2Bc%26d%3De"
	if got != want {
		t.Errorf("BuildURL = %q, want %q", got, want)
	}
}

func TestBuildURL_InvalidOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
	}{
		{"unsupported scheme", "ftp://example.com"},
		{"missing host", "https://"},
		{"bare path", "/just/a/path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildURL(tt.origin, "/ws/chat", "tok")
			if !errors.Is(err, ErrInvalidOrigin) {
				t.Errorf("error = %v, want ErrInvalidOrigin", err)
			}
		})
	}
}
