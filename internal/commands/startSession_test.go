package commands

import "testing"

func TestChatURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/api/chat?token=a%2Bb%3D"},
		{"https://chat.example.com/", "wss://chat.example.com/api/chat?token=a%2Bb%3D"},
		{"ws://host", "ws://host/api/chat?token=a%2Bb%3D"},
	}

	for _, tt := range tests {
		if got := ChatURL(tt.base, "a+b="); got != tt.want {
			t.Errorf("ChatURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
