package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"perepiska/internal/auth"
	"perepiska/internal/config"
)

// StartSession asks the running server's admin API for a session token and prints
// the websocket URL to connect with.
func StartSession(req auth.SessionRequest, cfg *config.Config) error {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	adminURL := fmt.Sprintf("http://%s/admin/sessions", cfg.AdminAddr)
	resp, err := http.Post(adminURL, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to start session (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result auth.SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nSession Started!\n")
	fmt.Printf("User ID:   %s\n", result.UserID)
	fmt.Printf("Token:     %s\n", result.Token)
	fmt.Printf("Expires:   %s\n", time.Unix(result.TokenExpiry, 0).Format(time.RFC3339))
	fmt.Printf("Connect:   %s\n\n", ChatURL(cfg.BaseURL, result.Token))
	return nil
}

// ChatURL is the websocket endpoint for baseURL with the token in the query string.
func ChatURL(baseURL, token string) string {
	base := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return fmt.Sprintf("%s/api/chat?token=%s", base, url.QueryEscape(token))
}
