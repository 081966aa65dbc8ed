package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/httputil"
)

// HTTPSender delivers lines through a running service's /command endpoint.
// The service applies each line and returns the replies it produced, which
// are kept for Verify.
type HTTPSender struct {
	Client  httputil.HTTPClient
	BaseURL string

	mu      sync.Mutex
	replies []string
}

// NewHTTPSender returns a sender for the service at baseURL.
func NewHTTPSender(client httputil.HTTPClient, baseURL string) *HTTPSender {
	return &HTTPSender{Client: client, BaseURL: strings.TrimRight(baseURL, "/")}
}

type commandResponse struct {
	Replies []string `json:"replies"`
	Error   string   `json:"error"`
}

// WriteLine posts line as the command form value.
func (h *HTTPSender) WriteLine(line string) error {
	form := url.Values{"command": {strings.TrimRight(line, "\r\n")}}
	req, err := http.NewRequest(http.MethodPost, h.BaseURL+"/command", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post command: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var cr commandResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &cr); err != nil {
			return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
		}
	}
	if resp.StatusCode != http.StatusOK {
		if cr.Error == "" {
			cr.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("service returned %d: %s", resp.StatusCode, cr.Error)
	}

	h.mu.Lock()
	h.replies = append(h.replies, cr.Replies...)
	h.mu.Unlock()
	return nil
}

// Replies returns every reply received so far.
func (h *HTTPSender) Replies() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.replies...)
}
