package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"streamrelay/internal/core/domain"
)

const registryPath = "/api/v1/registry/"

type registerRequest struct {
	NetworkID domain.NetworkID `json:"networkId"`
}

type lookupResponse struct {
	StableID  domain.StableID  `json:"stableId"`
	NetworkID domain.NetworkID `json:"networkId"`
}

// HTTPPeerRegistry talks to the registry API of a relay server.
type HTTPPeerRegistry struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPeerRegistry accepts http(s) and ws(s) base URLs; websocket schemes
// are mapped to their HTTP equivalents so the relay URL can be reused.
func NewHTTPPeerRegistry(baseURL string, timeout time.Duration) (*HTTPPeerRegistry, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid registry URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported registry URL scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/ws"), "/")
	u.RawQuery = ""

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPeerRegistry{
		baseURL: u.String(),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (r *HTTPPeerRegistry) entryURL(stableID domain.StableID) string {
	return r.baseURL + registryPath + url.PathEscape(string(stableID))
}

func (r *HTTPPeerRegistry) Register(ctx context.Context, stableID domain.StableID, networkID domain.NetworkID) error {
	body, err := json.Marshal(registerRequest{NetworkID: networkID})
	if err != nil {
		return fmt.Errorf("failed to marshal register request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.entryURL(stableID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("register request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return unexpectedStatus(resp)
	}
	return nil
}

func (r *HTTPPeerRegistry) Lookup(ctx context.Context, stableID domain.StableID) (domain.NetworkID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.entryURL(stableID), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build lookup request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", domain.ErrNotFound
	default:
		return "", unexpectedStatus(resp)
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if out.NetworkID == "" {
		return "", fmt.Errorf("lookup response has no networkId")
	}
	return out.NetworkID, nil
}

func unexpectedStatus(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("registry returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %v", domain.ErrInvalidIdentity, err)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %v", domain.ErrRegistryUnavailable, err)
	}
	return err
}
