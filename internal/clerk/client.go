package clerk

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

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultBaseURL    = "https://api.clerk.com/v1"
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3

	errorBodyLimit = 4096
)

// APIError is a non-2xx response from the Clerk backend API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clerk API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Client calls the Clerk backend API.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient creates a Clerk backend API client authenticated with the given
// secret key. Transient failures and 5xx responses are retried.
func NewClient(secretKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = defaultMaxRetries
	rc.HTTPClient.Timeout = defaultTimeout
	rc.Logger = nil

	return &Client{
		baseURL:    defaultBaseURL,
		secretKey:  strings.TrimSpace(secretKey),
		httpClient: rc.StandardClient(),
	}
}

// GetUser fetches a Clerk user by id.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("missing user id")
	}

	var user User
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

type metadataPatch struct {
	PublicMetadata PublicMetadata `json:"public_metadata"`
}

// MergeUserMetadata deep-merges the given fields into the user's public
// metadata. Keys not present in meta are preserved by Clerk, which makes the
// patch safe against concurrent writers touching unrelated metadata.
func (c *Client) MergeUserMetadata(ctx context.Context, userID string, meta PublicMetadata) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("missing user id")
	}
	return c.do(ctx, http.MethodPatch, "/users/"+url.PathEscape(userID)+"/metadata", metadataPatch{PublicMetadata: meta}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal clerk request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create clerk request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clerk request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    readAPIErrorMessage(resp.Body),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode clerk response: %w", err)
		}
	}
	return nil
}

type apiErrorBody struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func readAPIErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, errorBodyLimit))
	var parsed apiErrorBody
	if err := json.Unmarshal(raw, &parsed); err == nil && len(parsed.Errors) > 0 {
		if msg := strings.TrimSpace(parsed.Errors[0].Message); msg != "" {
			return msg
		}
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return "unknown error"
}
