// Package github lands a job's work on GitHub: a branch, one commit per
// file, and a pull request.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const (
	apiVersion     = "2022-11-28"
	DefaultBaseURL = "https://api.github.com"
)

type Config struct {
	// BaseURL defaults to DefaultBaseURL. GitHub Enterprise uses
	// https://host/api/v3.
	BaseURL string
	Token   string
	// HTTPClient is the transport under the token source. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Client is a minimal GitHub REST client.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("github: token is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})

	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    oauth2.NewClient(ctx, ts),
	}, nil
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Errors     []ValidationError
}

type ValidationError struct {
	Resource string `json:"resource"`
	Code     string `json:"code"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "github: HTTP %d: %s", e.StatusCode, e.Message)
	for _, ve := range e.Errors {
		msg := ve.Message
		if msg == "" {
			msg = ve.Code
		}
		fmt.Fprintf(&b, "; %s.%s: %s", ve.Resource, ve.Field, msg)
	}
	return b.String()
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsAlreadyExists reports a 422 caused by creating something that exists:
// a ref or an open pull request for the same head.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	if strings.Contains(strings.ToLower(apiErr.Message), "already exists") {
		return true
	}
	for _, ve := range apiErr.Errors {
		if ve.Code == "already_exists" || strings.Contains(strings.ToLower(ve.Message), "already exists") {
			return true
		}
	}
	return false
}

// do sends a JSON request to path and decodes a 2xx body into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("github: encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("github: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("github: reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var wire struct {
			Message string            `json:"message"`
			Errors  []ValidationError `json:"errors"`
		}
		if json.Unmarshal(raw, &wire) == nil {
			apiErr.Message = wire.Message
			apiErr.Errors = wire.Errors
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("github: decoding response: %w", err)
		}
	}
	return nil
}
