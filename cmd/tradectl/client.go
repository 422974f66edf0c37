package main

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

	"github.com/papertrade/ledger-engine/internal/httpapi"
)

// apiError is a non-2xx response from the ledger engine.
type apiError struct {
	Status int
	httpapi.ErrorBody
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Retryable {
		msg += " (retryable)"
	}
	return msg
}

// client calls the /api/v1 endpoints with a bearer token.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(server, token string) *client {
	return &client{
		base:  strings.TrimRight(server, "/") + "/api/v1",
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends body as JSON and decodes a successful response into out. Either
// may be nil.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr.ErrorBody)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func competitionPath(id string, parts ...string) string {
	p := "/competitions/" + url.PathEscape(id)
	for _, s := range parts {
		p += "/" + s
	}
	return p
}
