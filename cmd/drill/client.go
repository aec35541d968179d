package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// daemonClient calls the daemon API on behalf of one actor token
type daemonClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// apiError mirrors the daemon's error envelope
type apiError struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Topic     string          `json:"topic,omitempty"`
	Retryable bool            `json:"retryable"`
	Details   json.RawMessage `json:"details,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newDaemonClient(baseURL string) *daemonClient {
	return &daemonClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// login asks the daemon for a guest token. Requires tokens.dev_issue.
func (c *daemonClient) login() error {
	var issued struct {
		Token string `json:"token"`
	}
	if err := c.do(http.MethodPost, "/v1/tokens", struct{}{}, &issued); err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	c.token = issued.Token
	return nil
}

func (c *daemonClient) do(method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error *apiError `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error == nil {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return envelope.Error
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
