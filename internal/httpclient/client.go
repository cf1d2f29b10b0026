// Package httpclient wraps the three HTTP endpoints the dispatcher
// talks to on the server: agent registration, websocket-token issue,
// and bulk record ingest. Every call after registration carries the
// agent token in an Authorization header; the client never inspects or
// decodes that token or the signed websocket token it gets back.
package httpclient

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	agenterrors "github.com/doyler/faraday-agent-dispatcher/internal/errors"
)

// Client wraps a single pooled *http.Client pointed at one server.
type Client struct {
	baseURL    string // e.g. "https://faraday.example.com:5985"
	workspace  string
	agentToken string
	http       *http.Client
}

// New builds a Client against host/apiPort, using https when ssl is
// true. skipVerify disables TLS certificate verification (opt-out
// only; verification is on by default).
func New(host string, apiPort int, ssl, skipVerify bool, workspace string) *Client {
	scheme := "http"
	if ssl {
		scheme = "https"
	}
	transport := &http.Transport{}
	if skipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		baseURL:   fmt.Sprintf("%s://%s:%d", scheme, host, apiPort),
		workspace: workspace,
		http:      &http.Client{Transport: transport},
	}
}

// SetAgentToken records the token used for every subsequent request's
// Authorization header.
func (c *Client) SetAgentToken(tok string) { c.agentToken = tok }

// Register exchanges a registration token for a long-lived agent token.
func (c *Client) Register(registrationToken, agentName string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"token": registrationToken,
		"name":  agentName,
	})
	if err != nil {
		return "", fmt.Errorf("marshal registration request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/_api/v2/agent_registration/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &agenterrors.AuthError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("registration server error %d: %s", resp.StatusCode, respBody)
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode registration response: %w", err)
	}
	return parsed.Token, nil
}

// IssueWebsocketToken exchanges the agent token for a short-lived,
// signed websocket token. The token is opaque: this client never
// attempts to decode it.
func (c *Client) IssueWebsocketToken() (string, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/_api/v2/agent_websocket_token/", nil)
	if err != nil {
		return "", fmt.Errorf("build websocket-token request: %w", err)
	}
	req.Header.Set("Authorization", "Agent "+c.agentToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("websocket-token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &agenterrors.AuthError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode websocket-token response: %w", err)
	}
	return parsed.Token, nil
}

// BulkCreate posts one opaque JSON record to the workspace's bulk
// ingest endpoint. Every outcome other than HTTP 200 or 201, including
// network failure, is reported as a *errors.BulkIngestError for the caller to log and
// continue past — bulk ingest failures never abort a run.
func (c *Client) BulkCreate(record json.RawMessage) error {
	url := fmt.Sprintf("%s/_api/v2/ws/%s/bulk_create/", c.baseURL, c.workspace)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(record))
	if err != nil {
		return &agenterrors.BulkIngestError{Body: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Agent "+c.agentToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return &agenterrors.BulkIngestError{Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusBadRequest {
		return &agenterrors.BulkIngestError{
			StatusCode: resp.StatusCode,
			Body: fmt.Sprintf(
				"Invalid data supplied by the executor to the bulk create endpoint. Server responded: %s",
				body,
			),
		}
	}
	return &agenterrors.BulkIngestError{StatusCode: resp.StatusCode, Body: string(body)}
}
