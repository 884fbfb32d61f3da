// Package coordinator is the HTTP+JSON client for the scavenger
// coordinator's wire protocol (§6). Transport and marshalling are an
// explicitly out-of-scope external contract; this package is a thin,
// typed wrapper over a fixed set of endpoints.
package coordinator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"scavenger/internal/model"
)

type Client struct {
	baseURL   string
	client    *http.Client
	connected atomic.Bool
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

type TandCResponse struct {
	Version string `json:"version"`
	Content string `json:"content"`
	Message string `json:"message"`
}

func (c *Client) TandC() (*TandCResponse, error) {
	var out TandCResponse
	if err := c.do(http.MethodGet, "/TandC/1-0", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type RegisterResponse struct {
	RegistrationReceipt json.RawMessage `json:"registrationReceipt"`
}

func (c *Client) Register(address, signature, pubkey string) (*RegisterResponse, error) {
	path := fmt.Sprintf("/register/%s/%s/%s", url.PathEscape(address), url.PathEscape(signature), url.PathEscape(pubkey))
	var out RegisterResponse
	if err := c.do(http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ChallengeStatus() (*model.ChallengeStatus, error) {
	var out model.ChallengeStatus
	if err := c.do(http.MethodGet, "/challenge", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type SubmitResponse struct {
	CryptoReceipt json.RawMessage `json:"crypto_receipt"`
}

func (c *Client) SubmitSolution(address, challengeID string, nonce uint64) (*SubmitResponse, error) {
	path := fmt.Sprintf("/solution/%s/%s/%016x", url.PathEscape(address), url.PathEscape(challengeID), nonce)
	var out SubmitResponse
	if err := c.do(http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type DonateResponse struct {
	Status     string `json:"status"`
	DonationID string `json:"donation_id"`
}

func (c *Client) DonateTo(dest, origin, signature string) (*DonateResponse, error) {
	path := fmt.Sprintf("/donate_to/%s/%s/%s", url.PathEscape(dest), url.PathEscape(origin), url.PathEscape(signature))
	var out DonateResponse
	if err := c.do(http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type StatisticsResponse struct {
	Global json.RawMessage `json:"global"`
	Local  json.RawMessage `json:"local"`
}

func (c *Client) Statistics(address string) (*StatisticsResponse, error) {
	path := fmt.Sprintf("/statistics/%s", url.PathEscape(address))
	var out StatisticsResponse
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.connected.Store(false)
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.connected.Store(true)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		json.Unmarshal(respBody, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
