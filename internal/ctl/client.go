package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Client talks to a running fprd's control API.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a control API client for the daemon at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		base: "http://" + addr,
		http: http.DefaultClient,
	}
}

// errRemote carries the error string from a non-2xx control API response.
var errRemote = errors.New("control api error")

// Status fetches the node status view.
func (c *Client) Status(ctx context.Context) (StatusView, error) {
	var v StatusView
	err := c.get(ctx, "/v1/status", &v)

	return v, err
}

// ListPeers fetches every known peer.
func (c *Client) ListPeers(ctx context.Context) ([]PeerView, error) {
	var v []PeerView
	err := c.get(ctx, "/v1/peers", &v)

	return v, err
}

// GetPeer fetches one peer by MAC string.
func (c *Client) GetPeer(ctx context.Context, mac string) (PeerView, error) {
	var v PeerView
	err := c.get(ctx, "/v1/peers/"+mac, &v)

	return v, err
}

// PeerAction performs approve/reject/block/unblock/disconnect on mac.
func (c *Client) PeerAction(ctx context.Context, mac, action string) error {
	return c.post(ctx, "/v1/peers/"+mac+"/"+action, nil)
}

// Stats fetches the network-wide counters.
func (c *Client) Stats(ctx context.Context) (StatsView, error) {
	var v StatsView
	err := c.get(ctx, "/v1/stats", &v)

	return v, err
}

// ResetStats zeroes the network-wide counters.
func (c *Client) ResetStats(ctx context.Context) error {
	return c.post(ctx, "/v1/stats/reset", nil)
}

// Routes fetches the learned mesh route table.
func (c *Client) Routes(ctx context.Context) ([]RouteView, error) {
	var v []RouteView
	err := c.get(ctx, "/v1/routes", &v)

	return v, err
}

// SetMode switches the daemon's role.
func (c *Client) SetMode(ctx context.Context, mode string) error {
	return c.post(ctx, "/v1/mode", modeBody{Mode: mode})
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}

	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	var rd io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body for %s: %w", path, err)
		}

		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var eb errorBody
		if decErr := json.NewDecoder(resp.Body).Decode(&eb); decErr == nil && eb.Error != "" {
			return fmt.Errorf("%w: %s (%s)", errRemote, eb.Error, resp.Status)
		}

		return fmt.Errorf("%w: %s", errRemote, resp.Status)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}

	return nil
}
