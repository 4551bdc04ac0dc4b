// Package api - API-Methoden des Clients.
// Dieses Modul enthaelt je eine Methode pro Server-Route.

package api

import (
	"context"
	"net/http"
)

// Synthesize generates a mel-spectrogram from a conditioning mean.
func (c *Client) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	var resp SynthesizeResponse
	if err := c.do(ctx, http.MethodPost, "/api/synthesize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EditPitch runs the original and an edited mean in lockstep and blends
// them under an edit mask of the same length.
func (c *Client) EditPitch(ctx context.Context, req *EditPitchRequest) (*EditResponse, error) {
	var resp EditResponse
	if err := c.do(ctx, http.MethodPost, "/api/edit/pitch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EditText is EditPitch for edits that move or resize a span of frames.
func (c *Client) EditText(ctx context.Context, req *EditTextRequest) (*EditResponse, error) {
	var resp EditResponse
	if err := c.do(ctx, http.MethodPost, "/api/edit/text", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Show returns the hyperparameters and tensors of the loaded decoder.
func (c *Client) Show(ctx context.Context, req *ShowRequest) (*ShowResponse, error) {
	var resp ShowResponse
	if err := c.do(ctx, http.MethodPost, "/api/show", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Heartbeat checks if the server has started and is responsive; if yes, it
// returns nil, otherwise an error.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodHead, "/", nil, nil)
}

// Version returns the server version as a string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version struct {
		Version string `json:"version"`
	}

	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &version); err != nil {
		return "", err
	}

	return version.Version, nil
}
