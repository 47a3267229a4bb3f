package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Synthetic assets keep the pipeline runnable without provider credentials.
// URLs and handles are derived deterministically from the request so repeated
// invocations of an idempotent stage produce identical artifacts.

const syntheticHandlePrefix = "synthetic-"

func deterministicSeed(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:8])
}

func (c *Client) syntheticImageURL(req ImageRequest) string {
	seed := deterministicSeed(req.RequestID, req.Prompt, req.Style, req.Locale)
	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.model).
		Msg("media: api key missing, serving synthetic image")
	return fmt.Sprintf("%s/synthetic/%s/images/%s.png", c.baseURL, c.model, seed)
}

func (c *Client) syntheticVideoHandle(req VideoRequest) string {
	seed := deterministicSeed(req.RequestID, req.ImageURL, req.Prompt)
	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.model).
		Msg("media: api key missing, serving synthetic video handle")
	return syntheticHandlePrefix + seed
}

// syntheticPoll reports success immediately; the synthetic path has no real
// rendering to wait on.
func (c *Client) syntheticPoll(handle string) PollResult {
	seed := strings.TrimPrefix(handle, syntheticHandlePrefix)
	return PollResult{
		Status:    PollSucceeded,
		OutputURL: fmt.Sprintf("%s/synthetic/%s/videos/%s.mp4", c.baseURL, c.model, seed),
	}
}
