package media

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

	"github.com/rs/zerolog"

	"reelforge/internal/infra"
)

// Options controls how the media provider client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is a thin facade over the hosted media-generation API. When no API
// key is configured it serves deterministic synthetic results so the whole
// pipeline stays exercisable in local and CI environments (same fallback
// discipline as the rest of the provider integrations).
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a provider client with sane defaults. Callers may pass
// a nil HTTP client; one with a long timeout is created, since image
// submission is synchronous and may take tens of seconds.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("media: base url is required")
	}

	model := opts.Model
	if model == "" {
		model = "forge-video-1"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Model returns the configured provider model identifier.
func (c *Client) Model() string {
	return c.model
}

type imageGenerateRequest struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	Style        string `json:"style,omitempty"`
	AspectRatio  string `json:"aspect_ratio,omitempty"`
	Locale       string `json:"locale,omitempty"`
	BaseAssetURL string `json:"base_asset_url,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
}

type imageGenerateResponse struct {
	ImageURL string `json:"image_url"`
}

type videoGenerateRequest struct {
	Model           string `json:"model"`
	ImageURL        string `json:"image_url"`
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	RequestID       string `json:"request_id,omitempty"`
}

type videoGenerateResponse struct {
	JobID string `json:"job_id"`
}

type videoStatusResponse struct {
	Status    string `json:"status"`
	OutputURL string `json:"output_url,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// SubmitImage synthesizes one image and returns its URL. The call is
// synchronous and bounded by the HTTP client timeout.
func (c *Client) SubmitImage(ctx context.Context, req ImageRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.apiKey == "" {
		return c.syntheticImageURL(req), nil
	}

	payload := imageGenerateRequest{
		Model:        c.model,
		Prompt:       req.Prompt,
		Style:        req.Style,
		AspectRatio:  req.AspectRatio,
		Locale:       req.Locale,
		BaseAssetURL: req.BaseAssetURL,
		RequestID:    req.RequestID,
	}
	var response imageGenerateResponse
	if err := c.invoke(ctx, http.MethodPost, "/images:generate", payload, &response); err != nil {
		return "", err
	}
	if response.ImageURL == "" {
		return "", fmt.Errorf("media: empty image url in response")
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.model).
		Msg("media: image generated")
	return response.ImageURL, nil
}

// SubmitVideo submits a video synthesis job and returns the provider's job
// handle for polling.
func (c *Client) SubmitVideo(ctx context.Context, req VideoRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.apiKey == "" {
		return c.syntheticVideoHandle(req), nil
	}

	payload := videoGenerateRequest{
		Model:           c.model,
		ImageURL:        req.ImageURL,
		Prompt:          req.Prompt,
		DurationSeconds: req.DurationSeconds,
		RequestID:       req.RequestID,
	}
	var response videoGenerateResponse
	if err := c.invoke(ctx, http.MethodPost, "/videos:generate", payload, &response); err != nil {
		return "", err
	}
	if response.JobID == "" {
		return "", fmt.Errorf("media: empty job id in response")
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("handle", response.JobID).
		Msg("media: video submitted")
	return response.JobID, nil
}

// PollVideo checks the status of a previously submitted video job.
func (c *Client) PollVideo(ctx context.Context, handle string) (PollResult, error) {
	if err := ctx.Err(); err != nil {
		return PollResult{}, err
	}
	if strings.HasPrefix(handle, syntheticHandlePrefix) {
		return c.syntheticPoll(handle), nil
	}

	var response videoStatusResponse
	path := "/videos/" + url.PathEscape(handle)
	if err := c.invoke(ctx, http.MethodGet, path, nil, &response); err != nil {
		return PollResult{}, err
	}

	switch strings.ToLower(response.Status) {
	case "succeeded", "completed":
		if response.OutputURL == "" {
			return PollResult{}, fmt.Errorf("media: succeeded without output url")
		}
		return PollResult{Status: PollSucceeded, OutputURL: response.OutputURL}, nil
	case "failed", "rejected":
		return PollResult{Status: PollFailed, Detail: response.Detail}, nil
	default:
		return PollResult{Status: PollProcessing}, nil
	}
}

func (c *Client) invoke(ctx context.Context, method, path string, payload, out any) error {
	endpoint := c.baseURL + path

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("provider status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		data, _ := io.ReadAll(resp.Body)
		if len(data) > 0 {
			return fmt.Errorf("provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("provider status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

var _ Provider = (*Client)(nil)
