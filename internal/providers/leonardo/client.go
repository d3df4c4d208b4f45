package leonardo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/infra"
	"server/internal/retry"
)

// GenerationDefaults are the static provider settings merged into every
// payload. Request fields never remove them, only add to them.
type GenerationDefaults struct {
	ModelID   string
	Width     int
	Height    int
	NumImages int
	// PromptMagic toggles the provider's prompt rewriting.
	PromptMagic bool
	// Public controls whether generated images land in the community feed.
	Public bool
}

// PollingConfig bounds the job polling loop. MaxAttempts × Delay is the
// wall-clock ceiling for one generation call.
type PollingConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// Options configures the Leonardo.ai client.
type Options struct {
	APIKey         string
	BaseURL        string
	Defaults       GenerationDefaults
	Polling        PollingConfig
	Retry          retry.Policy
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the Leonardo.ai REST API: job
// submission, status polling and init-image uploads. Safe for concurrent
// use; each call is an independent flow with no shared mutable state.
type Client struct {
	apiKey     string
	baseURL    string
	defaults   GenerationDefaults
	polling    PollingConfig
	retry      retry.Policy
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://cloud.leonardo.ai/api/rest/v1"
	}
	defaults := opts.Defaults
	if defaults.ModelID == "" {
		defaults.ModelID = "2067ae52-33fd-4a82-bb92-c2c55e7d2786"
	}
	if defaults.Width <= 0 {
		defaults.Width = 1024
	}
	if defaults.Height <= 0 {
		defaults.Height = 1024
	}
	if defaults.NumImages <= 0 {
		defaults.NumImages = 1
	}
	polling := opts.Polling
	if polling.MaxAttempts <= 0 {
		polling.MaxAttempts = 30
	}
	if polling.Delay <= 0 {
		polling.Delay = 2 * time.Second
	}
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
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
		defaults:   defaults,
		polling:    polling,
		retry:      policy,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// GenerateImage submits a text-to-image job and polls it to completion.
func (c *Client) GenerateImage(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	payload, err := buildGenerationPayload(req, c.defaults, "")
	if err != nil {
		return nil, err
	}
	jobID, err := c.submit(ctx, payload)
	if err != nil {
		return nil, err
	}
	return c.pollForResult(ctx, jobID)
}

// GenerateImageFromImage uploads the source image, then submits an
// image-to-image job referencing the uploaded asset and polls it to
// completion.
func (c *Client) GenerateImageFromImage(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	if req.Source == nil {
		return nil, ErrMissingInitImage
	}
	asset, err := c.UploadImage(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	payload, err := buildGenerationPayload(req, c.defaults, asset.ID)
	if err != nil {
		return nil, err
	}
	jobID, err := c.submit(ctx, payload)
	if err != nil {
		return nil, err
	}
	return c.pollForResult(ctx, jobID)
}

func (c *Client) submit(ctx context.Context, payload generationPayload) (string, error) {
	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/generations", payload, &resp); err != nil {
		return "", err
	}
	jobID := resp.SDGenerationJob.GenerationID
	if jobID == "" {
		return "", fmt.Errorf("leonardo: submit returned no generation id")
	}
	c.logger.Debug().
		Str("job_id", jobID).
		Str("model", payload.ModelID).
		Bool("image_to_image", payload.InitImageID != "").
		Msg("leonardo: generation submitted")
	return jobID, nil
}

// doJSON is the single seam every provider call goes through: it rebuilds
// the request on each attempt, wraps the round trip in the retry policy and
// turns non-2xx responses into *APIError. No call site talks to the HTTP
// client directly, so none can miss the retry decorator.
func (c *Client) doJSON(ctx context.Context, method, url string, payload, out any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("leonardo: encode request: %w", err)
		}
		body = encoded
	}
	_, err := retry.Do(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.roundTripJSON(ctx, method, url, body, out)
	})
	return err
}

func (c *Client) roundTripJSON(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("leonardo: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("leonardo: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("leonardo: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("leonardo: decode response: %w", err)
	}
	return nil
}

// newAPIError extracts the provider's message when the error body is JSON,
// falling back to the raw body.
func newAPIError(status int, raw []byte) *APIError {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Error != "" {
			return &APIError{StatusCode: status, Message: detail.Error}
		}
		if detail.Message != "" {
			return &APIError{StatusCode: status, Message: detail.Message}
		}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}
