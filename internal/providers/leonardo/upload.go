package leonardo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"server/internal/retry"
)

// maxSourceImageBytes caps what the pipeline will fetch or accept inline.
// Anything larger fails before a single byte reaches the provider.
const maxSourceImageBytes = 5 << 20

// UploadImage registers a source image with the provider for image-to-image
// generation: request a presigned destination, obtain the raw bytes (inline
// or fetched), push them to the destination. Each step is retried under the
// client's policy; a step that exhausts its retries is terminal for the
// whole upload.
func (c *Client) UploadImage(ctx context.Context, src *SourceImage) (*UploadedAsset, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	if src == nil || (src.URL == "" && len(src.Data) == 0) {
		return nil, &UploadError{Err: fmt.Errorf("source image is empty")}
	}

	var resp initImageResponse
	payload := map[string]string{"extension": src.extension()}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/init-image", payload, &resp); err != nil {
		return nil, &UploadError{Err: err}
	}
	target := resp.UploadInitImage
	if target.ID == "" || target.URL == "" {
		return nil, &UploadError{Err: fmt.Errorf("init-image returned no upload target")}
	}
	fields, err := parseUploadFields(target.Fields)
	if err != nil {
		return nil, &UploadError{Err: err}
	}

	data, err := c.sourceBytes(ctx, src)
	if err != nil {
		return nil, &UploadError{Err: err}
	}

	if err := c.pushMultipart(ctx, target.URL, fields, data, "image."+src.extension()); err != nil {
		return nil, &UploadError{Err: err}
	}

	c.logger.Debug().
		Str("asset_id", target.ID).
		Int("bytes", len(data)).
		Msg("leonardo: source image uploaded")
	return &UploadedAsset{ID: target.ID, SourceURL: src.URL}, nil
}

// parseUploadFields decodes the presign form fields. The provider returns
// them as a JSON-encoded string; a plain object is accepted too.
func parseUploadFields(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var encoded string
		if err := json.Unmarshal(trimmed, &encoded); err != nil {
			return nil, fmt.Errorf("decode upload fields: %w", err)
		}
		trimmed = []byte(encoded)
	}
	var fields map[string]string
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("decode upload fields: %w", err)
	}
	return fields, nil
}

func (c *Client) sourceBytes(ctx context.Context, src *SourceImage) ([]byte, error) {
	if len(src.Data) > 0 {
		if len(src.Data) > maxSourceImageBytes {
			return nil, ErrPayloadTooLarge
		}
		return src.Data, nil
	}
	return c.fetchSource(ctx, src.URL)
}

// fetchSource downloads the source image, enforcing the size cap both on the
// declared length and while reading the body.
func (c *Client) fetchSource(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("invalid source image url: %s", rawURL)
	}
	return retry.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("build download request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download source image: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, newAPIError(resp.StatusCode, nil)
		}
		if resp.ContentLength > maxSourceImageBytes {
			return nil, ErrPayloadTooLarge
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceImageBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read source image: %w", err)
		}
		if len(data) > maxSourceImageBytes {
			return nil, ErrPayloadTooLarge
		}
		return data, nil
	})
}

// pushMultipart submits the presign fields plus the binary to the write
// target. The form is rebuilt on every attempt; the presigned destination
// takes no bearer token.
func (c *Client) pushMultipart(ctx context.Context, dest string, fields map[string]string, data []byte, filename string) error {
	_, err := retry.Do(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		for key, value := range fields {
			if err := writer.WriteField(key, value); err != nil {
				return struct{}{}, fmt.Errorf("write form field %s: %w", key, err)
			}
		}
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			return struct{}{}, fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return struct{}{}, fmt.Errorf("write form file: %w", err)
		}
		if err := writer.Close(); err != nil {
			return struct{}{}, fmt.Errorf("close form: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, &body)
		if err != nil {
			return struct{}{}, fmt.Errorf("build upload request: %w", err)
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("upload request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return struct{}{}, newAPIError(resp.StatusCode, raw)
		}
		return struct{}{}, nil
	})
	return err
}
