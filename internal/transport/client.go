package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/novolei/HChat-sub000/internal/crypto"
	"github.com/novolei/HChat-sub000/internal/metrics"
)

// Client talks to the HChat API over HTTPS. Attachment bytes never pass
// through the API: the client asks it for presigned object URLs and then
// moves the payload directly against object storage.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Identity   *crypto.Identity

	log zerolog.Logger
}

// NewClient builds an API client. Uploads of large attachments can take a
// while on mobile links, hence the generous timeout.
func NewClient(baseURL string, id *crypto.Identity, log zerolog.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Identity:   id,
		log:        log,
	}
}

// PresignRequest asks the API for a one-shot upload/download URL pair.
type PresignRequest struct {
	ObjectKey   string `json:"objectKey"`
	ContentType string `json:"contentType"`
}

// PresignResponse carries the two presigned URLs. The put URL is short-lived
// and single purpose; the get URL is what gets shared inside the message.
type PresignResponse struct {
	Bucket         string `json:"bucket"`
	ObjectKey      string `json:"objectKey"`
	PutURL         string `json:"putUrl"`
	GetURL         string `json:"getUrl"`
	ExpiresSeconds int    `json:"expiresSeconds"`
}

// Presign requests presigned object URLs for the given key.
func (c *Client) Presign(ctx context.Context, objectKey, contentType string) (*PresignResponse, error) {
	body, _ := json.Marshal(PresignRequest{ObjectKey: objectKey, ContentType: contentType})
	respBody, err := c.doRequest(ctx, "POST", "/api/attachments/presign", body)
	if err != nil {
		return nil, err
	}

	var resp PresignResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("presign: decoding response: %w", err)
	}
	if resp.PutURL == "" || resp.GetURL == "" {
		return nil, fmt.Errorf("presign: incomplete response")
	}
	return &resp, nil
}

// Put streams size bytes to a presigned upload URL.
func (c *Client) Put(ctx context.Context, url, contentType string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, "PUT", url, body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("object upload failed: status %d", resp.StatusCode)
	}
	return nil
}

// Get downloads a presigned URL into dst.
func (c *Client) Get(ctx context.Context, url string, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("object download failed: status %d", resp.StatusCode)
	}
	return io.Copy(dst, resp.Body)
}

// doRequest performs a signed API request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if c.Identity != nil {
		req.Header = c.Identity.SignRequest(body)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("HChat API error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// putFile uploads a local file to a presigned URL, recording the duration.
func (c *Client) putFile(ctx context.Context, url, contentType, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	start := time.Now()
	if err := c.Put(ctx, url, contentType, f, fi.Size()); err != nil {
		return err
	}
	metrics.AttachmentUploadDuration.Observe(time.Since(start).Seconds())
	return nil
}
