package pixelfed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"postcast/internal/destination"
	"postcast/internal/gateway"
)

const userAgent = "postcast-pixelfed"

// Instance is the subset of /api/v1/instance the adapter reads.
type Instance struct {
	Configuration struct {
		Statuses struct {
			MaxCharacters       int `json:"max_characters"`
			MaxMediaAttachments int `json:"max_media_attachments"`
		} `json:"statuses"`
		MediaAttachments struct {
			SupportedMimeTypes []string `json:"supported_mime_types"`
			ImageSizeLimit     int64    `json:"image_size_limit"`
			VideoSizeLimit     int64    `json:"video_size_limit"`
		} `json:"media_attachments"`
	} `json:"configuration"`
}

type Media struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Errors any    `json:"errors,omitempty"`

	// Pending is set when the server answered 202 Accepted.
	Pending bool `json:"-"`
}

type Status struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// StatusForm is the body of POST /api/v1/statuses.
type StatusForm struct {
	Status      string   `json:"status,omitempty"`
	MediaIDs    []string `json:"media_ids,omitempty"`
	Sensitive   bool     `json:"sensitive"`
	Visibility  string   `json:"visibility,omitempty"`
	SpoilerText string   `json:"spoiler_text,omitempty"`
	InReplyToID string   `json:"in_reply_to_id,omitempty"`
}

// Client talks to one instance with one access token.
type Client struct {
	base  string
	token string
	http  *http.Client
	now   func() time.Time
}

func NewClient(website, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{base: strings.TrimRight(website, "/"), token: token, http: hc, now: time.Now}
}

func (c *Client) VerifyCredentials(ctx context.Context) (string, error) {
	var out struct {
		Username string `json:"username"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/accounts/verify_credentials", nil, "", &out); err != nil {
		return "", err
	}
	return out.Username, nil
}

func (c *Client) Instance(ctx context.Context) (Instance, error) {
	var out Instance
	_, err := c.do(ctx, http.MethodGet, "/api/v1/instance", nil, "", &out)
	return out, err
}

func (c *Client) UploadMedia(ctx context.Context, name string, data []byte, altText string) (Media, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", name)
	if err != nil {
		return Media{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return Media{}, err
	}
	if altText != "" {
		if err := w.WriteField("description", altText); err != nil {
			return Media{}, err
		}
	}
	if err := w.Close(); err != nil {
		return Media{}, err
	}

	var out Media
	code, err := c.do(ctx, http.MethodPost, "/api/v2/media", &body, w.FormDataContentType(), &out)
	if err != nil {
		return Media{}, err
	}
	out.Pending = code == http.StatusAccepted || out.URL == ""
	return out, nil
}

func (c *Client) Media(ctx context.Context, id string) (Media, error) {
	var out Media
	_, err := c.do(ctx, http.MethodGet, "/api/v1/media/"+url.PathEscape(id), nil, "", &out)
	return out, err
}

func (c *Client) PostStatus(ctx context.Context, form StatusForm) (Status, error) {
	raw, err := json.Marshal(form)
	if err != nil {
		return Status{}, err
	}
	var out Status
	_, err = c.do(ctx, http.MethodPost, "/api/v1/statuses", bytes.NewReader(raw), "application/json", &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, &gateway.FloodWaitError{
			Wait: throttleWait(resp.Header, c.now()),
			Err:  fmt.Errorf("%s %s: %s", method, path, resp.Status),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload any = string(raw)
		var parsed map[string]any
		if json.Unmarshal(raw, &parsed) == nil {
			payload = parsed
		}
		return resp.StatusCode, destination.Reject(ID, fmt.Sprintf("%s %s: %s", method, path, resp.Status), payload)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// throttleWait turns a 429 reply into a wait. Retry-After may carry
// delay-seconds or an HTTP date; Mastodon-compatible servers often send
// only X-RateLimit-Reset as an ISO 8601 time. Without either it waits 1s.
func throttleWait(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			return until(at, now)
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if at, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return until(at, now)
		}
	}
	return time.Second
}

// until rounds up to whole seconds; the gateway counts waits in seconds.
func until(at, now time.Time) time.Duration {
	d := at.Sub(now)
	if d <= 0 {
		return 0
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}
