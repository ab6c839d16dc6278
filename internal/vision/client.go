package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/smartgarden/garden-core/internal/diagnosis"
	"github.com/smartgarden/garden-core/internal/infrastructure/config"
)

// maxResponseBytes caps the pipeline response body.
const maxResponseBytes = 1 << 20

// Leaf is one per-leaf classification as sent by the pipeline.
type Leaf struct {
	Index      int     `json:"leaf_index"`
	Class      string  `json:"predicted_class"`
	Confidence float64 `json:"confidence"`
}

// aggregated is the single-verdict response shape.
type aggregated struct {
	Class      string          `json:"predicted_class"`
	Confidence float64         `json:"confidence"`
	Details    json.RawMessage `json:"details"`
}

// Result is a decoded pipeline response.
type Result struct {
	// Leaves holds the per-leaf observations, when the pipeline sent them.
	Leaves []diagnosis.LeafObservation

	// Aggregated is set when the pipeline returned its own verdict.
	Aggregated *diagnosis.Diagnosis

	// Raw is the response body as received.
	Raw json.RawMessage
}

// Diagnosis returns the pipeline's own verdict when it sent one, otherwise
// the aggregate of the leaves.
func (r Result) Diagnosis() diagnosis.Diagnosis {
	if r.Aggregated != nil {
		return *r.Aggregated
	}
	return diagnosis.Aggregate(r.Leaves)
}

// Client calls the vision pipeline over HTTP.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a client from the vision config section.
//
// Parameters:
//   - cfg: Vision section of config.yaml
//
// Returns:
//   - *Client: Client with the configured URL and timeout
func NewClient(cfg config.VisionConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:  cfg.URL,
		http: &http.Client{Timeout: timeout},
	}
}

// URL returns the pipeline endpoint.
func (c *Client) URL() string {
	return c.url
}

// HealthCheck reports whether the pipeline accepts TCP connections. The
// predict endpoint only takes uploads, so the probe stops at the dial.
func (c *Client) HealthCheck(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: invalid url %q", ErrUnavailable, c.url)
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return classify(err)
	}
	return conn.Close()
}

// Analyze uploads one image and decodes the pipeline's answer.
func (c *Client) Analyze(ctx context.Context, filename string, image io.Reader) (Result, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Result{}, fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return Result{}, fmt.Errorf("reading image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, classify(err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, classify(err)
	}

	switch {
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(raw))
	}

	return ParseResponse(raw)
}

// ParseResponse decodes either response shape.
func ParseResponse(raw []byte) (Result, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Result{}, fmt.Errorf("%w: empty body", ErrBadResponse)
	}

	res := Result{Raw: json.RawMessage(append([]byte(nil), raw...))}

	switch raw[0] {
	case '[':
		var leaves []Leaf
		if err := json.Unmarshal(raw, &leaves); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		res.Leaves = observations(leaves)
		return res, nil

	case '{':
		var agg aggregated
		if err := json.Unmarshal(raw, &agg); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		if agg.Class == "" {
			return Result{}, fmt.Errorf("%w: missing predicted_class", ErrBadResponse)
		}

		support, total := 1, 1
		var details []Leaf
		if len(agg.Details) > 0 && json.Unmarshal(agg.Details, &details) == nil && len(details) > 0 {
			res.Leaves = observations(details)
			total = len(details)
			support = 0
			for _, l := range details {
				if l.Class == agg.Class {
					support++
				}
			}
		}

		res.Aggregated = &diagnosis.Diagnosis{
			Label:           agg.Class,
			Confidence:      agg.Confidence,
			SupportingCount: support,
			TotalLeaves:     total,
			CreatedAt:       time.Now().UTC(),
		}
		return res, nil

	default:
		return Result{}, fmt.Errorf("%w: unexpected body", ErrBadResponse)
	}
}

func observations(leaves []Leaf) []diagnosis.LeafObservation {
	out := make([]diagnosis.LeafObservation, len(leaves))
	for i, l := range leaves {
		out[i] = diagnosis.LeafObservation{Label: l.Class, Confidence: l.Confidence}
	}
	return out
}

// classify maps transport errors onto the package sentinels.
func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
