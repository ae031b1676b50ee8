package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/edgelun/edgelun/internal/metrics"
)

// RESTClient is the real management API client. It speaks JSON over HTTP to
// the storage cluster, authenticating every request with basic auth.
type RESTClient struct {
	baseURL  string
	username string
	password string
	client   *retryablehttp.Client
}

// RESTOptions configures a RESTClient.
type RESTOptions struct {
	// Protocol is "http", "https", or "auto" (which resolves to http).
	Protocol string
	// Host and Port locate the management API.
	Host string
	Port int
	// Username and Password are the basic-auth credentials.
	Username string
	Password string
	// Timeout is the per-request transport timeout.
	Timeout time.Duration
	// RetryMax is the transport-level retry count. Zero preserves the
	// driver's no-retry contract; lifecycle sequences are never replayed.
	RetryMax int
}

// NewRESTClient creates a RESTClient for the given management endpoint.
func NewRESTClient(opts RESTOptions) *RESTClient {
	protocol := opts.Protocol
	if protocol == "" || protocol == "auto" {
		protocol = "http"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil

	return &RESTClient{
		baseURL:  fmt.Sprintf("%s://%s:%d/", protocol, opts.Host, opts.Port),
		username: opts.Username,
		password: opts.Password,
		client:   rc,
	}
}

// URL returns the base URL of the management API.
func (c *RESTClient) URL() string {
	return c.baseURL
}

// Get issues a GET against the given API path.
func (c *RESTClient) Get(ctx context.Context, path string) (Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Put issues a PUT with the given JSON body.
func (c *RESTClient) Put(ctx context.Context, path string, body Params) (Response, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

// Post issues a POST with the given JSON body.
func (c *RESTClient) Post(ctx context.Context, path string, body Params) (Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Delete issues a DELETE with the given JSON body.
func (c *RESTClient) Delete(ctx context.Context, path string, body Params) (Response, error) {
	return c.do(ctx, http.MethodDelete, path, body)
}

// do executes one management call and decodes the JSON response body. A
// transport failure or non-2xx status is returned as *Error.
func (c *RESTClient) do(ctx context.Context, method, path string, body Params) (Response, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Method: method, Path: path, Message: fmt.Sprintf("encoding request body: %v", err)}
		}
		payload = bytes.NewReader(data)
	}

	url := c.baseURL + strings.TrimPrefix(path, "/")
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return nil, &Error{Method: method, Path: path, Message: err.Error()}
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.BackendRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(method, "transport_error").Inc()
		return nil, &Error{Method: method, Path: path, Message: err.Error()}
	}
	defer resp.Body.Close()

	metrics.BackendRequestsTotal.WithLabelValues(method, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Method: method, Path: path, Message: fmt.Sprintf("reading response body: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorDetail(data, resp.StatusCode),
		}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return Response{}, nil
	}
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &Error{Method: method, Path: path, Message: fmt.Sprintf("decoding response body: %v", err)}
	}
	return out, nil
}

// errorDetail extracts a useful message from an error response body. The
// management API reports failures as {"message": "..."}; anything else falls
// back to the status text.
func errorDetail(data []byte, status int) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return http.StatusText(status)
}
