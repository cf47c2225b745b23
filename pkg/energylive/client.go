package energylive

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL        = "https://backend.energylive.e-steiermark.com/api/v1"
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 900 * time.Second

	APIKeyHeader = "X-API-KEY"

	requestTimeout = 30 * time.Second
	errorBodyLimit = 512
)

// Client talks to the energyLIVE cloud API. All calls share one transport so
// device streams reuse the same connection pool.
type Client struct {
	baseURL        string
	apiKey         string
	connectTimeout time.Duration
	readTimeout    time.Duration

	transport    *http.Transport
	httpClient   *http.Client
	streamClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.connectTimeout = timeout
	}
}

// WithReadTimeout bounds the silence allowed between two reads of a live
// stream. The server keeps the stream open between events, so this is long.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.readTimeout = timeout
	}
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		baseURL:        DefaultBaseURL,
		apiKey:         apiKey,
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, err := url.Parse(c.baseURL); err != nil {
		return nil, fmt.Errorf("energylive: invalid base url: %w", err)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")

	// nil RootCAs: verify against the system trust store
	c.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   c.connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   c.connectTimeout,
		ResponseHeaderTimeout: c.connectTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
	c.httpClient = &http.Client{
		Transport: c.transport,
		Timeout:   requestTimeout,
	}
	// no overall timeout, the live stream is bounded by the idle read timer
	c.streamClient = &http.Client{
		Transport: c.transport,
	}
	return c, nil
}

func (c *Client) ListDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	var devices []DeviceDescriptor
	if err := c.getJSON(ctx, "/devices", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (c *Client) GetDeviceDetails(ctx context.Context, id string) (DeviceDetails, error) {
	var details DeviceDetails
	if err := c.getJSON(ctx, devicePath(id), &details); err != nil {
		return DeviceDetails{}, err
	}
	return details, nil
}

func (c *Client) ListMeasurements(ctx context.Context, id string) ([]string, error) {
	var measurements []string
	if err := c.getJSON(ctx, devicePath(id)+"/measurements", &measurements); err != nil {
		return nil, err
	}
	return measurements, nil
}

// OpenLiveStream opens the event stream of a device. The caller owns the
// returned stream and must Close it.
func (c *Client) OpenLiveStream(ctx context.Context, id string) (*LiveStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	path := devicePath(id) + "/measurements/live"

	req, err := c.newRequest(streamCtx, path)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	stream := newLiveStream(cancel, c.readTimeout)
	resp, err := c.streamClient.Do(req)
	if err != nil {
		stream.Close()
		if stream.expired.Load() {
			return nil, ErrReadTimeout
		}
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	if err := checkStatus(resp, path); err != nil {
		resp.Body.Close()
		stream.Close()
		return nil, err
	}
	stream.attach(resp.Body)
	return stream, nil
}

// Close releases idle connections of the shared transport.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	req, err := c.newRequest(ctx, path)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, path); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	return req, nil
}

func checkStatus(resp *http.Response, path string) error {
	if resp.StatusCode == http.StatusForbidden {
		return ErrForbidden
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &StatusError{
			Code: resp.StatusCode,
			Path: path,
			Body: strings.TrimSpace(string(body)),
		}
	}
	return nil
}

func devicePath(id string) string {
	return "/devices/" + url.PathEscape(id)
}
