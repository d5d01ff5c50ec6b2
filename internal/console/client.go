package console

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/facility-review-core/internal/facility"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/config"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/logging"
)

// Defaults applied when the config leaves a value unset.
const (
	defaultTimeout    = 55 * time.Second
	defaultRetries    = 2
	defaultRetryDelay = 2 * time.Second
	maxResponseBytes  = 32 << 20
)

// Client talks to device consoles. One Client serves every customer; the
// per-customer credentials are passed to Connect.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	httpClient *http.Client
	retries    int
	retryDelay time.Duration
	logger     *logging.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a Client from cfg.
func New(cfg config.ConsoleConfig, logger *logging.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	delay := time.Duration(cfg.RetryDelay) * time.Second
	if delay < 0 {
		delay = defaultRetryDelay
	}

	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:errcheck // DefaultTransport is always *http.Transport
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed console endpoints
	}

	if logger == nil {
		logger = logging.Default()
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		retries:    retries,
		retryDelay: delay,
		logger:     logger.With("component", "console"),
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session is an authenticated connection to one customer's console.
type Session struct {
	client  *Client
	baseURL string
	token   string
}

// Connect obtains an access token for creds.
func (c *Client) Connect(ctx context.Context, creds facility.ConsoleCredentials) (*Session, error) {
	token, err := c.AccessToken(ctx, creds)
	if err != nil {
		return nil, err
	}
	return &Session{
		client:  c,
		baseURL: strings.TrimRight(creds.BaseURL, "/"),
		token:   token,
	}, nil
}

// Verify checks creds before they are saved: it obtains a token and lists
// the console's devices. Token failures are returned as from AccessToken.
// A device API that is unreachable, missing or malformed is
// ErrInvalidBaseURL. Anything else, an empty device list included, is
// ErrVerificationFailed.
func (c *Client) Verify(ctx context.Context, creds facility.ConsoleCredentials) error {
	session, err := c.Connect(ctx, creds)
	if err != nil {
		return err
	}

	devices, err := session.DeviceStatuses(ctx, nil)
	switch {
	case errors.Is(err, ErrInvalidBaseURL), errors.Is(err, ErrRequestFailed), errors.Is(err, ErrDeviceUnknown):
		return fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	case len(devices) == 0:
		return fmt.Errorf("%w: no devices", ErrVerificationFailed)
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
	ErrorCode   string `json:"errorCode"`
}

// AccessToken runs the client-credentials grant against creds.AuthURL.
// When an application ID is set the scope is api://<application_id>/.default;
// otherwise it is "system".
func (c *Client) AccessToken(ctx context.Context, creds facility.ConsoleCredentials) (string, error) {
	scope := "system"
	if creds.ApplicationID != "" {
		scope = "api://" + creds.ApplicationID + "/.default"
	}
	form := url.Values{
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"grant_type":    {"client_credentials"},
		"scope":         {scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	var body tokenResponse
	// Error responses are JSON too; a decode failure leaves body empty.
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body) //nolint:errcheck // handled via empty token

	switch {
	case resp.StatusCode == http.StatusBadRequest && body.ErrorCode == "invalid_client":
		return "", ErrInvalidClientID
	case resp.StatusCode == http.StatusUnauthorized && body.Error == "invalid_client":
		return "", ErrInvalidClientSecret
	case resp.StatusCode != http.StatusOK || body.AccessToken == "":
		return "", fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}
	return body.AccessToken, nil
}

// DeviceStatus is the console's view of one device.
type DeviceStatus struct {
	DeviceID         string `json:"device_id"`
	DeviceName       string `json:"device_name"`
	ConnectionStatus string `json:"connection_status"`
	GroupName        string `json:"group_name"`
}

type devicesResponse struct {
	Devices *[]struct {
		DeviceID        string `json:"device_id"`
		DeviceName      string `json:"device_name"`
		ConnectionState string `json:"connection_state"`
		DeviceGroups    []struct {
			DeviceGroupID string `json:"device_group_id"`
		} `json:"device_groups"`
	} `json:"devices"`
}

// DeviceStatuses returns the connection status of the given console device
// IDs. An empty list asks for every device.
func (s *Session) DeviceStatuses(ctx context.Context, deviceIDs []string) ([]DeviceStatus, error) {
	q := url.Values{"grant_type": {"client_credentials"}}
	if len(deviceIDs) > 0 {
		q.Set("device_ids", strings.Join(deviceIDs, ","))
	}

	var out []DeviceStatus
	err := s.client.withRetry(ctx, "devices", func() error {
		var body devicesResponse
		if err := s.get(ctx, "/devices", q, &body); err != nil {
			return err
		}
		if body.Devices == nil {
			return errRetry
		}
		out = make([]DeviceStatus, 0, len(*body.Devices))
		for _, d := range *body.Devices {
			groups := make([]string, 0, len(d.DeviceGroups))
			for _, g := range d.DeviceGroups {
				groups = append(groups, g.DeviceGroupID)
			}
			out = append(out, DeviceStatus{
				DeviceID:         d.DeviceID,
				DeviceName:       d.DeviceName,
				ConnectionStatus: d.ConnectionState,
				GroupName:        strings.Join(groups, ", "),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type imageResponse struct {
	Contents *string `json:"contents"`
}

// LatestImage returns the latest camera image of a device as base64 JPEG.
func (s *Session) LatestImage(ctx context.Context, deviceID string) (string, error) {
	q := url.Values{"grant_type": {"client_credentials"}}
	path := "/devices/" + url.PathEscape(deviceID) + "/images/latest"

	var image string
	err := s.client.withRetry(ctx, "latest image", func() error {
		var body imageResponse
		if err := s.get(ctx, path, q, &body); err != nil {
			return err
		}
		if body.Contents == nil {
			return errRetry
		}
		image = *body.Contents
		return nil
	})
	if err != nil {
		return "", err
	}
	return image, nil
}

// get issues an authenticated GET and decodes the JSON response into v.
func (s *Session) get(ctx context.Context, path string, q url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return errRetry
		}
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrDeviceUnknown
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}
	return nil
}

// withRetry runs fn up to c.retries times while it reports errRetry.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if !errors.Is(err, errRetry) {
			return err
		}
		if attempt >= c.retries {
			return ErrCameraUnavailable
		}
		c.logger.Warn("console returned no result, retrying", "op", op, "attempt", attempt)
		if err := c.sleep(ctx, c.retryDelay); err != nil {
			return fmt.Errorf("%w: %w", ErrRequestFailed, err)
		}
	}
}
