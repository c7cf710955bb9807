package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Armada/internal/domain"
)

type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// Client talks to the device registry service. Transport-level failures are
// reported as domain.ErrDependencyUnavailable so scheduling fails loudly
// instead of silently skipping devices.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	retries int
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("registry base url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  client,
		timeout: timeout,
		retries: retries,
	}, nil
}

type deviceResponse struct {
	ID              string `json:"id"`
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmware_version"`
}

func (c *Client) Exists(ctx context.Context, deviceID uuid.UUID) (bool, error) {
	_, status, err := c.getDevice(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

func (c *Client) GetModel(ctx context.Context, deviceID uuid.UUID) (string, error) {
	dev, status, err := c.getDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", domain.ErrDeviceNotFound
	}
	return dev.Model, nil
}

func (c *Client) GetInstalledVersion(ctx context.Context, deviceID uuid.UUID) (string, error) {
	dev, status, err := c.getDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", domain.ErrDeviceNotFound
	}
	return dev.FirmwareVersion, nil
}

func (c *Client) getDevice(ctx context.Context, deviceID uuid.UUID) (*deviceResponse, int, error) {
	url := fmt.Sprintf("%s/api/v1/devices/%s", c.baseURL, deviceID)

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, ctx.Err())
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return nil, 0, fmt.Errorf("build registry request: %w", err)
		}
		resp, err := c.client.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		switch resp.StatusCode {
		case http.StatusOK:
			var dev deviceResponse
			err := json.NewDecoder(resp.Body).Decode(&dev)
			resp.Body.Close()
			if err != nil {
				lastErr = err
				continue
			}
			return &dev, http.StatusOK, nil
		case http.StatusNotFound:
			resp.Body.Close()
			return nil, http.StatusNotFound, nil
		default:
			resp.Body.Close()
			lastErr = fmt.Errorf("registry returned %d", resp.StatusCode)
		}
	}

	return nil, 0, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, lastErr)
}
