// Package hrdirectory is the client for the external HR directory that
// owns employee master data.
package hrdirectory

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/occhealth/occhealth/internal/platform/apperr"
)

// Person is an employee as the HR directory reports it.
type Person struct {
	Identification        string `json:"identification"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	Position              string `json:"position"`
	WorkArea              string `json:"work_area"`
	Gender                string `json:"gender"`
	Phone                 string `json:"phone"`
	Company               string `json:"company"`
	Address               string `json:"address"`
	DisabilityDescription string `json:"disability_description"`
	VulnerableDescription string `json:"vulnerable_description"`
}

// Directory looks people up by identification. A nil person with a nil
// error means HR does not know the identification.
type Directory interface {
	Lookup(ctx context.Context, identification string) (*Person, error)
}

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
}

// Disabled is the directory used when no HR endpoint is configured.
type Disabled struct{}

func (Disabled) Lookup(context.Context, string) (*Person, error) { return nil, nil }

// Client talks to the HR directory over HTTP.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// New returns a Client for cfg, or Disabled when cfg has no base URL.
func New(cfg Config, logger zerolog.Logger) Directory {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return Disabled{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		c.SetHeader("X-API-Key", cfg.APIKey)
	}
	return &Client{
		http:   c,
		logger: logger.With().Str("component", "hrdirectory").Logger(),
	}
}

func (c *Client) Lookup(ctx context.Context, identification string) (*Person, error) {
	var p Person
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("identification", identification).
		ForceContentType("application/json").
		SetResult(&p).
		Get("/persons/{identification}")
	if err != nil {
		c.logger.Warn().Err(err).Str("identification", identification).Msg("hr lookup failed")
		return nil, fmt.Errorf("hr lookup %s: %w: %w", identification, apperr.ErrDirectoryUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, nil
	case resp.IsError():
		c.logger.Warn().
			Int("status_code", resp.StatusCode()).
			Str("identification", identification).
			Msg("hr lookup returned error status")
		return nil, fmt.Errorf("hr lookup %s: status %d: %w", identification, resp.StatusCode(), apperr.ErrDirectoryUnavailable)
	}

	if p.Identification == "" {
		p.Identification = identification
	}
	return &p, nil
}
