// Package primp is an HTTP client that impersonates browsers at the TLS,
// HTTP/2 and header layers.
//
// Basic usage:
//
//	c, err := primp.New(primp.WithImpersonate("chrome_133", "windows"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	resp, err := c.Get(ctx, "https://example.com")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	text, _ := resp.Text()
//
// One-shot requests build a throwaway client:
//
//	resp, err := primp.Get(ctx, "https://example.com",
//	    primp.WithTimeout(10*time.Second),
//	    primp.WithRequest(client.WithRequestParams(map[string]string{"q": "go"})),
//	)
package primp

import (
	"context"
	"net/http"
	"time"

	"github.com/sardanioss/primp/client"
	"github.com/sardanioss/primp/fingerprint"
)

// Option configures New and the one-shot helpers.
type Option func(*callConfig)

type callConfig struct {
	client  []client.Option
	request []client.RequestOption
}

// WithClient passes client options through.
func WithClient(opts ...client.Option) Option {
	return func(c *callConfig) {
		c.client = append(c.client, opts...)
	}
}

// WithRequest passes request options to the one-shot helpers. New ignores
// them.
func WithRequest(opts ...client.RequestOption) Option {
	return func(c *callConfig) {
		c.request = append(c.request, opts...)
	}
}

// WithImpersonate selects the browser profile and, when os is not empty,
// its operating system.
func WithImpersonate(browser, os string) Option {
	return func(c *callConfig) {
		c.client = append(c.client, client.WithImpersonate(browser))
		if os != "" {
			c.client = append(c.client, client.WithImpersonateOS(os))
		}
	}
}

// WithTimeout sets the request timeout
func WithTimeout(d time.Duration) Option {
	return WithClient(client.WithTimeout(d))
}

// WithProxy sets an HTTP/HTTPS/SOCKS5 proxy
func WithProxy(proxyURL string) Option {
	return WithClient(client.WithProxy(proxyURL))
}

func collect(opts []Option) *callConfig {
	cfg := &callConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// New creates a client. See client.NewClient for the defaults.
func New(opts ...Option) (*client.Client, error) {
	return client.NewClient(collect(opts).client...)
}

// Request sends one request through a throwaway client. The body is
// buffered before the client is closed, so Stream is ignored.
func Request(ctx context.Context, method, url string, opts ...Option) (*client.Response, error) {
	cfg := collect(opts)
	c, err := client.NewClient(cfg.client...)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	ropts := append(cfg.request, func(r *client.Request) { r.Stream = false })
	return c.Request(ctx, method, url, ropts...)
}

// Get sends a one-shot GET.
func Get(ctx context.Context, url string, opts ...Option) (*client.Response, error) {
	return Request(ctx, http.MethodGet, url, opts...)
}

// Post sends a one-shot POST.
func Post(ctx context.Context, url string, opts ...Option) (*client.Response, error) {
	return Request(ctx, http.MethodPost, url, opts...)
}

// Profiles lists the browser profiles that can be impersonated.
func Profiles() []string {
	return fingerprint.Available()
}
