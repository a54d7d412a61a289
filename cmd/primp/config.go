package main

import (
	"fmt"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sardanioss/primp/client"
)

// globalFlags are shared by the request commands. Flags that were set on the
// command line override the --config file.
type globalFlags struct {
	configPath  string
	logLevel    string
	impersonate string
	os          string
	proxy       string
	timeout     time.Duration
	http1       bool
	http2       bool
	insecure    bool
	noRedirects bool
	retries     int
	headers     []string
	params      []string
}

func (g *globalFlags) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&g.configPath, "config", "", "YAML client configuration file")
	f.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error); empty disables logging")
	f.StringVarP(&g.impersonate, "impersonate", "b", "", "browser profile, e.g. chrome_133")
	f.StringVar(&g.os, "os", "", "operating system of the profile")
	f.StringVarP(&g.proxy, "proxy", "x", "", "proxy URL (http, https, socks5, socks5h)")
	f.DurationVar(&g.timeout, "timeout", 0, "request timeout")
	f.BoolVar(&g.http1, "http1", false, "only negotiate HTTP/1.1")
	f.BoolVar(&g.http2, "http2", false, "only negotiate HTTP/2")
	f.BoolVarP(&g.insecure, "insecure", "k", false, "skip certificate verification")
	f.BoolVar(&g.noRedirects, "no-redirects", false, "do not follow redirects")
	f.IntVar(&g.retries, "retry", 0, "retries on connection failures")
	f.StringArrayVarP(&g.headers, "header", "H", nil, `extra header "Name: Value" (repeatable)`)
	f.StringArrayVar(&g.params, "param", nil, "query parameter key=value (repeatable)")
}

// loadConfig decodes a YAML file over the default configuration.
func loadConfig(path string) (*client.ClientConfig, error) {
	cfg := client.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// clientOptions turns the config file and the explicitly set flags into
// client options.
func (g *globalFlags) clientOptions(cmd *cobra.Command) ([]client.Option, error) {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	opts := []client.Option{client.WithConfig(*cfg)}

	changed := cmd.Flags().Changed
	if changed("impersonate") {
		opts = append(opts, client.WithImpersonate(g.impersonate))
	}
	if changed("os") {
		opts = append(opts, client.WithImpersonateOS(g.os))
	}
	if changed("proxy") {
		opts = append(opts, client.WithProxy(g.proxy))
	}
	if changed("timeout") {
		opts = append(opts, client.WithTimeout(g.timeout))
	}
	if g.http1 {
		opts = append(opts, client.WithHTTP1Only())
	}
	if g.http2 {
		opts = append(opts, client.WithHTTP2Only())
	}
	if g.insecure {
		opts = append(opts, client.WithVerify(false))
	}
	if g.noRedirects {
		opts = append(opts, client.WithoutRedirects())
	}
	if changed("retry") {
		opts = append(opts, client.WithRetry(g.retries, cfg.RetryBackoff))
	}
	if len(g.headers) > 0 {
		headers, err := parsePairs(g.headers, ":")
		if err != nil {
			return nil, err
		}
		merged := maps.Clone(cfg.Headers)
		if merged == nil {
			merged = headers
		} else {
			maps.Copy(merged, headers)
		}
		opts = append(opts, client.WithHeaders(merged))
	}
	if len(g.params) > 0 {
		params, err := parsePairs(g.params, "=")
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithParams(params))
	}

	logger, err := newLogger(g.logLevel)
	if err != nil {
		return nil, err
	}
	opts = append(opts, client.WithLogger(logger))
	return opts, nil
}

func (g *globalFlags) newClient(cmd *cobra.Command) (*client.Client, error) {
	opts, err := g.clientOptions(cmd)
	if err != nil {
		return nil, err
	}
	return client.NewClient(opts...)
}

// newLogger builds a development logger for debug and a production logger
// for the other levels.
func newLogger(level string) (*zap.Logger, error) {
	switch strings.ToLower(level) {
	case "", "none", "off":
		return zap.NewNop(), nil
	case "debug":
		return zap.NewDevelopment()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

// parsePairs splits each "key<sep>value" item.
func parsePairs(items []string, sep string) (map[string]string, error) {
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, sep)
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid %q: expected key%svalue", item, sep)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
