package utils

import (
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

type HTTPClientConfig struct {
	Timeout        time.Duration
	KATimeout      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	Headers        map[string]string
	HighThreadMode bool // advanced socket options for high concurrency
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient wraps a shared http.Client with riptide's header and proxy
// handling. The underlying transport pool is shared process-wide so all
// targets in a batch reuse connections.
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	transport := &http.Transport{
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true,
		MaxConnsPerHost:     0,
	}
	if cfg.HighThreadMode {
		transport.DialContext = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			Control: func(network, address string, c syscall.RawConn) error {
				return c.Control(func(fd uintptr) {
					setSocketOptions(fd)
				})
			},
		}).DialContext
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
	}
}

func (c *HTTPClient) SetHeader(key, value string) {
	if c.config.Headers == nil {
		c.config.Headers = make(map[string]string)
	}
	c.config.Headers[key] = value
}

func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}
