package utils

import (
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

type HTTPClientConfig struct {
	Timeout       time.Duration
	KATimeout     time.Duration
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	UserAgent     string
	TunedSockets  bool // larger socket buffers for fat pipes
}

// NewAgentHTTPClient builds the client used for every transaction. Redirects are
// never followed by the client: the state machine handles them itself so it can
// count them and re-resolve the output file name.
func NewAgentHTTPClient(cfg HTTPClientConfig) *http.Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	transport := &http.Transport{
		IdleConnTimeout:       cfg.KATimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		DisableCompression:    true,
		MaxConnsPerHost:       0,
		ResponseHeaderTimeout: cfg.Timeout,
	}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if cfg.TunedSockets {
		dialer.Control = func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				setSocketOptions(fd)
			})
		}
	}
	transport.DialContext = dialer.DialContext
	if proxy := ProxyURL(cfg); proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}
	return &http.Client{
		// The whole-request timeout would cut long bodies short; stalls are caught
		// by the dialer and the response-header timeout instead.
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// ProxyURL returns the configured proxy with credentials attached, or nil.
func ProxyURL(cfg HTTPClientConfig) *url.URL {
	if cfg.ProxyURL == "" {
		return nil
	}
	proxyURL, err := url.Parse(cfg.ProxyURL)
	if err != nil {
		log.Error().Err(err).Str("proxy", cfg.ProxyURL).Msg("Invalid proxy URL, proceeding without proxy")
		return nil
	}
	if cfg.ProxyUsername != "" {
		if cfg.ProxyPassword != "" {
			proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
		} else {
			proxyURL.User = url.User(cfg.ProxyUsername)
		}
	}
	return proxyURL
}
