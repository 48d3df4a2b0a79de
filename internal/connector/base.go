package connector

import (
	"crypto/tls"
	"net/http"
	"os"
	"time"
)

// HTTPConfig configures the shared HTTP client every connector variant
// builds from: keep-alive connection pooling capped per host, a request
// timeout, and optional mTLS material.
type HTTPConfig struct {
	Timeout     time.Duration
	MaxPerHost  int
	CertFile    string
	KeyFile     string
	InsecureTLS bool // conformance/sandbox environments only
}

// DefaultHTTPConfig returns the standard pooling default.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{Timeout: 30 * time.Second, MaxPerHost: 10}
}

// newHTTPClient builds an *http.Client honoring cfg. mTLS certificates are
// loaded when both CertFile and KeyFile are set and exist on disk;
// otherwise the client falls back to TLS-only. A pair that exists but
// fails to parse is returned as an error. The caller is responsible for emitting a warning
// on fallback, since this function has no event sink.
func newHTTPClient(cfg HTTPConfig) (*http.Client, bool, error) {
	if cfg.MaxPerHost <= 0 {
		cfg.MaxPerHost = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureTLS} //nolint:gosec // conformance environments only
	mtlsLoaded := false
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		_, certErr := os.Stat(cfg.CertFile)
		_, keyErr := os.Stat(cfg.KeyFile)
		if certErr == nil && keyErr == nil {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, false, err
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
			mtlsLoaded = true
		}
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: cfg.MaxPerHost,
		MaxConnsPerHost:     cfg.MaxPerHost,
		TLSClientConfig:     tlsConfig,
	}

	return &http.Client{Timeout: cfg.Timeout, Transport: transport}, mtlsLoaded, nil
}
