package textnorm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

var errBlockedHost = errors.New("blocked host")

// FetcherConfig bounds the cost of fetching link card pages.
type FetcherConfig struct {
	Timeout      time.Duration
	RateLimit    float64 // requests per second
	Burst        int
	MaxBodyBytes int64
	UserAgent    string
}

// DefaultFetcherConfig returns conservative fetch limits.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:      3 * time.Second,
		RateLimit:    5,
		Burst:        10,
		MaxBodyBytes: 1 << 20,
		UserAgent:    "bluesky-listfeed/1.0 (+https://github.com/blackmichael/bluesky-listfeed)",
	}
}

// leveledSlog adapts slog to retryablehttp. Request errors are logged at
// WARN because they are retried.
type leveledSlog struct {
	inner *slog.Logger
}

func (l leveledSlog) Error(msg string, keysAndValues ...any) { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Warn(msg string, keysAndValues ...any)  { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Info(msg string, keysAndValues ...any)  { l.inner.Debug(msg, keysAndValues...) }
func (l leveledSlog) Debug(msg string, keysAndValues ...any) { l.inner.Debug(msg, keysAndValues...) }

// PageFetcher retrieves the visible text of public web pages.
type PageFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	maxBody   int64
	userAgent string
	logger    *slog.Logger

	// allowLocal disables the loopback and private network checks.
	allowLocal bool
}

// NewPageFetcher creates a PageFetcher. Requests to loopback, private,
// link-local and unspecified addresses are refused, including hosts that
// only resolve to such addresses.
func NewPageFetcher(cfg FetcherConfig, logger *slog.Logger) *PageFetcher {
	f := &PageFetcher{
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		maxBody:   cfg.MaxBodyBytes,
		userAgent: cfg.UserAgent,
		logger:    logger.With("component", "page_fetcher"),
	}

	dialer := &net.Dialer{
		Timeout: cfg.Timeout,
		Control: func(_, address string, _ syscall.RawConn) error {
			if f.allowLocal {
				return nil
			}
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip, err := netip.ParseAddr(host)
			if err != nil || blockedAddr(ip) {
				return fmt.Errorf("%w: %s", errBlockedHost, host)
			}
			return nil
		},
	}
	transport := directTransport(dialer)

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = transport
	retryClient.RetryMax = 1
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 500 * time.Millisecond
	retryClient.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: f.logger})

	f.client = retryClient.StandardClient()
	f.client.Timeout = cfg.Timeout
	return f
}

// directTransport dials targets itself. A proxy would make the dial-time
// address check see the proxy instead of the page's host.
func directTransport(dialer *net.Dialer) *http.Transport {
	transport := cleanhttp.DefaultPooledTransport()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return transport
}

// VisibleText fetches url and returns its visible text. Any failure yields ""
// and a warning.
func (f *PageFetcher) VisibleText(ctx context.Context, rawURL string) string {
	text, err := f.visibleText(ctx, rawURL)
	if err != nil {
		pageFetches.WithLabelValues("error").Inc()
		f.logger.Warn("failed to fetch page text", "url", rawURL, "error", err)
		return ""
	}
	pageFetches.WithLabelValues("ok").Inc()
	return text
}

func (f *PageFetcher) visibleText(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if !f.allowLocal {
		if err := checkHost(u.Hostname()); err != nil {
			return "", err
		}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !strings.Contains(mediaType, "html") {
			return "", fmt.Errorf("unsupported content type %q", ct)
		}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return visibleText(doc), nil
}

func checkHost(host string) error {
	h := strings.TrimSuffix(strings.ToLower(host), ".")
	if h == "" || h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return fmt.Errorf("%w: %q", errBlockedHost, host)
	}
	if ip, err := netip.ParseAddr(h); err == nil && blockedAddr(ip) {
		return fmt.Errorf("%w: %s", errBlockedHost, host)
	}
	return nil
}

func blockedAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}
