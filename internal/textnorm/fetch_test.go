package textnorm

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckHost(t *testing.T) {
	blocked := []string{"", "localhost", "LOCALHOST.", "api.localhost", "127.0.0.1", "10.1.2.3", "192.168.0.1", "172.16.5.4", "169.254.169.254", "0.0.0.0", "::1", "fe80::1", "::ffff:127.0.0.1"}
	for _, h := range blocked {
		assert.ErrorIs(t, checkHost(h), errBlockedHost, h)
	}
	for _, h := range []string{"go.dev", "8.8.8.8", "2001:4860:4860::8888"} {
		assert.NoError(t, checkHost(h), h)
	}
}

func TestBlockedAddr(t *testing.T) {
	assert.True(t, blockedAddr(netip.MustParseAddr("127.0.0.53")))
	assert.False(t, blockedAddr(netip.MustParseAddr("1.1.1.1")))
}

func TestDirectTransportIgnoresProxy(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://127.0.0.1:3128")
	t.Setenv("HTTPS_PROXY", "http://127.0.0.1:3128")

	transport := directTransport(&net.Dialer{})
	assert.Nil(t, transport.Proxy)
	assert.NotNil(t, transport.DialContext)
}

func newLocalFetcher() *PageFetcher {
	f := NewPageFetcher(DefaultFetcherConfig(), discardLogger())
	f.allowLocal = true
	return f
}

func TestVisibleText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, `<!doctype html><html><head><title>Doc</title><script>x()</script></head>
<body><header>top</header><p>First   paragraph</p><!-- note --><p>Second</p><footer>bottom</footer></body></html>`)
		case "/json":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"a":1}`)
		case "/big":
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, "<p>"+strings.Repeat("a", 4096)+"</p>")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	f := newLocalFetcher()

	assert.Equal(t, "Doc First   paragraph Second", f.VisibleText(ctx, srv.URL+"/page"))
	assert.Empty(t, f.VisibleText(ctx, srv.URL+"/json"))
	assert.Empty(t, f.VisibleText(ctx, srv.URL+"/missing"))
	assert.Empty(t, f.VisibleText(ctx, "ftp://example.com/file"))
	assert.Empty(t, f.VisibleText(ctx, "::not a url"))

	f.maxBody = 100
	text := f.VisibleText(ctx, srv.URL+"/big")
	assert.LessOrEqual(t, len(text), 100)
}

func TestVisibleTextRefusesLoopback(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<p>secret</p>")
	}))
	defer srv.Close()

	f := NewPageFetcher(DefaultFetcherConfig(), discardLogger())
	assert.Empty(t, f.VisibleText(context.Background(), srv.URL))
	assert.Zero(t, hits)

	_, err := f.visibleText(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBlockedHost)
}
