package telegram

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// newTransport builds the HTTP transport for Bot API traffic. An empty
// proxyURL dials directly; otherwise it must be a socks5:// URL.
func newTransport(proxyURL string) (*http.Transport, error) {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL == "" {
		return t, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("telegram: parsing proxy url: %w", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("telegram: unsupported proxy scheme %q", u.Scheme)
	}
	if u.Scheme == "socks5h" {
		u.Scheme = "socks5"
	}
	forward := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	d, err := proxy.FromURL(u, forward)
	if err != nil {
		return nil, fmt.Errorf("telegram: creating proxy dialer: %w", err)
	}

	t.Proxy = nil
	if cd, ok := d.(proxy.ContextDialer); ok {
		t.DialContext = cd.DialContext
	} else {
		t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return d.Dial(network, addr)
		}
	}
	return t, nil
}
