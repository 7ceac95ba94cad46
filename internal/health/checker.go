package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// hostTransport sends every request with a fixed Host, so probes can hit
// 127.0.0.1 and still select the site's vhost.
type hostTransport struct {
	host string
	base http.RoundTripper
}

func (t hostTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.host != "" {
		r = r.Clone(r.Context())
		r.Host = t.host
	}
	return t.base.RoundTrip(r)
}

func newClient(host string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Self-signed and not yet trusted certificates are still worth probing.
	transport.TLSClientConfig = &tls.Config{ServerName: host, InsecureSkipVerify: true}
	return &http.Client{
		Timeout:   timeout,
		Transport: hostTransport{host: host, base: transport},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Check polls url until it answers with a 2xx or 3xx status, the timeout
// passes, or ctx is done.
func Check(ctx context.Context, url, host string, timeout, interval time.Duration) error {
	client := newClient(host, 5*time.Second)
	deadline := time.Now().Add(timeout)

	var last string
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 400 {
				return nil
			}
			last = resp.Status
		} else {
			last = err.Error()
		}

		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("health check %s failed after %s: %s", url, timeout, last)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// CheckWebSocket completes a websocket handshake with url and closes it.
func CheckWebSocket(ctx context.Context, url, host string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// websocket.Dial rejects clients with a Timeout; ctx bounds the dial.
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: newClient(host, 0),
	})
	if err != nil {
		return fmt.Errorf("websocket probe %s: %w", url, err)
	}
	// The handshake is the probe; a slow close is not a failure.
	_ = conn.Close(websocket.StatusNormalClosure, "probe")
	return nil
}
