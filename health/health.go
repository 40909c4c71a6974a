// Package health probes a deployed application over HTTP, either from the
// remote host itself through curl or from the local machine.
package health

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"godeploy/client"
)

// DefaultTimeout bounds a single public probe.
const DefaultTimeout = 10 * time.Second

// Status is the outcome of one probe: either an HTTP status code or the
// error that prevented getting one.
type Status struct {
	Code int
	Err  error
}

// String prints the code the way curl does, so a refused connection reads
// as 000.
func (s Status) String() string {
	if s.Err != nil {
		return s.Err.Error()
	}
	return fmt.Sprintf("%03d", s.Code)
}

// Is reports whether the probe returned exactly code.
func (s Status) Is(code int) bool {
	return s.Err == nil && s.Code == code
}

// LocalCommand is the remote command that prints only the HTTP status code
// of a GET to url. curl prints 000 when it cannot connect.
func LocalCommand(url string) string {
	return "curl -s -o /dev/null -w '%{http_code}' " + client.Quote(url)
}

// ParseStatus extracts the status code printed by LocalCommand.
func ParseStatus(out string) (int, error) {
	s := strings.TrimSpace(out)
	if len(s) != 3 {
		return 0, fmt.Errorf("unexpected health output %q", s)
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unexpected health output %q", s)
	}
	return code, nil
}

// HTTPProber issues GET requests from the local machine.
type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber returns a prober whose requests time out after timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPProber{Client: &http.Client{Timeout: timeout}}
}

// Probe performs a GET on url. Any failure is carried in the Status.
func (p *HTTPProber) Probe(ctx context.Context, url string) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Status{Err: err}
	}
	req.Header.Set("User-Agent", "godeploy-health/1")

	resp, err := p.Client.Do(req)
	if err != nil {
		return Status{Err: err}
	}
	defer resp.Body.Close()
	return Status{Code: resp.StatusCode}
}
