package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/cjeanneret/vibecast/internal/debug"
	"github.com/cjeanneret/vibecast/internal/imageio"
)

// maxSnapshotBytes caps the size of one snapshot body.
const maxSnapshotBytes = 32 << 20

// ReolinkHTTP fetches JPEG snapshots from a Reolink camera's CGI API:
//
//	GET {scheme}://{host}/cgi-bin/api.cgi?cmd=Snap&channel=N&rs=<random>&user=..&password=..
//
// Network errors and 5xx responses are retried with exponential backoff.
// 4xx responses and bodies that are not images fail immediately.
type ReolinkHTTP struct {
	Scheme   string
	Host     string
	Username string
	Password string
	Channel  int

	// MaxElapsed bounds the total retry time (0 = backoff default).
	MaxElapsed time.Duration

	client *http.Client
}

// NewReolinkHTTP returns a camera with a per-request timeout.
func NewReolinkHTTP(scheme, host, username, password string, channel int, timeout, maxElapsed time.Duration) *ReolinkHTTP {
	if scheme == "" {
		scheme = "http"
	}
	return &ReolinkHTTP{
		Scheme:     scheme,
		Host:       host,
		Username:   username,
		Password:   password,
		Channel:    channel,
		MaxElapsed: maxElapsed,
		client:     &http.Client{Timeout: timeout},
	}
}

// SnapshotURL builds the request URL. rs is the cache-busting token.
func (c *ReolinkHTTP) SnapshotURL(rs string) string {
	q := url.Values{}
	q.Set("cmd", "Snap")
	q.Set("channel", strconv.Itoa(c.Channel))
	q.Set("rs", rs)
	q.Set("user", c.Username)
	q.Set("password", c.Password)
	u := url.URL{Scheme: c.Scheme, Host: c.Host, Path: "/cgi-bin/api.cgi", RawQuery: q.Encode()}
	return u.String()
}

// redactedValue replaces credentials in URLs that end up in errors.
const redactedValue = "xxxxx"

// redactURL masks the user and password query values of raw.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparsable url>"
	}
	q := u.Query()
	for _, k := range []string{"user", "password"} {
		if q.Has(k) {
			q.Set(k, redactedValue)
		}
	}
	u.RawQuery = q.Encode()
	return u.Redacted()
}

// redact strips credentials from transport errors, which carry the full
// request URL.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return &url.Error{Op: ue.Op, URL: redactURL(ue.URL), Err: ue.Err}
	}
	return err
}

// Snapshot fetches and decodes one frame.
func (c *ReolinkHTTP) Snapshot(ctx context.Context) (image.Image, error) {
	var img image.Image
	attempt := 0
	op := func() error {
		attempt++
		var err error
		img, err = c.fetch(ctx)
		if err != nil {
			debug.Trace("Snapshot attempt %d from %s failed: %v", attempt, c.Host, err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	if c.MaxElapsed > 0 {
		b.MaxElapsedTime = c.MaxElapsed
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			err = perm.Err
		}
		return nil, fmt.Errorf("snapshot from %s: %w", c.Host, err)
	}
	debug.Live("Snapshot from %s: %dx%d (%d attempt(s))", c.Host, img.Bounds().Dx(), img.Bounds().Dy(), attempt)
	return img, nil
}

func (c *ReolinkHTTP) fetch(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SnapshotURL(uuid.NewString()), nil)
	if err != nil {
		return nil, backoff.Permanent(redact(err))
	}
	client := c.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, redact(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, backoff.Permanent(fmt.Errorf("camera returned %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("camera returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, redact(err)
	}
	// On bad credentials the API answers 200 with a JSON error body.
	img, _, err := imageio.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return img, nil
}
