package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// StatusError is returned by Do for responses with status >= 400.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: status %d: %s", e.URL, e.Code, Truncate(e.Body, 200))
	}
	return fmt.Sprintf("%s: status %d", e.URL, e.Code)
}

// Do waits on the host limiter, sends req and turns error statuses into
// *StatusError. The caller closes the body on success.
func Do(ctx context.Context, hc *http.Client, hl *HostLimiter, req *http.Request, userAgent string) (*http.Response, error) {
	if userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if err := hl.WaitURL(ctx, req.URL.String()); err != nil {
		return nil, err
	}
	res, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		res.Body.Close()
		return nil, &StatusError{URL: req.URL.String(), Code: res.StatusCode, Body: CleanText(string(b))}
	}
	return res, nil
}
