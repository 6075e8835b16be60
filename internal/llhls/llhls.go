// Package llhls builds and parses the Low-Latency HLS blocking-reload query
// parameters. Built on net/url the same way this codebase's
// playlist URL rewriting in its HLS passthrough handler.
package llhls

import (
	"fmt"
	"net/url"
	"strconv"
)

// Push records _HLS_msn/_HLS_part/_HLS_push=1 parsed out of an incoming
// playlist's own request URL, for downstream optimisation.
type Push struct {
	MSN  int
	Part int // -1 if absent
}

// ReloadRequest describes an outgoing blocking-playlist reload request.
type ReloadRequest struct {
	MSN  int  // required
	Part int  // optional; -1 means absent. Requires MSN.
	Push *bool // optional _HLS_push
	Skip bool  // _HLS_skip=YES
}

// BuildURL appends LL-HLS query parameters to base, which must already have
// its own query component stripped by the caller.
func BuildURL(base string, req ReloadRequest) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("llhls: parsing base url: %w", err)
	}
	u.RawQuery = ""

	q := u.Query()
	q.Set("_HLS_msn", strconv.Itoa(req.MSN))
	if req.Part >= 0 {
		q.Set("_HLS_part", strconv.Itoa(req.Part))
	}
	if req.Push != nil {
		if *req.Push {
			q.Set("_HLS_push", "1")
		} else {
			q.Set("_HLS_push", "0")
		}
	}
	if req.Skip {
		q.Set("_HLS_skip", "YES")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParsePush extracts an embedded _HLS_msn/_HLS_part/_HLS_push=1 triple from
// a playlist's own request URL, if present. Returns nil if no _HLS_msn is
// present (msn is the only required field).
func ParsePush(rawURL string) *Push {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	q := u.Query()
	msnStr := q.Get("_HLS_msn")
	if msnStr == "" {
		return nil
	}
	msn, err := strconv.Atoi(msnStr)
	if err != nil {
		return nil
	}
	push := q.Get("_HLS_push")
	if push != "1" {
		return nil
	}
	part := -1
	if partStr := q.Get("_HLS_part"); partStr != "" {
		if p, err := strconv.Atoi(partStr); err == nil {
			part = p
		}
	}
	return &Push{MSN: msn, Part: part}
}
