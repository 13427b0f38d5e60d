package cache

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// FromCacheHeader marks responses served from storage rather than the network
const FromCacheHeader = "X-From-Cache"

// hopHeaders are connection-scoped and never stored
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Set-Cookie",
}

// NewEntry builds an Entry from a response whose body has already been read
// into body. Only 200 responses to GET are cacheable.
func NewEntry(req *http.Request, resp *http.Response, body []byte) (*Entry, error) {
	if resp == nil || resp.StatusCode != http.StatusOK {
		return nil, ErrNotCacheable
	}
	method := http.MethodGet
	if req != nil && req.Method != "" {
		method = req.Method
	}
	if method != http.MethodGet {
		return nil, ErrNotCacheable
	}

	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Del(FromCacheHeader)

	entry := &Entry{
		Method:    method,
		Status:    resp.StatusCode,
		Header:    header,
		Body:      append([]byte(nil), body...),
		ETag:      header.Get("ETag"),
		FetchedAt: time.Now().UTC(),
	}
	if req != nil && req.URL != nil {
		entry.URL = KeyFor(req.URL)
	}
	return entry, nil
}

// Response rebuilds an *http.Response from the entry. Each call returns an
// independent body reader.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(FromCacheHeader, "1")
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))

	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
