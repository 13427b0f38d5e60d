package routes

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// hopHeaders are connection-scoped and never forwarded
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// handleFetch serves every path not claimed by the gateway itself. Origin
// relative requests are app requests; absolute-URI proxy requests for an
// allowed host are cross-origin API calls.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	target := &url.URL{
		Scheme:   s.public.Scheme,
		Host:     s.public.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	if r.URL.IsAbs() && !strings.EqualFold(r.URL.Host, s.public.Host) {
		if !s.allowed(r.URL.Hostname()) {
			http.Error(w, "host not allowed", http.StatusForbidden)
			return
		}
		target = &url.URL{
			Scheme:   r.URL.Scheme,
			Host:     r.URL.Host,
			Path:     r.URL.Path,
			RawPath:  r.URL.RawPath,
			RawQuery: r.URL.RawQuery,
		}
	}
	s.forward(w, r, target)
}

// handleTunnel serves /x/{host}/... as https://{host}/...
func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	host := strings.ToLower(chi.URLParam(r, "host"))
	if !s.allowed(host) {
		http.Error(w, "host not allowed", http.StatusForbidden)
		return
	}
	s.forward(w, r, &url.URL{
		Scheme:   "https",
		Host:     host,
		Path:     "/" + chi.URLParam(r, "*"),
		RawQuery: r.URL.RawQuery,
	})
}

func (s *Server) allowed(host string) bool {
	return s.crossOrigin[strings.ToLower(host)]
}

// forward hands the request to the worker and copies its response back
func (s *Server) forward(w http.ResponseWriter, r *http.Request, target *url.URL) {
	out := r.Clone(r.Context())
	out.URL = target
	out.Host = target.Host
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	if r.ContentLength == 0 {
		out.Body = http.NoBody
	}

	resp, err := s.Worker.Fetch(r.Context(), out)
	if err != nil {
		if r.Context().Err() != nil {
			hlog.FromRequest(r).Debug().Err(err).Stringer("target", target).Msg("client went away")
			return
		}
		hlog.FromRequest(r).Warn().Err(err).Stringer("target", target).Msg("fetch failed")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	header := w.Header()
	for k, vv := range resp.Header {
		header[k] = append([]string(nil), vv...)
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("copy response body")
	}
}
