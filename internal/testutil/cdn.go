package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// CDNServer is a module CDN double that answers probes and counts them
type CDNServer struct {
	*httptest.Server
	probes  atomic.Int64
	missing []string
}

// NewCDNServer starts a CDN serving every package except those whose path
// contains one of missing. The server closes with the test.
func NewCDNServer(t *testing.T, missing ...string) *CDNServer {
	t.Helper()
	s := &CDNServer{missing: missing}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *CDNServer) serve(w http.ResponseWriter, r *http.Request) {
	s.probes.Add(1)
	for _, m := range s.missing {
		if strings.Contains(r.URL.Path, m) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
	}
	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
}

// Probes returns the number of requests served so far
func (s *CDNServer) Probes() int64 {
	return s.probes.Load()
}

// Host returns the host:port of the server
func (s *CDNServer) Host() string {
	return strings.TrimPrefix(s.URL, "http://")
}
