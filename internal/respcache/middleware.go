// ABOUTME: HTTP middleware serving cached GET responses and purging on writes
// ABOUTME: Only 200 responses are stored; the X-Cache header reports HIT or MISS

package respcache

import (
	"bytes"
	"net/http"
)

// Middleware caches successful GET responses from next. Any successful
// mutating request purges the cache.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isMutation(r.Method) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status < 400 {
				c.Purge()
			}
			return
		}

		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		key := r.URL.RequestURI()
		if entry, ok := c.Get(key); ok {
			if entry.ContentType != "" {
				w.Header().Set("Content-Type", entry.ContentType)
			}
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(entry.Status)
			_, _ = w.Write(entry.Body)
			return
		}

		w.Header().Set("X-Cache", "MISS")
		gen := c.generation()
		rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status == http.StatusOK {
			c.setIfCurrent(gen, key, Entry{
				Status:      rec.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        bytes.Clone(rec.buf.Bytes()),
			})
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// captureWriter tees the body so it can be stored after the handler returns.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}
