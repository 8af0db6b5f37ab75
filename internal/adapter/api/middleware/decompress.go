package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Decompress transparently inflates request bodies sent with a gzip or zstd
// Content-Encoding. The body is decoded as it is read, so size limits applied
// downstream count decompressed bytes.
func Decompress(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			encoding := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))

			var body io.ReadCloser
			switch encoding {
			case "", "identity":
				next.ServeHTTP(w, r)
				return
			case "gzip", "x-gzip":
				gz, err := gzip.NewReader(r.Body)
				if err != nil {
					logger.Warn("rejecting request with bad gzip body", "error", err, "path", r.URL.Path)
					http.Error(w, "Bad Request: invalid gzip body", http.StatusBadRequest)
					return
				}
				body = gz
			case "zstd":
				dec, err := zstd.NewReader(r.Body, zstd.WithDecoderConcurrency(1))
				if err != nil {
					http.Error(w, "Bad Request: invalid zstd body", http.StatusBadRequest)
					return
				}
				body = dec.IOReadCloser()
			default:
				http.Error(w, "Unsupported Content-Encoding: "+encoding, http.StatusUnsupportedMediaType)
				return
			}
			defer body.Close()

			r.Body = body
			r.Header.Del("Content-Encoding")
			r.Header.Del("Content-Length")
			r.ContentLength = -1
			next.ServeHTTP(w, r)
		})
	}
}
