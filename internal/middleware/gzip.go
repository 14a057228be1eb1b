package middleware

import (
	"compress/gzip"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// GzipMiddleware распаковывает тела запросов в gzip и сжимает ответы,
// если клиент передал Accept-Encoding: gzip.
func GzipMiddleware(next http.Handler) http.Handler {
	compress := chimiddleware.Compress(gzip.DefaultCompression)

	return compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			gr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "invalid gzip body", http.StatusBadRequest)
				return
			}
			defer gr.Close()

			r.Body = gr
			r.Header.Del("Content-Encoding")
		}

		next.ServeHTTP(w, r)
	}))
}
