package httpserver

import (
	"net/http"
	"strings"
)

// originMiddleware rejects browser requests from origins outside the policy
// and answers CORS preflights. Requests without an Origin header pass.
func (s *Server) originMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			originHeader := strings.TrimSpace(r.Header.Get("Origin"))
			if originHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			normalized, ok := s.origins.Allows(originHeader, r.Host)
			if !ok {
				s.log.Warn("rejected request origin", "origin", originHeader, "path", r.URL.Path)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", normalized)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
				if requested := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requested != "" {
					w.Header().Set("Access-Control-Allow-Headers", requested)
				}
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
