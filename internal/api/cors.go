package api

import (
	"net/http"
	"slices"
)

// allowedOrigin reports whether a browser page at origin may call the API
// served at host. The API's own host always may; any other origin must be
// listed in allowed, where "*" lists every origin.
func allowedOrigin(origin, host string, allowed []string) bool {
	if origin == "http://"+host || origin == "https://"+host {
		return true
	}
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// CORSMiddleware answers preflights and sets CORS headers for allowed
// origins. Requests without an Origin header, or from an origin that is
// not allowed, reach next untouched; the browser then blocks the response.
func (s *Server) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !allowedOrigin(origin, r.Host, s.config.CORSAllowedOrigins) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin is the websocket upgrader's origin check for the stream
// route. Clients that send no Origin are not browsers and pass.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || allowedOrigin(origin, r.Host, s.config.CORSAllowedOrigins)
}
