package gateway

import (
	"net/http"
	"net/url"
	"os"

	"github.com/docker/metamcp-gateway/pkg/health"
)

func redirectHandler(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
	}
}

func healthHandler(state *health.State) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if state.IsHealthy() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}
}

// isAllowedOrigin validates that the origin is from localhost.
// Returns true if the origin's hostname is "localhost" or "127.0.0.1" (any port allowed).
func isAllowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false // Invalid URL format
	}

	// Only allow http or https schemes
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	// Extract hostname (without port)
	host := u.Hostname()

	// Only allow localhost or 127.0.0.1
	return host == "localhost" || host == "127.0.0.1"
}

// originSecurityHandler validates Origin header to prevent DNS rebinding attacks.
func originSecurityHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip origin validation in container environments (compose networking)
		if os.Getenv("DOCKER_MCP_IN_CONTAINER") == "1" {
			next.ServeHTTP(w, r)
			return
		}

		origin := r.Header.Get("Origin")

		// Allow requests with no Origin header
		// This handles:
		// - Non-browser clients (curl, SDKs) - no Origin header sent
		// - Same-origin requests - browsers don't send Origin for same-origin
		if origin != "" && !isAllowedOrigin(origin) {
			http.Error(w, "Forbidden: Invalid Origin header", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
