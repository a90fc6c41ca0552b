package api

import "net/http"

// ReadOnlyMiddleware restricts next to GET and HEAD requests. It is meant
// for the daemon's local, unauthenticated Unix-socket listener: the CLI can
// poll job status and query installed troves there, but any write (job
// enqueue, job cancel) must go through the primary listener.
func ReadOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			next.ServeHTTP(w, r)
		default:
			http.Error(w, "write operations not allowed on the local socket; use the primary listener", http.StatusForbidden)
		}
	})
}
