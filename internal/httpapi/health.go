package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// Health reports dependency status: 200 when the identity provider is
// reachable, 503 otherwise.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	deps := map[string]string{"auth_provider": "reachable"}

	if err := s.Auth.JWKS().Probe(r.Context()); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("identity provider unreachable")
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		deps["auth_provider"] = "unreachable"
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
	})
}
