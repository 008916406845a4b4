package middleware

import (
	"log/slog"
	"net/http"

	slackapi "github.com/slack-go/slack"

	"github.com/jonny/refundbot/pkg/apierror"
)

// SlackSignature returns middleware that verifies the X-Slack-Signature header
// against the signing secret. It must run after BodyReader.
func SlackSignature(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, ok := RawBody(r.Context())
			if !ok {
				apierror.Write(w, apierror.Internal("request body not available for signature verification"))
				return
			}

			sv, err := slackapi.NewSecretsVerifier(r.Header, secret)
			if err != nil {
				logger.Warn("rejected slack request", "path", r.URL.Path, "error", err)
				apierror.Write(w, apierror.Unauthorized("missing or stale slack signature"))
				return
			}
			if _, err := sv.Write(body); err != nil {
				apierror.Write(w, apierror.Internal("failed to hash request body"))
				return
			}
			if err := sv.Ensure(); err != nil {
				logger.Warn("rejected slack request", "path", r.URL.Path, "error", err)
				apierror.Write(w, apierror.Unauthorized("invalid slack signature"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
