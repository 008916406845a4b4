package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/jonny/refundbot/pkg/apierror"
)

// maxBodyBytes bounds Slack payloads; view submissions are well under this.
const maxBodyBytes = 1 << 20

// rawBodyKey is used to store the raw request body in context.
type rawBodyKey struct{}

// BodyReader reads and buffers the request body so it can be accessed multiple
// times (signature verification and then form parsing). The raw bytes are
// stored in the request context and can be fetched with RawBody.
func BodyReader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			apierror.Write(w, apierror.BadRequest("failed to read request body"))
			return
		}
		_ = r.Body.Close()

		// Restore body so downstream handlers can read it again
		r.Body = io.NopCloser(bytes.NewReader(body))

		ctx := context.WithValue(r.Context(), rawBodyKey{}, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RawBody returns the body buffered by BodyReader.
func RawBody(ctx context.Context) ([]byte, bool) {
	body, ok := ctx.Value(rawBodyKey{}).([]byte)
	return body, ok
}
