package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/sigproxy/internal/sigerr"
)

// writeJSONError writes a gateway-shaped JSON error body, mirroring the
// teacher's writeJSONError helper.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "gateway_error",
		},
	}
	data, _ := json.Marshal(resp)
	_, _ = w.Write(data)
}

// writeDispatchError maps a dispatcher error to an HTTP response per
// spec.md section 7: KindUpstream4xx is surfaced verbatim (its message
// already carries the upstream status and body), KindMalformedToolChain
// is a 400, KindNoCredentialAvailable a 503 with Retry-After,
// KindRecoverableUpstream a 502, everything else a 500.
func writeDispatchError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	kind := sigerr.KindOf(err)
	logger.Error().Err(err).Str("kind", kind.String()).Msg("request failed")

	switch kind {
	case sigerr.KindMalformedToolChain:
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case sigerr.KindNoCredentialAvailable:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(err)))
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case sigerr.KindUpstream4xx:
		writeJSONError(w, upstreamStatusCode(err), err.Error())
	case sigerr.KindRateLimited, sigerr.KindRecoverableUpstream:
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// retryAfterSeconds extracts the *sigerr.Error.RetryAfter hint, defaulting
// to a conservative 5 seconds when the error carries none.
func retryAfterSeconds(err error) int {
	var e *sigerr.Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter
	}
	return 5
}

// upstreamStatusCode extracts the *sigerr.Error.StatusCode carried on a
// KindUpstream4xx error so it can be surfaced verbatim, falling back to
// Bad Gateway only when the error carries no status (should not happen on
// this path, but avoids a 0 status code if it ever does).
func upstreamStatusCode(err error) int {
	var e *sigerr.Error
	if errors.As(err, &e) && e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusBadGateway
}
