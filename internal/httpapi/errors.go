package httpapi

import (
	"errors"
	"net/http"

	"github.com/fabfab/ragsentry/internal/domain"
)

// statusForKind maps the closed error-kind taxonomy to HTTP status codes,
// per spec.md §6.
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindMessageBlocked:
		return http.StatusUnprocessableEntity
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	// KindEmbeddingUnavailable, KindLLMExhausted, KindWebSearchUnavailable and
	// KindGuardianUnavailable share this same "upstream_unavailable" value.
	case domain.KindLLMUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func statusAndBodyFor(err error) (int, map[string]any) {
	var de *domain.Error
	if errors.As(err, &de) {
		return statusForKind(de.Kind), map[string]any{"error": string(de.Kind), "message": de.Msg}
	}

	var blocked *domain.MessageBlockedError
	if errors.As(err, &blocked) {
		return http.StatusUnprocessableEntity, map[string]any{
			"error":        "message_blocked",
			"reason":       blocked.Verdict.Reason,
			"threat_level": string(blocked.Verdict.ThreatLevel),
		}
	}

	var limited *domain.RateLimitedError
	if errors.As(err, &limited) {
		return http.StatusTooManyRequests, map[string]any{
			"error":            "rate_limited",
			"retry_after_secs": limited.RetryAfter.Seconds(),
		}
	}

	return http.StatusInternalServerError, map[string]any{"error": "internal", "message": err.Error()}
}
