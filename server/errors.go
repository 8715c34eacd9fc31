package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/backoff"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/clock"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
)

// APIError is the standard error response for RGS APIs.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, code int, errMsg, codeStr string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(APIError{
		Error:   errMsg,
		Code:    codeStr,
		Message: errMsg,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps engine errors onto an HTTP status and a stable code string.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, round.ErrWrongPhase):
		return http.StatusConflict, "wrong_phase"
	case errors.Is(err, round.ErrAlreadyWagered):
		return http.StatusConflict, "already_wagered"
	case errors.Is(err, round.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, round.ErrRateLimited), errors.Is(err, backoff.ErrBlocked):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, round.ErrUnknownGame):
		return http.StatusNotFound, "unknown_game"
	case errors.Is(err, round.ErrInvalidWager), errors.Is(err, clock.ErrInvalidRoundID):
		return http.StatusBadRequest, "invalid"
	}
	return http.StatusInternalServerError, "unexpected"
}

// writeErr renders err. retryAt, when set, becomes Retry-After on 429s.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error, retryAt time.Time) {
	code, codeStr := statusOf(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	if code == http.StatusTooManyRequests {
		secs := 1
		if !retryAt.IsZero() {
			if d := retryAt.Sub(s.now()); d > 0 {
				secs = int((d + time.Second - 1) / time.Second)
			}
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeError(w, code, msg, codeStr)
}
