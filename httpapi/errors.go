package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"authgate"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageResponse{Message: message})
}

// writeError maps engine errors onto the response contract. Anything
// unrecognized is a 500 with a generic body; the detail goes to the log
// only.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *authgate.ValidationError
	var lockErr *authgate.LockoutError

	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: vErr.Message, Code: "validation_error"})
	case errors.As(err, &lockErr):
		retry := int(lockErr.RetryAfter().Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusLocked, errorResponse{Error: msgLocked, Code: "account_locked"})
	case errors.Is(err, authgate.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgBadCreds, Code: "invalid_credentials"})
	case errors.Is(err, authgate.ErrAccountUnverified):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: msgUnverified, Code: "account_unverified"})
	case errors.Is(err, authgate.ErrAccountSuspended):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: msgSuspended, Code: "account_suspended"})
	case errors.Is(err, authgate.ErrCaptchaRequired):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgCaptcha, Code: "captcha_required"})
	case errors.Is(err, authgate.ErrCaptchaFailed):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgCaptchaFailed, Code: "captcha_failed"})
	case errors.Is(err, authgate.ErrTokenInvalid):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgBadToken, Code: "token_invalid"})
	case errors.Is(err, authgate.ErrUserNotFound):
		// A valid token whose account no longer exists.
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgBadToken, Code: "token_invalid"})
	case errors.Is(err, authgate.ErrChallengeExpired):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgChallengeGone, Code: "challenge_expired"})
	case errors.Is(err, authgate.ErrInvalidOTP):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgBadOTP, Code: "invalid_otp"})
	case errors.Is(err, authgate.ErrVerificationExpired):
		writeJSON(w, http.StatusGone, errorResponse{Error: msgLinkGone, Code: "verification_expired"})
	case errors.Is(err, authgate.ErrResetTokenInvalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgBadResetToken, Code: "reset_token_invalid"})
	case errors.Is(err, authgate.ErrMFAAlreadyEnabled):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "Two-factor authentication is already enabled.", Code: "mfa_already_enabled"})
	case errors.Is(err, authgate.ErrMFANotEnabled):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Two-factor authentication is not enabled.", Code: "mfa_not_enabled"})
	case errors.Is(err, authgate.ErrEnrollmentNotFound):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Start two-factor setup first.", Code: "enrollment_not_found"})
	case errors.Is(err, authgate.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: msgForbidden, Code: "forbidden"})
	default:
		s.log.ErrorContext(r.Context(), "internal error",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternal, Code: "internal"})
	}
}

// decodeBody reads a JSON request body into dst with a size cap.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Malformed request body.", Code: "validation_error"})
		return false
	}
	return true
}
