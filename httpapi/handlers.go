package httpapi

import "net/http"

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.Register(r.Context(), req.Email, req.Password, req.CaptchaToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	// Identical response whether or not the email was already taken.
	writeMessage(w, http.StatusOK, msgRegistered)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if err := s.engine.VerifyEmail(r.Context(), token); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, msgVerified)
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.ResendVerification(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, msgResent)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.engine.Login(r.Context(), req.Email, req.Password, req.CaptchaToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Requires2FA {
		writeJSON(w, http.StatusOK, loginResponse{Requires2FA: true, ChallengeID: res.ChallengeID})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		ExpiresIn:    res.Tokens.ExpiresIn,
	})
}

func (s *Server) handleTwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	var req twoFactorVerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.engine.ConfirmLoginMFA(r.Context(), req.ChallengeID, req.OTP, req.RecoveryCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		ExpiresIn:    res.Tokens.ExpiresIn,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pair, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.Logout(r.Context(), req.RefreshToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.ForgotPassword(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, msgResetSent)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, msgPasswordReset)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	user, err := s.engine.User(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		Status:    string(user.Status),
		MFA:       user.MFAEnabled,
		SessionID: id.SessionID,
	})
}

func (s *Server) handleEnableInit(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	secret, provURL, err := s.engine.BeginMFAEnrollment(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enableInitResponse{Secret: secret, ProvisioningURL: provURL})
}

func (s *Server) handleEnableComplete(w http.ResponseWriter, r *http.Request) {
	var req enableCompleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, _ := identityFrom(r.Context())
	codes, err := s.engine.CompleteMFAEnrollment(r.Context(), id.UserID, req.OTP)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enableCompleteResponse{RecoveryCodes: codes})
}

func (s *Server) handleDisableMFA(w http.ResponseWriter, r *http.Request) {
	var req disableMFARequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, _ := identityFrom(r.Context())
	if err := s.engine.DisableMFA(r.Context(), id.UserID, req.Password, req.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Two-factor authentication disabled.")
}

func (s *Server) handleRegenerateCodes(w http.ResponseWriter, r *http.Request) {
	var req regenerateCodesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, _ := identityFrom(r.Context())
	codes, err := s.engine.RegenerateRecoveryCodes(r.Context(), id.UserID, req.Password, req.OTP)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enableCompleteResponse{RecoveryCodes: codes})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, _ := identityFrom(r.Context())
	err := s.engine.ChangePassword(r.Context(), id.UserID, req.CurrentPassword, req.NewPassword, id.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password changed.")
}
