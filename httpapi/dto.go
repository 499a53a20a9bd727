package httpapi

// Fixed response wording. These strings are part of the API contract:
// clients and tests match on them, and the generic ones are deliberately
// identical across outcomes to prevent account enumeration.
const (
	msgRegistered    = "Registration received. Check your email to verify your account."
	msgVerified      = "Email verified. You can sign in now."
	msgResent        = "If the account exists and is unverified, a new link has been sent."
	msgResetSent     = "If that email is registered, a reset link has been sent."
	msgPasswordReset = "Password has been reset. Please sign in."
	msgBadCreds      = "Email or password is incorrect."
	msgUnverified    = "Please verify your email address before signing in."
	msgSuspended     = "This account has been suspended."
	msgLocked        = "Too many failed attempts. Try again later."
	msgCaptcha       = "Captcha verification required."
	msgCaptchaFailed = "Captcha verification failed."
	msgBadToken      = "Token is invalid or expired."
	msgLinkGone      = "This verification link is invalid or has expired."
	msgBadResetToken = "This reset link is invalid or has expired."
	msgBadOTP        = "Invalid one-time code."
	msgChallengeGone = "Challenge expired. Please sign in again."
	msgForbidden     = "You do not have permission to perform this action."
	msgInternal      = "Something went wrong. Please try again."
)

type registerRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captchaToken"`
}

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captchaToken,omitempty"`
}

type loginResponse struct {
	Requires2FA  bool   `json:"requires2fa"`
	ChallengeID  string `json:"challengeId,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int    `json:"expiresIn,omitempty"`
}

type twoFactorVerifyRequest struct {
	ChallengeID  string `json:"challengeId"`
	OTP          string `json:"otp,omitempty"`
	RecoveryCode string `json:"recoveryCode,omitempty"`
	CaptchaToken string `json:"captchaToken,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type enableCompleteRequest struct {
	OTP string `json:"otp"`
}

type enableInitResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURL string `json:"provisioningUrl"`
}

type enableCompleteResponse struct {
	RecoveryCodes []string `json:"recoveryCodes"`
}

type disableMFARequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

type regenerateCodesRequest struct {
	Password string `json:"password"`
	OTP      string `json:"otp"`
}

type meResponse struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	MFA       bool   `json:"mfaEnabled"`
	SessionID string `json:"sessionId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
