package authkit

// ============================================================================
// Principal
// ============================================================================

// Principal is the authenticated user record for the portal. It is owned by
// the StateStore for the lifetime of the session: replaced wholesale on
// login/refresh and cleared on logout.
type Principal struct {
	// ID is the unique identifier for the user
	ID string `json:"id" validate:"required"`

	// Username is the user's login username
	Username string `json:"username" validate:"required"`

	// DisplayName is the user's preferred display name
	DisplayName string `json:"display_name"`

	// Email is the user's contact email
	Email string `json:"email"`

	// Role flags. A user may carry more than one.
	IsAdmin           bool `json:"is_admin"`
	IsFaculty         bool `json:"is_faculty"`
	IsReviewer        bool `json:"is_reviewer"`
	IsProviderPartner bool `json:"is_provider_partner"`

	// MFAEnabled reports whether the account has a TOTP factor configured.
	// When true the session is only fully trusted after step-up verification.
	MFAEnabled bool `json:"is_mfa_enabled"`

	// SSOLinked reports whether the account is linked to an external
	// identity provider.
	SSOLinked bool `json:"sso_linked"`
}

// ============================================================================
// Wire Types
// ============================================================================

// LoginRequest is the credential login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SignupRequest is the account creation request body. It is validated
// client-side before submission; the server remains authoritative.
type SignupRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=32"`
	DisplayName string `json:"display_name" validate:"required,max=64"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
}

// SessionResponse is returned by both the login and signup endpoints. The
// embedded principal carries is_mfa_enabled, which decides whether the
// session starts complete or pending step-up.
type SessionResponse struct {
	Token string    `json:"token" validate:"required"`
	User  Principal `json:"user" validate:"required"`
}

// SSOSessionResponse is returned by the SSO session exchange endpoint when
// the browser already holds an external identity-provider session.
type SSOSessionResponse struct {
	Token string `json:"token" validate:"required"`
}

// MFAVerifyRequest submits a one-time code against a pending session.
type MFAVerifyRequest struct {
	Code string `json:"code"` // 6-digit TOTP code
}

// MFAVerifyResponse reports whether the submitted code was accepted.
type MFAVerifyResponse struct {
	Success bool `json:"success"`
}

// MFAActivateRequest enrolls a TOTP factor using a code generated by an
// external authenticator app. Secret provisioning is a server concern.
type MFAActivateRequest struct {
	Code string `json:"code"`
}
