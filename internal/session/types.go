package session

import (
	"github.com/pkuntong/highlanderhomes-sub002/internal/wire"
)

// Function paths used by the controller.
const (
	pathSignUp                = "auth:signUp"
	pathSignIn                = "auth:signIn"
	pathSignInWithApple       = "auth:signInWithApple"
	pathResetPassword         = "auth:resetPassword"
	pathSendVerificationEmail = "auth:sendVerificationEmail"
	pathVerifyEmail           = "auth:verifyEmail"
	pathChangePassword        = "auth:changePassword"
	pathCurrentUser           = "users:current"
	pathUpdateUser            = "users:update"
	pathDeleteAccount         = "users:deleteAccount"
)

// User is the signed-in account's profile.
type User struct {
	ID            string      `json:"_id"`
	Email         string      `json:"email"`
	Name          string      `json:"name,omitempty"`
	EmailVerified bool        `json:"emailVerified"`
	AvatarURL     string      `json:"avatarURL,omitempty"`
	CreatedAt     wire.Millis `json:"createdAt"`
}

// authResult is the value returned by the sign-in style actions.
type authResult struct {
	Token            string `json:"token"`
	User             *User  `json:"user"`
	VerificationSent bool   `json:"verificationSent"`
}

// SignUpArgs are the arguments of auth:signUp.
type SignUpArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// SignInArgs are the arguments of auth:signIn.
type SignInArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AppleSignInArgs are the arguments of auth:signInWithApple. Only the identity
// token is verified by the backend; name and email are hints the platform
// supplies on first sign-in.
type AppleSignInArgs struct {
	IdentityToken string `json:"identityToken"`
	FullName      string `json:"fullName,omitempty"`
	Email         string `json:"email,omitempty"`
}

type emailArgs struct {
	Email string `json:"email"`
}

// VerifyEmailArgs are the arguments of auth:verifyEmail.
type VerifyEmailArgs struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type changePasswordArgs struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ProfileUpdate is the argument of users:update. Nil fields are left
// unchanged.
type ProfileUpdate struct {
	Name      *string `json:"name,omitempty"`
	Email     *string `json:"email,omitempty"`
	AvatarURL *string `json:"avatarURL,omitempty"`
}

// SignUpResult reports the outcome of SignUp.
type SignUpResult struct {
	// VerificationSent is true when the backend sent a verification email
	// instead of starting a session.
	VerificationSent bool
}

// State is a snapshot of the session.
type State struct {
	// Loading is true until the launch-time restore attempt has resolved.
	Loading             bool
	Authenticated       bool
	PendingVerification bool
	// PendingEmail is the address awaiting verification.
	PendingEmail string
	User         *User
	Token        string
}

// CredentialEvent is emitted whenever the credential is set or cleared.
type CredentialEvent struct {
	// Token is the new credential; empty when it was cleared.
	Token  string
	UserID string
}

// Cleared reports whether the event removed the credential.
func (e CredentialEvent) Cleared() bool {
	return e.Token == ""
}
