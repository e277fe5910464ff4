package provider

import apperrors "github.com/jrsteele09/primehr-session/internal/errors"

// Errors returned by Client implementations.
var (
	ErrInvalidCredentials   = apperrors.ErrInvalidCredentials
	ErrEmailNotConfirmed    = apperrors.ErrEmailNotConfirmed
	ErrUserAlreadyExists    = apperrors.ErrUserAlreadyExists
	ErrWeakPassword         = apperrors.ErrWeakPassword
	ErrUnknownOAuthProvider = apperrors.ErrUnknownOAuthProvider
	ErrInvalidState         = apperrors.ErrInvalidState
	ErrSessionNotFound      = apperrors.ErrSessionNotFound
	ErrInvalidToken         = apperrors.ErrInvalidToken
)
