package users

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// Identity providers a user can be linked to
const (
	ProviderEmail    = "email"
	ProviderGoogle   = "google"
	ProviderLinkedIn = "linkedin_oidc"
)

// Identity links a user to an account at an external identity provider.
type Identity struct {
	Provider       string    `json:"provider"`
	ProviderUserID string    `json:"provider_user_id"`
	LinkedAt       time.Time `json:"linked_at"`
}

type User struct {
	ID           string            `json:"id,omitempty"`          // Unique identifier for the user
	Email        string            `json:"email,omitempty"`       // Normalised email address
	PasswordHash string            `json:"-"`                     // bcrypt hash, empty for OAuth-only users
	Metadata     map[string]string `json:"metadata,omitempty"`    // Sign-up metadata (name, user type, company)
	Identities   []Identity        `json:"identities,omitempty"`  // Linked identity providers
	DateJoined   time.Time         `json:"date_joined,omitempty"` // Date and time when the user registered
	LastLogin    time.Time         `json:"last_login,omitempty"`  // Last time the user signed in
	ConfirmedAt  *time.Time        `json:"confirmed_at,omitempty"`
	Blocked      bool              `json:"blocked,omitempty"` // Blocked, has the user been blocked from signing in
}

// Confirmed reports whether the user has completed the email confirmation step.
func (u *User) Confirmed() bool {
	return u.ConfirmedAt != nil
}

// PrimaryProvider is the provider of the first linked identity.
func (u *User) PrimaryProvider() string {
	if len(u.Identities) == 0 {
		return ProviderEmail
	}
	return u.Identities[0].Provider
}

func (u *User) HasIdentity(provider, providerUserID string) bool {
	for _, id := range u.Identities {
		if id.Provider == provider && id.ProviderUserID == providerUserID {
			return true
		}
	}
	return false
}

// NormaliseEmail lower-cases and trims an email address and checks it parses.
func NormaliseEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("invalid email address %q", email)
	}
	return email, nil
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	if hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
