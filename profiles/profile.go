// Package profiles stores the application-level user profile that extends the
// identity record owned by the auth provider. Profiles are keyed by user id.
package profiles

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("profile not found")

// UserType is the role a user signed up as.
type UserType string

const (
	UserTypeEmployer  UserType = "employer"
	UserTypeCandidate UserType = "candidate"
	UserTypeRecruiter UserType = "recruiter"
	UserTypeAdmin     UserType = "admin"
)

type Profile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	UserType    UserType  `json:"user_type,omitempty"`
	CompanyName string    `json:"company_name,omitempty"`
	CompanySize string    `json:"company_size,omitempty"`
	Industry    string    `json:"industry,omitempty"`
	JobTitle    string    `json:"job_title,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FullName joins first and last name.
func (p *Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Fields are the profile values collected by the sign-up form.
type Fields struct {
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	UserType    UserType `json:"user_type"`
	CompanyName string   `json:"company_name"`
	CompanySize string   `json:"company_size"`
	Industry    string   `json:"industry"`
	JobTitle    string   `json:"job_title"`
	AvatarURL   string   `json:"avatar_url"`
}

// Metadata flattens the fields into the provider's user metadata map.
func (f Fields) Metadata() map[string]string {
	md := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			md[k] = v
		}
	}
	set("first_name", f.FirstName)
	set("last_name", f.LastName)
	set("user_type", string(f.UserType))
	set("company_name", f.CompanyName)
	set("company_size", f.CompanySize)
	set("industry", f.Industry)
	set("job_title", f.JobTitle)
	set("avatar_url", f.AvatarURL)
	return md
}

// FieldsFromMetadata is the inverse of Fields.Metadata.
func FieldsFromMetadata(md map[string]string) Fields {
	return Fields{
		FirstName:   md["first_name"],
		LastName:    md["last_name"],
		UserType:    UserType(md["user_type"]),
		CompanyName: md["company_name"],
		CompanySize: md["company_size"],
		Industry:    md["industry"],
		JobTitle:    md["job_title"],
		AvatarURL:   md["avatar_url"],
	}
}

// New builds a profile row for a freshly created user.
func New(userID, email string, f Fields, now time.Time) *Profile {
	userType := f.UserType
	if userType == "" {
		userType = UserTypeCandidate
	}
	return &Profile{
		ID:          userID,
		Email:       email,
		FirstName:   f.FirstName,
		LastName:    f.LastName,
		UserType:    userType,
		CompanyName: f.CompanyName,
		CompanySize: f.CompanySize,
		Industry:    f.Industry,
		JobTitle:    f.JobTitle,
		AvatarURL:   f.AvatarURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

type Reader interface {
	Get(ctx context.Context, userID string) (*Profile, error)
}

type Writer interface {
	Upsert(ctx context.Context, profile *Profile) error
}

type Repo interface {
	Reader
	Writer
	Delete(ctx context.Context, userID string) error
}
