package models

import (
	"fmt"
	"time"
)

// SessionState is a step of the login and profile-completion flow.
type SessionState string

const (
	SessionAnonymous              SessionState = "anonymous"
	SessionAuthenticatedNoProfile SessionState = "authenticated_no_profile"
	SessionAuthenticatedComplete  SessionState = "authenticated_complete"
)

// TeacherProfile is the stored profile of the logged-in teacher.
type TeacherProfile struct {
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Subject       string    `json:"subject"`
	SchoolName    string    `json:"schoolName"`
	ClassStandard string    `json:"classStandard"`
	Division      string    `json:"division,omitempty"`
	AcademicYear  string    `json:"academicYear"`
	PhoneNumber   string    `json:"phoneNumber,omitempty"`
	PhotoURL      string    `json:"photoUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// IsComplete reports whether the profile carries every field the roster needs.
func (p *TeacherProfile) IsComplete() bool {
	if p == nil {
		return false
	}
	return p.Name != "" && p.Subject != "" && p.SchoolName != "" && p.ClassStandard != "" && p.AcademicYear != ""
}

// Session is the persisted record of who is logged in and which year is in view.
type Session struct {
	Identity           string          `json:"identity"`
	Email              string          `json:"email"`
	State              SessionState    `json:"state"`
	Profile            *TeacherProfile `json:"profile,omitempty"`
	ActiveAcademicYear string          `json:"activeAcademicYear"`
	LoginTime          time.Time       `json:"loginTime"`
	RememberMe         bool            `json:"rememberMe"`
}

// Scope returns the roster visibility scope of the session.
func (s *Session) Scope() Scope {
	if s == nil {
		return Scope{}
	}
	scope := Scope{OwnerID: s.Identity, AcademicYear: s.ActiveAcademicYear}
	if s.Profile != nil {
		scope.ClassStandard = s.Profile.ClassStandard
		scope.Division = s.Profile.Division
	}
	return scope
}

// ProfileInput is submitted to complete a new teacher profile.
type ProfileInput struct {
	Name          string `json:"name" validate:"required,min=2"`
	Subject       string `json:"subject" validate:"required"`
	SchoolName    string `json:"schoolName" validate:"required"`
	ClassStandard string `json:"classStandard" validate:"required"`
	Division      string `json:"division"`
	AcademicYear  string `json:"academicYear" validate:"required,academicyear"`
	PhoneNumber   string `json:"phoneNumber" validate:"omitempty,len=10,numeric"`
	PhotoURL      string `json:"photoUrl" validate:"omitempty,url"`
}

// ProfilePatch carries a partial profile edit.
type ProfilePatch struct {
	Name          *string `json:"name,omitempty" validate:"omitempty,min=2"`
	Subject       *string `json:"subject,omitempty" validate:"omitempty,min=1"`
	SchoolName    *string `json:"schoolName,omitempty" validate:"omitempty,min=1"`
	ClassStandard *string `json:"classStandard,omitempty" validate:"omitempty,min=1"`
	Division      *string `json:"division,omitempty"`
	AcademicYear  *string `json:"academicYear,omitempty" validate:"omitempty,academicyear"`
	PhoneNumber   *string `json:"phoneNumber,omitempty" validate:"omitempty,len=10,numeric"`
	PhotoURL      *string `json:"photoUrl,omitempty" validate:"omitempty,url"`
}

// Apply merges the non-nil fields into p.
func (patch ProfilePatch) Apply(p *TeacherProfile) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.Name, patch.Name)
	set(&p.Subject, patch.Subject)
	set(&p.SchoolName, patch.SchoolName)
	set(&p.ClassStandard, patch.ClassStandard)
	set(&p.Division, patch.Division)
	set(&p.AcademicYear, patch.AcademicYear)
	set(&p.PhoneNumber, patch.PhoneNumber)
	set(&p.PhotoURL, patch.PhotoURL)
}

// LoginRequest carries teacher credentials.
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

// RegisterRequest creates a teacher account.
type RegisterRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=6"`
	RememberMe bool   `json:"rememberMe"`
}

// Account is a teacher login identity.
type Account struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// CurrentAcademicYear returns the YYYY-YYYY year containing at. A new academic
// year starts in June.
func CurrentAcademicYear(at time.Time) string {
	start := at.Year()
	if at.Month() < time.June {
		start--
	}
	return fmt.Sprintf("%d-%d", start, start+1)
}
