package models

import "github.com/golang-jwt/jwt/v5"

// SessionClaims is the JWT payload handed to HTTP clients after sign in.
type SessionClaims struct {
	Identity  string `json:"identity"`
	Email     string `json:"email"`
	LoginTime int64  `json:"login_time"`
	jwt.RegisteredClaims
}

// SessionToken is returned by the session endpoints.
type SessionToken struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// SessionResponse pairs the session with a token when one was issued.
type SessionResponse struct {
	Session *Session      `json:"session"`
	Token   *SessionToken `json:"token,omitempty"`
}

// AcademicYearRequest switches the active academic year.
type AcademicYearRequest struct {
	AcademicYear string `json:"academicYear" binding:"required"`
}
