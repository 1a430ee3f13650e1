package models

import "fmt"

// UserProfile is the account snapshot fetched at login.
type UserProfile struct {
	ID        ID        `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt Timestamp `json:"created_at"`
}

// Validate reports whether the profile can back a session.
func (p UserProfile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile has no id")
	}
	return nil
}

// Session is the client-side authentication state.
//
// Profile is non-nil exactly when Credential is non-empty.
type Session struct {
	Credential string       `json:"-"`
	Profile    *UserProfile `json:"profile,omitempty"`
	Loading    bool         `json:"loading"`
}

// Authenticated reports whether the session holds a credential and profile.
func (s Session) Authenticated() bool {
	return s.Credential != "" && s.Profile != nil
}
