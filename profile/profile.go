// Package profile owns the application-side user record and its
// synchronization with provider sessions.
//
// A Profile is keyed by the provider subject ID. It is created on the first
// successful sign-in, updated when fresher session claims arrive, and never
// deleted by the auth core. Profile storage may fail independently of the
// session fetch; the session store degrades gracefully when it does.
package profile

import (
	"strings"
	"time"

	"github.com/getplacekit/placekit/provider"
)

// Profile is the mutable application record for a user.
type Profile struct {
	SubjectID   string    `gorm:"primaryKey" json:"subject_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	Bio         string    `json:"bio"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

// DisplayNameFor derives a human-readable name from session claims alone.
// Used both for first-time profile creation and for degraded identities when
// profile storage is unavailable.
func DisplayNameFor(sess provider.Session) string {
	if sess.Name != "" {
		return sess.Name
	}
	if sess.Email != "" {
		if at := strings.IndexByte(sess.Email, '@'); at > 0 {
			return sess.Email[:at]
		}
		return sess.Email
	}
	return sess.SubjectID
}
