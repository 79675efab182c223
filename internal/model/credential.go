package model

import "time"

// UserCredential is the stored OAuth credential for one platform user. There
// is at most one row per user; a refresh means an in-place update, and the
// subsystem never deletes a credential (disconnecting an account is handled
// elsewhere).
//
// ExpiresAt is epoch seconds; nil means the expiry has never been validated
// and the token must be treated as expired.
type UserCredential struct {
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    *int64    `json:"expiresAt"`
	Scope        string    `json:"scope"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Connected reports whether the credential can mint new access tokens. A
// stored access token without a refresh token counts as not connected — once
// it expires there is no way back without re-authorization.
func (c *UserCredential) Connected() bool {
	return c != nil && c.RefreshToken != ""
}

// ExpiresIn returns the remaining lifetime of the access token at the given
// instant. Unknown expiry reads as already expired.
func (c *UserCredential) ExpiresIn(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return time.Unix(*c.ExpiresAt, 0).Sub(now)
}
