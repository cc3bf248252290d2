package domain

import "time"

type Credentials struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is zero when the expiry is unknown.
	ExpiresAt time.Time
}

func (c Credentials) HasAccessToken() bool {
	return c.AccessToken != ""
}

// ExpiringWithin reports whether the access token expires before now+skew.
// Unknown expiry counts as not expiring.
func (c Credentials) ExpiringWithin(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !c.ExpiresAt.After(now.Add(skew))
}
