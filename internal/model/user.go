package model

import "slices"

// Preferences holds the persisted per-user view settings the client reads at mount time.
type Preferences struct {
	HideBotComments bool `json:"hideBotComments"`
}

// User is the profile of the account the client acts as.
type User struct {
	ID          int64       `json:"id"`
	Username    string      `json:"username"`
	Permissions []string    `json:"permissions"`
	Preferences Preferences `json:"preferences"`
}

// HasPermission reports whether the user holds the named permission.
func (u User) HasPermission(name string) bool {
	return slices.Contains(u.Permissions, name)
}
