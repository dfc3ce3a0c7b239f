package model

import (
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
)

// PermissionSystemAdmin is the elevated permission that unlocks destructive
// actions on every comment.
const PermissionSystemAdmin = "System admin"

// Author references the user that wrote a comment.
type Author struct {
	ID          int64  `json:"id,omitempty"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"gravatar_url,omitempty"`
	IsBot       bool   `json:"is_bot"`
}

// Group is a visibility scope of a comment.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// Comment is a markdown note attached to exactly one parent resource.
type Comment struct {
	ID             int64     `json:"id"`
	Author         Author    `json:"author"`
	CreatedAt      time.Time `json:"created_at"`
	Text           string    `json:"text"`
	AttachmentName string    `json:"attachment_name,omitempty"`
	Groups         []Group   `json:"groups,omitempty"`
	Bot            bool      `json:"bot"`

	// Parent is filled in from the resource that carried the comment.
	Parent resource.Identity `json:"-"`
}

// HasAttachment reports whether the comment carries an attachment.
func (c Comment) HasAttachment() bool {
	return c.AttachmentName != ""
}

// FromBot reports whether the comment was written by an automated account.
func (c Comment) FromBot() bool {
	return c.Bot || c.Author.IsBot
}

func bindParent(comments []Comment, parent resource.Identity) []Comment {
	if len(comments) == 0 {
		return nil
	}
	bound := make([]Comment, len(comments))
	copy(bound, comments)
	for index := range bound {
		bound[index].Parent = parent
	}
	return bound
}
