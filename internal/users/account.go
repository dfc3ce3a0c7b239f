package users

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
)

const permissionSeparator = ","

// Account is a sandbox user together with the API token it authenticates with.
type Account struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Username        string    `gorm:"column:username;size:190;not null;uniqueIndex"`
	DisplayName     string    `gorm:"column:display_name;size:320"`
	IsBot           bool      `gorm:"column:is_bot;not null;default:false"`
	Permissions     string    `gorm:"column:permissions;size:1024"`
	HideBotComments bool      `gorm:"column:hide_bot_comments;not null;default:false"`
	APIToken        string    `gorm:"column:api_token;size:64;not null;uniqueIndex"`
	LastSeenAt      time.Time `gorm:"column:last_seen_at"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "accounts"
}

// PermissionList splits the stored permission column.
func (a Account) PermissionList() []string {
	if a.Permissions == "" {
		return nil
	}
	parts := strings.Split(a.Permissions, permissionSeparator)
	permissions := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := normalize(part); trimmed != "" {
			permissions = append(permissions, trimmed)
		}
	}
	return permissions
}

// User is the profile served to clients.
func (a Account) User() model.User {
	return model.User{
		ID:          a.ID,
		Username:    a.Username,
		Permissions: a.PermissionList(),
		Preferences: model.Preferences{HideBotComments: a.HideBotComments},
	}
}

// Author is the account as it appears on comments it wrote.
func (a Account) Author() model.Author {
	return model.Author{
		ID:          a.ID,
		Username:    a.Username,
		DisplayName: a.DisplayName,
		IsBot:       a.IsBot,
	}
}

func joinPermissions(permissions []string) string {
	seen := make(map[string]struct{}, len(permissions))
	kept := make([]string, 0, len(permissions))
	for _, permission := range permissions {
		trimmed := normalize(permission)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, permissionSeparator)
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
