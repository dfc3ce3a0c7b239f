package records

import (
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
)

// Operation enumerates audited comment mutations.
type Operation string

const (
	OperationAdd    Operation = "add"
	OperationEdit   Operation = "edit"
	OperationDelete Operation = "delete"
)

const maxIdentifierLength = 190

// Record is one stored resource of any kind. Payload holds the resource
// fields except its comments, which live in their own table.
type Record struct {
	Kind        string    `gorm:"column:kind;primaryKey;size:32;not null;index:idx_records_kind_parent,priority:1"`
	ResourceID  string    `gorm:"column:resource_id;primaryKey;size:190;not null"`
	ParentID    string    `gorm:"column:parent_id;size:190;not null;default:'';index:idx_records_kind_parent,priority:2"`
	PayloadJSON string    `gorm:"column:payload_json;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "records"
}

// Identity returns the resource identity of the record.
func (r Record) Identity() resource.Identity {
	kind, _ := resource.ParseKind(r.Kind)
	return resource.Identity{Kind: kind, ID: r.ResourceID}
}

// Comment is a stored comment. Author fields are denormalised so threads can
// be served without joining accounts.
type Comment struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Kind           string    `gorm:"column:kind;size:32;not null;index:idx_comments_parent,priority:1"`
	ResourceID     string    `gorm:"column:resource_id;size:190;not null;index:idx_comments_parent,priority:2"`
	AuthorID       int64     `gorm:"column:author_id;not null"`
	AuthorUsername string    `gorm:"column:author_username;size:190;not null"`
	AuthorName     string    `gorm:"column:author_display_name;size:320"`
	AuthorIsBot    bool      `gorm:"column:author_is_bot;not null;default:false"`
	Bot            bool      `gorm:"column:bot;not null;default:false"`
	Text           string    `gorm:"column:text;type:text;not null"`
	GroupIDs       string    `gorm:"column:group_ids;size:512"`
	AttachmentName string    `gorm:"column:attachment_name;size:512"`
	AttachmentBody []byte    `gorm:"column:attachment_body"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// Model converts the stored row into the wire representation.
func (c Comment) Model() model.Comment {
	kind, _ := resource.ParseKind(c.Kind)
	return model.Comment{
		ID: c.ID,
		Author: model.Author{
			ID:          c.AuthorID,
			Username:    c.AuthorUsername,
			DisplayName: c.AuthorName,
			IsBot:       c.AuthorIsBot,
		},
		CreatedAt:      c.CreatedAt.UTC(),
		Text:           c.Text,
		AttachmentName: c.AttachmentName,
		Groups:         splitGroups(c.GroupIDs),
		Bot:            c.Bot,
		Parent:         resource.Identity{Kind: kind, ID: c.ResourceID},
	}
}

// CommentChange is the append-only audit trail of comment mutations.
type CommentChange struct {
	ChangeID         string    `gorm:"column:change_id;primaryKey;size:190;not null"`
	CommentID        int64     `gorm:"column:comment_id;not null;index"`
	Kind             string    `gorm:"column:kind;size:32;not null"`
	ResourceID       string    `gorm:"column:resource_id;size:190;not null"`
	ActorID          int64     `gorm:"column:actor_id;not null"`
	Operation        Operation `gorm:"column:op;size:16;not null"`
	AppliedAtSeconds int64     `gorm:"column:applied_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CommentChange) TableName() string {
	return "comment_changes"
}

func joinGroups(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

func splitGroups(raw string) []model.Group {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	groups := make([]model.Group, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		groups = append(groups, model.Group{ID: id})
	}
	return groups
}
