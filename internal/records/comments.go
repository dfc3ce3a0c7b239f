package records

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/comments"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Attachment is a file stored with a comment.
type Attachment struct {
	Name string
	Body []byte
}

// CommentInput is the content of a new or edited comment. On edit, nil
// GroupIDs and a nil Attachment keep the stored values.
type CommentInput struct {
	Text       string
	GroupIDs   []int64
	Attachment *Attachment
}

// AddComment stores a comment on parent written by author.
func (s *Service) AddComment(ctx context.Context, parent resource.Identity, author model.Author, input CommentInput) (model.Comment, error) {
	if err := validateIdentity(parent); err != nil {
		return model.Comment{}, newServiceError(opAddComment, "invalid_identity", err)
	}
	text := strings.TrimSpace(input.Text)
	if text == "" && input.Attachment == nil {
		return model.Comment{}, newServiceError(opAddComment, "empty_comment", fmt.Errorf("%w: text or attachment required", ErrInvalidInput))
	}
	if input.Attachment != nil && strings.TrimSpace(input.Attachment.Name) == "" {
		return model.Comment{}, newServiceError(opAddComment, "invalid_attachment", fmt.Errorf("%w: attachment name required", ErrInvalidInput))
	}

	var stored Comment
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.record(ctx, tx, parent); err != nil {
			if errors.Is(err, ErrNotFound) {
				return newServiceError(opAddComment, "missing_parent", err)
			}
			s.logError(opAddComment, "parent_select_failed", err, zap.String("parent", parent.String()))
			return newServiceError(opAddComment, "parent_select_failed", err)
		}

		stored = Comment{
			Kind:           parent.Kind.String(),
			ResourceID:     parent.ID,
			AuthorID:       author.ID,
			AuthorUsername: author.Username,
			AuthorName:     author.DisplayName,
			AuthorIsBot:    author.IsBot,
			Bot:            author.IsBot,
			Text:           text,
			GroupIDs:       joinGroups(input.GroupIDs),
			CreatedAt:      s.clock().UTC(),
		}
		if input.Attachment != nil {
			stored.AttachmentName = strings.TrimSpace(input.Attachment.Name)
			stored.AttachmentBody = input.Attachment.Body
		}
		if err := tx.Create(&stored).Error; err != nil {
			s.logError(opAddComment, "comment_insert_failed", err, zap.String("parent", parent.String()))
			return newServiceError(opAddComment, "comment_insert_failed", err)
		}
		return s.audit(tx, opAddComment, stored, author.ID, OperationAdd)
	})
	if txErr != nil {
		return model.Comment{}, txErr
	}
	return stored.Model(), nil
}

// EditComment replaces the content of a comment. Only its author or a
// system admin may edit it.
func (s *Service) EditComment(ctx context.Context, parent resource.Identity, commentID int64, editor model.User, input CommentInput) (model.Comment, error) {
	var stored Comment
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.modifiableComment(ctx, tx, opEditComment, parent, commentID, editor)
		if err != nil {
			return err
		}

		text := strings.TrimSpace(input.Text)
		if text == "" && input.Attachment == nil && existing.AttachmentName == "" {
			return newServiceError(opEditComment, "empty_comment", fmt.Errorf("%w: text or attachment required", ErrInvalidInput))
		}
		existing.Text = text
		if input.GroupIDs != nil {
			existing.GroupIDs = joinGroups(input.GroupIDs)
		}
		if input.Attachment != nil {
			existing.AttachmentName = strings.TrimSpace(input.Attachment.Name)
			existing.AttachmentBody = input.Attachment.Body
		}
		if err := tx.Save(&existing).Error; err != nil {
			s.logError(opEditComment, "comment_save_failed", err, zap.Int64("comment_id", commentID))
			return newServiceError(opEditComment, "comment_save_failed", err)
		}
		stored = existing
		return s.audit(tx, opEditComment, existing, editor.ID, OperationEdit)
	})
	if txErr != nil {
		return model.Comment{}, txErr
	}
	return stored.Model(), nil
}

// DeleteComment removes a comment. Only its author or a system admin may
// delete it.
func (s *Service) DeleteComment(ctx context.Context, parent resource.Identity, commentID int64, editor model.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.modifiableComment(ctx, tx, opDeleteComment, parent, commentID, editor)
		if err != nil {
			return err
		}
		if err := tx.Delete(&Comment{}, existing.ID).Error; err != nil {
			s.logError(opDeleteComment, "comment_delete_failed", err, zap.Int64("comment_id", commentID))
			return newServiceError(opDeleteComment, "comment_delete_failed", err)
		}
		return s.audit(tx, opDeleteComment, existing, editor.ID, OperationDelete)
	})
}

// Attachment returns the file stored with a comment.
func (s *Service) Attachment(ctx context.Context, parent resource.Identity, commentID int64) (Attachment, error) {
	stored, err := s.comment(ctx, s.db, parent, commentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Attachment{}, newServiceError(opReadAttachment, "not_found", err)
		}
		s.logError(opReadAttachment, "query_failed", err, zap.Int64("comment_id", commentID))
		return Attachment{}, newServiceError(opReadAttachment, "query_failed", err)
	}
	if stored.AttachmentName == "" {
		return Attachment{}, newServiceError(opReadAttachment, "no_attachment", fmt.Errorf("%w: comment %d has no attachment", ErrNotFound, commentID))
	}
	return Attachment{Name: stored.AttachmentName, Body: stored.AttachmentBody}, nil
}

// Changes lists the audit trail of one resource's comments, oldest first.
func (s *Service) Changes(ctx context.Context, parent resource.Identity) ([]CommentChange, error) {
	var changes []CommentChange
	err := s.db.WithContext(ctx).
		Where("kind = ? AND resource_id = ?", parent.Kind.String(), parent.ID).
		Order("applied_at_s ASC").
		Order("change_id ASC").
		Find(&changes).Error
	return changes, err
}

func (s *Service) modifiableComment(ctx context.Context, tx *gorm.DB, operation string, parent resource.Identity, commentID int64, editor model.User) (Comment, error) {
	existing, err := s.comment(ctx, tx.Clauses(clause.Locking{Strength: "UPDATE"}), parent, commentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Comment{}, newServiceError(operation, "not_found", err)
		}
		s.logError(operation, "comment_select_failed", err, zap.Int64("comment_id", commentID))
		return Comment{}, newServiceError(operation, "comment_select_failed", err)
	}
	if !comments.CanModify(editor, existing.Model()) {
		return Comment{}, newServiceError(operation, "forbidden", ErrForbidden)
	}
	return existing, nil
}

func (s *Service) comment(ctx context.Context, db *gorm.DB, parent resource.Identity, commentID int64) (Comment, error) {
	var stored Comment
	err := db.WithContext(ctx).
		Where("id = ? AND kind = ? AND resource_id = ?", commentID, parent.Kind.String(), parent.ID).
		Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Comment{}, fmt.Errorf("%w: comment %d on %s", ErrNotFound, commentID, parent)
	}
	return stored, err
}

func (s *Service) audit(tx *gorm.DB, operation string, stored Comment, actorID int64, op Operation) error {
	changeID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err, zap.Int64("comment_id", stored.ID))
		return newServiceError(operation, "id_generation_failed", err)
	}
	change := CommentChange{
		ChangeID:         changeID,
		CommentID:        stored.ID,
		Kind:             stored.Kind,
		ResourceID:       stored.ResourceID,
		ActorID:          actorID,
		Operation:        op,
		AppliedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := tx.Create(&change).Error; err != nil {
		s.logError(operation, "audit_insert_failed", err, zap.Int64("comment_id", stored.ID))
		return newServiceError(operation, "audit_insert_failed", err)
	}
	return nil
}
