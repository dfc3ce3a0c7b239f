package comments

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/attachments"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	"go.uber.org/zap"
)

var (
	// ErrEmptyComment indicates a submission with neither text nor attachment.
	ErrEmptyComment = errors.New("comments: text or attachment required")
	// ErrNotLoaded indicates that the parent's cache does not hold the requested resource yet.
	ErrNotLoaded = errors.New("comments: parent not loaded")
)

var errMissingAPI = errors.New("comments: api client required")

// Mutator performs the remote side of comment mutations.
type Mutator interface {
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string) error
}

// AttachmentInput is a file attached to a submitted comment.
type AttachmentInput struct {
	Name string
	Body []byte
}

// Input is the content of a new or edited comment.
type Input struct {
	Text       string
	GroupIDs   []int64
	Attachment *AttachmentInput
}

type attachmentPayload struct {
	Body string `json:"body"`
	Name string `json:"name"`
}

type commentPayload struct {
	Text       string             `json:"text"`
	GroupIDs   []int64            `json:"group_ids,omitempty"`
	Attachment *attachmentPayload `json:"attachment,omitempty"`
}

type createdPayload struct {
	CommentID int64 `json:"comment_id"`
}

// ServiceConfig wires the comment subsystem.
type ServiceConfig struct {
	API Mutator
	// Threads binds every resource kind to the cache holding its comments.
	Threads map[resource.Kind]ThreadSource
	// Associated feeds the spectrum comments merged into object threads.
	Associated AssociatedSource
	Fetcher    attachments.Fetcher
	Opener     attachments.Opener
	Logger     *zap.Logger
}

// Service creates, edits and deletes comments on any parent kind and reads
// threads back out of the caches. Mutations never touch a cache; the cache
// catches up through an explicit refetch or a push notification.
type Service struct {
	api         Mutator
	table       bindingTable
	associated  AssociatedSource
	attachments *attachments.Resolver
	logger      *zap.Logger
}

// NewService constructs the service. Every kind must be bound.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	table, err := newBindingTable(cfg.Threads)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &Service{api: cfg.API, table: table, associated: cfg.Associated, logger: logger}
	if cfg.Fetcher != nil {
		resolver, err := attachments.NewResolver(attachments.ResolverConfig{
			Fetcher: cfg.Fetcher,
			Path:    table.attachmentPath,
			Opener:  cfg.Opener,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		service.attachments = resolver
	}
	return service, nil
}

// Attachments returns the preview resolver, or nil when no fetcher was configured.
func (s *Service) Attachments() *attachments.Resolver {
	return s.attachments
}

// Add posts a new comment on parent and returns its id.
func (s *Service) Add(ctx context.Context, parent resource.Identity, input Input) (int64, error) {
	payload, err := encodeInput(input)
	if err != nil {
		return 0, err
	}
	var created createdPayload
	if err := s.api.Post(ctx, s.table.commentsPath(parent), payload, &created); err != nil {
		s.logger.Warn("comment submission failed", zap.String("parent", parent.String()), zap.Error(err))
		return 0, fmt.Errorf("comments: add on %s: %w", parent, err)
	}
	s.logger.Debug("comment added", zap.String("parent", parent.String()), zap.Int64("comment_id", created.CommentID))
	return created.CommentID, nil
}

// Edit replaces the content of an existing comment.
func (s *Service) Edit(ctx context.Context, parent resource.Identity, commentID int64, input Input) error {
	payload, err := encodeInput(input)
	if err != nil {
		return err
	}
	if err := s.api.Put(ctx, s.table.commentPath(parent, commentID), payload, nil); err != nil {
		s.logger.Warn("comment edit failed",
			zap.String("parent", parent.String()),
			zap.Int64("comment_id", commentID),
			zap.Error(err))
		return fmt.Errorf("comments: edit %d on %s: %w", commentID, parent, err)
	}
	return nil
}

// Delete removes a comment.
func (s *Service) Delete(ctx context.Context, parent resource.Identity, commentID int64) error {
	if err := s.api.Delete(ctx, s.table.commentPath(parent, commentID)); err != nil {
		s.logger.Warn("comment delete failed",
			zap.String("parent", parent.String()),
			zap.Int64("comment_id", commentID),
			zap.Error(err))
		return fmt.Errorf("comments: delete %d on %s: %w", commentID, parent, err)
	}
	return nil
}

// ThreadRequest selects the comments to display for one parent.
type ThreadRequest struct {
	Parent resource.Identity
	// IncludeAssociated merges comments of the object's spectra into an object thread.
	IncludeAssociated bool
	ShowBots          bool
	Viewer            model.User
}

// Thread reads the parent's comments out of the caches, newest first. An
// object thread with IncludeAssociated also needs the object's spectra
// loaded; otherwise it fails with ErrNotLoaded rather than dropping them.
func (s *Service) Thread(request ThreadRequest) ([]Entry, error) {
	own, err := s.read(request.Parent.Kind, request.Parent.ID)
	if err != nil {
		return nil, err
	}

	var thread []model.Comment
	if request.Parent.Kind == resource.KindObject && request.IncludeAssociated {
		var spectra []model.Comment
		if s.associated != nil {
			var ok bool
			if spectra, ok = s.associated(request.Parent.ID); !ok {
				return nil, fmt.Errorf("%w: spectra of %s", ErrNotLoaded, request.Parent.ID)
			}
		}
		thread = MergeNewestFirst(own, spectra)
	} else {
		thread = MergeNewestFirst(own)
	}

	return annotate(request.Viewer, FilterBots(thread, request.ShowBots)), nil
}

func (s *Service) read(kind resource.Kind, id string) ([]model.Comment, error) {
	thread, ok := s.table.lookup(kind).threads(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotLoaded, kind, id)
	}
	return thread, nil
}

func encodeInput(input Input) (commentPayload, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" && input.Attachment == nil {
		return commentPayload{}, ErrEmptyComment
	}
	payload := commentPayload{Text: text, GroupIDs: input.GroupIDs}
	if input.Attachment != nil {
		name := strings.TrimSpace(input.Attachment.Name)
		if name == "" {
			return commentPayload{}, fmt.Errorf("comments: attachment name required")
		}
		payload.Attachment = &attachmentPayload{
			Body: base64.StdEncoding.EncodeToString(input.Attachment.Body),
			Name: name,
		}
	}
	return payload, nil
}
