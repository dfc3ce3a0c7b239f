package attachments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	"github.com/hokaccha/go-prettyjson"
	"go.uber.org/zap"
)

// UnsupportedNotice is shown in place of a preview the client cannot render.
const UnsupportedNotice = "Preview is not available for this file type. Download the attachment to view it."

var errMissingFetcher = errors.New("attachments: fetcher required")

// Ref locates one comment attachment.
type Ref struct {
	Parent    resource.Identity
	CommentID int64
	Name      string
}

// PathFunc returns the attachment endpoint path for ref.
type PathFunc func(ref Ref) string

// Fetcher downloads raw attachment bytes.
type Fetcher interface {
	Raw(ctx context.Context, path string, query url.Values) ([]byte, string, error)
	URL(path string, query url.Values) string
}

// Opener hands a URL to an external viewer.
type Opener interface {
	Open(rawURL string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(rawURL string) error

// Open calls f.
func (f OpenerFunc) Open(rawURL string) error {
	return f(rawURL)
}

// Preview is the renderable outcome of opening an attachment.
type Preview struct {
	Category  Category
	Name      string
	ShortName string
	// Body holds the fetched text for textual categories.
	Body string
	// Rendered is Body prepared for display (pretty-printed for JSON).
	Rendered string
	// URL is the inline source for media categories and the opened URL for PDFs.
	URL    string
	Notice string
	// External reports that the attachment was handed to the Opener.
	External bool
	// Cached reports that the body came from the resident slot.
	Cached bool
}

type slot struct {
	parent    resource.Identity
	commentID int64
	body      []byte
}

// holds reports whether the slot carries ref's body. Comment ids are only
// unique per parent kind, so the parent is part of the key.
func (s *slot) holds(ref Ref) bool {
	return s != nil && s.commentID == ref.CommentID && s.parent == ref.Parent
}

// ResolverConfig describes the collaborators of a Resolver.
type ResolverConfig struct {
	Fetcher Fetcher
	Path    PathFunc
	Opener  Opener
	Logger  *zap.Logger
}

// Resolver classifies attachments and lazily materialises textual bodies.
// At most one body is resident at a time: opening another comment's
// attachment evicts the previous one.
type Resolver struct {
	fetcher Fetcher
	path    PathFunc
	opener  Opener
	logger  *zap.Logger

	mu       sync.Mutex
	resident *slot
}

// NewResolver constructs a resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Fetcher == nil || cfg.Path == nil {
		return nil, errMissingFetcher
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opener := cfg.Opener
	if opener == nil {
		opener = OpenerFunc(func(rawURL string) error {
			logger.Info("attachment available externally", zap.String("url", rawURL))
			return nil
		})
	}
	return &Resolver{
		fetcher: cfg.Fetcher,
		path:    cfg.Path,
		opener:  opener,
		logger:  logger,
	}, nil
}

// PreviewURL returns the inline-renderable URL of ref.
func (r *Resolver) PreviewURL(ref Ref) string {
	return r.fetcher.URL(r.path(ref), previewQuery())
}

// DownloadURL returns the attachment-disposition URL of ref.
func (r *Resolver) DownloadURL(ref Ref) string {
	return r.fetcher.URL(r.path(ref), url.Values{"download": []string{"true"}})
}

// Open resolves the preview for ref.
func (r *Resolver) Open(ctx context.Context, ref Ref) (Preview, error) {
	category := Classify(ref.Name)
	preview := Preview{Category: category, Name: ref.Name, ShortName: Shorten(ref.Name)}

	switch {
	case category == Unsupported:
		preview.Notice = UnsupportedNotice
		return preview, nil
	case category == PDF:
		preview.URL = r.PreviewURL(ref)
		if err := r.opener.Open(preview.URL); err != nil {
			return preview, fmt.Errorf("attachments: open %s: %w", ref.Name, err)
		}
		preview.External = true
		return preview, nil
	case category.Textual():
		body, cached, err := r.body(ctx, ref)
		if err != nil {
			return preview, err
		}
		preview.Body = string(body)
		preview.Cached = cached
		preview.Rendered = render(category, body)
		return preview, nil
	default:
		preview.URL = r.PreviewURL(ref)
		return preview, nil
	}
}

// Resident returns the comment id whose body currently occupies the slot.
func (r *Resolver) Resident() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resident == nil {
		return 0, false
	}
	return r.resident.commentID, true
}

func (r *Resolver) body(ctx context.Context, ref Ref) ([]byte, bool, error) {
	r.mu.Lock()
	if r.resident.holds(ref) {
		body := r.resident.body
		r.mu.Unlock()
		return body, true, nil
	}
	r.mu.Unlock()

	body, _, err := r.fetcher.Raw(ctx, r.path(ref), previewQuery())
	if err != nil {
		r.logger.Warn("attachment fetch failed",
			zap.Int64("comment_id", ref.CommentID),
			zap.String("name", ref.Name),
			zap.Error(err))
		return nil, false, fmt.Errorf("attachments: fetch %s: %w", ref.Name, err)
	}

	r.mu.Lock()
	if r.resident != nil && !r.resident.holds(ref) {
		r.logger.Debug("evicting resident attachment",
			zap.String("parent", r.resident.parent.String()),
			zap.Int64("comment_id", r.resident.commentID))
	}
	r.resident = &slot{parent: ref.Parent, commentID: ref.CommentID, body: body}
	r.mu.Unlock()
	return body, false, nil
}

func previewQuery() url.Values {
	return url.Values{"preview": []string{"true"}, "download": []string{"false"}}
}

func render(category Category, body []byte) string {
	if category != JSON {
		return string(body)
	}
	formatted, err := prettyjson.Format(body)
	if err != nil {
		return string(body)
	}
	return string(formatted)
}
