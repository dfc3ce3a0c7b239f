package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageSize = 10
	maxPageSize     = 500
)

var (
	noOpLogger   = zap.NewNop()
	filterKeyRE  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	sortColumnOf = map[string]string{
		"":           "created_at",
		"id":         "resource_id",
		"created_at": "created_at",
		"updated_at": "updated_at",
	}
)

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service stores the resources and comment threads served by the sandbox.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Resource is a stored record together with its comment thread, oldest first.
type Resource struct {
	Record   Record
	Comments []model.Comment
}

// Document merges the stored payload with the comment thread into the body
// served by the REST surface.
func (r Resource) Document() (map[string]any, error) {
	document := make(map[string]any)
	decoder := json.NewDecoder(strings.NewReader(r.Record.PayloadJSON))
	decoder.UseNumber()
	if err := decoder.Decode(&document); err != nil {
		return nil, err
	}
	comments := r.Comments
	if comments == nil {
		comments = []model.Comment{}
	}
	document["comments"] = comments
	return document, nil
}

// Page is one slice of a listing.
type Page struct {
	Resources  []Resource
	Total      int64
	PageNumber int
	PageSize   int
}

// PutRecord creates or replaces the payload of a resource. parentID links
// child resources such as spectra to their object.
func (s *Service) PutRecord(ctx context.Context, identity resource.Identity, parentID string, payload json.RawMessage) (Record, error) {
	if err := validateIdentity(identity); err != nil {
		return Record{}, newServiceError(opPutRecord, "invalid_identity", err)
	}
	var probe map[string]any
	if err := json.Unmarshal(payload, &probe); err != nil || probe == nil {
		return Record{}, newServiceError(opPutRecord, "invalid_payload", fmt.Errorf("%w: payload must be a json object", ErrInvalidInput))
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return Record{}, newServiceError(opPutRecord, "invalid_payload", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}

	record := Record{
		Kind:        identity.Kind.String(),
		ResourceID:  identity.ID,
		ParentID:    strings.TrimSpace(parentID),
		PayloadJSON: compact.String(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "resource_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"parent_id", "payload_json", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		s.logError(opPutRecord, "save_failed", err, zap.String("identity", identity.String()))
		return Record{}, newServiceError(opPutRecord, "save_failed", err)
	}
	return record, nil
}

// Resource loads one resource with its comments.
func (s *Service) Resource(ctx context.Context, identity resource.Identity) (Resource, error) {
	if err := validateIdentity(identity); err != nil {
		return Resource{}, newServiceError(opReadResource, "invalid_identity", err)
	}
	record, err := s.record(ctx, s.db, identity)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Resource{}, newServiceError(opReadResource, "not_found", err)
		}
		s.logError(opReadResource, "query_failed", err, zap.String("identity", identity.String()))
		return Resource{}, newServiceError(opReadResource, "query_failed", err)
	}
	resources, err := s.attachComments(ctx, identity.Kind, []Record{record})
	if err != nil {
		s.logError(opReadResource, "comments_query_failed", err, zap.String("identity", identity.String()))
		return Resource{}, newServiceError(opReadResource, "comments_query_failed", err)
	}
	return resources[0], nil
}

// Record loads the stored row of a resource without its comments.
func (s *Service) Record(ctx context.Context, identity resource.Identity) (Record, error) {
	if err := validateIdentity(identity); err != nil {
		return Record{}, newServiceError(opReadResource, "invalid_identity", err)
	}
	record, err := s.record(ctx, s.db, identity)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, newServiceError(opReadResource, "not_found", err)
		}
		s.logError(opReadResource, "query_failed", err, zap.String("identity", identity.String()))
		return Record{}, newServiceError(opReadResource, "query_failed", err)
	}
	return record, nil
}

// Children loads every resource of kind linked to parentID, in creation order.
func (s *Service) Children(ctx context.Context, kind resource.Kind, parentID string) ([]Resource, error) {
	if !kind.Valid() {
		return nil, newServiceError(opListResources, "invalid_kind", resource.ErrUnknownKind)
	}
	var rows []Record
	if err := s.db.WithContext(ctx).
		Where("kind = ? AND parent_id = ?", kind.String(), parentID).
		Order("created_at ASC").
		Order("resource_id ASC").
		Find(&rows).Error; err != nil {
		s.logError(opListResources, "query_failed", err, zap.String("parent_id", parentID))
		return nil, newServiceError(opListResources, "query_failed", err)
	}
	resources, err := s.attachComments(ctx, kind, rows)
	if err != nil {
		s.logError(opListResources, "comments_query_failed", err, zap.String("parent_id", parentID))
		return nil, newServiceError(opListResources, "comments_query_failed", err)
	}
	return resources, nil
}

// List returns one page of resources of kind. Filters match top-level
// payload fields by their string value.
func (s *Service) List(ctx context.Context, kind resource.Kind, query resource.Query) (Page, error) {
	if !kind.Valid() {
		return Page{}, newServiceError(opListResources, "invalid_kind", resource.ErrUnknownKind)
	}
	column, ok := sortColumnOf[query.SortBy]
	if !ok {
		return Page{}, newServiceError(opListResources, "invalid_sort", fmt.Errorf("%w: cannot sort by %q", ErrInvalidInput, query.SortBy))
	}
	pageNumber := query.Page
	if pageNumber <= 0 {
		pageNumber = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	scope := s.db.WithContext(ctx).Model(&Record{}).Where("kind = ?", kind.String())
	for key, value := range query.Filters {
		if !filterKeyRE.MatchString(key) {
			return Page{}, newServiceError(opListResources, "invalid_filter", fmt.Errorf("%w: filter %q", ErrInvalidInput, key))
		}
		scope = scope.Where("CAST(json_extract(payload_json, ?) AS TEXT) = ?", "$."+key, value)
	}
	scope = scope.Session(&gorm.Session{})

	var total int64
	if err := scope.Count(&total).Error; err != nil {
		s.logError(opListResources, "count_failed", err, zap.String("kind", kind.String()))
		return Page{}, newServiceError(opListResources, "count_failed", err)
	}

	direction := "ASC"
	if query.Order == resource.SortDescending {
		direction = "DESC"
	}
	var rows []Record
	if err := scope.
		Order(column + " " + direction).
		Order("resource_id " + direction).
		Limit(pageSize).
		Offset((pageNumber - 1) * pageSize).
		Find(&rows).Error; err != nil {
		s.logError(opListResources, "query_failed", err, zap.String("kind", kind.String()))
		return Page{}, newServiceError(opListResources, "query_failed", err)
	}
	resources, err := s.attachComments(ctx, kind, rows)
	if err != nil {
		s.logError(opListResources, "comments_query_failed", err, zap.String("kind", kind.String()))
		return Page{}, newServiceError(opListResources, "comments_query_failed", err)
	}
	return Page{Resources: resources, Total: total, PageNumber: pageNumber, PageSize: pageSize}, nil
}

func (s *Service) record(ctx context.Context, db *gorm.DB, identity resource.Identity) (Record, error) {
	var record Record
	err := db.WithContext(ctx).
		Where("kind = ? AND resource_id = ?", identity.Kind.String(), identity.ID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	return record, err
}

func (s *Service) attachComments(ctx context.Context, kind resource.Kind, rows []Record) ([]Resource, error) {
	resources := make([]Resource, len(rows))
	if len(rows) == 0 {
		return resources, nil
	}
	ids := make([]string, len(rows))
	index := make(map[string]int, len(rows))
	for position, row := range rows {
		resources[position] = Resource{Record: row}
		ids[position] = row.ResourceID
		index[row.ResourceID] = position
	}

	var comments []Comment
	if err := s.db.WithContext(ctx).
		Where("kind = ? AND resource_id IN ?", kind.String(), ids).
		Order("created_at ASC").
		Order("id ASC").
		Find(&comments).Error; err != nil {
		return nil, err
	}
	for _, comment := range comments {
		position := index[comment.ResourceID]
		resources[position].Comments = append(resources[position].Comments, comment.Model())
	}
	return resources, nil
}

func validateIdentity(identity resource.Identity) error {
	if !identity.Kind.Valid() {
		return resource.ErrUnknownKind
	}
	id := strings.TrimSpace(identity.ID)
	if id == "" || len(id) > maxIdentifierLength {
		return fmt.Errorf("%w: %q", ErrInvalidInput, identity.ID)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("records service error", attrs...)
}
