package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("change-%03d", p.next), nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	current := c.now
	c.now = c.now.Add(time.Second)
	return current
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "records.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}, &Comment{}, &CommentChange{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	clock := &testClock{now: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func mustPut(t *testing.T, service *Service, identity resource.Identity, parentID, payload string) {
	t.Helper()
	if _, err := service.PutRecord(context.Background(), identity, parentID, json.RawMessage(payload)); err != nil {
		t.Fatalf("put %s failed: %v", identity, err)
	}
}

func serviceErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

var (
	alice = model.Author{ID: 1, Username: "alice"}
	bot   = model.Author{ID: 2, Username: "sentinel", IsBot: true}
)

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{IDProvider: NewUUIDProvider()}); serviceErrorCode(err) != "records.service.new.missing_database" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestResourceDocumentCarriesComments(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	source := resource.Identity{Kind: resource.KindObject, ID: "ZTF21aaaaaaa"}
	mustPut(t, service, source, "", `{"id": "ZTF21aaaaaaa", "ra": 10.5, "dec": -3.25}`)

	if _, err := service.AddComment(ctx, source, alice, CommentInput{Text: "  classified SN Ia  ", GroupIDs: []int64{1, 3}}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := service.AddComment(ctx, source, bot, CommentInput{Text: "auto"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	loaded, err := service.Resource(ctx, source)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(loaded.Comments) != 2 {
		t.Fatalf("expected two comments, got %d", len(loaded.Comments))
	}
	first := loaded.Comments[0]
	if first.Text != "classified SN Ia" || len(first.Groups) != 2 || first.Parent != source {
		t.Fatalf("unexpected first comment %+v", first)
	}
	if !loaded.Comments[1].FromBot() {
		t.Fatalf("expected bot flag on bot comment")
	}

	document, err := loaded.Document()
	if err != nil {
		t.Fatalf("document failed: %v", err)
	}
	if document["id"] != "ZTF21aaaaaaa" {
		t.Fatalf("unexpected document id %v", document["id"])
	}
	if threads, ok := document["comments"].([]model.Comment); !ok || len(threads) != 2 {
		t.Fatalf("expected comments in document, got %T", document["comments"])
	}
}

func TestPutRecordRejectsInvalidInput(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	testCases := []struct {
		name     string
		identity resource.Identity
		payload  string
		code     string
	}{
		{name: "unknown-kind", identity: resource.Identity{Kind: resource.Kind(99), ID: "1"}, payload: `{}`, code: "records.put.invalid_identity"},
		{name: "blank-id", identity: resource.Identity{Kind: resource.KindShift, ID: " "}, payload: `{}`, code: "records.put.invalid_identity"},
		{name: "array-payload", identity: resource.Identity{Kind: resource.KindShift, ID: "1"}, payload: `[1]`, code: "records.put.invalid_payload"},
		{name: "broken-payload", identity: resource.Identity{Kind: resource.KindShift, ID: "1"}, payload: `{`, code: "records.put.invalid_payload"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.PutRecord(ctx, testCase.identity, "", json.RawMessage(testCase.payload))
			if serviceErrorCode(err) != testCase.code {
				t.Fatalf("expected %s, got %v", testCase.code, err)
			}
		})
	}
}

func TestPutRecordReplacesPayload(t *testing.T) {
	service := newTestService(t)
	shift := resource.Identity{Kind: resource.KindShift, ID: "4"}
	mustPut(t, service, shift, "", `{"id": 4, "name": "night"}`)
	mustPut(t, service, shift, "", `{"id": 4, "name": "late night"}`)

	loaded, err := service.Resource(context.Background(), shift)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	document, _ := loaded.Document()
	if document["name"] != "late night" {
		t.Fatalf("expected replaced payload, got %v", document["name"])
	}
}

func TestResourceNotFound(t *testing.T) {
	service := newTestService(t)
	_, err := service.Resource(context.Background(), resource.Identity{Kind: resource.KindEarthquake, ID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChildrenListsSpectraOfObject(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	mustPut(t, service, resource.Identity{Kind: resource.KindSpectrum, ID: "11"}, "ZTF21a", `{"id": 11, "obj_id": "ZTF21a"}`)
	mustPut(t, service, resource.Identity{Kind: resource.KindSpectrum, ID: "12"}, "ZTF21a", `{"id": 12, "obj_id": "ZTF21a"}`)
	mustPut(t, service, resource.Identity{Kind: resource.KindSpectrum, ID: "13"}, "ZTF21b", `{"id": 13, "obj_id": "ZTF21b"}`)
	if _, err := service.AddComment(ctx, resource.Identity{Kind: resource.KindSpectrum, ID: "12"}, alice, CommentInput{Text: "good S/N"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	children, err := service.Children(ctx, resource.KindSpectrum, "ZTF21a")
	if err != nil {
		t.Fatalf("children failed: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected two spectra, got %d", len(children))
	}
	if len(children[0].Comments) != 0 || len(children[1].Comments) != 1 {
		t.Fatalf("unexpected comment distribution %d/%d", len(children[0].Comments), len(children[1].Comments))
	}
}

func TestListPaginatesSortsAndFilters(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	for index := 1; index <= 5; index++ {
		id := fmt.Sprintf("ZTF21%c", 'a'+index-1)
		classification := "SN Ia"
		if index%2 == 0 {
			classification = "AGN"
		}
		mustPut(t, service, resource.Identity{Kind: resource.KindObject, ID: id}, "",
			fmt.Sprintf(`{"id": %q, "classification": %q, "rank": %d}`, id, classification, index))
	}

	page, err := service.List(ctx, resource.KindObject, resource.Query{Page: 2, PageSize: 2, SortBy: "id", Order: resource.SortDescending})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if page.Total != 5 || len(page.Resources) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Resources[0].Record.ResourceID != "ZTF21c" || page.Resources[1].Record.ResourceID != "ZTF21b" {
		t.Fatalf("unexpected order %s, %s", page.Resources[0].Record.ResourceID, page.Resources[1].Record.ResourceID)
	}

	filtered, err := service.List(ctx, resource.KindObject, resource.Query{Filters: map[string]string{"classification": "AGN"}})
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if filtered.Total != 2 || filtered.PageSize != defaultPageSize || filtered.PageNumber != 1 {
		t.Fatalf("unexpected filtered page %+v", filtered)
	}

	numeric, err := service.List(ctx, resource.KindObject, resource.Query{Filters: map[string]string{"rank": "3"}})
	if err != nil {
		t.Fatalf("numeric filter failed: %v", err)
	}
	if numeric.Total != 1 || numeric.Resources[0].Record.ResourceID != "ZTF21c" {
		t.Fatalf("unexpected numeric filter result %+v", numeric)
	}

	if _, err := service.List(ctx, resource.KindObject, resource.Query{SortBy: "ra; DROP TABLE records"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid sort error, got %v", err)
	}
	if _, err := service.List(ctx, resource.KindObject, resource.Query{Filters: map[string]string{"a.b": "x"}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid filter error, got %v", err)
	}
}

func TestAddCommentRequiresParentAndContent(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	missing := resource.Identity{Kind: resource.KindGcnEvent, ID: "2019-04-25T08:18:05"}

	if _, err := service.AddComment(ctx, missing, alice, CommentInput{Text: "hello"}); serviceErrorCode(err) != "records.add_comment.missing_parent" {
		t.Fatalf("expected missing parent, got %v", err)
	}
	mustPut(t, service, missing, "", `{"dateobs": "2019-04-25T08:18:05"}`)
	if _, err := service.AddComment(ctx, missing, alice, CommentInput{Text: " "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	comment, err := service.AddComment(ctx, missing, alice, CommentInput{Attachment: &Attachment{Name: "skymap.fits", Body: []byte{1, 2, 3}}})
	if err != nil {
		t.Fatalf("attachment-only comment failed: %v", err)
	}
	attachment, err := service.Attachment(ctx, missing, comment.ID)
	if err != nil {
		t.Fatalf("attachment read failed: %v", err)
	}
	if attachment.Name != "skymap.fits" || len(attachment.Body) != 3 {
		t.Fatalf("unexpected attachment %+v", attachment)
	}
}

func TestEditAndDeleteEnforcePermissions(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	parent := resource.Identity{Kind: resource.KindEarthquake, ID: "us7000abcd"}
	mustPut(t, service, parent, "", `{"event_id": "us7000abcd"}`)

	comment, err := service.AddComment(ctx, parent, alice, CommentInput{Text: "felt it"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	bob := model.User{ID: 3, Username: "bob"}
	if _, err := service.EditComment(ctx, parent, comment.ID, bob, CommentInput{Text: "hijack"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden edit, got %v", err)
	}

	edited, err := service.EditComment(ctx, parent, comment.ID, model.User{ID: 1, Username: "alice"}, CommentInput{Text: "felt it strongly"})
	if err != nil {
		t.Fatalf("author edit failed: %v", err)
	}
	if edited.Text != "felt it strongly" {
		t.Fatalf("unexpected edited text %q", edited.Text)
	}

	if err := service.DeleteComment(ctx, parent, comment.ID, bob); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	admin := model.User{ID: 4, Username: "root", Permissions: []string{model.PermissionSystemAdmin}}
	if err := service.DeleteComment(ctx, parent, comment.ID, admin); err != nil {
		t.Fatalf("admin delete failed: %v", err)
	}
	if err := service.DeleteComment(ctx, parent, comment.ID, admin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	changes, err := service.Changes(ctx, parent)
	if err != nil {
		t.Fatalf("changes failed: %v", err)
	}
	want := []Operation{OperationAdd, OperationEdit, OperationDelete}
	if len(changes) != len(want) {
		t.Fatalf("expected %d audit rows, got %d", len(want), len(changes))
	}
	for index, change := range changes {
		if change.Operation != want[index] {
			t.Fatalf("audit row %d: expected %s, got %s", index, want[index], change.Operation)
		}
	}
	if changes[2].ActorID != admin.ID {
		t.Fatalf("expected admin as delete actor, got %d", changes[2].ActorID)
	}
}

func TestCommentsAreScopedToTheirParent(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	first := resource.Identity{Kind: resource.KindShift, ID: "1"}
	second := resource.Identity{Kind: resource.KindShift, ID: "2"}
	mustPut(t, service, first, "", `{"id": 1}`)
	mustPut(t, service, second, "", `{"id": 2}`)

	comment, err := service.AddComment(ctx, first, alice, CommentInput{Text: "on first"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	author := model.User{ID: alice.ID, Username: alice.Username}
	if _, err := service.EditComment(ctx, second, comment.ID, author, CommentInput{Text: "moved"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found through the wrong parent, got %v", err)
	}
}
