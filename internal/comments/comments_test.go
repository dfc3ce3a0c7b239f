package comments

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/api"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
)

type mutatorCall struct {
	method string
	path   string
	body   any
}

type fakeMutator struct {
	calls     []mutatorCall
	err       error
	createdID int64
}

func (m *fakeMutator) Post(_ context.Context, path string, body, out any) error {
	m.calls = append(m.calls, mutatorCall{method: "POST", path: path, body: body})
	if m.err != nil {
		return m.err
	}
	if created, ok := out.(*createdPayload); ok {
		created.CommentID = m.createdID
	}
	return nil
}

func (m *fakeMutator) Put(_ context.Context, path string, body, _ any) error {
	m.calls = append(m.calls, mutatorCall{method: "PUT", path: path, body: body})
	return m.err
}

func (m *fakeMutator) Delete(_ context.Context, path string) error {
	m.calls = append(m.calls, mutatorCall{method: "DELETE", path: path})
	return m.err
}

type stubThreads struct {
	threads    map[resource.Kind]map[string][]model.Comment
	associated map[string][]model.Comment
}

func (s *stubThreads) sources() map[resource.Kind]ThreadSource {
	sources := make(map[resource.Kind]ThreadSource)
	for _, kind := range resource.Kinds() {
		kind := kind
		sources[kind] = func(id string) ([]model.Comment, bool) {
			thread, ok := s.threads[kind][id]
			return thread, ok
		}
	}
	return sources
}

func (s *stubThreads) associatedSource(objID string) ([]model.Comment, bool) {
	thread, ok := s.associated[objID]
	return thread, ok
}

func newTestService(t *testing.T, mutator Mutator, threads *stubThreads) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		API:        mutator,
		Threads:    threads.sources(),
		Associated: threads.associatedSource,
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return service
}

func at(seconds int64) time.Time {
	return time.Unix(seconds, 0).UTC()
}

func TestMergeNewestFirstSortsMergedThreads(t *testing.T) {
	objectComments := []model.Comment{{ID: 1, CreatedAt: at(100)}}
	spectrumComments := []model.Comment{{ID: 2, CreatedAt: at(200)}}

	merged := MergeNewestFirst(objectComments, spectrumComments)

	if len(merged) != 2 || merged[0].ID != 2 || merged[1].ID != 1 {
		t.Fatalf("expected [2 1], got %+v", merged)
	}
}

func TestMergeNewestFirstKeepsConcatenationOrderForTies(t *testing.T) {
	merged := MergeNewestFirst(
		[]model.Comment{{ID: 1, CreatedAt: at(100)}, {ID: 3, CreatedAt: at(50)}},
		[]model.Comment{{ID: 2, CreatedAt: at(100)}},
	)
	got := []int64{merged[0].ID, merged[1].ID, merged[2].ID}
	want := []int64{1, 2, 3}
	for index := range want {
		if got[index] != want[index] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestCanModify(t *testing.T) {
	comment := model.Comment{Author: model.Author{Username: "alice"}}
	testCases := []struct {
		name   string
		viewer model.User
		want   bool
	}{
		{name: "author", viewer: model.User{Username: "alice"}, want: true},
		{name: "other-user", viewer: model.User{Username: "bob"}, want: false},
		{name: "admin", viewer: model.User{Username: "bob", Permissions: []string{model.PermissionSystemAdmin}}, want: true},
		{name: "other-permission", viewer: model.User{Username: "bob", Permissions: []string{"Manage sources"}}, want: false},
		{name: "anonymous", viewer: model.User{}, want: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := CanModify(testCase.viewer, comment); got != testCase.want {
				t.Fatalf("CanModify = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestFilterBots(t *testing.T) {
	thread := []model.Comment{
		{ID: 1, Author: model.Author{Username: "alice"}},
		{ID: 2, Author: model.Author{Username: "fritz-bot", IsBot: true}},
		{ID: 3, Author: model.Author{Username: "carol"}, Bot: true},
	}
	hidden := FilterBots(thread, false)
	if len(hidden) != 1 || hidden[0].ID != 1 {
		t.Fatalf("expected only human comment, got %+v", hidden)
	}
	if shown := FilterBots(thread, true); len(shown) != 3 {
		t.Fatalf("expected all comments, got %d", len(shown))
	}
}

func TestServiceAddPostsToKindEndpoint(t *testing.T) {
	mutator := &fakeMutator{createdID: 11}
	service := newTestService(t, mutator, &stubThreads{})
	parent := resource.Identity{Kind: resource.KindGcnEvent, ID: "2019-04-25T08:18:05"}

	id, err := service.Add(context.Background(), parent, Input{
		Text:       "  GW candidate  ",
		GroupIDs:   []int64{1},
		Attachment: &AttachmentInput{Name: "skymap.fits", Body: []byte{0x01, 0x02}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 11 {
		t.Fatalf("expected created id 11, got %d", id)
	}
	call := mutator.calls[0]
	if call.method != "POST" || call.path != api.Path("gcn_event", "2019-04-25T08:18:05", "comments") {
		t.Fatalf("unexpected call %+v", call)
	}
	payload := call.body.(commentPayload)
	if payload.Text != "GW candidate" {
		t.Fatalf("expected trimmed text, got %q", payload.Text)
	}
	if payload.Attachment == nil || payload.Attachment.Body != base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}) {
		t.Fatalf("expected base64 attachment, got %+v", payload.Attachment)
	}
}

func TestServiceEditAndDeleteUseCommentPath(t *testing.T) {
	mutator := &fakeMutator{}
	service := newTestService(t, mutator, &stubThreads{})
	parent := resource.Identity{Kind: resource.KindShift, ID: "4"}

	if err := service.Edit(context.Background(), parent, 9, Input{Text: "updated"}); err != nil {
		t.Fatalf("unexpected edit error: %v", err)
	}
	if err := service.Delete(context.Background(), parent, 9); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	want := api.Path("shifts", "4", "comments", "9")
	if mutator.calls[0].method != "PUT" || mutator.calls[0].path != want {
		t.Fatalf("unexpected edit call %+v", mutator.calls[0])
	}
	if mutator.calls[1].method != "DELETE" || mutator.calls[1].path != want {
		t.Fatalf("unexpected delete call %+v", mutator.calls[1])
	}
}

func TestServiceRejectsEmptyComment(t *testing.T) {
	mutator := &fakeMutator{}
	service := newTestService(t, mutator, &stubThreads{})
	_, err := service.Add(context.Background(), resource.Identity{Kind: resource.KindObject, ID: "x"}, Input{Text: "   "})
	if !errors.Is(err, ErrEmptyComment) {
		t.Fatalf("expected empty comment error, got %v", err)
	}
	if len(mutator.calls) != 0 {
		t.Fatalf("did not expect a request")
	}
}

func TestServiceSurfacesServerErrors(t *testing.T) {
	mutator := &fakeMutator{err: &api.Error{StatusCode: 400, Message: "Insufficient permissions"}}
	service := newTestService(t, mutator, &stubThreads{})
	err := service.Delete(context.Background(), resource.Identity{Kind: resource.KindEarthquake, ID: "us7000"}, 1)
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Message != "Insufficient permissions" {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestServiceUnknownKindPanics(t *testing.T) {
	service := newTestService(t, &fakeMutator{}, &stubThreads{})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown kind")
		}
	}()
	_ = service.Delete(context.Background(), resource.Identity{Kind: resource.Kind(42), ID: "1"}, 1)
}

func TestNewServiceRequiresEveryKind(t *testing.T) {
	threads := (&stubThreads{}).sources()
	delete(threads, resource.KindEarthquake)
	if _, err := NewService(ServiceConfig{API: &fakeMutator{}, Threads: threads}); err == nil {
		t.Fatalf("expected error for missing earthquake binding")
	}
}

func objectFixture() *stubThreads {
	return &stubThreads{
		threads: map[resource.Kind]map[string][]model.Comment{
			resource.KindObject: {
				"ZTF21aaaaaaa": {
					{ID: 1, CreatedAt: at(100), Author: model.Author{Username: "alice"}},
					{ID: 4, CreatedAt: at(400), Author: model.Author{Username: "sentinel", IsBot: true}},
				},
			},
			resource.KindSpectrum: {
				"17": {
					{ID: 2, CreatedAt: at(200), Author: model.Author{Username: "bob"}, AttachmentName: "averylongfilename.json"},
				},
			},
		},
		associated: map[string][]model.Comment{
			"ZTF21aaaaaaa": {
				{ID: 2, CreatedAt: at(200), Author: model.Author{Username: "bob"}, AttachmentName: "averylongfilename.json"},
			},
		},
	}
}

func TestThreadMergesAssociatedSpectra(t *testing.T) {
	service := newTestService(t, &fakeMutator{}, objectFixture())

	entries, err := service.Thread(ThreadRequest{
		Parent:            resource.Identity{Kind: resource.KindObject, ID: "ZTF21aaaaaaa"},
		IncludeAssociated: true,
		ShowBots:          true,
		Viewer:            model.User{Username: "bob"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	if len(ids) != 3 || ids[0] != 4 || ids[1] != 2 || ids[2] != 1 {
		t.Fatalf("expected [4 2 1], got %v", ids)
	}
	if !entries[1].CanModify || entries[2].CanModify {
		t.Fatalf("expected only bob's comment to be modifiable")
	}
	if entries[1].ShortAttachment != "averylong....json" {
		t.Fatalf("unexpected short attachment %q", entries[1].ShortAttachment)
	}
}

func TestThreadWithoutAssociatedOrBots(t *testing.T) {
	service := newTestService(t, &fakeMutator{}, objectFixture())

	entries, err := service.Thread(ThreadRequest{
		Parent: resource.Identity{Kind: resource.KindObject, ID: "ZTF21aaaaaaa"},
		Viewer: model.User{Username: "alice"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != 1 || !entries[0].CanModify {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestThreadOfSpectrumParent(t *testing.T) {
	service := newTestService(t, &fakeMutator{}, objectFixture())
	entries, err := service.Thread(ThreadRequest{
		Parent:            resource.Identity{Kind: resource.KindSpectrum, ID: "17"},
		IncludeAssociated: true,
		ShowBots:          true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != 2 {
		t.Fatalf("expected only the spectrum comment, got %+v", entries)
	}
}

func TestThreadRequiresLoadedParent(t *testing.T) {
	service := newTestService(t, &fakeMutator{}, objectFixture())
	_, err := service.Thread(ThreadRequest{Parent: resource.Identity{Kind: resource.KindObject, ID: "other"}})
	if !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected not loaded error, got %v", err)
	}
}

func TestThreadRequiresLoadedAssociatedSpectra(t *testing.T) {
	threads := objectFixture()
	threads.associated = nil
	service := newTestService(t, &fakeMutator{}, threads)
	parent := resource.Identity{Kind: resource.KindObject, ID: "ZTF21aaaaaaa"}

	_, err := service.Thread(ThreadRequest{Parent: parent, IncludeAssociated: true, ShowBots: true})
	if !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected not loaded error for missing spectra, got %v", err)
	}

	entries, err := service.Thread(ThreadRequest{Parent: parent, ShowBots: true})
	if err != nil {
		t.Fatalf("unexpected error without associated spectra: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected the object's own comments")
	}
}

type mutableViewer struct {
	user model.User
}

func (v *mutableViewer) Current() model.User {
	return v.user
}

func TestThreadViewRecomputesControlsAndTogglesBots(t *testing.T) {
	service := newTestService(t, &fakeMutator{}, objectFixture())
	viewer := &mutableViewer{user: model.User{Username: "carol", Preferences: model.Preferences{HideBotComments: true}}}
	view := NewThreadView(service, resource.Identity{Kind: resource.KindObject, ID: "ZTF21aaaaaaa"}, viewer, false)

	if view.ShowBots() {
		t.Fatalf("expected bot toggle to start from the hide preference")
	}
	entries, err := view.Entries()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].CanModify {
		t.Fatalf("expected one non-modifiable entry, got %+v", entries)
	}

	viewer.user.Permissions = []string{model.PermissionSystemAdmin}
	entries, err = view.Entries()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !entries[0].CanModify {
		t.Fatalf("expected controls after permission grant without a refetch")
	}

	if !view.ToggleBots() {
		t.Fatalf("expected toggle to show bots")
	}
	entries, _ = view.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected bot comment after toggle, got %d entries", len(entries))
	}

	view.Hover(4)
	if hovered, ok := view.Hovered(); !ok || hovered != 4 {
		t.Fatalf("unexpected hovered state %d %v", hovered, ok)
	}
}
