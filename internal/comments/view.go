package comments

import (
	"sync"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
)

// Viewer supplies the current user. It is consulted on every read because
// permissions can change while the thread stays the same.
type Viewer interface {
	Current() model.User
}

// ThreadView is the ephemeral state of one open comment list. None of it is
// persisted or synchronised.
type ThreadView struct {
	service *Service
	parent  resource.Identity
	viewer  Viewer

	mu                sync.Mutex
	showBots          bool
	includeAssociated bool
	hovered           int64
}

// NewThreadView mounts a view on parent. The bot toggle starts from the
// viewer's persisted preference.
func NewThreadView(service *Service, parent resource.Identity, viewer Viewer, includeAssociated bool) *ThreadView {
	return &ThreadView{
		service:           service,
		parent:            parent,
		viewer:            viewer,
		showBots:          !viewer.Current().Preferences.HideBotComments,
		includeAssociated: includeAssociated,
	}
}

// Parent returns the resource the view is mounted on.
func (v *ThreadView) Parent() resource.Identity {
	return v.parent
}

// ShowBots reports the bot toggle.
func (v *ThreadView) ShowBots() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.showBots
}

// ToggleBots flips the bot filter and returns the new state. It never fetches.
func (v *ThreadView) ToggleBots() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.showBots = !v.showBots
	return v.showBots
}

// SetIncludeAssociated switches merging of associated spectrum comments.
func (v *ThreadView) SetIncludeAssociated(include bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.includeAssociated = include
}

// Hover marks the comment under the pointer; zero clears it.
func (v *ThreadView) Hover(commentID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hovered = commentID
}

// Hovered returns the comment under the pointer.
func (v *ThreadView) Hovered() (int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hovered, v.hovered != 0
}

// Entries renders the thread from the current cache contents.
func (v *ThreadView) Entries() ([]Entry, error) {
	v.mu.Lock()
	request := ThreadRequest{
		Parent:            v.parent,
		IncludeAssociated: v.includeAssociated,
		ShowBots:          v.showBots,
	}
	v.mu.Unlock()
	request.Viewer = v.viewer.Current()
	return v.service.Thread(request)
}
