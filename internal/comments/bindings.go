package comments

import (
	"fmt"
	"strconv"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/api"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/attachments"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
)

// ThreadSource reads the comments of the resource id out of a kind's cache.
// ok is false when the cache does not currently hold that resource.
type ThreadSource func(id string) (thread []model.Comment, ok bool)

// AssociatedSource reads the comments of every spectrum of an object.
type AssociatedSource func(objID string) (thread []model.Comment, ok bool)

// binding is one row of the kind table.
type binding struct {
	route   resource.Route
	threads ThreadSource
}

type bindingTable map[resource.Kind]binding

func newBindingTable(threads map[resource.Kind]ThreadSource) (bindingTable, error) {
	table := make(bindingTable, len(threads))
	for _, kind := range resource.Kinds() {
		route, err := resource.RouteOf(kind)
		if err != nil {
			return nil, err
		}
		source, ok := threads[kind]
		if !ok || source == nil {
			return nil, fmt.Errorf("comments: no thread source bound for %s", kind)
		}
		table[kind] = binding{route: route, threads: source}
	}
	return table, nil
}

// lookup resolves kind. An unbound kind is a wiring error and panics.
func (t bindingTable) lookup(kind resource.Kind) binding {
	entry, ok := t[kind]
	if !ok {
		panic(fmt.Sprintf("comments: no binding for resource kind %s", kind))
	}
	return entry
}

func (t bindingTable) commentsPath(parent resource.Identity) string {
	return api.Path(t.lookup(parent.Kind).route.Segment, parent.ID, "comments")
}

func (t bindingTable) commentPath(parent resource.Identity, commentID int64) string {
	return api.Path(t.lookup(parent.Kind).route.Segment, parent.ID, "comments", strconv.FormatInt(commentID, 10))
}

func (t bindingTable) attachmentPath(ref attachments.Ref) string {
	return api.Path(t.lookup(ref.Parent.Kind).route.Segment, ref.Parent.ID, "comments", strconv.FormatInt(ref.CommentID, 10), "attachment")
}
