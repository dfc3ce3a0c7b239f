package comments

import (
	"sort"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/attachments"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
)

// Entry is a comment prepared for display.
type Entry struct {
	model.Comment
	// CanModify is computed from the viewer on every read.
	CanModify          bool
	AttachmentCategory attachments.Category
	ShortAttachment    string
}

// CanModify reports whether viewer may edit or delete comment: system
// admins always may, authors may act on their own comments.
func CanModify(viewer model.User, comment model.Comment) bool {
	if viewer.HasPermission(model.PermissionSystemAdmin) {
		return true
	}
	return viewer.Username != "" && viewer.Username == comment.Author.Username
}

// MergeNewestFirst concatenates the threads in order and sorts the result by
// creation time, newest first. Equal timestamps keep concatenation order.
func MergeNewestFirst(threads ...[]model.Comment) []model.Comment {
	total := 0
	for _, thread := range threads {
		total += len(thread)
	}
	merged := make([]model.Comment, 0, total)
	for _, thread := range threads {
		merged = append(merged, thread...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	return merged
}

// FilterBots drops comments written by bots unless showBots is set.
func FilterBots(thread []model.Comment, showBots bool) []model.Comment {
	if showBots {
		return thread
	}
	filtered := make([]model.Comment, 0, len(thread))
	for _, comment := range thread {
		if comment.FromBot() {
			continue
		}
		filtered = append(filtered, comment)
	}
	return filtered
}

func annotate(viewer model.User, thread []model.Comment) []Entry {
	entries := make([]Entry, 0, len(thread))
	for _, comment := range thread {
		entry := Entry{Comment: comment, CanModify: CanModify(viewer, comment)}
		if comment.HasAttachment() {
			entry.AttachmentCategory = attachments.Classify(comment.AttachmentName)
			entry.ShortAttachment = attachments.Shorten(comment.AttachmentName)
		}
		entries = append(entries, entry)
	}
	return entries
}
