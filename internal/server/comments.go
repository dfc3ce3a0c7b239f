package server

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/records"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type attachmentPayload struct {
	Body string `json:"body"`
	Name string `json:"name"`
}

type commentPayload struct {
	Text       string             `json:"text"`
	GroupIDs   []int64            `json:"group_ids"`
	Attachment *attachmentPayload `json:"attachment"`
}

func (p commentPayload) input() (records.CommentInput, error) {
	input := records.CommentInput{Text: p.Text, GroupIDs: p.GroupIDs}
	if p.Attachment != nil {
		body, err := base64.StdEncoding.DecodeString(p.Attachment.Body)
		if err != nil {
			return records.CommentInput{}, fmt.Errorf("attachment body is not base64: %w", err)
		}
		input.Attachment = &records.Attachment{Name: p.Attachment.Name, Body: body}
	}
	return input, nil
}

func bindComment(c *gin.Context) (records.CommentInput, bool) {
	var request commentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid comment payload", "invalid_request")
		return records.CommentInput{}, false
	}
	input, err := request.input()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error(), "invalid_attachment")
		return records.CommentInput{}, false
	}
	return input, true
}

func commentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("comment_id"), 10, 64)
	if err != nil || id <= 0 {
		abortWithError(c, http.StatusBadRequest, "invalid comment id", "invalid_request")
		return 0, false
	}
	return id, true
}

func (h *httpHandler) handleAddComment(kind resource.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, _ := currentAccount(c)
		input, ok := bindComment(c)
		if !ok {
			return
		}
		parent := resource.Identity{Kind: kind, ID: c.Param("id")}
		created, err := h.records.AddComment(c.Request.Context(), parent, account.Author(), input)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		h.announceParent(c, parent)
		respondSuccess(c, gin.H{"comment_id": created.ID})
	}
}

func (h *httpHandler) handleEditComment(kind resource.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, _ := currentAccount(c)
		id, ok := commentID(c)
		if !ok {
			return
		}
		input, ok := bindComment(c)
		if !ok {
			return
		}
		parent := resource.Identity{Kind: kind, ID: c.Param("id")}
		if _, err := h.records.EditComment(c.Request.Context(), parent, id, account.User(), input); err != nil {
			h.respondServiceError(c, err)
			return
		}
		h.announceParent(c, parent)
		respondSuccess(c, nil)
	}
}

func (h *httpHandler) handleDeleteComment(kind resource.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, _ := currentAccount(c)
		id, ok := commentID(c)
		if !ok {
			return
		}
		parent := resource.Identity{Kind: kind, ID: c.Param("id")}
		if err := h.records.DeleteComment(c.Request.Context(), parent, id, account.User()); err != nil {
			h.respondServiceError(c, err)
			return
		}
		h.announceParent(c, parent)
		respondSuccess(c, nil)
	}
}

// handleAttachment serves the raw attachment. Only preview=true without
// download=true renders inline; everything else is a download.
func (h *httpHandler) handleAttachment(kind resource.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := commentID(c)
		if !ok {
			return
		}
		parent := resource.Identity{Kind: kind, ID: c.Param("id")}
		attachment, err := h.records.Attachment(c.Request.Context(), parent, id)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		contentType := mime.TypeByExtension(filepath.Ext(attachment.Name))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		disposition := "attachment"
		if c.Query("preview") == "true" && c.Query("download") != "true" {
			disposition = "inline"
		}
		c.Header("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": attachment.Name}))
		c.Data(http.StatusOK, contentType, attachment.Body)
	}
}

func (h *httpHandler) announceParent(c *gin.Context, parent resource.Identity) {
	stored, err := h.records.Record(c.Request.Context(), parent)
	if err != nil {
		h.logger.Warn("cannot announce comment change", zap.String("parent", parent.String()), zap.Error(err))
		return
	}
	h.announce(stored)
}
