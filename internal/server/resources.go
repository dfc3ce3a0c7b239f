package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/auth"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/dispatch"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/records"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxPayloadBytes = 1 << 20

// listParameters are the query keys that shape a listing rather than filter it.
var listParameters = map[string]struct{}{
	"pageNumber":      {},
	"numPerPage":      {},
	"sortBy":          {},
	"sortOrder":       {},
	"includeComments": {},
}

type profilePatchPayload struct {
	Preferences *model.Preferences `json:"preferences"`
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	account, _ := currentAccount(c)
	respondSuccess(c, account.User())
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	account, _ := currentAccount(c)
	var request profilePatchPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Preferences == nil {
		abortWithError(c, http.StatusBadRequest, "preferences required", "invalid_request")
		return
	}
	updated, err := h.accounts.UpdatePreferences(c.Request.Context(), account.ID, *request.Preferences)
	if err != nil {
		h.logger.Error("failed to update preferences", zap.Int64("user_id", account.ID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "internal error", "preferences_update_failed")
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:       account.ID,
		Notification: dispatch.Notification{ActionType: dispatch.ActionFetchUserProfile},
	})
	respondSuccess(c, updated.User())
}

func (h *httpHandler) handleSocketToken(c *gin.Context) {
	account, _ := currentAccount(c)
	token, _, err := h.socketTokens.IssueSocketToken(c.Request.Context(), auth.Subject{UserID: account.ID, Username: account.Username})
	if err != nil {
		h.logger.Error("failed to issue socket token", zap.Int64("user_id", account.ID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "internal error", "token_issue_failed")
		return
	}
	respondSuccess(c, gin.H{"token": token})
}

func (h *httpHandler) handleReadResource(kind resource.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := resource.Identity{Kind: kind, ID: c.Param("id")}
		loaded, err := h.records.Resource(c.Request.Context(), identity)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		document, err := loaded.Document()
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		if kind == resource.KindObject && c.Query("includeComments") != "true" {
			delete(document, "comments")
		}
		respondSuccess(c, document)
	}
}

// handlePutResource stores a resource payload and announces the change.
// Only system admins may write resources.
func (h *httpHandler) handlePutResource(kind resource.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, _ := currentAccount(c)
		if !account.User().HasPermission(model.PermissionSystemAdmin) {
			abortWithError(c, http.StatusForbidden, "insufficient permissions", "forbidden")
			return
		}
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "unreadable body", "invalid_request")
			return
		}
		identity := resource.Identity{Kind: kind, ID: c.Param("id")}
		parentID := ""
		if kind == resource.KindSpectrum {
			parentID = objectOf(raw)
		}
		stored, err := h.records.PutRecord(c.Request.Context(), identity, parentID, json.RawMessage(raw))
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		h.announce(stored)
		if kind == resource.KindObject {
			h.realtime.Broadcast(dispatch.Notification{ActionType: resource.RefreshSourcesAction})
		}
		respondSuccess(c, gin.H{"id": stored.ResourceID})
	}
}

type sourceListPayload struct {
	Sources      []map[string]any `json:"sources"`
	TotalMatches int64            `json:"totalMatches"`
	PageNumber   int              `json:"pageNumber"`
	NumPerPage   int              `json:"numPerPage"`
}

func (h *httpHandler) handleListSources(c *gin.Context) {
	query, err := parseListQuery(c)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error(), "invalid_query")
		return
	}
	page, err := h.records.List(c.Request.Context(), resource.KindObject, query)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	includeComments := c.Query("includeComments") == "true"
	response := sourceListPayload{
		Sources:      make([]map[string]any, 0, len(page.Resources)),
		TotalMatches: page.Total,
		PageNumber:   page.PageNumber,
		NumPerPage:   page.PageSize,
	}
	for _, entry := range page.Resources {
		document, err := entry.Document()
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		if !includeComments {
			delete(document, "comments")
		}
		response.Sources = append(response.Sources, document)
	}
	respondSuccess(c, response)
}

type spectrumListPayload struct {
	ObjID   string           `json:"obj_id"`
	Spectra []map[string]any `json:"spectra"`
}

func (h *httpHandler) handleSourceSpectra(c *gin.Context) {
	objID := c.Param("id")
	if _, err := h.records.Record(c.Request.Context(), resource.Identity{Kind: resource.KindObject, ID: objID}); err != nil {
		h.respondServiceError(c, err)
		return
	}
	children, err := h.records.Children(c.Request.Context(), resource.KindSpectrum, objID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	response := spectrumListPayload{ObjID: objID, Spectra: make([]map[string]any, 0, len(children))}
	for _, child := range children {
		document, err := child.Document()
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		response.Spectra = append(response.Spectra, document)
	}
	respondSuccess(c, response)
}

// announce broadcasts the refresh action of the record's kind. Spectra are
// announced by the object they belong to.
func (h *httpHandler) announce(record records.Record) {
	identity := record.Identity()
	route, err := resource.RouteOf(identity.Kind)
	if err != nil {
		h.logger.Warn("cannot announce record of unknown kind", zap.String("kind", record.Kind))
		return
	}
	value := identity.ID
	if identity.Kind == resource.KindSpectrum {
		value = record.ParentID
	}
	payload := dispatch.Payload{}
	if value != "" {
		payload[route.IdentityField] = value
	}
	h.realtime.Broadcast(dispatch.Notification{ActionType: route.RefreshAction, Payload: payload})
}

func parseListQuery(c *gin.Context) (resource.Query, error) {
	query := resource.Query{SortBy: c.Query("sortBy")}
	if raw := c.Query("pageNumber"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return resource.Query{}, errInvalidQuery("pageNumber")
		}
		query.Page = page
	}
	if raw := c.Query("numPerPage"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return resource.Query{}, errInvalidQuery("numPerPage")
		}
		query.PageSize = size
	}
	switch order := strings.ToLower(c.Query("sortOrder")); order {
	case "":
	case string(resource.SortAscending), string(resource.SortDescending):
		query.Order = resource.SortOrder(order)
	default:
		return resource.Query{}, errInvalidQuery("sortOrder")
	}
	for key, values := range c.Request.URL.Query() {
		if _, reserved := listParameters[key]; reserved || len(values) == 0 {
			continue
		}
		if query.Filters == nil {
			query.Filters = make(map[string]string)
		}
		query.Filters[key] = values[0]
	}
	return query, nil
}

type invalidQueryError string

func (e invalidQueryError) Error() string {
	return "invalid query parameter " + string(e)
}

func errInvalidQuery(name string) error {
	return invalidQueryError(name)
}

func objectOf(raw []byte) string {
	var payload struct {
		ObjID string `json:"obj_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.ObjID)
}
