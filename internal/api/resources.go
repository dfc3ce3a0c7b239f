package api

import (
	"context"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
)

// Path joins escaped segments into a REST path under /api.
func Path(segments ...string) string {
	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, "api")
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return strings.Join(escaped, "/")
}

// Profile returns the account the client authenticates as.
func (c *Client) Profile(ctx context.Context) (model.User, error) {
	var user model.User
	err := c.Get(ctx, Path("internal", "profile"), nil, &user)
	return user, err
}

type socketTokenPayload struct {
	Token string `json:"token"`
}

// SocketToken requests a short-lived token for the push channel.
func (c *Client) SocketToken(ctx context.Context) (string, error) {
	var payload socketTokenPayload
	if err := c.Get(ctx, Path("websocket_auth_token"), nil, &payload); err != nil {
		return "", err
	}
	return payload.Token, nil
}

// Source reads one source including its comments.
func (c *Client) Source(ctx context.Context, id string) (model.Source, error) {
	var source model.Source
	err := c.Get(ctx, Path("sources", id), url.Values{"includeComments": []string{"true"}}, &source)
	return source, err
}

// Sources reads one page of sources.
func (c *Client) Sources(ctx context.Context, query resource.Query) (model.SourceList, error) {
	var list model.SourceList
	err := c.Get(ctx, Path("sources"), query.Values(), &list)
	return list, err
}

// SourceSpectra reads every spectrum of a source including their comments.
func (c *Client) SourceSpectra(ctx context.Context, objID string) (model.SpectrumList, error) {
	var list model.SpectrumList
	err := c.Get(ctx, Path("sources", objID, "spectra"), nil, &list)
	if err == nil && list.ObjID == "" {
		list.ObjID = objID
	}
	return list, err
}

// Spectrum reads one spectrum.
func (c *Client) Spectrum(ctx context.Context, id string) (model.Spectrum, error) {
	var spectrum model.Spectrum
	err := c.Get(ctx, Path("spectra", id), nil, &spectrum)
	return spectrum, err
}

// GcnEvent reads one GCN event by dateobs.
func (c *Client) GcnEvent(ctx context.Context, dateobs string) (model.GcnEvent, error) {
	var event model.GcnEvent
	err := c.Get(ctx, Path("gcn_event", dateobs), nil, &event)
	return event, err
}

// Shift reads one shift.
func (c *Client) Shift(ctx context.Context, id string) (model.Shift, error) {
	var shift model.Shift
	err := c.Get(ctx, Path("shifts", id), nil, &shift)
	return shift, err
}

// Earthquake reads one earthquake event.
func (c *Client) Earthquake(ctx context.Context, eventID string) (model.Earthquake, error) {
	var earthquake model.Earthquake
	err := c.Get(ctx, Path("earthquake", eventID), nil, &earthquake)
	return earthquake, err
}
