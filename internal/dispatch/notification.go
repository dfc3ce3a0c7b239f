package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
)

// ErrInvalidNotification indicates an envelope without an action type.
var ErrInvalidNotification = errors.New("dispatch: invalid notification")

const (
	// ActionSocketAuthenticated acknowledges the authentication frame of a push connection.
	ActionSocketAuthenticated = "skyportal/SOCKET_AUTH_OK"
	// ActionFetchUserProfile announces that the profile of the receiving account changed.
	ActionFetchUserProfile = "skyportal/FETCH_USER_PROFILE"
)

// SocketAuth is the first frame a client sends on a push connection.
type SocketAuth struct {
	AuthToken string `json:"auth_token"`
}

// Payload is the body of a push notification: an optional identity filter
// and any collection-level tags the server attached.
type Payload map[string]any

// Identity extracts the identifier stored under field, normalised to its string form.
func (p Payload) Identity(field string) (string, bool) {
	if p == nil {
		return "", false
	}
	return resource.NormalizeID(p[field])
}

// Notification is one server push envelope. It is routed, never stored.
type Notification struct {
	ActionType string  `json:"actionType"`
	Payload    Payload `json:"payload"`
}

// DecodeNotification parses a raw push frame.
func DecodeNotification(raw []byte) (Notification, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var notification Notification
	if err := decoder.Decode(&notification); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if strings.TrimSpace(notification.ActionType) == "" {
		return Notification{}, fmt.Errorf("%w: missing action type", ErrInvalidNotification)
	}
	return notification, nil
}
