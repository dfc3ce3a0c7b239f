package resource

import "fmt"

// Route describes how one kind is addressed on the REST surface and on the
// push channel.
type Route struct {
	// Segment is the REST collection segment, e.g. "sources".
	Segment string
	// IdentityField is the push payload key carrying the changed identity.
	IdentityField string
	// RefreshAction is the push action type announcing a change.
	RefreshAction string
}

// RefreshSourcesAction announces that the source listing changed as a whole.
const RefreshSourcesAction = "skyportal/REFRESH_SOURCES"

var routes = map[Kind]Route{
	KindObject:     {Segment: "sources", IdentityField: "obj_id", RefreshAction: "skyportal/REFRESH_SOURCE"},
	KindSpectrum:   {Segment: "spectra", IdentityField: "obj_id", RefreshAction: "skyportal/REFRESH_SOURCE_SPECTRA"},
	KindGcnEvent:   {Segment: "gcn_event", IdentityField: "gcnEvent_dateobs", RefreshAction: "skyportal/REFRESH_GCN_EVENT"},
	KindShift:      {Segment: "shifts", IdentityField: "shift_id", RefreshAction: "skyportal/REFRESH_SHIFT"},
	KindEarthquake: {Segment: "earthquake", IdentityField: "event_id", RefreshAction: "skyportal/REFRESH_EARTHQUAKE"},
}

// RouteOf returns the route of kind.
func RouteOf(kind Kind) (Route, error) {
	route, ok := routes[kind]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return route, nil
}
