package model

import (
	"strconv"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
)

// Source is an astronomical object.
type Source struct {
	ID       string    `json:"id"`
	RA       float64   `json:"ra"`
	Dec      float64   `json:"dec"`
	Redshift *float64  `json:"redshift,omitempty"`
	Comments []Comment `json:"comments"`
}

// Identity returns the resource identity of the source.
func (s Source) Identity() resource.Identity {
	return resource.Identity{Kind: resource.KindObject, ID: s.ID}
}

// Thread returns the source comments bound to their parent.
func (s Source) Thread() []Comment {
	return bindParent(s.Comments, s.Identity())
}

// SourceList is one page of a source listing.
type SourceList struct {
	Sources      []Source `json:"sources"`
	TotalMatches int      `json:"totalMatches"`
	PageNumber   int      `json:"pageNumber"`
	NumPerPage   int      `json:"numPerPage"`
}

// Spectrum is a spectrum taken of a source.
type Spectrum struct {
	ID         int64     `json:"id"`
	ObjID      string    `json:"obj_id"`
	Instrument string    `json:"instrument_name,omitempty"`
	Comments   []Comment `json:"comments"`
}

// Identity returns the resource identity of the spectrum.
func (s Spectrum) Identity() resource.Identity {
	return resource.Identity{Kind: resource.KindSpectrum, ID: strconv.FormatInt(s.ID, 10)}
}

// Thread returns the spectrum comments bound to their parent.
func (s Spectrum) Thread() []Comment {
	return bindParent(s.Comments, s.Identity())
}

// SpectrumList holds every spectrum of one source.
type SpectrumList struct {
	ObjID   string     `json:"obj_id"`
	Spectra []Spectrum `json:"spectra"`
}

// Thread returns the comments of every spectrum, in list order.
func (l SpectrumList) Thread() []Comment {
	var merged []Comment
	for _, spectrum := range l.Spectra {
		merged = append(merged, spectrum.Thread()...)
	}
	return merged
}

// GcnEvent is a gamma-ray coordinates network event.
type GcnEvent struct {
	ID       int64     `json:"id"`
	DateObs  string    `json:"dateobs"`
	Comments []Comment `json:"comments"`
}

// Identity returns the resource identity of the event; events are addressed by dateobs.
func (e GcnEvent) Identity() resource.Identity {
	return resource.Identity{Kind: resource.KindGcnEvent, ID: e.DateObs}
}

// Thread returns the event comments bound to their parent.
func (e GcnEvent) Thread() []Comment {
	return bindParent(e.Comments, e.Identity())
}

// Shift is an observing shift.
type Shift struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Comments []Comment `json:"comments"`
}

// Identity returns the resource identity of the shift.
func (s Shift) Identity() resource.Identity {
	return resource.Identity{Kind: resource.KindShift, ID: strconv.FormatInt(s.ID, 10)}
}

// Thread returns the shift comments bound to their parent.
func (s Shift) Thread() []Comment {
	return bindParent(s.Comments, s.Identity())
}

// Earthquake is a seismic event.
type Earthquake struct {
	EventID  string    `json:"event_id"`
	Comments []Comment `json:"comments"`
}

// Identity returns the resource identity of the earthquake.
func (e Earthquake) Identity() resource.Identity {
	return resource.Identity{Kind: resource.KindEarthquake, ID: e.EventID}
}

// Thread returns the earthquake comments bound to their parent.
func (e Earthquake) Thread() []Comment {
	return bindParent(e.Comments, e.Identity())
}
