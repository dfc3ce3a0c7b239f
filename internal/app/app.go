// Package app assembles the client: one registry, one cache per resource
// kind, the refresh handlers binding them together and the comment
// subsystem reading out of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/attachments"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/cache"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/comments"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/dispatch"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/push"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	"go.uber.org/zap"
)

// Cache names double as handler names in the registry.
const (
	SourceCache     = "source"
	SourceListCache = "source_list"
	SpectraCache    = "source_spectra"
	GcnEventCache   = "gcn_event"
	ShiftCache      = "shift"
	EarthquakeCache = "earthquake"
	sessionHandler  = "session"
)

// ErrSpectrumWithoutObject indicates an attempt to open a spectrum on its
// own; spectra are loaded through the object they belong to.
var ErrSpectrumWithoutObject = errors.New("app: spectra are opened through their object")

// Backend is the REST surface the client reads from and writes to.
type Backend interface {
	comments.Mutator
	attachments.Fetcher
	ProfileSource
	SocketToken(ctx context.Context) (string, error)
	Source(ctx context.Context, id string) (model.Source, error)
	Sources(ctx context.Context, query resource.Query) (model.SourceList, error)
	SourceSpectra(ctx context.Context, objID string) (model.SpectrumList, error)
	GcnEvent(ctx context.Context, dateobs string) (model.GcnEvent, error)
	Shift(ctx context.Context, id string) (model.Shift, error)
	Earthquake(ctx context.Context, eventID string) (model.Earthquake, error)
}

// Config wires the client application.
type Config struct {
	Backend Backend
	Logger  *zap.Logger
	// Runner executes handler side effects; defaults to one goroutine per effect.
	Runner         dispatch.Runner
	Opener         attachments.Opener
	Clock          func() time.Time
	FenceResponses bool
}

// App is the composition root of the client.
type App struct {
	backend  Backend
	logger   *zap.Logger
	registry *dispatch.Registry
	caches   *cache.Set
	session  *Session
	comments *comments.Service

	Sources     *cache.Cache[model.Source]
	SourceList  *cache.Cache[model.SourceList]
	Spectra     *cache.Cache[model.SpectrumList]
	GcnEvents   *cache.Cache[model.GcnEvent]
	Shifts      *cache.Cache[model.Shift]
	Earthquakes *cache.Cache[model.Earthquake]
}

// New constructs every cache, registers its refresh handler and binds the
// comment subsystem to the caches.
func New(cfg Config) (*App, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("app: backend required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := cfg.Backend
	set := cache.NewSet()
	a := &App{
		backend: backend,
		logger:  logger,
		caches:  set,
		session: newSession(backend, logger.Named("session")),
	}
	a.registry = dispatch.NewRegistry(
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithRunner(cfg.Runner),
		dispatch.WithState(set),
	)

	var err error
	settings := cacheSettings{logger: logger, clock: cfg.Clock, fence: cfg.FenceResponses}
	if a.Sources, err = newCache(settings, SourceCache, resource.KindObject, cache.LoaderFuncs[model.Source]{
		One: func(ctx context.Context, identity resource.Identity) (model.Source, error) {
			return backend.Source(ctx, identity.ID)
		},
	}); err != nil {
		return nil, err
	}
	if a.SourceList, err = newCache(settings, SourceListCache, resource.KindObject, cache.LoaderFuncs[model.SourceList]{
		Collection: backend.Sources,
	}); err != nil {
		return nil, err
	}
	if a.Spectra, err = newCache(settings, SpectraCache, resource.KindSpectrum, cache.LoaderFuncs[model.SpectrumList]{
		One: func(ctx context.Context, identity resource.Identity) (model.SpectrumList, error) {
			return backend.SourceSpectra(ctx, identity.ID)
		},
	}); err != nil {
		return nil, err
	}
	if a.GcnEvents, err = newCache(settings, GcnEventCache, resource.KindGcnEvent, cache.LoaderFuncs[model.GcnEvent]{
		One: func(ctx context.Context, identity resource.Identity) (model.GcnEvent, error) {
			return backend.GcnEvent(ctx, identity.ID)
		},
	}); err != nil {
		return nil, err
	}
	if a.Shifts, err = newCache(settings, ShiftCache, resource.KindShift, cache.LoaderFuncs[model.Shift]{
		One: func(ctx context.Context, identity resource.Identity) (model.Shift, error) {
			return backend.Shift(ctx, identity.ID)
		},
	}); err != nil {
		return nil, err
	}
	if a.Earthquakes, err = newCache(settings, EarthquakeCache, resource.KindEarthquake, cache.LoaderFuncs[model.Earthquake]{
		One: func(ctx context.Context, identity resource.Identity) (model.Earthquake, error) {
			return backend.Earthquake(ctx, identity.ID)
		},
	}); err != nil {
		return nil, err
	}

	for _, entry := range []cache.Entry{a.Sources, a.SourceList, a.Spectra, a.GcnEvents, a.Shifts, a.Earthquakes} {
		if err := set.Add(entry); err != nil {
			return nil, err
		}
	}

	a.registry.Register(SourceCache, cache.RefreshHandler(a.Sources, ruleOf(resource.KindObject)))
	a.registry.Register(SourceListCache, cache.RefreshHandler(a.SourceList, cache.RefreshRule{ActionType: resource.RefreshSourcesAction}))
	a.registry.Register(SpectraCache, cache.RefreshHandler(a.Spectra, ruleOf(resource.KindSpectrum)))
	a.registry.Register(GcnEventCache, cache.RefreshHandler(a.GcnEvents, ruleOf(resource.KindGcnEvent)))
	a.registry.Register(ShiftCache, cache.RefreshHandler(a.Shifts, ruleOf(resource.KindShift)))
	a.registry.Register(EarthquakeCache, cache.RefreshHandler(a.Earthquakes, ruleOf(resource.KindEarthquake)))
	a.registry.Register(sessionHandler, a.session.handler())

	a.comments, err = comments.NewService(comments.ServiceConfig{
		API: backend,
		Threads: map[resource.Kind]comments.ThreadSource{
			resource.KindObject:     loadedThread(a.Sources),
			resource.KindSpectrum:   a.spectrumThread,
			resource.KindGcnEvent:   loadedThread(a.GcnEvents),
			resource.KindShift:      loadedThread(a.Shifts),
			resource.KindEarthquake: loadedThread(a.Earthquakes),
		},
		Associated: loadedThread(a.Spectra),
		Fetcher:    backend,
		Opener:     cfg.Opener,
		Logger:     logger.Named("comments"),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Registry returns the process-wide dispatch registry.
func (a *App) Registry() *dispatch.Registry {
	return a.registry
}

// Session returns the profile holder.
func (a *App) Session() *Session {
	return a.session
}

// Comments returns the comment subsystem.
func (a *App) Comments() *comments.Service {
	return a.comments
}

// Dispatch delivers a push notification to every registered handler.
func (a *App) Dispatch(ctx context.Context, notification dispatch.Notification) dispatch.Report {
	return a.registry.Dispatch(ctx, notification)
}

// Open loads the resource behind identity into its cache. Opening an object
// also loads its spectra when includeAssociated is set, since an object
// thread then merges their comments.
func (a *App) Open(ctx context.Context, identity resource.Identity, includeAssociated bool) error {
	var err error
	switch identity.Kind {
	case resource.KindObject:
		_, err = a.Sources.FetchOne(ctx, identity)
		if err == nil && includeAssociated {
			_, err = a.Spectra.FetchOne(ctx, identity)
		}
	case resource.KindSpectrum:
		return ErrSpectrumWithoutObject
	case resource.KindGcnEvent:
		_, err = a.GcnEvents.FetchOne(ctx, identity)
	case resource.KindShift:
		_, err = a.Shifts.FetchOne(ctx, identity)
	case resource.KindEarthquake:
		_, err = a.Earthquakes.FetchOne(ctx, identity)
	default:
		return fmt.Errorf("app: open %s: %w", identity, resource.ErrUnknownKind)
	}
	return err
}

// ListSources loads one page of sources into the list cache.
func (a *App) ListSources(ctx context.Context, query resource.Query) (model.SourceList, error) {
	snapshot, err := a.SourceList.FetchCollection(ctx, query)
	return snapshot.Value, err
}

// ThreadView mounts a comment list on parent for the session user.
func (a *App) ThreadView(parent resource.Identity, includeAssociated bool) *comments.ThreadView {
	return comments.NewThreadView(a.comments, parent, a.session, includeAssociated)
}

// PushChannel builds the push socket feeding this app. cfg supplies the URL
// and tuning; tokens come from the backend.
func (a *App) PushChannel(cfg push.Config) (*push.Socket, error) {
	cfg.Tokens = a.backend
	cfg.Dispatcher = a
	if cfg.Logger == nil {
		cfg.Logger = a.logger.Named("push")
	}
	return push.New(cfg)
}

// spectrumThread finds the spectrum among the spectra of the loaded object.
func (a *App) spectrumThread(id string) ([]model.Comment, bool) {
	snapshot := a.Spectra.Snapshot()
	if snapshot.Mode != cache.ModeOne {
		return nil, false
	}
	for _, spectrum := range snapshot.Value.Spectra {
		if strconv.FormatInt(spectrum.ID, 10) == id {
			return spectrum.Thread(), true
		}
	}
	return nil, false
}

type threaded interface {
	Thread() []model.Comment
}

func loadedThread[T threaded](c *cache.Cache[T]) func(id string) ([]model.Comment, bool) {
	return func(id string) ([]model.Comment, bool) {
		snapshot := c.Snapshot()
		if snapshot.Mode != cache.ModeOne || snapshot.Identity.ID != id {
			return nil, false
		}
		return snapshot.Value.Thread(), true
	}
}

type cacheSettings struct {
	logger *zap.Logger
	clock  func() time.Time
	fence  bool
}

func newCache[T any](settings cacheSettings, name string, kind resource.Kind, loader cache.Loader[T]) (*cache.Cache[T], error) {
	return cache.New(cache.Config[T]{
		Name:           name,
		Kind:           kind,
		Loader:         loader,
		Logger:         settings.logger,
		Clock:          settings.clock,
		FenceResponses: settings.fence,
	})
}

func ruleOf(kind resource.Kind) cache.RefreshRule {
	route, err := resource.RouteOf(kind)
	if err != nil {
		panic(err)
	}
	return cache.RefreshRule{ActionType: route.RefreshAction, IdentityField: route.IdentityField}
}
