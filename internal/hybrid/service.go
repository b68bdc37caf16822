// Package hybrid routes analysis and generation between an on-device
// model runtime and a cloud fallback. It owns the provider lifecycle:
// probing, session management, background re-probing while degraded,
// and demotion when the local runtime fails mid-request.
package hybrid

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/repguard/internal/cache"
	"github.com/repguard/internal/credential"
	"github.com/repguard/internal/events"
	"github.com/repguard/internal/history"
	"github.com/repguard/internal/metrics"
	"github.com/repguard/internal/provider"
	"github.com/repguard/internal/provider/ondevice"
	"github.com/repguard/internal/storage"
)

type state string

const (
	stateUninitialized state = "uninitialized"
	stateOnDevice      state = "ondevice"
	stateCloud         state = "cloud"
	stateUnavailable   state = "unavailable"
)

// DefaultReprobeInterval is how often the service re-checks the
// on-device runtime while serving from the cloud.
const DefaultReprobeInterval = 30 * time.Second

// ServiceStatus is the externally visible snapshot. It is derived from
// internal state on demand and never cached.
type ServiceStatus struct {
	ActiveProvider     provider.Kind `json:"activeProvider"`
	Available          bool          `json:"available"`
	HasCloudCredential bool          `json:"hasCloudCredential"`
	IsReprobing        bool          `json:"isReprobing"`
}

// ChangeEvent describes one provider transition.
type ChangeEvent struct {
	Old    provider.Kind `json:"old"`
	New    provider.Kind `json:"new"`
	Status ServiceStatus `json:"status"`
}

// Listener receives provider change notifications. A panicking listener
// is recovered and logged; it never disturbs the service or its peers.
type Listener func(ChangeEvent)

// OnDeviceRuntime is the slice of the local runtime the service needs:
// capability probing and session acquisition.
type OnDeviceRuntime interface {
	Detect(ctx context.Context) provider.ProbeReport
	Open(ctx context.Context) (provider.Client, error)
}

// CloudFactory builds a cloud client for the given API key. It is a
// factory rather than a client so credential rotation produces a fresh
// client instead of mutating a shared one.
type CloudFactory func(apiKey string) (provider.Client, error)

type runtimeAdapter struct {
	rt *ondevice.Runtime
}

func (a runtimeAdapter) Detect(ctx context.Context) provider.ProbeReport { return a.rt.Detect(ctx) }

func (a runtimeAdapter) Open(ctx context.Context) (provider.Client, error) { return a.rt.Open(ctx) }

// AdaptRuntime wraps the concrete Ollama runtime in the probe interface
// the service consumes.
func AdaptRuntime(rt *ondevice.Runtime) OnDeviceRuntime { return runtimeAdapter{rt: rt} }

// Deps carries the collaborators the service is built from. OnDevice,
// CloudFactory, Store and Vault are required; Cache, History and Events
// are optional and skipped when nil.
type Deps struct {
	OnDevice     OnDeviceRuntime
	CloudFactory CloudFactory
	Store        storage.Store
	Vault        *credential.Vault
	Cache        *cache.ResultCache
	History      *history.Recorder
	Events       *events.Publisher
	Logger       *zap.Logger
}

// Config tunes service behavior.
type Config struct {
	ReprobeInterval time.Duration
}

// Service is the hybrid provider facade. All exported methods are safe
// for concurrent use.
type Service struct {
	deps     Deps
	interval time.Duration
	logger   *zap.Logger

	// initMu serializes Initialize, SetCredential, Cleanup and reprobe
	// promotion so probe cycles never overlap.
	initMu sync.Mutex

	// mu guards the snapshot fields below. Status and request routing
	// take mu only, so they never block behind an in-flight probe.
	mu        sync.Mutex
	state     state
	active    provider.Client
	apiKey    string
	listeners []Listener
	epoch     uint64
	cancelFn  context.CancelFunc
	loopDone  chan struct{}

	// emitMu orders notifications so listeners observe transitions in
	// the sequence they happened.
	emitMu sync.Mutex
}

// New builds an uninitialized service. Call Initialize before routing
// requests.
func New(deps Deps, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	interval := cfg.ReprobeInterval
	if interval <= 0 {
		interval = DefaultReprobeInterval
	}
	return &Service{
		deps:     deps,
		interval: interval,
		logger:   deps.Logger.Named("hybrid"),
		state:    stateUninitialized,
	}
}

// Status reports the current snapshot. It is pure: no probes, no side
// effects, and repeated calls without intervening transitions return
// identical values.
func (s *Service) Status() ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Service) statusLocked() ServiceStatus {
	st := ServiceStatus{
		ActiveProvider:     provider.KindNone,
		HasCloudCredential: s.apiKey != "",
		IsReprobing:        s.cancelFn != nil,
	}
	switch s.state {
	case stateOnDevice:
		st.ActiveProvider = provider.KindOnDevice
		st.Available = true
	case stateCloud:
		st.ActiveProvider = provider.KindCloud
		st.Available = true
	}
	return st
}

// OnProviderChange registers a listener for provider transitions.
// Listeners registered after Cleanup are dropped on the next Cleanup
// like any other.
func (s *Service) OnProviderChange(fn Listener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Initialize probes providers and settles on one. A non-empty cred is
// persisted first, exactly as SetCredential would. The method never
// fails because no provider is reachable; it fails only when the
// credential store itself errors. It always emits one change
// notification, even when the outcome is "unavailable" or unchanged.
func (s *Service) Initialize(ctx context.Context, cred string) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initializeLocked(ctx, cred)
}

func (s *Service) initializeLocked(ctx context.Context, cred string) error {
	if cred != "" {
		if err := s.persistCredential(ctx, cred); err != nil {
			return err
		}
	} else {
		loaded, err := s.loadCredential(ctx)
		if err != nil {
			return err
		}
		cred = loaded
	}

	old := s.currentKind()

	report := s.deps.OnDevice.Detect(ctx)
	metrics.ProbesTotal.WithLabelValues(string(report.Availability)).Inc()
	s.logger.Info("On-device probe finished",
		zap.String("availability", string(report.Availability)),
		zap.String("detail", report.Detail),
		zap.Duration("elapsed", report.Elapsed))

	var (
		next   state
		client provider.Client
	)
	switch {
	case report.Usable():
		session, err := s.deps.OnDevice.Open(ctx)
		if err != nil {
			s.logger.Warn("On-device session open failed after successful probe", zap.Error(err))
		} else {
			next, client = stateOnDevice, session
		}
	case report.Availability == provider.AfterDownload:
		s.logger.Info("On-device model requires download; falling back", zap.String("detail", report.Detail))
	}

	if client == nil && cred != "" {
		cloudClient, err := s.deps.CloudFactory(cred)
		if err != nil {
			s.logger.Warn("Cloud client construction failed", zap.Error(err))
		} else {
			next, client = stateCloud, cloudClient
		}
	}
	if client == nil {
		next = stateUnavailable
	}

	s.mu.Lock()
	s.apiKey = cred
	displaced := s.installLocked(next, client)
	status := s.statusLocked()
	epoch := s.epoch
	s.mu.Unlock()

	releaseClient(displaced)
	s.notify(ChangeEvent{Old: old, New: status.ActiveProvider, Status: status}, epoch, "initialize")
	return nil
}

// persistCredential seals and stores the key, then mirrors it into the
// in-memory snapshot.
func (s *Service) persistCredential(ctx context.Context, key string) error {
	sealed, err := s.deps.Vault.Seal(key)
	if err != nil {
		return err
	}
	if err := s.deps.Store.Set(ctx, storage.KeyCloudAPIKey, sealed); err != nil {
		return err
	}
	s.logger.Info("Cloud credential stored", zap.String("key", credential.Mask(key)))
	return nil
}

// loadCredential fetches and opens the persisted key. Absence is not an
// error; an unreadable ciphertext is logged and treated as absent so a
// rotated vault passphrase degrades instead of wedging startup.
func (s *Service) loadCredential(ctx context.Context) (string, error) {
	sealed, err := s.deps.Store.Get(ctx, storage.KeyCloudAPIKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	key, err := s.deps.Vault.Open(sealed)
	if err != nil {
		s.logger.Warn("Stored credential could not be opened; treating as absent", zap.Error(err))
		return "", nil
	}
	return key, nil
}

func (s *Service) currentKind() provider.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked().ActiveProvider
}

// installLocked swaps in the new provider and reconciles the reprobe
// loop: running only in cloud state. It returns the displaced client;
// the caller must release it after dropping mu so an in-flight request
// on the old client is never torn down mid-call.
func (s *Service) installLocked(next state, client provider.Client) provider.Client {
	displaced := s.active
	s.state = next
	s.active = client

	if next == stateCloud {
		s.startReprobeLocked()
	} else {
		s.stopReprobeLocked()
	}

	switch next {
	case stateOnDevice:
		metrics.SetActiveProvider(provider.KindOnDevice)
	case stateCloud:
		metrics.SetActiveProvider(provider.KindCloud)
	default:
		metrics.SetActiveProvider(provider.KindNone)
	}
	if displaced == client {
		return nil
	}
	return displaced
}

// startReprobeLocked launches the background promotion loop. Re-entry
// while a loop is already running replaces nothing: the existing loop
// keeps its ticker and no duplicate is started.
func (s *Service) startReprobeLocked() {
	if s.cancelFn != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancelFn = cancel
	s.loopDone = done
	go s.reprobeLoop(ctx, done)
	s.logger.Info("On-device reprobe loop started", zap.Duration("interval", s.interval))
}

// stopReprobeLocked cancels the loop but does not wait for it; only
// Cleanup needs the stronger guarantee and waits on loopDone outside mu.
func (s *Service) stopReprobeLocked() {
	if s.cancelFn == nil {
		return
	}
	s.cancelFn()
	s.cancelFn = nil
}

func (s *Service) reprobeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.tryPromote(ctx) {
				return
			}
		}
	}
}

// tryPromote attempts one cloud-to-ondevice promotion. It skips the
// tick when another lifecycle operation holds initMu, which also keeps
// probe cycles from overlapping and avoids deadlocking against a
// Cleanup that is waiting for this loop to exit.
func (s *Service) tryPromote(ctx context.Context) bool {
	if !s.initMu.TryLock() {
		return false
	}
	defer s.initMu.Unlock()

	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	current := s.state
	s.mu.Unlock()
	if current != stateCloud {
		return true
	}

	report := s.deps.OnDevice.Detect(ctx)
	metrics.ProbesTotal.WithLabelValues(string(report.Availability)).Inc()
	if !report.Usable() {
		s.logger.Debug("Reprobe: on-device still unavailable",
			zap.String("availability", string(report.Availability)))
		return false
	}
	session, err := s.deps.OnDevice.Open(ctx)
	if err != nil {
		s.logger.Warn("Reprobe: session open failed", zap.Error(err))
		return false
	}

	s.mu.Lock()
	if s.state != stateCloud {
		s.mu.Unlock()
		releaseClient(session)
		return true
	}
	displaced := s.installLocked(stateOnDevice, session)
	status := s.statusLocked()
	epoch := s.epoch
	s.mu.Unlock()

	releaseClient(displaced)
	s.logger.Info("Promoted back to on-device provider")
	s.notify(ChangeEvent{Old: provider.KindCloud, New: provider.KindOnDevice, Status: status}, epoch, "reprobe success")
	return true
}

// SetCredential persists the key (or clears it when key is empty) and
// reconciles provider state: a service stuck in unavailable re-runs
// initialization now that cloud is an option, an active cloud client is
// rebuilt with the new key, and clearing the key under cloud re-probes
// for whatever remains.
func (s *Service) SetCredential(ctx context.Context, key string) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if key == "" {
		if err := s.deps.Store.Delete(ctx, storage.KeyCloudAPIKey); err != nil {
			return err
		}
		s.logger.Info("Cloud credential cleared")
		s.mu.Lock()
		s.apiKey = ""
		current := s.state
		s.mu.Unlock()
		if current == stateCloud {
			return s.initializeLocked(ctx, "")
		}
		return nil
	}

	if err := s.persistCredential(ctx, key); err != nil {
		return err
	}

	s.mu.Lock()
	s.apiKey = key
	current := s.state
	s.mu.Unlock()

	switch current {
	case stateUnavailable:
		return s.initializeLocked(ctx, "")
	case stateCloud:
		client, err := s.deps.CloudFactory(key)
		if err != nil {
			s.logger.Warn("Cloud client rebuild failed; keeping previous client", zap.Error(err))
			return nil
		}
		s.mu.Lock()
		displaced := s.installLocked(stateCloud, client)
		s.mu.Unlock()
		releaseClient(displaced)
		s.logger.Info("Cloud client rebuilt with updated credential")
	}
	return nil
}

// Cleanup tears the service down to uninitialized: the reprobe loop is
// stopped and awaited, the active session released, listeners dropped,
// and no notification is emitted for the teardown or after it. It is
// idempotent.
func (s *Service) Cleanup() {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()
	s.stopReprobeLocked()
	done := s.loopDone
	s.loopDone = nil
	displaced := s.active
	s.active = nil
	s.state = stateUninitialized
	s.apiKey = ""
	s.listeners = nil
	s.epoch++
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	releaseClient(displaced)

	// Barrier: any notify already past its epoch check finishes
	// delivery before Cleanup returns.
	s.emitMu.Lock()
	metrics.SetActiveProvider(provider.KindNone)
	s.emitMu.Unlock()

	s.logger.Info("Hybrid service cleaned up")
}

// notify delivers one change event to listeners and mirrors it to the
// event publisher. Events raced against Cleanup are suppressed by the
// epoch check; listener panics are contained per listener.
func (s *Service) notify(ev ChangeEvent, epoch uint64, reason string) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	s.logger.Info("Provider change",
		zap.String("old", string(ev.Old)),
		zap.String("new", string(ev.New)),
		zap.String("reason", reason))
	if s.deps.Events != nil {
		s.deps.Events.ProviderChanged(ev.Old, ev.New, reason)
	}
	for _, fn := range listeners {
		s.deliver(fn, ev)
	}
}

func (s *Service) deliver(fn Listener, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Provider change listener panicked", zap.Any("panic", r))
		}
	}()
	fn(ev)
}

// releaseClient releases session-backed clients; cloud clients are
// stateless and have nothing to release.
func releaseClient(c provider.Client) {
	if c == nil {
		return
	}
	if r, ok := c.(interface{ Release() }); ok {
		r.Release()
	}
}
