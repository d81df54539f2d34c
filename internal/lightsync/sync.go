// Package lightsync keeps a local copy of the light collection in step with
// Home Assistant, applying user mutations optimistically.
package lightsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hadash/internal/hass"
	appLog "hadash/internal/log"
	"hadash/internal/metrics"
	"hadash/internal/model"
)

// DefaultInterval is the poll period.
const DefaultInterval = 5 * time.Second

var (
	ErrUnknownLight      = errors.New("lightsync: unknown light")
	ErrInvalidBrightness = errors.New("lightsync: brightness must be between 0 and 100")
)

// Status of the light collection.
type Status string

const (
	StatusLoading      Status = "loading"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// LightService is the subset of the Home Assistant client used here.
type LightService interface {
	ListLights(ctx context.Context) ([]model.Light, error)
	TurnOn(ctx context.Context, entityID string, brightness *int) error
	TurnOff(ctx context.Context, entityID string) error
	TurnOffAll(ctx context.Context) (hass.TurnOffAllResult, error)
}

// Observer is told about every successful refresh. prev is the collection
// as of the previous successful refresh, so optimistic edits made in
// between never hide a change from the observer.
type Observer interface {
	OnRefresh(prev, next []model.Light)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(prev, next []model.Light)

func (f ObserverFunc) OnRefresh(prev, next []model.Light) { f(prev, next) }

// Snapshot is a consistent copy of the synchronizer state.
type Snapshot struct {
	Status    Status        `json:"status"`
	Lights    []model.Light `json:"lights"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Synchronizer owns the local light collection.
//
// Every write to an entity stamps it with a fresh revision. A failed
// mutation restores the entity's previous value only while the entity
// still carries the revision that mutation stamped; a later refresh or
// mutation wins.
type Synchronizer struct {
	svc      LightService
	interval time.Duration
	metrics  *metrics.Metrics

	mu        sync.Mutex
	lights    []model.Light
	confirmed []model.Light // last refresh result; mutations never touch it
	revs      map[string]uint64
	rev       uint64
	status    Status
	lastErr   string
	updatedAt time.Time
	observers []Observer
	stopped   bool

	sched *cron.Cron
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

func WithInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

func New(svc LightService, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		svc:      svc,
		interval: DefaultInterval,
		revs:     make(map[string]uint64),
		status:   StatusLoading,
		lights:   []model.Light{},
	}
	s.confirmed = []model.Light{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe registers o for refresh notifications.
func (s *Synchronizer) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Start refreshes once right away and then on every interval until Stop.
// Refreshes may overlap when one takes longer than the interval; the last
// to complete wins.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sched != nil {
		s.mu.Unlock()
		return errors.New("lightsync: already started")
	}
	s.stopped = false
	sched := cron.New()
	s.sched = sched
	s.mu.Unlock()

	schedule := fmt.Sprintf("@every %s", s.interval)
	if _, err := sched.AddFunc(schedule, func() { _ = s.Refresh(ctx) }); err != nil {
		return fmt.Errorf("lightsync: schedule %q: %w", schedule, err)
	}

	go func() { _ = s.Refresh(ctx) }()
	sched.Start()

	appLog.Info("light sync started", "interval", s.interval)
	return nil
}

// Stop cancels the schedule. Calls already in flight are not cancelled;
// their results are dropped.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	sched := s.sched
	s.sched = nil
	s.stopped = true
	s.mu.Unlock()

	if sched != nil {
		sched.Stop()
		appLog.Info("light sync stopped")
	}
}

// Snapshot returns a copy of the current state.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	lights := make([]model.Light, len(s.lights))
	copy(lights, s.lights)
	return Snapshot{
		Status:    s.status,
		Lights:    lights,
		Error:     s.lastErr,
		UpdatedAt: s.updatedAt,
	}
}

// Lights returns a copy of the collection.
func (s *Synchronizer) Lights() []model.Light {
	return s.Snapshot().Lights
}

// Refresh fetches the full collection. On success the local collection is
// replaced wholesale; on failure it is kept and the status goes to
// disconnected.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	lights, err := s.svc.ListLights(ctx)
	s.metrics.ObserveRefresh(err)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return err
	}

	if err != nil {
		wasConnected := s.status == StatusConnected
		s.status = StatusDisconnected
		s.lastErr = err.Error()
		s.mu.Unlock()
		if wasConnected {
			appLog.Warn("light refresh failed", "err", err)
		} else {
			appLog.Debug("light refresh failed", "err", err)
		}
		return err
	}

	prev := s.confirmed
	s.confirmed = append([]model.Light{}, lights...)
	s.lights = append([]model.Light{}, lights...)
	for _, l := range lights {
		s.stampLocked(l.EntityID)
	}
	s.status = StatusConnected
	s.lastErr = ""
	s.updatedAt = time.Now()
	observers := append([]Observer(nil), s.observers...)
	next := append([]model.Light{}, lights...)
	s.mu.Unlock()

	on := 0
	for _, l := range next {
		if l.IsOn() {
			on++
		}
	}
	s.metrics.SetLightsOn(on)

	for _, o := range observers {
		o.OnRefresh(prev, next)
	}
	return nil
}

func (s *Synchronizer) stampLocked(entityID string) uint64 {
	s.rev++
	s.revs[entityID] = s.rev
	return s.rev
}

func (s *Synchronizer) indexLocked(entityID string) int {
	for i, l := range s.lights {
		if l.EntityID == entityID {
			return i
		}
	}
	return -1
}

// pending remembers an optimistic write so it can be undone.
type pending struct {
	prev model.Light
	rev  uint64
}

// applyLocked replaces the light at idx and stamps it.
func (s *Synchronizer) applyLocked(idx int, next model.Light) pending {
	p := pending{prev: s.lights[idx]}
	s.lights[idx] = next
	p.rev = s.stampLocked(next.EntityID)
	return p
}

// rollback restores each entity whose revision has not moved on.
func (s *Synchronizer) rollback(ps ...pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	for _, p := range ps {
		id := p.prev.EntityID
		if s.revs[id] != p.rev {
			appLog.Debug("skipping rollback, entity changed since", "entity_id", id)
			continue
		}
		idx := s.indexLocked(id)
		if idx < 0 {
			continue
		}
		s.lights[idx] = p.prev
		s.stampLocked(id)
	}
}

// Toggle flips a light based on the locally cached state: an "on" light
// is sent turn_off, anything else is sent turn_on.
func (s *Synchronizer) Toggle(ctx context.Context, entityID string) error {
	s.mu.Lock()
	idx := s.indexLocked(entityID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownLight, entityID)
	}
	cur := s.lights[idx]
	wasOn := cur.IsOn()
	next := cur
	if wasOn {
		next.State = model.StateOff
	} else {
		next.State = model.StateOn
	}
	p := s.applyLocked(idx, next)
	s.mu.Unlock()

	var err error
	if wasOn {
		err = s.svc.TurnOff(ctx, entityID)
	} else {
		err = s.svc.TurnOn(ctx, entityID, nil)
	}
	if err != nil {
		appLog.Warn("toggle failed", "entity_id", entityID, "err", err)
		s.rollback(p)
	}
	return err
}

// SetBrightness sets a light's brightness on the 0-100 scale. Zero turns
// the light off.
func (s *Synchronizer) SetBrightness(ctx context.Context, entityID string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidBrightness
	}

	s.mu.Lock()
	idx := s.indexLocked(entityID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownLight, entityID)
	}
	next := s.lights[idx]
	next.Brightness = percent
	if percent > 0 {
		next.State = model.StateOn
	} else {
		next.State = model.StateOff
	}
	p := s.applyLocked(idx, next)
	s.mu.Unlock()

	var err error
	if percent == 0 {
		err = s.svc.TurnOff(ctx, entityID)
	} else {
		err = s.svc.TurnOn(ctx, entityID, &percent)
	}
	if err != nil {
		appLog.Warn("set brightness failed", "entity_id", entityID, "brightness", percent, "err", err)
		s.rollback(p)
	}
	return err
}

// TurnOffAll marks every light off locally, then asks the remote to turn
// off every light it reports as on. Lights whose command failed are
// rolled back; if the remote snapshot itself fails, all are.
func (s *Synchronizer) TurnOffAll(ctx context.Context) (hass.TurnOffAllResult, error) {
	s.mu.Lock()
	ps := make(map[string]pending, len(s.lights))
	for i, l := range s.lights {
		next := l
		next.State = model.StateOff
		next.Brightness = 0
		ps[l.EntityID] = s.applyLocked(i, next)
	}
	s.mu.Unlock()

	res, err := s.svc.TurnOffAll(ctx)
	if err != nil {
		appLog.Warn("turn off all failed", "err", err)
		all := make([]pending, 0, len(ps))
		for _, p := range ps {
			all = append(all, p)
		}
		s.rollback(all...)
		return res, err
	}

	var failed []pending
	for _, r := range res.Failed() {
		appLog.Warn("turn off failed", "entity_id", r.EntityID, "err", r.Err)
		if p, ok := ps[r.EntityID]; ok {
			failed = append(failed, p)
		}
	}
	s.rollback(failed...)
	return res, nil
}
