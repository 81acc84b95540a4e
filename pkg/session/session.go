// Package session holds the transient, per-browser-session generation state:
// the shared GenerationState projection, the user-entered credential, the
// artifact handles owned by each result slot and the current batch items.
package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"synthv/pkg/artifact"
	"synthv/pkg/model"
)

// Well-known result slots.
const (
	SlotText  = "text"
	SlotImage = "image"
	SlotVideo = "video"
)

// BatchSlot returns the slot owned by a batch item.
func BatchSlot(id string) string {
	return "batch:" + id
}

// ErrBusy is returned by Begin while another run is active.
var ErrBusy = errors.New("a generation is already in progress")

// ErrUnknownItem is returned for batch item IDs the session does not hold.
var ErrUnknownItem = errors.New("unknown batch item")

// Session is the state of one client. All methods are safe for concurrent use.
type Session struct {
	ID string

	mu         sync.RWMutex
	registry   *artifact.Registry
	state      model.GenerationState
	credential string
	slots      map[string][]*artifact.Handle
	texts      map[string]string
	batch      []model.BatchItem
	running    bool
	closed     bool
	subs       map[chan model.GenerationState]struct{}
}

// New creates an idle session whose artifacts live in registry.
func New(id string, registry *artifact.Registry) *Session {
	return &Session{
		ID:       id,
		registry: registry,
		state:    model.IdleState(),
		slots:    make(map[string][]*artifact.Handle),
		texts:    make(map[string]string),
		subs:     make(map[chan model.GenerationState]struct{}),
	}
}

// --- Credential ---

// SetCredential stores the user-entered key. An empty key clears the slot.
func (s *Session) SetCredential(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = key
}

// Credential returns the user-entered key, never the environment fallback.
func (s *Session) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

// --- Run lifecycle ---

// Begin claims the session for one top-level run.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrBusy
	}
	s.running = true
	return nil
}

// End releases the claim taken by Begin. IsGenerating never outlives the run.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.state.IsGenerating {
		s.state.IsGenerating = false
		s.publishLocked()
	}
}

// Running reports whether a run holds the session.
func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// --- GenerationState ---

// Start resets the projection for a new run.
func (s *Session) Start(message string) {
	s.update(func(st *model.GenerationState) {
		*st = model.GenerationState{
			IsGenerating: true,
			Status:       model.StatusGenerating,
			Phase:        model.PhaseValidating,
			Message:      message,
		}
	})
}

// Progress records an intermediate update. Progress never decreases within a run.
func (s *Session) Progress(progress int, message string, phase model.Phase) {
	s.update(func(st *model.GenerationState) {
		if progress > st.Progress {
			st.Progress = min(progress, 100)
		}
		if message != "" {
			st.Message = message
		}
		if phase != "" {
			st.Phase = phase
		}
	})
}

// Succeed ends the run successfully.
func (s *Session) Succeed(message string) {
	s.update(func(st *model.GenerationState) {
		st.IsGenerating = false
		st.Progress = 100
		st.Status = model.StatusSuccess
		st.Phase = model.PhaseSucceeded
		st.Message = message
		st.NeedsCredential = false
	})
}

// Fail ends the run with a user-facing message.
func (s *Session) Fail(message string, needsCredential bool) {
	s.update(func(st *model.GenerationState) {
		st.IsGenerating = false
		st.Status = model.StatusError
		st.Phase = model.PhaseFailed
		st.Message = message
		st.NeedsCredential = needsCredential
	})
}

// State returns a copy of the projection.
func (s *Session) State() model.GenerationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) update(fn func(*model.GenerationState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	s.publishLocked()
}

// --- Slots ---

// Assign stores handles in slot, releasing whatever the slot held before.
// A closed session releases the new handles right away.
func (s *Session) Assign(slot string, handles ...*artifact.Handle) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.release(slot, handles)
		return
	}
	prev := s.slots[slot]
	if len(handles) == 0 {
		delete(s.slots, slot)
	} else {
		s.slots[slot] = handles
	}
	s.mu.Unlock()

	s.release(slot, prev)
}

// ReleaseSlot drops every handle and text held by slot.
func (s *Session) ReleaseSlot(slot string) {
	s.mu.Lock()
	prev := s.slots[slot]
	delete(s.slots, slot)
	delete(s.texts, slot)
	s.mu.Unlock()

	s.release(slot, prev)
}

// ReleaseSlotIfIdle drops slot like ReleaseSlot, or fails with ErrBusy
// while a run holds the session.
func (s *Session) ReleaseSlotIfIdle(slot string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}
	prev := s.slots[slot]
	delete(s.slots, slot)
	delete(s.texts, slot)
	s.mu.Unlock()

	s.release(slot, prev)
	return nil
}

// Handles returns the handles currently held by slot.
func (s *Session) Handles(slot string) []*artifact.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*artifact.Handle(nil), s.slots[slot]...)
}

// SetText stores a text result for slot.
func (s *Session) SetText(slot, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[slot] = text
}

// Text returns the text result held by slot.
func (s *Session) Text(slot string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.texts[slot]
}

func (s *Session) release(slot string, handles []*artifact.Handle) {
	for _, h := range handles {
		if err := s.registry.Release(h.ID); err != nil {
			slog.Warn("Session: artifact already released", "session", s.ID, "slot", slot, "artifact", h.ID)
		}
	}
}

// --- Batch ---

// SetBatch replaces the batch items, releasing artifacts of items that are gone or reset.
func (s *Session) SetBatch(items []model.BatchItem) {
	s.mu.Lock()
	var stale []string
	for _, old := range s.batch {
		stale = append(stale, BatchSlot(old.ID))
	}
	s.batch = append([]model.BatchItem(nil), items...)
	s.mu.Unlock()

	for _, slot := range stale {
		s.ReleaseSlot(slot)
	}
}

// UpdateItem applies fn to the batch item with id.
func (s *Session) UpdateItem(id string, fn func(*model.BatchItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.batch {
		if s.batch[i].ID == id {
			fn(&s.batch[i])
			s.batch[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrUnknownItem
}

// BatchItems returns a copy of the batch items in order.
func (s *Session) BatchItems() []model.BatchItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.BatchItem(nil), s.batch...)
}

// --- Views ---

// SlotView summarises one slot.
type SlotView struct {
	Slot      string             `json:"slot"`
	Artifacts []*artifact.Handle `json:"artifacts,omitempty"`
	URLs      []string           `json:"urls,omitempty"`
	Text      string             `json:"text,omitempty"`
}

// Snapshot is a read-only view of the whole session.
type Snapshot struct {
	ID            string                `json:"id"`
	State         model.GenerationState `json:"state"`
	HasCredential bool                  `json:"has_credential"`
	Running       bool                  `json:"running"`
	Slots         []SlotView            `json:"slots"`
	Batch         []model.BatchItem     `json:"batch"`
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make(map[string]struct{}, len(s.slots)+len(s.texts))
	for k := range s.slots {
		names[k] = struct{}{}
	}
	for k := range s.texts {
		names[k] = struct{}{}
	}
	slots := make([]SlotView, 0, len(names))
	for name := range names {
		v := SlotView{Slot: name, Text: s.texts[name]}
		for _, h := range s.slots[name] {
			v.Artifacts = append(v.Artifacts, h)
			v.URLs = append(v.URLs, h.URL())
		}
		slots = append(slots, v)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Slot < slots[j].Slot })

	return Snapshot{
		ID:            s.ID,
		State:         s.state,
		HasCredential: s.credential != "",
		Running:       s.running,
		Slots:         slots,
		Batch:         append([]model.BatchItem{}, s.batch...),
	}
}

// --- Subscribers ---

// Subscribe returns a channel receiving state changes and a cancel func.
// Slow subscribers miss intermediate updates rather than blocking the run,
// but the most recent state is always delivered.
func (s *Session) Subscribe() (<-chan model.GenerationState, func()) {
	ch := make(chan model.GenerationState, 16)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
}

// publishLocked fans the current state out under the write lock, keeping updates ordered.
// A full buffer drops its oldest entry so the latest state is never lost.
func (s *Session) publishLocked() {
	for ch := range s.subs {
		select {
		case ch <- s.state:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		// The write lock makes this the only sender, so a slot is free now.
		select {
		case ch <- s.state:
		default:
		}
	}
}

// Close releases every held artifact and disconnects subscribers.
// The session must not be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	slots := s.slots
	s.slots = make(map[string][]*artifact.Handle)
	s.texts = make(map[string]string)
	s.batch = nil
	for ch := range s.subs {
		close(ch)
	}
	s.subs = make(map[chan model.GenerationState]struct{})
	s.mu.Unlock()

	for slot, handles := range slots {
		s.release(slot, handles)
	}
	slog.Debug("Session closed", "session", s.ID, "slots", len(slots))
}
