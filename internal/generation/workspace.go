package generation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/model"
)

// Workspace is one user's live studio state: the results on screen and the parameters
// that produced them. Every batch and every slot regeneration draws a number from a
// monotonic counter; completions carrying a superseded number are discarded.
type Workspace struct {
	mu      sync.Mutex
	seq     uint64
	epoch   uint64 // seq value of the current batch or load
	cancel  context.CancelFunc
	params  model.Params
	results []model.GenerationResult
	tickets map[int]uint64
	session string // history session id when persisted or loaded
}

// SlotTicket identifies one in-flight regeneration.
type SlotTicket struct {
	Epoch uint64
	Seq   uint64
	Index int
}

// View is a copy of the workspace safe to hand to callers.
type View struct {
	Epoch     uint64                   `json:"epoch"`
	SessionID string                   `json:"sessionId,omitempty"`
	Theme     string                   `json:"theme,omitempty"`
	Gender    model.Gender             `json:"gender,omitempty"`
	Aspect    model.AspectRatio        `json:"aspectRatio,omitempty"`
	Results   []model.GenerationResult `json:"results"`
}

func newWorkspace() *Workspace {
	return &Workspace{tickets: make(map[int]uint64)}
}

// Begin starts a new batch: the previous batch is cancelled, results are cleared and a new
// epoch is returned with a context that is cancelled when a newer batch begins.
func (w *Workspace) Begin(parent context.Context, p model.Params) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
	w.cancel = cancel
	w.params = p
	return ctx, w.epoch
}

// Load replaces the workspace with a history session for display. The session's input
// images are not available as bytes, so loaded slots cannot be regenerated.
func (w *Workspace) Load(s model.GenerationSession) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
	w.params = model.Params{Gender: s.Gender, ThemeID: s.Theme, AspectRatio: s.AspectRatio}
	w.results = append([]model.GenerationResult(nil), s.Results...)
	w.session = s.ID
	return w.epoch
}

func (w *Workspace) resetLocked() {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.seq++
	w.epoch = w.seq
	w.results = nil
	w.session = ""
	clear(w.tickets)
}

// Current reports whether epoch is still the live batch.
func (w *Workspace) Current(epoch uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.epoch == epoch
}

// Add appends a freshly arrived result. It reports false for a stale epoch.
func (w *Workspace) Add(epoch uint64, r model.GenerationResult) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch != epoch {
		return false
	}
	w.results = append(w.results, r)
	return true
}

// ApplyArchive rewrites the URLs of archived results, matched by id, and records the
// history session id. Slots regenerated meanwhile carry new ids and keep their data URI.
func (w *Workspace) ApplyArchive(epoch uint64, archived []model.GenerationResult, sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch != epoch {
		return false
	}
	urls := make(map[string]string, len(archived))
	for _, r := range archived {
		urls[r.ID] = r.URL
	}
	for i, r := range w.results {
		if u, ok := urls[r.ID]; ok {
			w.results[i].URL = u
		}
	}
	w.session = sessionID
	return true
}

// Finish releases the batch context for epoch once the batch has settled.
func (w *Workspace) Finish(epoch uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch == epoch && w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

// MarkRegenerating flags slot index and returns a ticket plus the parameters to regenerate
// with. Other slots are not touched.
func (w *Workspace) MarkRegenerating(index int) (SlotTicket, model.Params, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if index < 0 || index >= len(w.results) {
		return SlotTicket{}, model.Params{}, fmt.Errorf("%w: slot %d out of range", errs.ErrInvalidInput, index)
	}
	if len(w.params.ProductImage) == 0 {
		return SlotTicket{}, model.Params{}, fmt.Errorf("%w: product image is no longer available", errs.ErrInvalidInput)
	}
	w.seq++
	w.tickets[index] = w.seq
	w.results[index].Regenerating = true
	return SlotTicket{Epoch: w.epoch, Seq: w.seq, Index: index}, w.params, nil
}

// FinishRegenerate settles a regeneration. On success the slot is replaced, on failure the
// previous result stays with its flag cleared. It reports false when the ticket is stale.
func (w *Workspace) FinishRegenerate(t SlotTicket, r model.GenerationResult, genErr error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch != t.Epoch || w.tickets[t.Index] != t.Seq || t.Index >= len(w.results) {
		return false
	}
	delete(w.tickets, t.Index)
	if genErr != nil {
		w.results[t.Index].Regenerating = false
		return true
	}
	r.Regenerating = false
	w.results[t.Index] = r
	return true
}

// Snapshot returns a copy of the workspace.
func (w *Workspace) Snapshot() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return View{
		Epoch:     w.epoch,
		SessionID: w.session,
		Theme:     w.params.ThemeID,
		Gender:    w.params.Gender,
		Aspect:    w.params.AspectRatio,
		Results:   append([]model.GenerationResult{}, w.results...),
	}
}

// Workspaces holds one Workspace per identity, keyed case-insensitively.
type Workspaces struct {
	mu   sync.Mutex
	byID map[string]*slot
	now  func() time.Time
}

type slot struct {
	w    *Workspace
	used time.Time
}

// NewWorkspaces returns an empty registry.
func NewWorkspaces() *Workspaces {
	return &Workspaces{byID: make(map[string]*slot), now: time.Now}
}

// For returns the workspace of email, creating it on first use.
func (ws *Workspaces) For(email string) *Workspace {
	key := model.NormalizeEmail(email)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	s, ok := ws.byID[key]
	if !ok {
		s = &slot{w: newWorkspace()}
		ws.byID[key] = s
	}
	s.used = ws.now()
	return s.w
}

// Drop cancels and forgets the workspace of email, e.g. on logout.
func (ws *Workspaces) Drop(email string) {
	key := model.NormalizeEmail(email)
	ws.mu.Lock()
	s, ok := ws.byID[key]
	delete(ws.byID, key)
	ws.mu.Unlock()
	if ok {
		s.w.release()
	}
}

// Sweep drops every workspace not used for idle or longer and returns how many went.
// Sessions that expire without a logout leave their workspace to this sweep.
func (ws *Workspaces) Sweep(idle time.Duration) int {
	cutoff := ws.now().Add(-idle)
	var stale []*Workspace
	ws.mu.Lock()
	for key, s := range ws.byID {
		if !s.used.After(cutoff) {
			stale = append(stale, s.w)
			delete(ws.byID, key)
		}
	}
	ws.mu.Unlock()
	for _, w := range stale {
		w.release()
	}
	return len(stale)
}

// release cancels the workspace and lets go of its input images.
func (w *Workspace) release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
	w.params = model.Params{}
}
