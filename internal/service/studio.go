package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/virtual-atelier/internal/catalog"
	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/generation"
	"github.com/and161185/virtual-atelier/internal/model"
)

const persistTimeout = 3 * time.Minute

// Renderer performs one un-retried generation call from already resolved prompt input.
type Renderer interface {
	Render(ctx context.Context, in generation.PromptInput, product, modelImage []byte) ([]byte, error)
}

// GenerationClient is the retrying client plus its single-call form.
type GenerationClient interface {
	generation.Generator
	Renderer
}

// Archiver uploads images to durable storage.
type Archiver interface {
	Archive(ctx context.Context, results []model.GenerationResult, product, modelImage []byte) (model.Archived, error)
	UploadItems(ctx context.Context, items []model.UploadItem) ([]string, error)
}

// HistoryLedger is the per-user capped history.
type HistoryLedger interface {
	Append(ctx context.Context, s model.GenerationSession) error
	Record(ctx context.Context, s model.GenerationSession)
	List(ctx context.Context, email string) ([]model.GenerationSession, error)
	Get(ctx context.Context, email, id string) (model.GenerationSession, error)
	Clear(ctx context.Context, email string) error
}

// RawGenerateRequest is one variation whose theme and pose are given as text.
type RawGenerateRequest struct {
	ProductImage   []byte
	ModelImage     []byte
	Gender         model.Gender
	ThemeLabel     string
	AspectRatio    model.AspectRatio
	Description    string
	PosePrompt     string
	VariationIndex int
}

// StudioService runs batches for a user's workspace and keeps their history.
type StudioService interface {
	Generate(ctx context.Context, email string, p model.Params, onResult generation.ResultFunc) (generation.BatchOutcome, error)
	Regenerate(ctx context.Context, email string, index int) (model.GenerationResult, error)
	Workspace(email string) generation.View
	Load(ctx context.Context, email, sessionID string) (generation.View, error)
	Forget(email string)

	GenerateRaw(ctx context.Context, req RawGenerateRequest) ([]byte, error)
	Upload(ctx context.Context, items []model.UploadItem) ([]string, error)

	History(ctx context.Context, email string) ([]model.GenerationSession, error)
	HistorySession(ctx context.Context, email, id string) (model.GenerationSession, error)
	SaveHistory(ctx context.Context, email string, s model.GenerationSession) error
	ClearHistory(ctx context.Context, email string) error
}

type StudioServiceImpl struct {
	client      GenerationClient
	orch        *generation.Orchestrator
	regen       *generation.Regenerator
	workspaces  *generation.Workspaces
	archiver    Archiver
	ledger      HistoryLedger
	usage       UserService
	catalog     *catalog.Catalog
	log         *zap.Logger
	now         func() time.Time
	newSession  func() (uuid.UUID, error)
	persistWait sync.WaitGroup
}

// NewStudioService wires the studio.
func NewStudioService(client GenerationClient, archiver Archiver, ledger HistoryLedger, usage UserService, cat *catalog.Catalog, log *zap.Logger) *StudioServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	if cat == nil {
		cat = catalog.Default()
	}
	return &StudioServiceImpl{
		client:     client,
		orch:       generation.NewOrchestrator(client, log),
		regen:      generation.NewRegenerator(client, log),
		workspaces: generation.NewWorkspaces(),
		archiver:   archiver,
		ledger:     ledger,
		usage:      usage,
		catalog:    cat,
		log:        log,
		now:        time.Now,
		newSession: uuid.NewV7,
	}
}

// Generate starts a batch in the user's workspace, cancelling one still running there, and
// reports each arriving result through onResult. After the batch settles with at least one
// success the results are archived and recorded in the background.
func (s *StudioServiceImpl) Generate(ctx context.Context, email string, p model.Params, onResult generation.ResultFunc) (generation.BatchOutcome, error) {
	p = generation.NormalizeParams(p, s.catalog)
	if err := generation.ValidateParams(p); err != nil {
		return generation.BatchOutcome{}, err
	}

	ws := s.workspaces.For(email)
	bctx, epoch := ws.Begin(ctx, p)
	out := s.orch.RunBatch(bctx, p, func(index int, r model.GenerationResult) {
		if ws.Add(epoch, r) && onResult != nil {
			onResult(index, r)
		}
	})
	ws.Finish(epoch)

	if !ws.Current(epoch) {
		return out, fmt.Errorf("batch %d: %w", epoch, errs.ErrStaleEpoch)
	}
	if out.SuccessCount == 0 {
		s.log.Warn("batch failed", zap.String("email", email), zap.Error(out.Failure))
		return out, nil
	}

	s.persistWait.Add(1)
	go func() {
		defer s.persistWait.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		s.persist(pctx, ws, epoch, email, p, out.Results)
	}()
	return out, nil
}

// persist archives a settled batch and appends it to history, unless a newer batch took
// over the workspace in the meantime.
func (s *StudioServiceImpl) persist(ctx context.Context, ws *generation.Workspace, epoch uint64, email string, p model.Params, results []model.GenerationResult) {
	if _, err := s.usage.IncrementUsage(ctx, email); err != nil {
		s.log.Warn("usage increment failed", zap.String("email", email), zap.Error(err))
	}
	if !ws.Current(epoch) {
		return
	}

	arch, err := s.archiver.Archive(ctx, results, p.ProductImage, p.ModelImage)
	if err != nil {
		s.log.Warn("archive failed, history not written", zap.String("email", email), zap.Error(err))
		return
	}

	archived := make([]model.GenerationResult, len(results))
	for i, r := range results {
		archived[i] = model.GenerationResult{ID: r.ID, URL: arch.URLs[i]}
	}
	id, err := s.newSession()
	if err != nil {
		s.log.Error("session id", zap.Error(err))
		return
	}
	sess := model.GenerationSession{
		ID:              id.String(),
		Email:           email,
		Timestamp:       s.now().UnixMilli(),
		Theme:           p.ThemeID,
		Gender:          p.Gender,
		AspectRatio:     p.AspectRatio,
		ProductImageURL: arch.ProductURL,
		ModelImageURL:   arch.ModelURL,
		Results:         archived,
	}
	if !ws.ApplyArchive(epoch, archived, sess.ID) {
		s.log.Info("archived batch superseded, history not written", zap.Uint64("epoch", epoch))
		return
	}
	s.ledger.Record(ctx, sess)
}

// Wait blocks until background archive and history work has finished.
func (s *StudioServiceImpl) Wait() { s.persistWait.Wait() }

// Regenerate replaces one slot of the user's workspace.
func (s *StudioServiceImpl) Regenerate(ctx context.Context, email string, index int) (model.GenerationResult, error) {
	return s.regen.RegenerateSlot(ctx, s.workspaces.For(email), index)
}

// Workspace returns the user's current results.
func (s *StudioServiceImpl) Workspace(email string) generation.View {
	return s.workspaces.For(email).Snapshot()
}

// Load shows a history session in the user's workspace.
func (s *StudioServiceImpl) Load(ctx context.Context, email, sessionID string) (generation.View, error) {
	sess, err := s.ledger.Get(ctx, email, sessionID)
	if err != nil {
		return generation.View{}, err
	}
	ws := s.workspaces.For(email)
	ws.Load(sess)
	return ws.Snapshot(), nil
}

// Forget drops the user's workspace, cancelling anything in flight.
func (s *StudioServiceImpl) Forget(email string) { s.workspaces.Drop(email) }

// EvictIdle releases workspaces untouched for idle, with their uploaded images, and
// returns how many were released.
func (s *StudioServiceImpl) EvictIdle(idle time.Duration) int { return s.workspaces.Sweep(idle) }

// GenerateRaw performs one call for clients that orchestrate batches themselves.
func (s *StudioServiceImpl) GenerateRaw(ctx context.Context, req RawGenerateRequest) ([]byte, error) {
	p := generation.NormalizeParams(model.Params{
		Gender:       req.Gender,
		AspectRatio:  req.AspectRatio,
		ProductImage: req.ProductImage,
	}, nil)
	if err := generation.ValidateParams(p); err != nil {
		return nil, err
	}
	if req.VariationIndex < 0 {
		return nil, fmt.Errorf("%w: variation index", errs.ErrInvalidInput)
	}
	return s.client.Render(ctx, generation.PromptInput{
		Gender:         p.Gender,
		ThemeLabel:     req.ThemeLabel,
		PosePrompt:     req.PosePrompt,
		Description:    req.Description,
		AspectRatio:    p.AspectRatio,
		VariationIndex: req.VariationIndex,
	}, req.ProductImage, req.ModelImage)
}

// Upload stores base64 images and returns their URLs in order.
func (s *StudioServiceImpl) Upload(ctx context.Context, items []model.UploadItem) ([]string, error) {
	return s.archiver.UploadItems(ctx, items)
}

// History lists the user's sessions, newest first.
func (s *StudioServiceImpl) History(ctx context.Context, email string) ([]model.GenerationSession, error) {
	return s.ledger.List(ctx, email)
}

// HistorySession loads one session of the user.
func (s *StudioServiceImpl) HistorySession(ctx context.Context, email, id string) (model.GenerationSession, error) {
	return s.ledger.Get(ctx, email, id)
}

// SaveHistory appends a client-archived session owned by email.
func (s *StudioServiceImpl) SaveHistory(ctx context.Context, email string, sess model.GenerationSession) error {
	sess.Email = email
	if sess.Timestamp == 0 {
		sess.Timestamp = s.now().UnixMilli()
	}
	return s.ledger.Append(ctx, sess)
}

// ClearHistory removes every session of the user.
func (s *StudioServiceImpl) ClearHistory(ctx context.Context, email string) error {
	return s.ledger.Clear(ctx, email)
}
