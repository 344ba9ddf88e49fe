// Package matching runs the buddy-matching pipeline: integrate the requester's
// profile, derive tags, shortlist candidates, rank them with the model and
// materialize the result as match records.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdugdh24/gowith-backend/internal/extraction"
	"github.com/gdugdh24/gowith-backend/internal/repository"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	StagePreflight   = "preflight"
	StageIntegrate   = "integrate"
	StageTag         = "tag"
	StageFilter      = "filter"
	StageRecommend   = "recommend"
	StageMaterialize = "materialize"
)

var (
	errNotAnObject  = errors.New("model output is not a JSON object")
	errNotAList     = errors.New("model output is not a JSON array")
	errNoUsableTags = errors.New("model output contains no usable tags")
)

// Completer is the text-completion service the stages prompt.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float32) (string, error)
}

// Notifier queues a best-effort message and reports whether it was accepted.
type Notifier interface {
	Notify(ctx context.Context, recipient, message string) bool
}

// StageError is a fatal failure inside a stage, such as an unreachable store.
// Recoverable model or parsing failures never produce one.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type Dependencies struct {
	Requests  repository.BuddyRequestRepository
	Profiles  repository.ProfileRepository
	Events    repository.EventRepository
	Users     repository.UserRepository
	Tags      repository.TagRepository
	Matches   repository.MatchRepository
	Completer Completer
	Notifier  Notifier
	Prompts   *Prompts
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Pipeline holds the collaborators shared by every stage. It keeps no
// per-run state, so one value serves concurrent runs.
type Pipeline struct {
	requests  repository.BuddyRequestRepository
	profiles  repository.ProfileRepository
	events    repository.EventRepository
	users     repository.UserRepository
	tags      repository.TagRepository
	matches   repository.MatchRepository
	completer Completer
	notifier  Notifier
	prompts   *Prompts
	extractor *extraction.Extractor
	validate  *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

func NewPipeline(deps Dependencies) *Pipeline {
	if deps.Prompts == nil {
		deps.Prompts = DefaultPrompts()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Pipeline{
		requests:  deps.Requests,
		profiles:  deps.Profiles,
		events:    deps.Events,
		users:     deps.Users,
		tags:      deps.Tags,
		matches:   deps.Matches,
		completer: deps.Completer,
		notifier:  deps.Notifier,
		prompts:   deps.Prompts,
		extractor: extraction.New(),
		validate:  validator.New(),
		logger:    deps.Logger.Named("matching"),
		now:       deps.Clock,
	}
}

// complete prompts the model and extracts a JSON value from the reply. The
// returned raw text is kept for fallbacks even when extraction fails.
func (p *Pipeline) complete(ctx context.Context, prompt *Prompt, user string) (value any, raw string, err error) {
	raw, err = p.completer.Complete(ctx, prompt.System, user, prompt.Temperature)
	if err != nil {
		return nil, "", err
	}
	res, err := p.extractor.Extract(raw)
	if err != nil {
		return nil, raw, err
	}
	p.logger.Debug("model output extracted", zap.String("strategy", res.Strategy))
	return res.Value, raw, nil
}
