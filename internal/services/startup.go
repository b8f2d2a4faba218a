package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/autobot/internal/models"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of a startup run
type Outcome int

const (
	// OutcomeCompleted means every stage succeeded
	OutcomeCompleted Outcome = iota
	// OutcomeCancelled means a stop was requested between stages. It is not an error.
	OutcomeCancelled
	// OutcomeFailed means a stage returned an error
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// StartupContext is the state passed forward from one stage to the next
type StartupContext struct {
	RunState       *models.RunState
	LoginKey       string
	PollData       json.RawMessage
	Identity       string
	Cookies        []string
	Credentials    models.APICredentials
	APIKey         string
	FriendCapacity int
}

// Stage is a named unit of startup work
type Stage struct {
	Name string
	Run  func(ctx context.Context, sc *StartupContext) error
}

// StopFlag reports whether shutdown has been requested
type StopFlag interface {
	IsStopping() bool
}

// Orchestrator runs startup stages strictly in order
type Orchestrator struct {
	stages []Stage
	stop   StopFlag
	logger *slog.Logger
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(stages []Stage, stop StopFlag, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		stages: stages,
		stop:   stop,
		logger: logger,
	}
}

// Run executes the stages. The stop flag is checked before every stage and
// after the last one; if it is set Run returns OutcomeCancelled with a nil
// error. The first failing stage aborts the run.
func (o *Orchestrator) Run(ctx context.Context, sc *StartupContext) (Outcome, error) {
	if sc == nil {
		sc = &StartupContext{}
	}

	for i, stage := range o.stages {
		if o.stopping() {
			o.logger.Warn("stop requested, aborting startup", slog.String("next_stage", stage.Name))
			return OutcomeCancelled, nil
		}

		start := time.Now()
		o.logger.Debug("running startup stage", slog.Int("stage", i+1), slog.String("name", stage.Name))

		if err := stage.Run(ctx, sc); err != nil {
			o.logger.Error("startup stage failed",
				slog.Int("stage", i+1),
				slog.String("name", stage.Name),
				slog.Any("error", err),
			)
			return OutcomeFailed, fmt.Errorf("startup stage %q: %w", stage.Name, err)
		}

		o.logger.Debug("startup stage completed",
			slog.String("name", stage.Name),
			slog.Duration("took", time.Since(start)),
		)
	}

	if o.stopping() {
		o.logger.Warn("stop requested, startup finished but will not go ready")
		return OutcomeCancelled, nil
	}

	return OutcomeCompleted, nil
}

func (o *Orchestrator) stopping() bool {
	return o.stop != nil && o.stop.IsStopping()
}

// Parallel groups stages that run concurrently. All of them must succeed; the
// first failure cancels the context of the others and is returned.
func Parallel(name string, stages ...Stage) Stage {
	return Stage{
		Name: name,
		Run: func(ctx context.Context, sc *StartupContext) error {
			g, gctx := errgroup.WithContext(ctx)
			for _, stage := range stages {
				stage := stage
				g.Go(func() error {
					if err := stage.Run(gctx, sc); err != nil {
						return fmt.Errorf("%s: %w", stage.Name, err)
					}
					return nil
				})
			}
			return g.Wait()
		},
	}
}

// Skippable returns a stage that does nothing when skip is true
func Skippable(stage Stage, skip bool) Stage {
	if !skip {
		return stage
	}
	return Stage{
		Name: stage.Name,
		Run:  func(context.Context, *StartupContext) error { return nil },
	}
}
