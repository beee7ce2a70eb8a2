// Package training drives the per-class, state-swapped training schedule:
// epochs of synchronized per-class steps, a pooled validation pass, the
// plateau learning-rate schedule and best-model checkpointing.
package training

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"twostream/checkpoint"
	"twostream/data"
	"twostream/metrics"
	"twostream/ml"
)

type Config struct {
	Epochs         int
	StartEpoch     int
	Evaluate       bool
	Resume         bool
	HoistIterators bool
}

type Options struct {
	Config       Config
	Model        *ml.CombinedModel
	Optimizer    ml.Optimizer
	Store        StateStore
	Checkpoints  *checkpoint.Manager
	Plateau      *Plateau
	Sink         Sink
	Logger       *zap.Logger
	RunID        string
	TrainLoaders []data.ClassLoader
	ValLoaders   []data.ClassLoader
	// OnStatus, when set, receives a copy of the status after every change.
	OnStatus func(Status)
}

type Stage string

const (
	StageIdle       Stage = "idle"
	StageTraining   Stage = "training"
	StageValidation Stage = "validation"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// Status is a point-in-time view of the run for monitoring.
type Status struct {
	RunID      string  `json:"run_id"`
	Stage      Stage   `json:"stage"`
	Epoch      int     `json:"epoch"`
	StartEpoch int     `json:"start_epoch"`
	Epochs     int     `json:"epochs"`
	BestPrec1  float64 `json:"best_prec1"`
	LastPrec1  float64 `json:"last_prec1"`
	LR         float64 `json:"lr"`
}

type epochTrainer interface {
	TrainEpoch(ctx context.Context, epoch int, loaders []data.ClassLoader) error
}

type validator interface {
	Evaluate(ctx context.Context, epoch int, loaders []data.ClassLoader) (metrics.Scores, error)
}

// Trainer owns the epoch counter and the best metric.
type Trainer struct {
	config    Config
	model     *ml.CombinedModel
	opt       ml.Optimizer
	ckpt      *checkpoint.Manager
	plateau   *Plateau
	logger    *zap.Logger
	driver    epochTrainer
	evaluator validator
	train     []data.ClassLoader
	val       []data.ClassLoader
	onStatus  func(Status)

	mu     sync.RWMutex
	status Status
}

func NewTrainer(opts Options) (*Trainer, error) {
	switch {
	case opts.Model == nil:
		return nil, errors.New("model is required")
	case opts.Optimizer == nil:
		return nil, errors.New("optimizer is required")
	case opts.Store == nil:
		return nil, errors.New("classifier state store is required")
	case opts.Checkpoints == nil:
		return nil, errors.New("checkpoint manager is required")
	case opts.Sink == nil:
		return nil, errors.New("record sink is required")
	}
	if opts.Plateau == nil {
		opts.Plateau = NewPlateau(0.1, 0, 1e-4, 0)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	t := &Trainer{
		config:    opts.Config,
		model:     opts.Model,
		opt:       opts.Optimizer,
		ckpt:      opts.Checkpoints,
		plateau:   opts.Plateau,
		logger:    opts.Logger,
		driver:    NewDriver(opts.Model, opts.Optimizer, opts.Store, opts.Sink, opts.RunID, opts.Config.HoistIterators),
		evaluator: NewEvaluator(opts.Model, opts.Store, opts.Sink, opts.RunID, opts.Config.HoistIterators),
		train:     opts.TrainLoaders,
		val:       opts.ValLoaders,
		onStatus:  opts.OnStatus,
		status: Status{
			RunID:      opts.RunID,
			Stage:      StageIdle,
			Epoch:      opts.Config.StartEpoch,
			StartEpoch: opts.Config.StartEpoch,
			Epochs:     opts.Config.Epochs,
			LR:         opts.Optimizer.LR(),
		},
	}
	if opts.Config.HoistIterators {
		t.logger.Warn("iterators hoisted out of the step loop; steps consume successive batches instead of each loader's first batch")
	}
	return t, nil
}

func (t *Trainer) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Trainer) update(fn func(s *Status)) {
	t.mu.Lock()
	fn(&t.status)
	t.status.LR = t.opt.LR()
	status := t.status
	t.mu.Unlock()

	if t.onStatus != nil {
		t.onStatus(status)
	}
}

// Run resumes if configured, then either runs a single validation pass
// (evaluate mode) or trains epochs [start, Epochs).
func (t *Trainer) Run(ctx context.Context) error {
	err := t.run(ctx)
	t.update(func(s *Status) {
		if err != nil {
			s.Stage = StageFailed
		} else {
			s.Stage = StageDone
		}
	})
	return err
}

func (t *Trainer) run(ctx context.Context) error {
	if t.config.Resume {
		if err := t.resume(); err != nil {
			return err
		}
	}

	if t.config.Evaluate {
		_, err := t.validate(ctx, t.Status().StartEpoch)
		return err
	}

	start := t.Status().StartEpoch
	for epoch := start; epoch < t.config.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.Epoch(ctx, epoch); err != nil {
			return err
		}
	}
	return nil
}

// Epoch trains, validates, steps the plateau schedule and saves a checkpoint
// when validation mAP strictly beats the best so far.
func (t *Trainer) Epoch(ctx context.Context, epoch int) error {
	t.update(func(s *Status) {
		s.Epoch = epoch
		s.Stage = StageTraining
	})
	t.logger.Info(fmt.Sprintf("==> Epoch:[%d/%d][training stage]", epoch, t.config.Epochs))
	if err := t.driver.TrainEpoch(ctx, epoch, t.train); err != nil {
		return err
	}

	prec1, err := t.validate(ctx, epoch)
	if err != nil {
		return err
	}

	if t.plateau.Step(prec1, t.opt) {
		t.logger.Info("reducing learning rate",
			zap.Int("epoch", epoch),
			zap.Float64("lr", t.opt.LR()),
			zap.Float64("plateau_best", t.plateau.Best()),
		)
	}
	t.update(func(*Status) {})

	best := t.Status().BestPrec1
	if !checkpoint.IsBest(prec1, best) {
		return nil
	}
	best = prec1
	t.update(func(s *Status) { s.BestPrec1 = best })

	if err := t.ckpt.Save(checkpoint.Snapshot(epoch, best, t.model, t.opt)); err != nil {
		return err
	}
	t.logger.Info("saved new best checkpoint",
		zap.Int("epoch", epoch),
		zap.Float64("best_prec1", best),
		zap.String("path", t.ckpt.Path()),
	)
	return nil
}

func (t *Trainer) validate(ctx context.Context, epoch int) (float64, error) {
	t.update(func(s *Status) { s.Stage = StageValidation })
	t.logger.Info(fmt.Sprintf("==> Epoch:[%d/%d][validation stage]", epoch, t.config.Epochs))
	scores, err := t.evaluator.Evaluate(ctx, epoch, t.val)
	if err != nil {
		return 0, err
	}
	t.update(func(s *Status) { s.LastPrec1 = scores.MAP })
	return scores.MAP, nil
}

func (t *Trainer) resume() error {
	path := t.ckpt.Path()
	t.logger.Info(fmt.Sprintf("==> loading checkpoint '%s'", path))
	ckpt, err := t.ckpt.Resume(t.model, t.opt)
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		t.logger.Info(fmt.Sprintf("==> no checkpoint found at '%s'", path))
		return nil
	}
	if err != nil {
		return err
	}
	t.update(func(s *Status) {
		s.StartEpoch = ckpt.Epoch
		s.Epoch = ckpt.Epoch
		s.BestPrec1 = ckpt.BestPrec1
	})
	t.logger.Info(fmt.Sprintf("==> loaded checkpoint '%s' (epoch %d) (best_prec1 %v)", path, ckpt.Epoch, ckpt.BestPrec1))
	return nil
}
