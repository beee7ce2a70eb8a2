// Package app assembles a training run from its configuration: data, model,
// optimizer, slot store, checkpoints, record sinks and the monitor server.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"twostream/checkpoint"
	"twostream/config"
	"twostream/data"
	"twostream/db"
	qhttp "twostream/http"
	"twostream/ml"
	"twostream/monitoring"
	"twostream/state"
	"twostream/training"
)

type App struct {
	config  *config.Config
	logger  *zap.Logger
	runID   string
	records *db.Store
	hub     *monitoring.Hub
	trainer *training.Trainer
	server  *qhttp.Server
	ckpt    *checkpoint.Manager
}

func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	runID := uuid.NewString()
	logger = logger.With(zap.String("run", runID))

	source, err := data.NewSynthetic(data.SyntheticConfig{
		TrainLengths:  cfg.Data.TrainLengths,
		ValLengths:    cfg.Data.ValLengths,
		FrameDim:      cfg.Model.FrameDim,
		ExpressionDim: cfg.Model.ExpressionDim,
		NumClasses:    cfg.Model.NumClasses,
		Noise:         cfg.Data.Noise,
		Seed:          cfg.Train.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("build dataset: %w", err)
	}
	trainLoaders := source.TrainLoaders(cfg.Train.BatchSize)
	valLoaders := source.ValLoaders(cfg.Train.BatchSize)
	trainSizes, valSize := data.Summary(trainLoaders, valLoaders)
	logger.Info("==> Training data : " + trainSizes)
	logger.Info("==> Validation data : " + valSize)

	model, err := ml.NewModel(ml.ModelSpec{
		Type:           cfg.Model.Type,
		FrameDim:       cfg.Model.FrameDim,
		ExpressionDim:  cfg.Model.ExpressionDim,
		FeatureDim:     cfg.Model.HiddenDim,
		NumClasses:     cfg.Model.NumClasses,
		WithExpression: cfg.Model.WithExpression,
		Seed:           cfg.Train.Seed,
	})
	if err != nil {
		return nil, err
	}
	opt := ml.NewSGD(model.Parameters(), cfg.Train.LR, cfg.Train.Momentum)

	slots, err := state.NewStore(cfg.Paths.ModelDir, cfg.Paths.SlotCacheSize)
	if err != nil {
		return nil, err
	}

	records, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:  cfg,
		logger:  logger,
		runID:   runID,
		records: records,
		hub:     monitoring.NewHub(logger),
		ckpt:    checkpoint.NewManager(cfg.CheckpointPath()),
	}

	a.trainer, err = training.NewTrainer(training.Options{
		Config: training.Config{
			Epochs:         cfg.Train.Epochs,
			StartEpoch:     cfg.Train.StartEpoch,
			Evaluate:       cfg.Train.Evaluate,
			Resume:         cfg.Train.Resume,
			HoistIterators: cfg.Train.HoistIterators,
		},
		Model:        model,
		Optimizer:    opt,
		Store:        slots,
		Checkpoints:  a.ckpt,
		Plateau:      training.NewPlateau(cfg.Plateau.Factor, cfg.Plateau.Patience, cfg.Plateau.Threshold, cfg.Plateau.MinLR),
		Sink:         training.MultiSink{records, training.NewLogSink(logger), a.hub},
		Logger:       logger,
		RunID:        runID,
		TrainLoaders: trainLoaders,
		ValLoaders:   valLoaders,
		OnStatus:     func(s training.Status) {
			if err := a.hub.Publish(monitoring.StatusEvent, s); err != nil {
				logger.Warn("publish status", zap.Error(err))
			}
		},
	})
	if err != nil {
		records.Close()
		return nil, err
	}

	if cfg.Http.Port > 0 {
		serverConfig := qhttp.DefaultServerConfig()
		serverConfig.Port = cfg.Http.Port
		api := &qhttp.API{Status: a.trainer, Records: records, Hub: a.hub}
		a.server = qhttp.NewServer(serverConfig, api, logger)
	}
	return a, nil
}

func (a *App) RunID() string {
	return a.runID
}

func (a *App) Trainer() *training.Trainer {
	return a.trainer
}

// Serving reports whether the monitor server is enabled.
func (a *App) Serving() bool {
	return a.server != nil
}

// Start launches the websocket hub, the checkpoint watcher and the monitor
// server. They stop when ctx is cancelled or Close is called.
func (a *App) Start(ctx context.Context) error {
	go a.hub.Run(ctx)

	watcher, err := checkpoint.NewWatcher(a.ckpt, a.logger)
	if err != nil {
		return err
	}
	go func() {
		if err := watcher.Run(ctx, a.hub.OnCheckpoint(a.ckpt.Path())); err != nil {
			a.logger.Warn("checkpoint watcher stopped", zap.Error(err))
		}
	}()

	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil {
				a.logger.Error("HTTP server failed", zap.Error(err))
			}
		}()
	}
	return nil
}

// Train registers the run and drives it to completion.
func (a *App) Train(ctx context.Context) error {
	err := a.records.RegisterRun(ctx, db.Run{
		ID:         a.runID,
		StartedAt:  time.Now(),
		Epochs:     a.config.Train.Epochs,
		StartEpoch: a.config.Train.StartEpoch,
		BatchSize:  a.config.Train.BatchSize,
		LR:         a.config.Train.LR,
		Classes:    len(a.config.Data.TrainLengths),
		Evaluate:   a.config.Train.Evaluate,
	})
	if err != nil {
		return fmt.Errorf("register run: %w", err)
	}

	start := time.Now()
	if err := a.trainer.Run(ctx); err != nil {
		return err
	}
	status := a.trainer.Status()
	a.logger.Info("run finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Float64("best_prec1", status.BestPrec1),
		zap.Float64("lr", status.LR),
	)
	return nil
}

func (a *App) Close() error {
	var err error
	if a.server != nil {
		err = multierr.Append(err, a.server.Stop())
	}
	err = multierr.Append(err, a.records.Close())
	return err
}
