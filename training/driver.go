package training

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"twostream/data"
	"twostream/metrics"
	"twostream/ml"
	"twostream/scheduler"
)

// StateStore persists one classifier head per loader.
type StateStore interface {
	Load(id int) (ml.StateDict, error)
	Save(id int, sd ml.StateDict) error
}

// Driver runs training epochs. Every active (step, class) pair restores that
// class's classifier head (except at step 0, which keeps whatever head is in
// memory), takes one optimizer step over backbone and head together, and
// saves the head back to the class's slot.
type Driver struct {
	model *ml.CombinedModel
	opt   ml.Optimizer
	store StateStore
	sink  Sink
	runID string
	hoist bool
}

func NewDriver(model *ml.CombinedModel, opt ml.Optimizer, store StateStore, sink Sink, runID string, hoist bool) *Driver {
	return &Driver{model: model, opt: opt, store: store, sink: sink, runID: runID, hoist: hoist}
}

func (d *Driver) TrainEpoch(ctx context.Context, epoch int, loaders []data.ClassLoader) error {
	sched := newScheduler(loaders, d.hoist)
	return sched.Run(ctx, func(step int, pair scheduler.Pair) error {
		if err := d.trainStep(ctx, epoch, step, pair); err != nil {
			return fmt.Errorf("epoch %d step %d loader %d: %w", epoch, step, pair.LoaderID, err)
		}
		return nil
	})
}

func (d *Driver) trainStep(ctx context.Context, epoch, step int, pair scheduler.Pair) error {
	batch := pair.Batch
	frames, expressions, targets, err := inputs(batch, d.model.NumClasses())
	if err != nil {
		return err
	}

	if step != 0 {
		sd, err := d.store.Load(pair.LoaderID)
		if err != nil {
			return err
		}
		if err := d.model.LoadClassifierState(sd); err != nil {
			return fmt.Errorf("restore classifier: %w", err)
		}
	}

	output, err := d.model.Forward(frames, expressions)
	if err != nil {
		return err
	}
	loss, grad, err := ml.MSELoss(output, targets)
	if err != nil {
		return err
	}
	scores := metrics.Score(ml.Rows(output), batch.LabelAdversarial, d.model.NumClasses())

	d.opt.ZeroGrad()
	if err := d.model.Backward(grad); err != nil {
		return err
	}
	if err := d.opt.Step(); err != nil {
		return err
	}

	if err := d.store.Save(pair.LoaderID, d.model.ClassifierState()); err != nil {
		return err
	}

	record := metrics.NewStepRecord(epoch, step, pair.LoaderID, loss, scores)
	record.RunID = d.runID
	return d.sink.Append(ctx, record)
}

func newScheduler(loaders []data.ClassLoader, hoist bool) *scheduler.Scheduler {
	if hoist {
		return scheduler.New(loaders, scheduler.WithHoistedIterators())
	}
	return scheduler.New(loaders)
}

func inputs(batch data.Batch, numClasses int) (frames, expressions, targets *mat.Dense, err error) {
	if err := batch.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if frames, err = ml.FromRows(batch.Frames); err != nil {
		return nil, nil, nil, fmt.Errorf("frames: %w", err)
	}
	if expressions, err = ml.FromRows(batch.Expressions); err != nil {
		return nil, nil, nil, fmt.Errorf("expressions: %w", err)
	}
	rows, err := batch.Targets(numClasses)
	if err != nil {
		return nil, nil, nil, err
	}
	if targets, err = ml.FromRows(rows); err != nil {
		return nil, nil, nil, fmt.Errorf("targets: %w", err)
	}
	return frames, expressions, targets, nil
}
