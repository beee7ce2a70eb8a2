package training

import (
	"context"
	"fmt"

	"twostream/data"
	"twostream/metrics"
	"twostream/ml"
	"twostream/scheduler"
)

// Evaluator runs a validation pass without parameter updates. Every active
// pair loads its class's classifier head first; predictions and labels are
// pooled over the whole pass and scored once.
type Evaluator struct {
	model *ml.CombinedModel
	store StateStore
	sink  Sink
	runID string
	hoist bool
}

func NewEvaluator(model *ml.CombinedModel, store StateStore, sink Sink, runID string, hoist bool) *Evaluator {
	return &Evaluator{model: model, store: store, sink: sink, runID: runID, hoist: hoist}
}

func (e *Evaluator) Evaluate(ctx context.Context, epoch int, loaders []data.ClassLoader) (metrics.Scores, error) {
	var (
		preds  [][]float64
		labels []int
	)

	sched := newScheduler(loaders, e.hoist)
	err := sched.Run(ctx, func(step int, pair scheduler.Pair) error {
		frames, expressions, _, err := inputs(pair.Batch, e.model.NumClasses())
		if err != nil {
			return fmt.Errorf("validation step %d loader %d: %w", step, pair.LoaderID, err)
		}
		sd, err := e.store.Load(pair.LoaderID)
		if err != nil {
			return fmt.Errorf("validation step %d: %w", step, err)
		}
		if err := e.model.LoadClassifierState(sd); err != nil {
			return fmt.Errorf("validation step %d loader %d: restore classifier: %w", step, pair.LoaderID, err)
		}
		output, err := e.model.Forward(frames, expressions)
		if err != nil {
			return fmt.Errorf("validation step %d loader %d: %w", step, pair.LoaderID, err)
		}
		preds = append(preds, ml.Rows(output)...)
		labels = append(labels, pair.Batch.LabelAdversarial...)
		return nil
	})
	if err != nil {
		return metrics.Scores{}, err
	}

	scores := metrics.Score(preds, labels, e.model.NumClasses())
	record := metrics.NewEpochRecord(epoch, sched.StepCount()-1, scores)
	record.RunID = e.runID
	if err := e.sink.Append(ctx, record); err != nil {
		return metrics.Scores{}, err
	}
	return scores, nil
}
