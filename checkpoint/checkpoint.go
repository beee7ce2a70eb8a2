// Package checkpoint persists the single best-so-far combined-model snapshot
// and restores it on resume.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"

	"twostream/fileutil"
	"twostream/ml"
)

// ErrNoCheckpoint reports that nothing is stored at the checkpoint path yet.
// It is not fatal: training starts from scratch.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Checkpoint is the on-disk record. Field names are part of the file format.
type Checkpoint struct {
	Epoch     int               `json:"epoch"`
	StateDict ml.StateDict      `json:"state_dict"`
	BestPrec1 float64           `json:"best_prec1"`
	Optimizer ml.OptimizerState `json:"optimizer"`
}

// Restorable is the combined model as seen by the checkpoint.
type Restorable interface {
	StateDict() ml.StateDict
	LoadStateDict(sd ml.StateDict) error
}

// Manager owns the single checkpoint slot at path.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Load() (*Checkpoint, error) {
	var ckpt Checkpoint
	if err := fileutil.ReadJSON(m.path, &ckpt); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w at '%s'", ErrNoCheckpoint, m.path)
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return &ckpt, nil
}

// Save replaces the slot atomically.
func (m *Manager) Save(ckpt *Checkpoint) error {
	if err := fileutil.WriteJSON(m.path, ckpt); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Snapshot captures the model and optimizer at the end of epoch.
func Snapshot(epoch int, best float64, model Restorable, opt ml.Optimizer) *Checkpoint {
	return &Checkpoint{
		Epoch:     epoch,
		StateDict: model.StateDict(),
		BestPrec1: best,
		Optimizer: opt.StateDict(),
	}
}

// Resume loads the slot into model and opt. When the slot is empty it
// returns an error matching ErrNoCheckpoint and leaves both untouched.
func (m *Manager) Resume(model Restorable, opt ml.Optimizer) (*Checkpoint, error) {
	ckpt, err := m.Load()
	if err != nil {
		return nil, err
	}
	if err := model.LoadStateDict(ckpt.StateDict); err != nil {
		return nil, fmt.Errorf("restore model from %s: %w", m.path, err)
	}
	if err := opt.LoadStateDict(ckpt.Optimizer); err != nil {
		return nil, fmt.Errorf("restore optimizer from %s: %w", m.path, err)
	}
	return ckpt, nil
}

// IsBest reports a strict improvement over the recorded best.
func IsBest(current, best float64) bool {
	return current > best
}
