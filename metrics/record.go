package metrics

import (
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"
	"gonum.org/v1/gonum/floats/scalar"
)

type Stream string

const (
	StreamTrain Stream = "train"
	StreamTest  Stream = "test"
)

// NotComputed fills the activity-head columns, which are not scored.
const NotComputed = "-"

// Record is one append-only row of the train or test stream.
type Record struct {
	RunID    string    `json:"run_id"`
	Stream   Stream    `json:"stream"`
	Epoch    int       `json:"Epoch"`
	Step     int       `json:"Step"`
	Class    int       `json:"Class"`
	Loss     *float64  `json:"Loss,omitempty"`
	MAPAct   string    `json:"mAP_act"`
	MAPAdv   float64   `json:"mAP_adv"`
	Prec1Act string    `json:"Prec@1_act"`
	Prec5Act string    `json:"Prec@5_act"`
	Prec1Adv float64   `json:"Prec@1_adv"`
	Prec5Adv float64   `json:"Prec@5_adv"`
	Time     time.Time `json:"time"`
}

// NewStepRecord builds a train-stream row for one (step, class).
func NewStepRecord(epoch, step, class int, loss float64, s Scores) Record {
	rounded := scalar.Round(loss, 5)
	r := newRecord(StreamTrain, epoch, step, s)
	r.Class = class
	r.Loss = &rounded
	return r
}

// NewEpochRecord builds the test-stream row of one validation pass.
func NewEpochRecord(epoch, lastStep int, s Scores) Record {
	r := newRecord(StreamTest, epoch, lastStep, s)
	r.Class = -1
	return r
}

func newRecord(stream Stream, epoch, step int, s Scores) Record {
	return Record{
		Stream:   stream,
		Epoch:    epoch,
		Step:     step,
		MAPAct:   NotComputed,
		MAPAdv:   scalar.Round(s.MAP, 5),
		Prec1Act: NotComputed,
		Prec5Act: NotComputed,
		Prec1Adv: scalar.Round(s.Prec1, 4),
		Prec5Adv: scalar.Round(s.Prec5, 4),
		Time:     time.Now(),
	}
}

// Columns renders the record in the fixed column order of the log schema.
func (r Record) Columns() []string {
	loss := NotComputed
	if r.Loss != nil {
		loss = strconv.FormatFloat(*r.Loss, 'f', -1, 64)
	}
	return []string{
		strconv.Itoa(r.Epoch),
		strconv.Itoa(r.Step),
		loss,
		r.MAPAct,
		strconv.FormatFloat(r.MAPAdv, 'f', -1, 64),
		r.Prec1Act,
		r.Prec5Act,
		strconv.FormatFloat(r.Prec1Adv, 'f', -1, 64),
		strconv.FormatFloat(r.Prec5Adv, 'f', -1, 64),
	}
}

// Header names the columns returned by Columns.
func Header() []string {
	return []string{"Epoch", "Step", "Loss", "mAP_act", "mAP_adv", "Prec@1_act", "Prec@5_act", "Prec@1_adv", "Prec@5_adv"}
}

func (r Record) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("stream", string(r.Stream))
	enc.AddInt("epoch", r.Epoch)
	enc.AddInt("step", r.Step)
	if r.Stream == StreamTrain {
		enc.AddInt("class", r.Class)
	}
	if r.Loss != nil {
		enc.AddFloat64("loss", *r.Loss)
	}
	enc.AddString("mAP_act", r.MAPAct)
	enc.AddFloat64("mAP_adv", r.MAPAdv)
	enc.AddString("prec1_act", r.Prec1Act)
	enc.AddString("prec5_act", r.Prec5Act)
	enc.AddFloat64("prec1_adv", r.Prec1Adv)
	enc.AddFloat64("prec5_adv", r.Prec5Adv)
	return nil
}
