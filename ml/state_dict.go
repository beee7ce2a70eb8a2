package ml

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Tensor is the serialized form of a parameter matrix.
type Tensor struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

func tensorOf(m *mat.Dense) Tensor {
	rows, cols := m.Dims()
	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return Tensor{Rows: rows, Cols: cols, Data: data}
}

func (t Tensor) Dense() *mat.Dense {
	return mat.NewDense(t.Rows, t.Cols, append([]float64(nil), t.Data...))
}

// StateDict maps parameter names to values.
type StateDict map[string]Tensor

// Keys returns parameter names in sorted order.
func (sd StateDict) Keys() []string {
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies the dict.
func (sd StateDict) Clone() StateDict {
	if sd == nil {
		return nil
	}
	out := make(StateDict, len(sd))
	for k, t := range sd {
		out[k] = Tensor{Rows: t.Rows, Cols: t.Cols, Data: append([]float64(nil), t.Data...)}
	}
	return out
}

// Sub extracts the entries under prefix, with the prefix removed.
func (sd StateDict) Sub(prefix string) StateDict {
	out := make(StateDict)
	for k, t := range sd {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = t
		}
	}
	return out
}

// Equal reports exact (bitwise for finite values) equality.
func (sd StateDict) Equal(other StateDict) bool {
	if len(sd) != len(other) {
		return false
	}
	for k, t := range sd {
		o, ok := other[k]
		if !ok || o.Rows != t.Rows || o.Cols != t.Cols || len(o.Data) != len(t.Data) {
			return false
		}
		for i := range t.Data {
			if t.Data[i] != o.Data[i] {
				return false
			}
		}
	}
	return true
}

// StateDictOf snapshots a module's parameter values.
func StateDictOf(m Module) StateDict {
	sd := make(StateDict)
	for _, p := range m.Parameters() {
		sd[p.Name] = tensorOf(p.Value)
	}
	return sd
}

// LoadStateDict copies values into the module's existing parameter storage.
// Keys and shapes must match exactly.
func LoadStateDict(m Module, sd StateDict) error {
	params := m.Parameters()
	if len(sd) != len(params) {
		return fmt.Errorf("state dict has %d entries, module has %d parameters", len(sd), len(params))
	}
	for _, p := range params {
		t, ok := sd[p.Name]
		if !ok {
			return fmt.Errorf("missing key %q in state dict", p.Name)
		}
		rows, cols := p.Value.Dims()
		if t.Rows != rows || t.Cols != cols || len(t.Data) != rows*cols {
			return fmt.Errorf("size mismatch for %q: got %dx%d, want %dx%d", p.Name, t.Rows, t.Cols, rows, cols)
		}
	}
	for _, p := range params {
		t := sd[p.Name]
		p.Value.Copy(mat.NewDense(t.Rows, t.Cols, t.Data))
	}
	return nil
}
