// Package checkpoint persists network parameters and optimizer moments as
// protobuf-wire blobs.
//
// A blob is the message
//
//	Blob    { 1: string name; 2: int64 epoch; 3: repeated Record params;
//	          4: repeated Record buffers; 5: int64 step }
//	Record  { 1: string name; 2: packed int64 shape; 3: packed double data }
//
// Network blobs fill params and buffers; optimizer blobs store moments as
// params named "m/<i>" and "v/<i>" with step set.
package checkpoint

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"

	"outlier-aae/internal/nn"
	"outlier-aae/internal/optim"
)

// ErrMismatch is returned when a blob does not fit the target module.
var ErrMismatch = errors.New("checkpoint: blob does not match target")

// Record is one named tensor.
type Record struct {
	Name  string
	Shape []int
	Data  []float64
}

// Blob is the unit written to disk.
type Blob struct {
	Name    string
	Epoch   int
	Params  []Record
	Buffers []Record
	Step    int
}

const (
	fieldName    protowire.Number = 1
	fieldEpoch   protowire.Number = 2
	fieldParams  protowire.Number = 3
	fieldBuffers protowire.Number = 4
	fieldStep    protowire.Number = 5

	fieldRecordName  protowire.Number = 1
	fieldRecordShape protowire.Number = 2
	fieldRecordData  protowire.Number = 3
)

// Marshal encodes b in protobuf wire format.
func Marshal(b *Blob) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldName, protowire.BytesType)
	buf = protowire.AppendString(buf, b.Name)
	buf = protowire.AppendTag(buf, fieldEpoch, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.Epoch))
	for _, r := range b.Params {
		buf = protowire.AppendTag(buf, fieldParams, protowire.BytesType)
		buf = protowire.AppendBytes(buf, marshalRecord(r))
	}
	for _, r := range b.Buffers {
		buf = protowire.AppendTag(buf, fieldBuffers, protowire.BytesType)
		buf = protowire.AppendBytes(buf, marshalRecord(r))
	}
	buf = protowire.AppendTag(buf, fieldStep, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.Step))
	return buf
}

func marshalRecord(r Record) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldRecordName, protowire.BytesType)
	buf = protowire.AppendString(buf, r.Name)

	var shape []byte
	for _, d := range r.Shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	buf = protowire.AppendTag(buf, fieldRecordShape, protowire.BytesType)
	buf = protowire.AppendBytes(buf, shape)

	data := make([]byte, 0, 8*len(r.Data))
	for _, v := range r.Data {
		data = protowire.AppendFixed64(data, math.Float64bits(v))
	}
	buf = protowire.AppendTag(buf, fieldRecordData, protowire.BytesType)
	buf = protowire.AppendBytes(buf, data)
	return buf
}

// Unmarshal decodes a blob; unknown fields are skipped.
func Unmarshal(data []byte) (*Blob, error) {
	b := &Blob{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, raw []byte) (int, error) {
		switch {
		case num == fieldName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(raw)
			b.Name = v
			return n, nil
		case num == fieldEpoch && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(raw)
			b.Epoch = int(v)
			return n, nil
		case num == fieldStep && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(raw)
			b.Step = int(v)
			return n, nil
		case (num == fieldParams || num == fieldBuffers) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return n, nil
			}
			r, err := unmarshalRecord(v)
			if err != nil {
				return 0, err
			}
			if num == fieldParams {
				b.Params = append(b.Params, r)
			} else {
				b.Buffers = append(b.Buffers, r)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, raw), nil
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: decode blob: %w", err)
	}
	return b, nil
}

func unmarshalRecord(data []byte) (Record, error) {
	var r Record
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, raw []byte) (int, error) {
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, raw), nil
		}
		v, n := protowire.ConsumeBytes(raw)
		if n < 0 {
			return n, nil
		}
		switch num {
		case fieldRecordName:
			r.Name = string(v)
		case fieldRecordShape:
			for len(v) > 0 {
				d, m := protowire.ConsumeVarint(v)
				if m < 0 {
					return m, nil
				}
				r.Shape = append(r.Shape, int(d))
				v = v[m:]
			}
		case fieldRecordData:
			if len(v)%8 != 0 {
				return 0, fmt.Errorf("record data length %d is not a multiple of 8", len(v))
			}
			r.Data = make([]float64, 0, len(v)/8)
			for len(v) > 0 {
				bits, m := protowire.ConsumeFixed64(v)
				if m < 0 {
					return m, nil
				}
				r.Data = append(r.Data, math.Float64frombits(bits))
				v = v[m:]
			}
		}
		return n, nil
	})
	return r, err
}

// walkFields iterates over top-level fields. fn returns the number of
// bytes it consumed or a negative protowire error code.
func walkFields(data []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		data = data[m:]
	}
	return nil
}

// FromModule snapshots the parameters and buffers of a module.
func FromModule(name string, epoch int, m nn.Module) *Blob {
	return &Blob{
		Name:    name,
		Epoch:   epoch,
		Params:  records(m.Parameters()),
		Buffers: records(m.Buffers()),
	}
}

func records(named []nn.Named) []Record {
	out := make([]Record, len(named))
	for i, n := range named {
		out[i] = Record{
			Name:  n.Name,
			Shape: append([]int(nil), n.Tensor.Shape...),
			Data:  append([]float64(nil), n.Tensor.Data...),
		}
	}
	return out
}

// Restore copies the blob into m in place. Names, order and sizes must match.
func (b *Blob) Restore(m nn.Module) error {
	if err := restore(b.Params, m.Parameters()); err != nil {
		return fmt.Errorf("%s params: %w", b.Name, err)
	}
	if err := restore(b.Buffers, m.Buffers()); err != nil {
		return fmt.Errorf("%s buffers: %w", b.Name, err)
	}
	return nil
}

func restore(recs []Record, named []nn.Named) error {
	if len(recs) != len(named) {
		return fmt.Errorf("%w: %d tensors, want %d", ErrMismatch, len(recs), len(named))
	}
	for i, n := range named {
		if recs[i].Name != n.Name || len(recs[i].Data) != len(n.Tensor.Data) {
			return fmt.Errorf("%w: %s (%d values) for %s (%d values)",
				ErrMismatch, recs[i].Name, len(recs[i].Data), n.Name, len(n.Tensor.Data))
		}
	}
	for i, n := range named {
		copy(n.Tensor.Data, recs[i].Data)
	}
	return nil
}

// FromOptimizer snapshots Adam moments.
func FromOptimizer(epoch int, opt *optim.Adam) *Blob {
	st := opt.State()
	b := &Blob{Name: opt.Name, Epoch: epoch, Step: st.Step}
	for i := range st.M {
		b.Params = append(b.Params,
			Record{Name: fmt.Sprintf("m/%d", i), Shape: []int{len(st.M[i])}, Data: st.M[i]},
			Record{Name: fmt.Sprintf("v/%d", i), Shape: []int{len(st.V[i])}, Data: st.V[i]},
		)
	}
	return b
}

// RestoreOptimizer loads moments written by FromOptimizer.
func (b *Blob) RestoreOptimizer(opt *optim.Adam) error {
	if len(b.Params)%2 != 0 {
		return fmt.Errorf("%w: odd moment count %d", ErrMismatch, len(b.Params))
	}
	st := optim.State{Step: b.Step}
	for i := 0; i < len(b.Params); i += 2 {
		st.M = append(st.M, b.Params[i].Data)
		st.V = append(st.V, b.Params[i+1].Data)
	}
	if err := opt.Restore(st); err != nil {
		return fmt.Errorf("%w: %v", ErrMismatch, err)
	}
	return nil
}

// ModelPath is the file of a network blob, e.g. dir/Gmodel_epoch3.pb.
func ModelPath(dir, name string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("%smodel_epoch%d.pb", name, epoch))
}

// OptimizerPath is the file of an optimizer blob, e.g. dir/ZDoptim_epoch3.pb.
func OptimizerPath(dir, name string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("%soptim_epoch%d.pb", name, epoch))
}

// Save writes b to path atomically, creating parent directories.
func Save(path string, b *Blob) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, Marshal(b), 0o644); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("checkpoint: rename %s: %w", tmp, err)
	}
	return nil
}

// Load reads the blob at path.
func Load(path string) (*Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	b, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}
