// Package tensorio saves and loads named float32 tensors as Arrow IPC
// streams. The harness uses it for -dump snapshots; golden tests read them
// back.
package tensorio

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Tensor is one named snapshot: logical dims, the layout the values are
// laid out in, and the raw values.
type Tensor struct {
	Name   string
	Layout string
	Dims   []int
	Values []float32
}

// Schema: { name: utf8, layout: utf8, dims: list<int64>, values: list<float32> },
// one row per tensor.
func snapshotSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "name", Type: arrow.BinaryTypes.String},
			{Name: "layout", Type: arrow.BinaryTypes.String},
			{Name: "dims", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
			{Name: "values", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
		},
		nil,
	)
}

// Write streams the tensors to w as one IPC record batch.
func Write(w io.Writer, tensors []Tensor) error {
	pool := memory.NewGoAllocator()
	schema := snapshotSchema()

	nameBuilder := array.NewStringBuilder(pool)
	defer nameBuilder.Release()
	layoutBuilder := array.NewStringBuilder(pool)
	defer layoutBuilder.Release()
	dimsBuilder := array.NewListBuilder(pool, arrow.PrimitiveTypes.Int64)
	defer dimsBuilder.Release()
	dimValues := dimsBuilder.ValueBuilder().(*array.Int64Builder)
	valuesBuilder := array.NewListBuilder(pool, arrow.PrimitiveTypes.Float32)
	defer valuesBuilder.Release()
	floatValues := valuesBuilder.ValueBuilder().(*array.Float32Builder)

	for _, t := range tensors {
		nameBuilder.Append(t.Name)
		layoutBuilder.Append(t.Layout)
		dimsBuilder.Append(true)
		for _, d := range t.Dims {
			dimValues.Append(int64(d))
		}
		valuesBuilder.Append(true)
		floatValues.AppendValues(t.Values, nil)
	}

	nameArr := nameBuilder.NewArray()
	defer nameArr.Release()
	layoutArr := layoutBuilder.NewArray()
	defer layoutArr.Release()
	dimsArr := dimsBuilder.NewArray()
	defer dimsArr.Release()
	valuesArr := valuesBuilder.NewArray()
	defer valuesArr.Release()

	rec := array.NewRecordBatch(schema, []arrow.Array{nameArr, layoutArr, dimsArr, valuesArr}, int64(len(tensors)))
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// Read consumes an IPC stream produced by Write.
func Read(r io.Reader) ([]Tensor, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("tensorio: open stream: %w", err)
	}
	defer reader.Release()

	var tensors []Tensor
	for reader.Next() {
		rec := reader.Record()

		names, err := stringColumn(rec, "name")
		if err != nil {
			return nil, err
		}
		layouts, err := stringColumn(rec, "layout")
		if err != nil {
			return nil, err
		}
		dims, err := listColumn(rec, "dims")
		if err != nil {
			return nil, err
		}
		values, err := listColumn(rec, "values")
		if err != nil {
			return nil, err
		}
		dimValues, ok := dims.ListValues().(*array.Int64)
		if !ok {
			return nil, fmt.Errorf("tensorio: dims hold %T, want int64", dims.ListValues())
		}
		floatValues, ok := values.ListValues().(*array.Float32)
		if !ok {
			return nil, fmt.Errorf("tensorio: values hold %T, want float32", values.ListValues())
		}

		for row := 0; row < int(rec.NumRows()); row++ {
			t := Tensor{Name: names.Value(row), Layout: layouts.Value(row)}

			ds, de := dims.ValueOffsets(row)
			for i := ds; i < de; i++ {
				t.Dims = append(t.Dims, int(dimValues.Value(int(i))))
			}

			vs, ve := values.ValueOffsets(row)
			t.Values = append(t.Values, floatValues.Float32Values()[vs:ve]...)

			tensors = append(tensors, t)
		}
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("tensorio: read stream: %w", err)
	}
	return tensors, nil
}

func stringColumn(rec arrow.RecordBatch, name string) (*array.String, error) {
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, fmt.Errorf("tensorio: column %q missing", name)
	}
	col, ok := rec.Column(indices[0]).(*array.String)
	if !ok {
		return nil, fmt.Errorf("tensorio: column %q is %T, want string", name, rec.Column(indices[0]))
	}
	return col, nil
}

func listColumn(rec arrow.RecordBatch, name string) (*array.List, error) {
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, fmt.Errorf("tensorio: column %q missing", name)
	}
	col, ok := rec.Column(indices[0]).(*array.List)
	if !ok {
		return nil, fmt.Errorf("tensorio: column %q is %T, want list", name, rec.Column(indices[0]))
	}
	return col, nil
}

// WriteFile snapshots tensors to path.
func WriteFile(path string, tensors []Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, tensors); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadFile loads a snapshot written by WriteFile.
func ReadFile(path string) ([]Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
