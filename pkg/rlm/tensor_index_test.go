package rlm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"slices"
	"testing"
)

func testRecords() []TensorRecord {
	return []TensorRecord{
		{Name: "out.weight", DType: DTypeF32, Shape: []uint64{128, 67}, DataOff: 4096, DataSize: 128 * 67 * 4},
		{Name: "emb.weight", DType: DTypeF32, Shape: []uint64{67, 48}, DataOff: 64, DataSize: 67 * 48 * 4},
		{Name: "out.bias", DType: DTypeF32, Shape: []uint64{1, 67}, DataOff: 38400, DataSize: 67 * 4},
	}
}

func TestTensorIndexRoundTrip(t *testing.T) {
	t.Parallel()

	payload, err := EncodeTensorIndex(testRecords())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ti, err := ParseTensorIndex(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if ti.Count() != 3 {
		t.Fatalf("count: got %d want 3", ti.Count())
	}
	wantNames := []string{"emb.weight", "out.bias", "out.weight"}
	if got := ti.Names(); !slices.Equal(got, wantNames) {
		t.Fatalf("names not sorted: got %v", got)
	}

	rec, ok := ti.Find("emb.weight")
	if !ok {
		t.Fatalf("emb.weight not found")
	}
	if rec.DType != DTypeF32 {
		t.Fatalf("dtype: got %v", rec.DType)
	}
	if !slices.Equal(rec.Shape, []uint64{67, 48}) {
		t.Fatalf("shape: got %v", rec.Shape)
	}
	if rec.DataOff != 64 || rec.DataSize != 67*48*4 {
		t.Fatalf("data location: off %d size %d", rec.DataOff, rec.DataSize)
	}
	if rec.Elems() != 67*48 {
		t.Fatalf("elems: got %d", rec.Elems())
	}
	if rec.Elems()*rec.DType.ElemSize() != rec.DataSize {
		t.Fatalf("size does not match shape")
	}

	if _, ok := ti.Find("missing.weight"); ok {
		t.Fatalf("found a tensor that does not exist")
	}
}

func TestTensorIndexScalarRecord(t *testing.T) {
	t.Parallel()

	payload, err := EncodeTensorIndex([]TensorRecord{
		{Name: "step", DType: DTypeF64, Shape: nil, DataOff: 64, DataSize: 8},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ti, err := ParseTensorIndex(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rec, ok := ti.Find("step")
	if !ok {
		t.Fatalf("step not found")
	}
	if len(rec.Shape) != 0 {
		t.Fatalf("scalar shape: got %v", rec.Shape)
	}
	if rec.Elems() != 1 {
		t.Fatalf("scalar elems: got %d", rec.Elems())
	}
}

func TestEncodeTensorIndexRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		records []TensorRecord
	}{
		{"no records", nil},
		{"empty name", []TensorRecord{{Name: ""}}},
		{"duplicate name", []TensorRecord{
			{Name: "w", DType: DTypeF32},
			{Name: "w", DType: DTypeF32},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := EncodeTensorIndex(tc.records); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseTensorIndexRejectsCorrupt(t *testing.T) {
	t.Parallel()

	valid, err := EncodeTensorIndex(testRecords())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{
			name:   "truncated",
			mutate: func(b []byte) []byte { return b[:16] },
			want:   ErrCorruptFile,
		},
		{
			name: "future version",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[0:4], 2)
				return b
			},
			want: ErrUnsupportedMinor,
		},
		{
			name: "zero count",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[8:12], 0)
				return b
			},
			want: ErrCorruptFile,
		},
		{
			name: "entries out of bounds",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint64(b[16:24], uint64(len(b)))
				return b
			},
			want: ErrCorruptFile,
		},
		{
			name: "name out of bounds",
			mutate: func(b []byte) []byte {
				// First entry's NameLen, far past the strings table.
				entriesOff := binary.LittleEndian.Uint64(b[16:24])
				binary.LittleEndian.PutUint32(b[entriesOff+4:], 1<<20)
				return b
			},
			want: ErrCorruptFile,
		},
		{
			name: "shape out of bounds",
			mutate: func(b []byte) []byte {
				// First entry's Rank, more dims than the table holds.
				entriesOff := binary.LittleEndian.Uint64(b[16:24])
				binary.LittleEndian.PutUint32(b[entriesOff+12:], 1<<20)
				return b
			},
			want: ErrCorruptFile,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			data := tc.mutate(bytes.Clone(valid))
			if _, err := ParseTensorIndex(data); !errors.Is(err, tc.want) {
				t.Fatalf("got error %v, want %v", err, tc.want)
			}
		})
	}
}

func TestTensorBytesBounds(t *testing.T) {
	t.Parallel()

	f := &File{Data: make([]byte, 100)}
	for i := range f.Data {
		f.Data[i] = byte(i)
	}

	got, err := f.TensorBytes(TensorRecord{Name: "w", DataOff: 40, DataSize: 8})
	if err != nil {
		t.Fatalf("tensor bytes: %v", err)
	}
	if len(got) != 8 || got[0] != 40 {
		t.Fatalf("wrong slice: len %d first %d", len(got), got[0])
	}

	if _, err := f.TensorBytes(TensorRecord{Name: "w", DataOff: 96, DataSize: 8}); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("out of bounds should fail with %v, got %v", ErrCorruptFile, err)
	}

	closed := &File{}
	if _, err := closed.TensorBytes(TensorRecord{Name: "w"}); err == nil {
		t.Fatalf("closed file should fail")
	}
}
