package rlm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ModelInfo payload format (v1), little-endian.
//
// Layout:
//   [0]   modelInfoHeader
//   [8]   modelInfoFixedV1
//   [...] string/value blobs (length-prefixed), 8-byte aligned
//   [...] kv table (modelInfoKV entries), 8-byte aligned
//
// Strings are stored as a u32 byte length followed by the raw bytes, no NUL
// terminator. Extras values live behind ValueOff: strings as string blobs,
// uint32 and float32 stored in place.

// ModelInfoVersion is the on-disk version of the model info section payload.
const ModelInfoVersion uint32 = 1

type Arch uint32

const (
	ArchUnknown Arch = iota
	ArchGRU
)

func (a Arch) String() string {
	if a == ArchGRU {
		return "gru"
	}
	return "unknown"
}

const (
	kvUint32  = 1
	kvFloat32 = 2
	kvString  = 3
)

type modelInfoHeader struct {
	Version uint32
	Flags   uint32 // reserved, must be zero
}

type modelInfoKV struct {
	KeyOff   uint64
	Type     uint32
	_        uint32
	ValueOff uint64
}

// ModelInfo describes the trained model stored in a checkpoint.
type ModelInfo struct {
	Arch      Arch
	ModelName string

	VocabSize uint32
	EmbedDim  uint32
	HiddenDim uint32
	Layers    uint32

	Epoch     uint32
	TrainLoss float32

	Extras map[string]any
}

type modelInfoFixedV1 struct {
	Arch      uint32
	VocabSize uint32
	EmbedDim  uint32
	HiddenDim uint32
	Layers    uint32
	Epoch     uint32
	TrainLoss float32
	_         uint32

	ModelNameOff uint64

	KVCount uint32
	_       uint32
	KVOff   uint64
}

func EncodeModelInfo(mi *ModelInfo) ([]byte, error) {
	if mi == nil {
		return nil, errors.New("rlm: nil ModelInfo")
	}

	hdr := modelInfoHeader{Version: ModelInfoVersion}

	fixed := modelInfoFixedV1{
		Arch:      uint32(mi.Arch),
		VocabSize: mi.VocabSize,
		EmbedDim:  mi.EmbedDim,
		HiddenDim: mi.HiddenDim,
		Layers:    mi.Layers,
		Epoch:     mi.Epoch,
		TrainLoss: mi.TrainLoss,
	}

	b := newBlobBuilder()

	// Reserve header and fixed block, patched below once offsets are known.
	b.addRaw(make([]byte, binary.Size(hdr)+binary.Size(fixed)))

	if mi.ModelName != "" {
		off, err := b.addString(mi.ModelName)
		if err != nil {
			return nil, err
		}
		fixed.ModelNameOff = off
	}

	kvs, err := encodeExtrasKV(b, mi.Extras)
	if err != nil {
		return nil, err
	}
	b.align(8)
	fixed.KVCount = uint32(len(kvs))
	fixed.KVOff = b.offset()
	for i := range kvs {
		if err := b.writeStruct(&kvs[i]); err != nil {
			return nil, err
		}
	}

	out := b.bytes()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, &fixed); err != nil {
		return nil, err
	}
	copy(out, buf.Bytes())
	return out, nil
}

func ParseModelInfo(data []byte) (*ModelInfo, error) {
	var (
		hdr   modelInfoHeader
		fixed modelInfoFixedV1
	)
	if len(data) < binary.Size(hdr)+binary.Size(fixed) {
		return nil, errors.New("rlm: model info payload too small")
	}

	if err := readStructAt(data, 0, &hdr); err != nil {
		return nil, err
	}
	if hdr.Version != ModelInfoVersion {
		return nil, fmt.Errorf("%w: model info version %d", ErrUnsupportedMinor, hdr.Version)
	}
	if hdr.Flags != 0 {
		return nil, fmt.Errorf("rlm: unsupported model info flags 0x%x", hdr.Flags)
	}
	if err := readStructAt(data, uint64(binary.Size(hdr)), &fixed); err != nil {
		return nil, err
	}

	mi := &ModelInfo{
		Arch:      Arch(fixed.Arch),
		VocabSize: fixed.VocabSize,
		EmbedDim:  fixed.EmbedDim,
		HiddenDim: fixed.HiddenDim,
		Layers:    fixed.Layers,
		Epoch:     fixed.Epoch,
		TrainLoss: fixed.TrainLoss,
	}

	if fixed.ModelNameOff != 0 {
		s, err := readStringAt(data, fixed.ModelNameOff)
		if err != nil {
			return nil, fmt.Errorf("rlm: model name: %w", err)
		}
		mi.ModelName = s
	}

	if fixed.KVCount == 0 {
		return mi, nil
	}
	kvSize := uint64(binary.Size(modelInfoKV{}))
	if fixed.KVOff == 0 || fixed.KVOff+uint64(fixed.KVCount)*kvSize > uint64(len(data)) {
		return nil, errors.New("rlm: model info kv table out of bounds")
	}

	extras := make(map[string]any, fixed.KVCount)
	for i := uint64(0); i < uint64(fixed.KVCount); i++ {
		var kv modelInfoKV
		if err := readStructAt(data, fixed.KVOff+i*kvSize, &kv); err != nil {
			return nil, fmt.Errorf("rlm: kv[%d]: %w", i, err)
		}

		key, err := readStringAt(data, kv.KeyOff)
		if err != nil {
			return nil, fmt.Errorf("rlm: kv[%d] key: %w", i, err)
		}
		if key == "" {
			return nil, fmt.Errorf("rlm: kv[%d] empty key", i)
		}

		switch kv.Type {
		case kvUint32:
			v, err := readU32At(data, kv.ValueOff)
			if err != nil {
				return nil, fmt.Errorf("rlm: kv[%d] %q: %w", i, key, err)
			}
			extras[key] = v
		case kvFloat32:
			v, err := readF32At(data, kv.ValueOff)
			if err != nil {
				return nil, fmt.Errorf("rlm: kv[%d] %q: %w", i, key, err)
			}
			extras[key] = v
		case kvString:
			v, err := readStringAt(data, kv.ValueOff)
			if err != nil {
				return nil, fmt.Errorf("rlm: kv[%d] %q: %w", i, key, err)
			}
			extras[key] = v
		default:
			return nil, fmt.Errorf("rlm: kv[%d] %q unknown type %d", i, key, kv.Type)
		}
	}
	mi.Extras = extras
	return mi, nil
}

func encodeExtrasKV(b *blobBuilder, extras map[string]any) ([]modelInfoKV, error) {
	if len(extras) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(extras))
	for k := range extras {
		if k == "" {
			return nil, errors.New("rlm: extras contains empty key")
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]modelInfoKV, 0, len(keys))
	for _, k := range keys {
		keyOff, err := b.addString(k)
		if err != nil {
			return nil, err
		}
		kv := modelInfoKV{KeyOff: keyOff}

		switch v := extras[k].(type) {
		case string:
			kv.Type = kvString
			kv.ValueOff, err = b.addString(v)
		case uint32:
			kv.Type = kvUint32
			kv.ValueOff, err = b.addU32(v)
		case int:
			if v < 0 || int64(v) > math.MaxUint32 {
				return nil, fmt.Errorf("rlm: extras[%q] int out of uint32 range (%d)", k, v)
			}
			kv.Type = kvUint32
			kv.ValueOff, err = b.addU32(uint32(v))
		case float32:
			kv.Type = kvFloat32
			kv.ValueOff, err = b.addF32(v)
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) || v < -math.MaxFloat32 || v > math.MaxFloat32 {
				return nil, fmt.Errorf("rlm: extras[%q] float64 out of float32 range (%v)", k, v)
			}
			kv.Type = kvFloat32
			kv.ValueOff, err = b.addF32(float32(v))
		case nil:
			// Skip nils silently so callers can merge maps easily.
			continue
		default:
			return nil, fmt.Errorf("rlm: extras[%q] unsupported type %T", k, v)
		}
		if err != nil {
			return nil, err
		}
		kvs = append(kvs, kv)
	}
	return kvs, nil
}

type blobBuilder struct {
	buf bytes.Buffer
}

func newBlobBuilder() *blobBuilder {
	return &blobBuilder{}
}

func (b *blobBuilder) bytes() []byte  { return b.buf.Bytes() }
func (b *blobBuilder) offset() uint64 { return uint64(b.buf.Len()) }

func (b *blobBuilder) align(n int) {
	pad := (n - b.buf.Len()%n) % n
	if pad > 0 {
		_, _ = b.buf.Write(make([]byte, pad))
	}
}

func (b *blobBuilder) addRaw(p []byte) {
	_, _ = b.buf.Write(p)
}

func (b *blobBuilder) writeStruct(v any) error {
	return binary.Write(&b.buf, binary.LittleEndian, v)
}

// addString stores a length-prefixed string blob and returns its offset.
// Empty strings share offset zero, which parses back to "".
func (b *blobBuilder) addString(s string) (uint64, error) {
	if len(s) == 0 {
		return 0, nil
	}
	if uint64(len(s)) > math.MaxUint32 {
		return 0, errors.New("rlm: string blob too large")
	}
	b.align(8)
	off := b.offset()
	if err := binary.Write(&b.buf, binary.LittleEndian, uint32(len(s))); err != nil {
		return 0, err
	}
	_, _ = b.buf.WriteString(s)
	b.align(8)
	return off, nil
}

func (b *blobBuilder) addU32(v uint32) (uint64, error) {
	b.align(8)
	off := b.offset()
	if err := binary.Write(&b.buf, binary.LittleEndian, v); err != nil {
		return 0, err
	}
	b.align(8)
	return off, nil
}

func (b *blobBuilder) addF32(v float32) (uint64, error) {
	if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("rlm: invalid float32 %v", v)
	}
	return b.addU32(math.Float32bits(v))
}

func readStructAt[T any](data []byte, off uint64, out *T) error {
	sz := uint64(binary.Size(*out))
	if off+sz < off || off+sz > uint64(len(data)) {
		return errors.New("rlm: struct out of bounds")
	}
	return binary.Read(bytes.NewReader(data[off:off+sz]), binary.LittleEndian, out)
}

func readU32At(data []byte, off uint64) (uint32, error) {
	if off+4 < off || off+4 > uint64(len(data)) {
		return 0, errors.New("rlm: u32 out of bounds")
	}
	return binary.LittleEndian.Uint32(data[off : off+4]), nil
}

func readF32At(data []byte, off uint64) (float32, error) {
	u, err := readU32At(data, off)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(u), nil
}

func readStringAt(data []byte, off uint64) (string, error) {
	if off == 0 {
		return "", nil
	}
	n, err := readU32At(data, off)
	if err != nil {
		return "", errors.New("rlm: string length out of bounds")
	}
	start := off + 4
	end := start + uint64(n)
	if end < start || end > uint64(len(data)) {
		return "", errors.New("rlm: string bytes out of bounds")
	}
	return string(data[start:end]), nil
}
