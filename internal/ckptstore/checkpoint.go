// Package ckptstore persists trained models as RLM checkpoint files and
// resolves them back into runnable models.
//
// A checkpoint carries the model hyperparameters, the character vocabulary
// in index order and every weight tensor, so loading needs nothing beyond
// the file itself.
package ckptstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/samcharles93/runelm/internal/model"
	"github.com/samcharles93/runelm/internal/nn"
	"github.com/samcharles93/runelm/internal/vocab"
	"github.com/samcharles93/runelm/pkg/rlm"
)

var ErrTensorNotFound = errors.New("ckptstore: tensor not found")

// Meta is the training metadata stored alongside the weights.
type Meta struct {
	ModelName string
	Epoch     int
	TrainLoss float64
	Extras    map[string]any
}

// Checkpoint is a fully resolved model ready to run.
type Checkpoint struct {
	Model *model.GRU
	Vocab *vocab.Vocab
	Info  *rlm.ModelInfo
}

// Save writes the model, vocabulary and metadata to path. The file is
// written to a temporary sibling first and renamed into place, so a crash
// mid-save never leaves a truncated checkpoint behind.
func Save(path string, m *model.GRU, voc *vocab.Vocab, meta Meta) error {
	if m == nil || voc == nil {
		return errors.New("ckptstore: nil model or vocab")
	}
	if m.VocabSize() != voc.Size() {
		return fmt.Errorf("ckptstore: model vocab size %d does not match codec size %d",
			m.VocabSize(), voc.Size())
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := writeCheckpoint(f, m, voc, meta); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeCheckpoint(f *os.File, m *model.GRU, voc *vocab.Vocab, meta Meta) error {
	w, err := rlm.NewWriter(f)
	if err != nil {
		return err
	}

	cfg := m.Config()
	info := &rlm.ModelInfo{
		Arch:      rlm.ArchGRU,
		ModelName: meta.ModelName,
		VocabSize: uint32(cfg.VocabSize),
		EmbedDim:  uint32(cfg.EmbedDim),
		HiddenDim: uint32(cfg.HiddenDim),
		Layers:    uint32(cfg.Layers),
		Epoch:     uint32(meta.Epoch),
		TrainLoss: float32(meta.TrainLoss),
		Extras:    meta.Extras,
	}
	infoPayload, err := rlm.EncodeModelInfo(info)
	if err != nil {
		return err
	}
	if err := w.WriteSection(rlm.SectionModelInfo, rlm.ModelInfoVersion, infoPayload); err != nil {
		return err
	}

	vocabPayload, err := rlm.EncodeVocabSection(voc.Runes())
	if err != nil {
		return err
	}
	if err := w.WriteSection(rlm.SectionVocab, rlm.VocabSectionVersion, vocabPayload); err != nil {
		return err
	}

	tensors := m.Tensors()
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	sw, err := w.BeginSection(rlm.SectionTensorData, 1)
	if err != nil {
		return err
	}
	records := make([]rlm.TensorRecord, 0, len(names))
	for _, name := range names {
		t := tensors[name]
		if err := sw.Align(8); err != nil {
			return err
		}
		off, err := sw.CurrentAbsOffset()
		if err != nil {
			return err
		}
		data := f32Bytes(t.W)
		if _, err := sw.Write(data); err != nil {
			return err
		}
		records = append(records, rlm.TensorRecord{
			Name:     name,
			DType:    rlm.DTypeF32,
			Shape:    []uint64{uint64(t.Rows), uint64(t.Cols)},
			DataOff:  off,
			DataSize: uint64(len(data)),
		})
	}
	if err := sw.End(); err != nil {
		return err
	}

	indexPayload, err := rlm.EncodeTensorIndex(records)
	if err != nil {
		return err
	}
	if err := w.WriteSection(rlm.SectionTensorIndex, rlm.TensorIndexVersion, indexPayload); err != nil {
		return err
	}
	return w.Finalise()
}

// Load reads a checkpoint and reconstructs the model and vocabulary.
// Every tensor the model expects must be present with the right shape.
func Load(path string) (*Checkpoint, error) {
	rf, err := rlm.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rf.Close() }()

	miSec := rf.Section(rlm.SectionModelInfo)
	if miSec == nil {
		return nil, errors.New("ckptstore: missing model info section")
	}
	info, err := rlm.ParseModelInfo(rf.SectionData(miSec))
	if err != nil {
		return nil, err
	}
	if info.Arch != rlm.ArchGRU {
		return nil, fmt.Errorf("ckptstore: unsupported architecture %q", info.Arch)
	}

	vSec := rf.Section(rlm.SectionVocab)
	if vSec == nil {
		return nil, errors.New("ckptstore: missing vocab section")
	}
	runes, err := rlm.ParseVocabSection(rf.SectionData(vSec))
	if err != nil {
		return nil, err
	}
	voc, err := vocab.FromRunes(runes)
	if err != nil {
		return nil, err
	}
	if voc.Size() != int(info.VocabSize) {
		return nil, fmt.Errorf("ckptstore: vocab section has %d runes, model info says %d",
			voc.Size(), info.VocabSize)
	}

	cfg := model.Config{
		VocabSize: int(info.VocabSize),
		EmbedDim:  int(info.EmbedDim),
		HiddenDim: int(info.HiddenDim),
		Layers:    int(info.Layers),
	}
	m, err := model.NewZero(cfg)
	if err != nil {
		return nil, err
	}

	idxSec := rf.Section(rlm.SectionTensorIndex)
	if idxSec == nil {
		return nil, errors.New("ckptstore: missing tensor index section")
	}
	index, err := rlm.ParseTensorIndex(rf.SectionData(idxSec))
	if err != nil {
		return nil, err
	}
	dataSec := rf.Section(rlm.SectionTensorData)
	if dataSec == nil {
		return nil, errors.New("ckptstore: missing tensor data section")
	}

	tensors := m.Tensors()
	if index.Count() != len(tensors) {
		return nil, fmt.Errorf("ckptstore: checkpoint has %d tensors, model expects %d",
			index.Count(), len(tensors))
	}
	for name, t := range tensors {
		rec, ok := index.Find(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
		}
		if err := fillTensor(rf, dataSec, rec, t); err != nil {
			return nil, fmt.Errorf("ckptstore: tensor %s: %w", name, err)
		}
	}

	return &Checkpoint{Model: m, Vocab: voc, Info: info}, nil
}

func fillTensor(rf *rlm.File, dataSec *rlm.Section, rec rlm.TensorRecord, t *nn.Mat) error {
	if rec.DType != rlm.DTypeF32 {
		return fmt.Errorf("unsupported dtype %s", rec.DType)
	}
	if len(rec.Shape) != 2 || rec.Shape[0] != uint64(t.Rows) || rec.Shape[1] != uint64(t.Cols) {
		return fmt.Errorf("shape %v does not match model shape [%d %d]", rec.Shape, t.Rows, t.Cols)
	}
	end := rec.DataOff + rec.DataSize
	if end < rec.DataOff || rec.DataOff < dataSec.Offset || end > dataSec.End() {
		return errors.New("data outside tensor data section")
	}
	raw, err := rf.TensorBytes(rec)
	if err != nil {
		return err
	}
	if uint64(len(raw)) != rec.Elems()*4 {
		return fmt.Errorf("payload is %d bytes, shape needs %d", len(raw), rec.Elems()*4)
	}

	for i := range t.W {
		t.W[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	return nil
}

func f32Bytes(w []float64) []byte {
	out := make([]byte, len(w)*4)
	for i, v := range w {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
	}
	return out
}
