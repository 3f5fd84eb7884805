package corpus

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrTooSmall reports an id stream with fewer ids than one window needs.
var ErrTooSmall = errors.New("corpus: stream too small for one window")

// Batcher draws random fixed-length windows from an encoded id stream.
// Each window pairs seqLen input ids with the ids one position later,
// the targets a next-character model trains against.
type Batcher struct {
	ids       []int
	seqLen    int
	batchSize int
	rng       *rand.Rand
}

// NewBatcher wraps ids for batching. The stream must hold at least
// seqLen+1 ids so one window and its shifted targets fit.
func NewBatcher(ids []int, seqLen, batchSize int, rng *rand.Rand) (*Batcher, error) {
	if seqLen <= 0 {
		return nil, fmt.Errorf("corpus: seq len %d, want > 0", seqLen)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("corpus: batch size %d, want > 0", batchSize)
	}
	if rng == nil {
		return nil, errors.New("corpus: nil rng")
	}
	if len(ids) < seqLen+1 {
		return nil, fmt.Errorf("%w: have %d ids, need at least %d", ErrTooSmall, len(ids), seqLen+1)
	}
	return &Batcher{ids: ids, seqLen: seqLen, batchSize: batchSize, rng: rng}, nil
}

// Next returns one batch of random windows. targets[b][t] is the id
// following inputs[b][t] in the stream. The inner slices alias the
// batcher's ids and must not be modified.
func (b *Batcher) Next() (inputs, targets [][]int) {
	inputs = make([][]int, b.batchSize)
	targets = make([][]int, b.batchSize)
	for i := range inputs {
		start := b.rng.Intn(len(b.ids) - b.seqLen)
		inputs[i] = b.ids[start : start+b.seqLen]
		targets[i] = b.ids[start+1 : start+b.seqLen+1]
	}
	return inputs, targets
}
