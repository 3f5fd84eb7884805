// Package model defines the language-model capability consumed by the
// generation loop, and implements it with a stacked character GRU. Recurrent
// memory lives in an explicit state handle threaded through queries, never
// inside the model value itself.
package model

// State is a model's recurrent memory. A fresh state carries no history;
// Reset returns an existing one to that condition.
type State interface {
	Reset()
}

// Model scores character indices. Forward consumes ids under st, advancing
// it, and returns one logits row per input position, each of width
// VocabSize(). Malformed input (no ids, an out-of-range id, a state the
// model does not own) is an error, never a guess.
type Model interface {
	VocabSize() int
	NewState() State
	Forward(st State, ids []int) ([][]float32, error)
}
