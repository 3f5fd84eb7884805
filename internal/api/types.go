// Package api serves character generation over HTTP.
//
// The surface is deliberately small: POST /v1/generations runs the model
// (synchronously or as a server-sent event stream), GET /v1/checkpoints
// lists what the server can load, and GET /healthz reports liveness.
package api

// GenerationRequest is the body of POST /v1/generations.
type GenerationRequest struct {
	// Seed is the prompt text. Every character must be in the
	// checkpoint's alphabet.
	Seed string `json:"seed"`

	// Length is the number of characters to generate after the seed.
	// Zero returns the seed unchanged.
	Length int `json:"length"`

	// SamplerSeed pins the sampler RNG for reproducible output.
	SamplerSeed *int64 `json:"sampler_seed,omitempty"`

	// Stream switches the response to server-sent events.
	Stream *bool `json:"stream,omitempty"`
}

// Generation is a completed generation.
type Generation struct {
	ID         string          `json:"id"`
	Object     string          `json:"object"`
	Created    int64           `json:"created"`
	Checkpoint string          `json:"checkpoint"`
	Seed       string          `json:"seed"`
	Text       string          `json:"text"`
	Output     string          `json:"output"`
	Usage      GenerationUsage `json:"usage"`
}

// GenerationUsage reports what one generation cost.
type GenerationUsage struct {
	SeedChars      int     `json:"seed_chars"`
	GeneratedChars int     `json:"generated_chars"`
	DurationMS     int64   `json:"duration_ms"`
	CharsPerSecond float64 `json:"chars_per_second"`
}

// GenerationChunk is one streamed character.
type GenerationChunk struct {
	Object string `json:"object"`
	Delta  string `json:"delta"`
}

// CheckpointInfo describes one checkpoint file the server can serve.
type CheckpointInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Epoch   int    `json:"epoch"`
	Created int64  `json:"created"`
}

// CheckpointList is the body of GET /v1/checkpoints.
type CheckpointList struct {
	Object string           `json:"object"`
	Data   []CheckpointInfo `json:"data"`
}

// ResponseError is the error payload shared by all endpoints.
type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
