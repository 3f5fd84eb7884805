package api

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/runelm/internal/ckptstore"
	"github.com/samcharles93/runelm/internal/model"
	"github.com/samcharles93/runelm/internal/vocab"
)

const testAlphabet = "abc "

type stubProvider struct {
	ckpt    *ckptstore.Checkpoint
	id      string
	err     error
	entries []ckptstore.Entry
	listErr error
}

func (p *stubProvider) WithModel(_ context.Context, fn func(*ckptstore.Checkpoint, string) error) error {
	if p.err != nil {
		return p.err
	}
	return fn(p.ckpt, p.id)
}

func (p *stubProvider) ListCheckpoints() ([]ckptstore.Entry, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.entries, nil
}

func newStubProvider(t *testing.T) *stubProvider {
	t.Helper()
	voc, err := vocab.Build(testAlphabet)
	if err != nil {
		t.Fatalf("vocab.Build: %v", err)
	}
	m, err := model.New(model.Config{VocabSize: voc.Size(), EmbedDim: 4, HiddenDim: 6, Layers: 1}, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	return &stubProvider{
		ckpt: &ckptstore.Checkpoint{Model: m, Vocab: voc},
		id:   "ckpt-000007",
	}
}

func newTestEcho(t *testing.T, provider *stubProvider) *echo.Echo {
	t.Helper()
	e := echo.New()
	NewServer(NewGenerationService(provider), provider).Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateGeneration(t *testing.T) {
	e := newTestEcho(t, newStubProvider(t))

	rec := doJSON(t, e, http.MethodPost, "/v1/generations", `{"seed":"ab","length":5,"sampler_seed":42}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got Generation
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasPrefix(got.ID, "gen_") {
		t.Errorf("ID = %q, want gen_ prefix", got.ID)
	}
	if got.Object != "generation" {
		t.Errorf("Object = %q, want generation", got.Object)
	}
	if got.Created <= 0 {
		t.Errorf("Created = %d, want > 0", got.Created)
	}
	if got.Checkpoint != "ckpt-000007" {
		t.Errorf("Checkpoint = %q, want ckpt-000007", got.Checkpoint)
	}
	if got.Seed != "ab" {
		t.Errorf("Seed = %q, want ab", got.Seed)
	}
	if n := utf8.RuneCountInString(got.Output); n != 5 {
		t.Errorf("output length = %d, want 5", n)
	}
	if got.Text != got.Seed+got.Output {
		t.Errorf("Text = %q, want seed+output", got.Text)
	}
	for _, r := range got.Output {
		if !strings.ContainsRune(testAlphabet, r) {
			t.Errorf("output contains %q, not in alphabet", r)
		}
	}
	if got.Usage.SeedChars != 2 {
		t.Errorf("SeedChars = %d, want 2", got.Usage.SeedChars)
	}
	if got.Usage.GeneratedChars != 5 {
		t.Errorf("GeneratedChars = %d, want 5", got.Usage.GeneratedChars)
	}
	if got.Usage.DurationMS < 0 {
		t.Errorf("DurationMS = %d, want >= 0", got.Usage.DurationMS)
	}
}

func TestCreateGenerationZeroLength(t *testing.T) {
	e := newTestEcho(t, newStubProvider(t))

	rec := doJSON(t, e, http.MethodPost, "/v1/generations", `{"seed":"abc","length":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got Generation
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Text != "abc" || got.Output != "" {
		t.Errorf("Text = %q, Output = %q, want seed unchanged and empty output", got.Text, got.Output)
	}
	if got.Usage.GeneratedChars != 0 {
		t.Errorf("GeneratedChars = %d, want 0", got.Usage.GeneratedChars)
	}
}

func TestCreateGenerationDeterministic(t *testing.T) {
	e := newTestEcho(t, newStubProvider(t))

	const body = `{"seed":"a","length":12,"sampler_seed":99}`
	first := doJSON(t, e, http.MethodPost, "/v1/generations", body)
	second := doJSON(t, e, http.MethodPost, "/v1/generations", body)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("status = %d, %d", first.Code, second.Code)
	}

	var a, b Generation
	if err := json.Unmarshal(first.Body.Bytes(), &a); err != nil {
		t.Fatalf("unmarshal first: %v", err)
	}
	if err := json.Unmarshal(second.Body.Bytes(), &b); err != nil {
		t.Fatalf("unmarshal second: %v", err)
	}
	if a.Output != b.Output {
		t.Errorf("same sampler seed produced %q then %q", a.Output, b.Output)
	}
}

func TestCreateGenerationValidation(t *testing.T) {
	e := newTestEcho(t, newStubProvider(t))

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "empty body", body: "", wantMsg: "invalid JSON body"},
		{name: "malformed json", body: "{", wantMsg: "invalid JSON body"},
		{name: "missing seed", body: `{"length":5}`, wantMsg: "seed is required"},
		{name: "negative length", body: `{"seed":"a","length":-1}`, wantMsg: "length must not be negative"},
		{name: "excessive length", body: `{"seed":"a","length":1000000}`, wantMsg: "must not exceed"},
		{name: "seed outside alphabet", body: `{"seed":"xyz","length":3}`, wantMsg: "unknown character"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, e, http.MethodPost, "/v1/generations", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
			}
			body := rec.Body.String()
			if !strings.Contains(body, tc.wantMsg) {
				t.Errorf("body = %s, want substring %q", body, tc.wantMsg)
			}
			if !strings.Contains(body, "invalid_request_error") {
				t.Errorf("body = %s, want invalid_request_error type", body)
			}
		})
	}
}

func TestCreateGenerationProviderFailure(t *testing.T) {
	provider := newStubProvider(t)
	provider.err = errors.New("checkpoint file corrupt")
	e := newTestEcho(t, provider)

	rec := doJSON(t, e, http.MethodPost, "/v1/generations", `{"seed":"a","length":3}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "server_error") {
		t.Errorf("body = %s, want server_error type", rec.Body.String())
	}
}

func TestCreateGenerationNoCheckpoints(t *testing.T) {
	provider := newStubProvider(t)
	provider.err = ckptstore.ErrNoCheckpoints
	e := newTestEcho(t, provider)

	rec := doJSON(t, e, http.MethodPost, "/v1/generations", `{"seed":"a","length":3}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body = %s", rec.Code, rec.Body.String())
	}
}

func parseSSE(t *testing.T, body string) (chunks []GenerationChunk, final *Generation, done bool) {
	t.Helper()
	for _, evt := range strings.Split(body, "\n\n") {
		evt = strings.TrimSpace(evt)
		if evt == "" {
			continue
		}
		payload, ok := strings.CutPrefix(evt, "data: ")
		if !ok {
			t.Fatalf("event without data prefix: %q", evt)
		}
		if payload == "[DONE]" {
			done = true
			continue
		}
		var probe struct {
			Object string `json:"object"`
			Error  *ResponseError
		}
		if err := json.Unmarshal([]byte(payload), &probe); err != nil {
			t.Fatalf("unmarshal event %q: %v", payload, err)
		}
		switch {
		case probe.Object == "generation.chunk":
			var chunk GenerationChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				t.Fatalf("unmarshal chunk %q: %v", payload, err)
			}
			chunks = append(chunks, chunk)
		case probe.Object == "generation":
			var gen Generation
			if err := json.Unmarshal([]byte(payload), &gen); err != nil {
				t.Fatalf("unmarshal generation %q: %v", payload, err)
			}
			final = &gen
		case probe.Error != nil:
			// Error events are checked by the caller on the raw body.
		default:
			t.Fatalf("unexpected event %q", payload)
		}
	}
	return chunks, final, done
}

func TestCreateGenerationStream(t *testing.T) {
	e := newTestEcho(t, newStubProvider(t))

	rec := doJSON(t, e, http.MethodPost, "/v1/generations", `{"seed":"ab","length":4,"sampler_seed":7,"stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}

	chunks, final, done := parseSSE(t, rec.Body.String())
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	if final == nil {
		t.Fatal("no final generation event")
	}
	if !done {
		t.Error("missing [DONE] marker")
	}

	var streamed strings.Builder
	for _, chunk := range chunks {
		streamed.WriteString(chunk.Delta)
	}
	if final.Output != streamed.String() {
		t.Errorf("final output %q != streamed deltas %q", final.Output, streamed.String())
	}
	if final.Usage.GeneratedChars != 4 {
		t.Errorf("GeneratedChars = %d, want 4", final.Usage.GeneratedChars)
	}
	if !strings.HasPrefix(final.ID, "gen_") {
		t.Errorf("ID = %q, want gen_ prefix", final.ID)
	}
}

func TestCreateGenerationStreamError(t *testing.T) {
	e := newTestEcho(t, newStubProvider(t))

	// Seed characters outside the alphabet fail after the stream headers
	// are committed, so the error arrives as an event.
	rec := doJSON(t, e, http.MethodPost, "/v1/generations", `{"seed":"zzz","length":3,"stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with error event", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "invalid_request_error") {
		t.Errorf("body = %s, want invalid_request_error event", body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Errorf("body = %s, want [DONE] marker", body)
	}
}

func TestListCheckpoints(t *testing.T) {
	provider := newStubProvider(t)
	provider.entries = []ckptstore.Entry{
		{Path: "/models/ckpt-000001.rlm", Epoch: 1},
		{Path: "/models/ckpt-000002.rlm", Epoch: 2},
	}
	e := newTestEcho(t, provider)

	rec := doJSON(t, e, http.MethodGet, "/v1/checkpoints", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got CheckpointList
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Object != "list" {
		t.Errorf("Object = %q, want list", got.Object)
	}
	if len(got.Data) != 2 {
		t.Fatalf("got %d checkpoints, want 2", len(got.Data))
	}
	if got.Data[0].ID != "ckpt-000001" || got.Data[0].Epoch != 1 {
		t.Errorf("data[0] = %+v, want ckpt-000001 epoch 1", got.Data[0])
	}
	if got.Data[1].Object != "checkpoint" {
		t.Errorf("data[1].Object = %q, want checkpoint", got.Data[1].Object)
	}
}

func TestListCheckpointsEmpty(t *testing.T) {
	e := newTestEcho(t, newStubProvider(t))

	rec := doJSON(t, e, http.MethodGet, "/v1/checkpoints", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got CheckpointList
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Data) != 0 {
		t.Errorf("got %d checkpoints, want 0", len(got.Data))
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEcho(t, newStubProvider(t))

	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s, want status ok", rec.Body.String())
	}
}

func TestPlaygroundServed(t *testing.T) {
	e := newTestEcho(t, newStubProvider(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "runelm playground") {
		t.Error("playground page not served at /")
	}
}
