// Package engine runs function bodies and traverses the flow graph.
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Provenance records one model call made during a function invocation.
type Provenance struct {
	Kind       string `json:"kind"`
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
	InputHash  string `json:"input_hash"`
	OutputHash string `json:"output_hash"`
	Ms         int64  `json:"ms"`
}

// Trace summarizes one function invocation.
type Trace struct {
	Node        string       `json:"node"`
	TS          string       `json:"ts"`
	OutputsHash string       `json:"outputs_hash,omitempty"`
	Status      string       `json:"status"`
	Provenance  []Provenance `json:"provenance,omitempty"`
}

// RunResult is the outcome of one program invocation.
type RunResult struct {
	RunID  string   `json:"run_id"`
	Result any      `json:"result"`
	Traces []*Trace `json:"trace"`
}

// hashObj produces a short content hash over the canonical JSON form of a
// value. Go's encoder sorts map keys, so the hash is order-independent.
func hashObj(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte("unhashable")
	}
	sum := sha256.Sum256(b)
	return "h:" + hex.EncodeToString(sum[:])[:8]
}

func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}
