// Package tokenizer acquires a ready-to-use tokenizer for payload
// construction, either from a local directory or from the HuggingFace hub.
package tokenizer

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// DefinitionFile is the tokenizer definition a local directory must contain
// to be loadable without network access.
const DefinitionFile = "tokenizer.json"

// Tokenizer is a read-only handle over a loaded vocabulary. The benchmark
// uses it to assemble prompts of a known token length; it never mutates it.
type Tokenizer struct {
	tokens []string
}

// Kind classifies tokenizer acquisition failures.
type Kind int

const (
	// NotFound means the identifier resolved to nothing, locally or remotely.
	NotFound Kind = iota + 1
	// DownloadFailed means the remote fetch failed (network, auth, server).
	DownloadFailed
	// InvalidFormat means the definition file could not be parsed.
	InvalidFormat
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case DownloadFailed:
		return "download failed"
	case InvalidFormat:
		return "invalid format"
	default:
		return "unknown"
	}
}

// Error is a tokenizer acquisition failure with its underlying cause.
type Error struct {
	Kind Kind
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tokenizer %q: %s: %v", e.Name, e.Kind, e.Err)
	}
	return fmt.Sprintf("tokenizer %q: %s", e.Name, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// definition mirrors the parts of tokenizer.json we rely on: the model
// vocabulary plus any added tokens.
type definition struct {
	Model struct {
		Vocab map[string]int `json:"vocab"`
	} `json:"model"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
	} `json:"added_tokens"`
}

// parse builds a Tokenizer from raw tokenizer.json bytes.
func parse(name string, data []byte) (*Tokenizer, error) {
	var def definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, &Error{Kind: InvalidFormat, Name: name, Err: err}
	}

	byID := make(map[int]string, len(def.Model.Vocab)+len(def.AddedTokens))
	for token, id := range def.Model.Vocab {
		byID[id] = token
	}
	for _, added := range def.AddedTokens {
		byID[added.ID] = added.Content
	}
	if len(byID) == 0 {
		return nil, &Error{Kind: InvalidFormat, Name: name, Err: fmt.Errorf("definition has an empty vocabulary")}
	}

	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		tokens = append(tokens, byID[id])
	}
	return &Tokenizer{tokens: tokens}, nil
}

// VocabSize returns the number of known tokens.
func (t *Tokenizer) VocabSize() int { return len(t.tokens) }

// Prompt assembles a prompt of exactly length tokens sampled from the
// vocabulary. The server truncates inputs to the requested sequence length,
// so the prompt only has to be plausible, not a perfect round trip.
func (t *Tokenizer) Prompt(rng *rand.Rand, length int) string {
	parts := make([]string, 0, length)
	for i := 0; i < length; i++ {
		parts = append(parts, t.tokens[rng.Intn(len(t.tokens))])
	}
	return strings.Join(parts, " ")
}
