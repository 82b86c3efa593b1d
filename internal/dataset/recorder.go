package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"llm-finetune/internal/domain/ports/adapter"
)

var _ adapter.ChatModel = (*Recorder)(nil)

// Example is one training line: a conversation ending with the assistant reply.
type Example struct {
	Messages []adapter.Message `json:"messages"`
}

// Recorder wraps a chat model and keeps every successful exchange so that
// a strong model's conversations can be saved as a training set.
type Recorder struct {
	inner adapter.ChatModel

	mu     sync.Mutex
	events []Example
}

func NewRecorder(inner adapter.ChatModel) *Recorder {
	return &Recorder{inner: inner}
}

func (r *Recorder) Model() string { return r.inner.Model() }

func (r *Recorder) Chat(ctx context.Context, messages []adapter.Message) (string, error) {
	reply, _, err := r.ChatWithUsage(ctx, messages)
	return reply, err
}

func (r *Recorder) ChatWithUsage(ctx context.Context, messages []adapter.Message) (string, adapter.Usage, error) {
	reply, usage, err := r.inner.ChatWithUsage(ctx, messages)
	if err != nil {
		return "", usage, err
	}
	conv := make([]adapter.Message, 0, len(messages)+1)
	conv = append(conv, messages...)
	conv = append(conv, adapter.Message{Role: "assistant", Content: reply})

	r.mu.Lock()
	r.events = append(r.events, Example{Messages: conv})
	r.mu.Unlock()
	return reply, usage, nil
}

// Events returns a copy of the recorded examples.
func (r *Recorder) Events() []Example {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Example, len(r.events))
	copy(out, r.events)
	return out
}

// Save writes the recorded examples to path as JSONL, truncating the file.
func (r *Recorder) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, ev := range r.Events() {
		if err := enc.Encode(ev); err != nil {
			f.Close()
			return fmt.Errorf("encode event: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
