package dataset

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tokenizer used by the chat models that accept finetuning.
const DefaultEncoding = "cl100k_base"

// TokenCounter counts tokens of a single string.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with a BPE encoding. The encoding is loaded lazily
// on first use since tiktoken fetches the ranks file on demand.
type TiktokenCounter struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TiktokenCounter{encoding: encoding}
}

// Load resolves the encoding; Count calls it implicitly.
func (c *TiktokenCounter) Load() error {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(c.encoding)
		if c.err != nil {
			c.err = fmt.Errorf("load encoding %s: %w", c.encoding, c.err)
		}
	})
	return c.err
}

// Count returns 0 when the encoding cannot be loaded; call Load first to see the error.
func (c *TiktokenCounter) Count(text string) int {
	if err := c.Load(); err != nil {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// messageTokens follows the chat format accounting: 3 tokens of framing per
// message, 1 extra when a name is present and 3 priming the reply.
func messageTokens(tc TokenCounter, msgs []map[string]any) int {
	n := 0
	for _, m := range msgs {
		n += 3
		for k, v := range m {
			s, _ := v.(string)
			n += tc.Count(s)
			if k == "name" {
				n++
			}
		}
	}
	return n + 3
}

func assistantTokens(tc TokenCounter, msgs []map[string]any) int {
	n := 0
	for _, m := range msgs {
		if m["role"] == "assistant" {
			s, _ := m["content"].(string)
			n += tc.Count(s)
		}
	}
	return n
}
