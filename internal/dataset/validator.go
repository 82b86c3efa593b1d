package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"llm-finetune/internal/domain"
	"llm-finetune/internal/infra/logging"
)

const (
	MaxTokensPerExample = 4096

	TargetEpochs      = 3
	MinTargetExamples = 100
	MaxTargetExamples = 25000
	MinDefaultEpochs  = 1
	MaxDefaultEpochs  = 25
)

// Format error categories.
const (
	ErrKindInvalidJSON          = "invalid_json"
	ErrKindEmptyDataset         = "empty_dataset"
	ErrKindDataType             = "data_type"
	ErrKindMissingMessagesList  = "missing_messages_list"
	ErrKindMessageMissingKey    = "message_missing_key"
	ErrKindMessageUnrecognized  = "message_unrecognized_key"
	ErrKindUnrecognizedRole     = "unrecognized_role"
	ErrKindMissingContent       = "missing_content"
	ErrKindMissingAssistantTurn = "example_missing_assistant_message"
)

var (
	allowedKeys  = map[string]bool{"role": true, "content": true, "name": true}
	allowedRoles = map[string]bool{"system": true, "user": true, "assistant": true}
)

// ValidationError lists the format errors found in a dataset.
type ValidationError struct {
	Path   string
	Counts map[string]int
	// Lines holds the 1-based line numbers per category.
	Lines map[string][]int
}

func (e *ValidationError) Error() string {
	kinds := make([]string, 0, len(e.Counts))
	for k := range e.Counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, e.Counts[k]))
	}
	return fmt.Sprintf("dataset %s has format errors: %s", e.Path, strings.Join(parts, ", "))
}

func (e *ValidationError) Is(target error) bool { return target == domain.ErrDatasetValidation }

func (e *ValidationError) add(kind string, line int) {
	e.Counts[kind]++
	e.Lines[kind] = append(e.Lines[kind], line)
}

// Report summarises a valid dataset.
type Report struct {
	Path               string
	Examples           int
	MissingSystem      int
	MissingUser        int
	ConversationTokens []int
	AssistantTokens    []int
	OverLimit          int
	Epochs             int
	BillableTokens     int
	BilledTokens       int
}

// Summary renders the report for humans.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Num examples: %d\n", r.Examples)
	fmt.Fprintf(&b, "Num examples missing system message: %d\n", r.MissingSystem)
	fmt.Fprintf(&b, "Num examples missing user message: %d\n", r.MissingUser)
	writeDist(&b, "num_total_tokens_per_example", r.ConversationTokens)
	writeDist(&b, "num_assistant_tokens_per_example", r.AssistantTokens)
	fmt.Fprintf(&b, "%d examples may be over the %d token limit, they will be truncated during fine-tuning\n", r.OverLimit, MaxTokensPerExample)
	fmt.Fprintf(&b, "Dataset has ~%d tokens that will be charged for during training\n", r.BillableTokens)
	fmt.Fprintf(&b, "By default, you'll train for %d epochs on this dataset\n", r.Epochs)
	fmt.Fprintf(&b, "By default, you'll be charged for ~%d tokens\n", r.BilledTokens)
	return b.String()
}

func writeDist(b *strings.Builder, name string, vals []int) {
	if len(vals) == 0 {
		return
	}
	s := append([]int(nil), vals...)
	sort.Ints(s)
	sum := 0
	for _, v := range s {
		sum += v
	}
	fmt.Fprintf(b, "Distribution of %s: min %d, max %d, mean %.1f, median %d\n",
		name, s[0], s[len(s)-1], float64(sum)/float64(len(s)), s[len(s)/2])
}

// Validator checks a chat-format JSONL training set.
type Validator struct {
	counter TokenCounter
	log     *zerolog.Logger
}

func NewValidator(counter TokenCounter, logger *zerolog.Logger) *Validator {
	if counter == nil {
		counter = NewTiktokenCounter(DefaultEncoding)
	}
	return &Validator{counter: counter, log: logging.Component(logger, "dataset")}
}

// Validate reads the file at path. Format errors yield a *ValidationError;
// I/O errors are returned as is.
func (v *Validator) Validate(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	rep, err := v.validate(path, f)
	if err != nil {
		return nil, err
	}
	v.log.Debug().
		Str("path", path).
		Int("examples", rep.Examples).
		Int("epochs", rep.Epochs).
		Int("billed_tokens", rep.BilledTokens).
		Msg("dataset validated")
	return rep, nil
}

func (v *Validator) validate(path string, r io.Reader) (*Report, error) {
	verr := &ValidationError{Path: path, Counts: map[string]int{}, Lines: map[string][]int{}}
	var examples [][]map[string]any

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var ex any
		if err := json.Unmarshal([]byte(raw), &ex); err != nil {
			verr.add(ErrKindInvalidJSON, line)
			continue
		}
		if msgs, ok := checkExample(ex, line, verr); ok {
			examples = append(examples, msgs)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	if len(examples) == 0 && len(verr.Counts) == 0 {
		verr.add(ErrKindEmptyDataset, 0)
	}
	if len(verr.Counts) > 0 {
		return nil, verr
	}
	if l, ok := v.counter.(interface{ Load() error }); ok {
		if err := l.Load(); err != nil {
			return nil, err
		}
	}
	return v.report(path, examples), nil
}

// checkExample counts every format error of one example. The messages are
// returned only when the example is clean.
func checkExample(ex any, line int, verr *ValidationError) ([]map[string]any, bool) {
	obj, ok := ex.(map[string]any)
	if !ok {
		verr.add(ErrKindDataType, line)
		return nil, false
	}
	list, _ := obj["messages"].([]any)
	if len(list) == 0 {
		verr.add(ErrKindMissingMessagesList, line)
		return nil, false
	}

	hits := 0
	msgs := make([]map[string]any, 0, len(list))
	hasAssistant := false
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			verr.add(ErrKindMessageMissingKey, line)
			hits++
			continue
		}
		_, hasRole := m["role"]
		_, hasContent := m["content"]
		if !hasRole || !hasContent {
			verr.add(ErrKindMessageMissingKey, line)
			hits++
		}
		for k := range m {
			if !allowedKeys[k] {
				verr.add(ErrKindMessageUnrecognized, line)
				hits++
				break
			}
		}
		role, _ := m["role"].(string)
		if !allowedRoles[role] {
			verr.add(ErrKindUnrecognizedRole, line)
			hits++
		}
		if content, ok := m["content"].(string); !ok || content == "" {
			verr.add(ErrKindMissingContent, line)
			hits++
		}
		if role == "assistant" {
			hasAssistant = true
		}
		msgs = append(msgs, m)
	}
	if !hasAssistant {
		verr.add(ErrKindMissingAssistantTurn, line)
		hits++
	}
	return msgs, hits == 0
}

func (v *Validator) report(path string, examples [][]map[string]any) *Report {
	rep := &Report{Path: path, Examples: len(examples)}
	for _, msgs := range examples {
		var sys, usr bool
		for _, m := range msgs {
			switch m["role"] {
			case "system":
				sys = true
			case "user":
				usr = true
			}
		}
		if !sys {
			rep.MissingSystem++
		}
		if !usr {
			rep.MissingUser++
		}
		n := messageTokens(v.counter, msgs)
		rep.ConversationTokens = append(rep.ConversationTokens, n)
		rep.AssistantTokens = append(rep.AssistantTokens, assistantTokens(v.counter, msgs))
		if n > MaxTokensPerExample {
			rep.OverLimit++
		}
		rep.BillableTokens += min(n, MaxTokensPerExample)
	}
	rep.Epochs = EstimateEpochs(rep.Examples)
	rep.BilledTokens = rep.BillableTokens * rep.Epochs
	return rep
}

// EstimateEpochs picks the default epoch count so that examples*epochs
// stays within [MinTargetExamples, MaxTargetExamples] where possible.
func EstimateEpochs(examples int) int {
	if examples <= 0 {
		return 0
	}
	epochs := TargetEpochs
	switch {
	case examples*TargetEpochs < MinTargetExamples:
		epochs = min(MaxDefaultEpochs, MinTargetExamples/examples)
	case examples*TargetEpochs > MaxTargetExamples:
		epochs = max(MinDefaultEpochs, MaxTargetExamples/examples)
	}
	return epochs
}
