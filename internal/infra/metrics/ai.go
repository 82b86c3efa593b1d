package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(chatTokens, chatLatencyMs) }

var (
	chatTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_chat_tokens_total",
			Help: "Tokens reported by chat completions, by provider, model origin and direction.",
		},
		[]string{"provider", "model", "finetuned", "direction"}, // direction: prompt | completion
	)

	chatLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_chat_latency_ms",
			Help:    "Chat completion latency in milliseconds, including client-side retries.",
			Buckets: prometheus.ExponentialBuckets(25, 2, 10),
		},
		[]string{"provider", "finetuned", "success"},
	)
)

// finetunedLabel is "true" for finetuned model ids (ft:<base>:...).
func finetunedLabel(model string) string {
	return strconv.FormatBool(strings.HasPrefix(strings.TrimSpace(model), "ft:"))
}

// ObserveChatUsage records one chat completion; failed calls only feed the latency histogram.
func ObserveChatUsage(provider, model string, promptTokens, completionTokens, latencyMs int, success bool) {
	ft := finetunedLabel(model)
	chatLatencyMs.WithLabelValues(norm(provider), ft, strconv.FormatBool(success)).Observe(float64(latencyMs))
	if !success {
		return
	}
	chatTokens.WithLabelValues(norm(provider), norm(model), ft, "prompt").Add(float64(promptTokens))
	chatTokens.WithLabelValues(norm(provider), norm(model), ft, "completion").Add(float64(completionTokens))
}
