package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(buildInfo) }

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "llm_finetune_build_info",
		Help: "Constant 1 labelled with the binary's version, commit and Go runtime.",
	},
	[]string{"version", "commit", "goversion"},
)

// SetBuildInfo is called once from main with values injected by -ldflags.
func SetBuildInfo(version, commit string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}
