package telemetry

import (
	"context"
	"slices"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys
const (
	ProfilingLabelOperation = "operation"
	ProfilingLabelOrderType = "order_type"
	ProfilingLabelProductID = "product_id"
	ProfilingLabelMethod    = "method"
	ProfilingLabelRoute     = "route"
)

// MaxLabelValueLength caps label values
const MaxLabelValueLength = 128

// perEntityLabels would create one profile series per order or request
var perEntityLabels = []string{
	"order_id", "membership_id", "customer_id", "transfer_id",
	"request_id", "trace_id", "span_id",
}

// ProfileLabels are attached to the goroutine doing one unit of work
type ProfileLabels map[string]string

// WithProfilingLabels runs fn with labels attached to its goroutine.
func WithProfilingLabels(ctx context.Context, labels ProfileLabels, fn func(context.Context)) {
	pairs := labels.pairs()
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// pairs normalizes keys, drops empty and per-entity labels, truncates long
// values and flattens the result ordered by key.
func (l ProfileLabels) pairs() []string {
	clean := make(map[string]string, len(l))
	for key, value := range l {
		key = labelKey(key)
		if key == "" || value == "" || slices.Contains(perEntityLabels, key) {
			continue
		}
		clean[key] = value[:min(len(value), MaxLabelValueLength)]
	}

	keys := make([]string, 0, len(clean))
	for key := range clean {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, 2*len(keys))
	for _, key := range keys {
		out = append(out, key, clean[key])
	}
	return out
}

// labelKey lowercases key, turns spaces and dashes into underscores and
// drops anything outside [a-z0-9_]
func labelKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ' || r == '-':
			return '_'
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return -1
	}, strings.ToLower(key))
}
