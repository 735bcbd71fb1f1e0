package metrics

import (
	"time"

	obserrors "github.com/Streamweaver/helix-jobs/internal/observability/errors"
	"github.com/Streamweaver/helix-jobs/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	Kind       string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_kind":   in.Kind,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// ReapMetric captures one reaper sweep step for metric emission.
type ReapMetric struct {
	Kind     string
	Step     string
	Affected int
	Err      error
}

// EmitReapStep emits counters for one reaper sweep step.
func EmitReapStep(sink statsd.Sink, in ReapMetric) {
	if sink == nil {
		return
	}

	result := ResultNoop
	if in.Err != nil {
		result = ResultError
	} else if in.Affected > 0 {
		result = ResultSuccess
	}

	tags := map[string]string{
		"job_kind": in.Kind,
		"step":     in.Step,
		"result":   result,
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("reaper.step", 1, tags)
	if in.Affected > 0 {
		sink.Count("reaper.jobs_affected", int64(in.Affected), CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
