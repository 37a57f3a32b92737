package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	extractionsStarted   atomic.Int64
	extractionsCompleted atomic.Int64
	extractionsFailed    atomic.Int64
	testsMatched         atomic.Int64
	testsUnmatched       atomic.Int64
	stageFailures        = map[string]*atomic.Int64{
		"fetching":    {},
		"validating":  {},
		"compressing": {},
		"extracting":  {},
		"matching":    {},
		"persisting":  {},
	}
)

// Fixed iteration order for the Prometheus text output.
var stageOrder = []string{"fetching", "validating", "compressing", "extracting", "matching", "persisting"}

func IncStarted()   { extractionsStarted.Add(1) }
func IncCompleted() { extractionsCompleted.Add(1) }

func IncFailed(stage string) {
	extractionsFailed.Add(1)
	if counter, ok := stageFailures[stage]; ok {
		counter.Add(1)
	}
}

// ObserveMatches records match outcomes for one completed run.
func ObserveMatches(matched, unmatched int) {
	testsMatched.Add(int64(matched))
	testsUnmatched.Add(int64(unmatched))
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP scripta_extraction_started_total Number of extraction pipeline runs started.\n")
	fmt.Fprintf(w, "# TYPE scripta_extraction_started_total counter\n")
	fmt.Fprintf(w, "scripta_extraction_started_total %d\n", extractionsStarted.Load())

	fmt.Fprintf(w, "# HELP scripta_extraction_completed_total Number of extraction pipeline runs that persisted a record.\n")
	fmt.Fprintf(w, "# TYPE scripta_extraction_completed_total counter\n")
	fmt.Fprintf(w, "scripta_extraction_completed_total %d\n", extractionsCompleted.Load())

	fmt.Fprintf(w, "# HELP scripta_extraction_failed_total Number of extraction pipeline runs that ended in a stage failure.\n")
	fmt.Fprintf(w, "# TYPE scripta_extraction_failed_total counter\n")
	fmt.Fprintf(w, "scripta_extraction_failed_total %d\n", extractionsFailed.Load())

	fmt.Fprintf(w, "# HELP scripta_extraction_stage_failures_total Pipeline failures broken down by stage.\n")
	fmt.Fprintf(w, "# TYPE scripta_extraction_stage_failures_total counter\n")
	for _, stage := range stageOrder {
		fmt.Fprintf(w, "scripta_extraction_stage_failures_total{stage=%q} %d\n", stage, stageFailures[stage].Load())
	}

	fmt.Fprintf(w, "# HELP scripta_matching_tests_matched_total Prescribed tests mapped to a catalog entry at or above the threshold.\n")
	fmt.Fprintf(w, "# TYPE scripta_matching_tests_matched_total counter\n")
	fmt.Fprintf(w, "scripta_matching_tests_matched_total %d\n", testsMatched.Load())

	fmt.Fprintf(w, "# HELP scripta_matching_tests_unmatched_total Prescribed tests left unmapped below the threshold.\n")
	fmt.Fprintf(w, "# TYPE scripta_matching_tests_unmatched_total counter\n")
	fmt.Fprintf(w, "scripta_matching_tests_unmatched_total %d\n", testsUnmatched.Load())
}
