// Package stats reduces a batch of probe results into a run summary.
package stats

import (
	"errors"
	"fmt"
	"math"

	"github.com/tkjaer/sping/internal/shared"
)

var (
	// ErrDivision is returned when loss is requested for zero attempts.
	ErrDivision = errors.New("cannot compute loss for zero attempted probes")

	// ErrInconsistentBatch means more successes were recorded than attempts made.
	ErrInconsistentBatch = errors.New("batch holds more successes than attempts")
)

// Aggregate summarizes results for attempted probes. attempted is the number
// of probes requested, not len(results): a probe that never reported back still
// counts as lost. The outcome does not depend on the order of results.
func Aggregate(target string, results []shared.ProbeResult, attempted int) (shared.Summary, error) {
	if attempted <= 0 {
		return shared.Summary{}, ErrDivision
	}

	var (
		succeeded       int
		sum, sumSquares float64
		minRTT, maxRTT  float64
		failures        map[string]int
	)
	for _, r := range results {
		if !r.Succeeded {
			if failures == nil {
				failures = make(map[string]int)
			}
			failures[r.Failure.String()]++
			continue
		}
		ms := shared.Milliseconds(r.RTT)
		if succeeded == 0 || ms < minRTT {
			minRTT = ms
		}
		if ms > maxRTT {
			maxRTT = ms
		}
		sum += ms
		sumSquares += ms * ms
		succeeded++
	}
	if succeeded > attempted {
		return shared.Summary{}, fmt.Errorf("%w: %d of %d", ErrInconsistentBatch, succeeded, attempted)
	}

	// Attempts that never reported back are losses without a known cause.
	if missing := attempted - len(results); missing > 0 {
		if failures == nil {
			failures = make(map[string]int)
		}
		failures["unknown"] += missing
	}

	s := shared.Summary{
		Target:       target,
		Attempted:    attempted,
		Succeeded:    succeeded,
		Failed:       attempted - succeeded,
		LossFraction: lossFraction(succeeded, attempted),
		Failures:     failures,
	}
	if succeeded > 0 {
		avg := sum / float64(succeeded)
		stddev := calculateStdDev(sum, sumSquares, succeeded)
		s.AvgRTT = &avg
		s.MinRTT = &minRTT
		s.MaxRTT = &maxRTT
		s.StdDevRTT = &stddev
	}
	return s, nil
}

func lossFraction(succeeded, attempted int) float64 {
	return 1 - float64(succeeded)/float64(attempted)
}

// calculateStdDev returns the population standard deviation from running sums.
func calculateStdDev(sum, sumSquares float64, n int) float64 {
	if n < 2 {
		return 0
	}
	mean := sum / float64(n)
	variance := sumSquares/float64(n) - mean*mean
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}
