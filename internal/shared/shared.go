package shared

import (
	"errors"
	"time"

	"github.com/tkjaer/sping/pkg/echo"
)

// ErrNoData is returned for RTT statistics of a run without any reply.
var ErrNoData = errors.New("no data: no probe received a reply")

// ProbeRequest holds the parameters shared by every probe of one run.
// It is passed by value and never modified after the run starts.
type ProbeRequest struct {
	Target       string        `json:"target"`
	Timeout      time.Duration `json:"timeout"`
	PayloadSize  int           `json:"payload_size"`
	TTL          int           `json:"ttl"`
	DontFragment bool          `json:"dont_fragment"`
}

// ProbeResult is the outcome of one probe attempt
type ProbeResult struct {
	Seq       int           `json:"seq"`
	Succeeded bool          `json:"succeeded"`
	RTT       time.Duration `json:"rtt"`            // valid only if Succeeded
	Peer      string        `json:"peer,omitempty"` // host that answered, reply or error
	Failure   echo.Kind     `json:"failure,omitempty"`
	Err       error         `json:"-"`
}

// Batch holds the results of one run in completion order.
type Batch struct {
	Results []ProbeResult
}

// Succeeded returns the number of successful results.
func (b *Batch) Succeeded() int {
	n := 0
	for _, r := range b.Results {
		if r.Succeeded {
			n++
		}
	}
	return n
}

// Summary is the aggregate outcome of one run. RTT figures are in
// milliseconds and are nil when no probe succeeded.
type Summary struct {
	Target       string         `json:"target"`
	Address      string         `json:"address,omitempty"`
	AddressPTR   string         `json:"address_ptr,omitempty"`
	Attempted    int            `json:"attempted"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	LossFraction float64        `json:"loss_fraction"`
	AvgRTT       *float64       `json:"avg_rtt_ms"`
	MinRTT       *float64       `json:"min_rtt_ms"`
	MaxRTT       *float64       `json:"max_rtt_ms"`
	StdDevRTT    *float64       `json:"stddev_rtt_ms"`
	Failures     map[string]int `json:"failures,omitempty"` // failure kind -> count
}

// AverageRTT returns the mean round-trip time in milliseconds, or ErrNoData.
func (s Summary) AverageRTT() (float64, error) {
	if s.AvgRTT == nil {
		return 0, ErrNoData
	}
	return *s.AvgRTT, nil
}

// Milliseconds converts d to fractional milliseconds.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
