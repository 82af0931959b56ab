package output

import (
	"errors"

	"github.com/tkjaer/sping/internal/shared"
)

// Output interface for different output types
type Output interface {
	ProbeResult(r shared.ProbeResult)
	Summary(s shared.Summary)
	Close() error
}

// OutputManager manages multiple outputs
type OutputManager struct {
	outputs []Output
}

func (om *OutputManager) Register(o Output) {
	om.outputs = append(om.outputs, o)
}

func (om *OutputManager) ProbeResult(r shared.ProbeResult) {
	for _, o := range om.outputs {
		o.ProbeResult(r)
	}
}

func (om *OutputManager) Summary(s shared.Summary) {
	for _, o := range om.outputs {
		o.Summary(s)
	}
}

// Close closes every output and returns their errors joined.
func (om *OutputManager) Close() error {
	var errs []error
	for _, o := range om.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
