package probe

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tkjaer/sping/internal/config"
	"github.com/tkjaer/sping/internal/output"
	"github.com/tkjaer/sping/internal/resolve"
	"github.com/tkjaer/sping/internal/shared"
	"github.com/tkjaer/sping/internal/stats"
	"github.com/tkjaer/sping/pkg/echo"
	"github.com/tkjaer/sping/pkg/ptr"
	"github.com/tkjaer/sping/pkg/route"
)

// State is the lifecycle stage of a ProbeManager.
type State int

const (
	StateIdle State = iota
	StateDispatching
	StateAggregating
	StateReported
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateAggregating:
		return "aggregating"
	case StateReported:
		return "reported"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// How long the report waits for an outstanding reverse lookup.
const ptrWait = 2 * time.Second

// routeLookup is replaceable in tests.
var routeLookup = route.Get

type outputConfig struct {
	jsonOutput  bool
	jsonFile    string
	metricsFile string
	verbose     bool
}

// ProbeManager runs one batch of probes to a single target and reports it
type ProbeManager struct {
	// Coordination
	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	state   State
	summary shared.Summary

	// Probe configuration
	request   shared.ProbeRequest
	count     int
	noResolve bool

	// Shared resources
	resolver   echo.Resolver
	ptrManager *ptr.PtrManager
	dispatcher *Dispatcher

	outputConfig outputConfig
	newOutputs   func() *output.OutputManager
}

// NewProbeManager validates a and wires the echo sender, resolver and outputs.
func NewProbeManager(a config.Args) (*ProbeManager, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	resolver := resolve.New(resolve.DefaultTTL)
	pm := &ProbeManager{
		stop: make(chan struct{}),

		request:   a.Request(),
		count:     a.Count,
		noResolve: a.NoResolve,

		resolver:   resolver,
		ptrManager: ptr.NewPtrManager(),
		dispatcher: &Dispatcher{
			Sender:      echo.NewPinger(a.Privileged, resolver),
			MaxInFlight: a.Parallel,
		},

		outputConfig: outputConfig{
			jsonOutput:  a.Json,
			jsonFile:    a.JsonFile,
			metricsFile: a.MetricsFile,
			verbose:     a.Verbose,
		},
	}
	pm.newOutputs = pm.createOutputs
	return pm, nil
}

// Run dispatches the batch, aggregates it and hands the summary to the
// outputs. A Stop during dispatch still produces a report of the partial
// batch. Errors returned by Run are fatal: no report was produced.
func (pm *ProbeManager) Run() (err error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-pm.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	om := pm.newOutputs()
	defer func() {
		if cerr := om.Close(); cerr != nil {
			log.WithError(cerr).Error("Failed to close outputs")
			if err == nil {
				err = cerr
			}
		}
	}()

	addr := pm.preflight(ctx)
	ptrDone := make(chan struct{})
	if addr.IsValid() && !pm.noResolve {
		go func() {
			defer close(ptrDone)
			pm.ptrManager.RequestPTR(ctx, addr.String())
		}()
	} else {
		close(ptrDone)
	}

	pm.setState(StateDispatching)
	pm.dispatcher.Observer = om.ProbeResult
	batch, err := pm.dispatcher.Dispatch(ctx, pm.request, pm.count)
	if batch == nil {
		pm.setState(StateAborted)
		return fmt.Errorf("dispatch: %w", err)
	}
	if errors.Is(err, context.Canceled) {
		log.Warn("Run interrupted, reporting partial results")
	}

	pm.setState(StateAggregating)
	summary, err := stats.Aggregate(pm.request.Target, batch.Results, pm.count)
	if err != nil {
		pm.setState(StateAborted)
		return fmt.Errorf("aggregate: %w", err)
	}

	if addr.IsValid() {
		summary.Address = addr.String()
		select {
		case <-ptrDone:
		case <-time.After(ptrWait):
			log.WithField("address", addr).Debug("Reverse lookup still running, reporting without it")
		}
		if name, ok := pm.ptrManager.GetPTR(addr.String()); ok {
			summary.AddressPTR = name
		}
	}

	pm.mu.Lock()
	pm.summary = summary
	pm.mu.Unlock()

	om.Summary(summary)
	pm.setState(StateReported)

	log.WithFields(log.Fields{
		"target":    summary.Target,
		"attempted": summary.Attempted,
		"succeeded": summary.Succeeded,
		"loss":      summary.LossFraction,
	}).Debug("Run reported")
	return nil
}

// preflight resolves the target and inspects the outgoing route. Failures are
// only logged; every probe reports its own outcome.
func (pm *ProbeManager) preflight(ctx context.Context) netip.Addr {
	addr, err := pm.resolver.Resolve(ctx, pm.request.Target)
	if err != nil {
		log.WithError(err).WithField("target", pm.request.Target).Warn("Cannot resolve target")
		return netip.Addr{}
	}

	r, err := routeLookup(addr)
	if err != nil {
		log.WithError(err).WithField("address", addr).Debug("Route lookup failed")
		return addr
	}
	fields := log.Fields{
		"address": addr,
		"gateway": r.Gateway,
		"source":  r.Source,
		"mtu":     r.MTU(),
	}
	if r.Interface != nil {
		fields["interface"] = r.Interface.Name
	}
	log.WithFields(fields).Debug("Route to target")

	if limit := r.MaxPayload(); pm.request.DontFragment && limit > 0 && pm.request.PayloadSize > limit {
		log.WithFields(log.Fields{
			"payload":     pm.request.PayloadSize,
			"max_payload": limit,
		}).Warn("Payload does not fit the outgoing interface MTU with the do-not-fragment bit set")
	}
	return addr
}

// Stop cancels a running batch. It is safe to call more than once.
func (pm *ProbeManager) Stop() {
	pm.stopOnce.Do(func() {
		log.Debug("Stopping ProbeManager")
		close(pm.stop)
	})
}

// State returns the current lifecycle stage.
func (pm *ProbeManager) State() State {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.state
}

// Summary returns the reported summary. It is the zero value until the run
// reaches StateReported.
func (pm *ProbeManager) Summary() shared.Summary {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.summary
}

func (pm *ProbeManager) setState(s State) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	log.WithFields(log.Fields{"from": pm.state, "to": s}).Trace("State change")
	pm.state = s
}

// createOutputs creates and registers the output handlers
func (pm *ProbeManager) createOutputs() *output.OutputManager {
	om := &output.OutputManager{}

	// JSON on stdout replaces the table
	if pm.outputConfig.jsonOutput {
		jsonOut, err := output.NewJSONOutput("") // empty string = stdout
		if err == nil {
			om.Register(jsonOut)
		}
	} else {
		om.Register(output.NewTextOutput(pm.count, pm.outputConfig.verbose))
	}

	if pm.outputConfig.jsonFile != "" {
		jsonOut, err := output.NewJSONOutput(pm.outputConfig.jsonFile)
		if err == nil {
			om.Register(jsonOut)
		} else {
			log.WithError(err).Warn("Failed to create JSON file output")
		}
	}

	if pm.outputConfig.metricsFile != "" {
		om.Register(output.NewMetricsOutput(pm.outputConfig.metricsFile, pm.request.Target))
	}

	return om
}
