package probe

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tkjaer/sping/internal/payload"
	"github.com/tkjaer/sping/internal/shared"
	"github.com/tkjaer/sping/pkg/echo"
)

// ErrInvalidCount is returned when fewer than one probe is requested.
var ErrInvalidCount = errors.New("probe count must be at least 1")

// inFlightPerCPU sizes the default fan-out. Probes spend nearly all their
// time waiting on the network.
const inFlightPerCPU = 16

// Dispatcher runs a batch of independent echo probes with bounded concurrency.
type Dispatcher struct {
	Sender echo.Sender

	// MaxInFlight bounds the probes outstanding at once. Zero or less picks a
	// default based on GOMAXPROCS.
	MaxInFlight int

	// Observer, if set, sees every result as it is collected. It is called
	// from a single goroutine.
	Observer func(shared.ProbeResult)
}

// limit returns the effective fan-out for count probes.
func (d *Dispatcher) limit(count int) int {
	n := d.MaxInFlight
	if n <= 0 {
		n = runtime.GOMAXPROCS(0) * inFlightPerCPU
	}
	return min(n, count)
}

// Dispatch sends count probes described by req and returns one result per
// probe, in completion order. Transport failures are recorded as failed
// results. Any other error from the Sender aborts the batch: outstanding
// probes are canceled and no batch is returned.
//
// When ctx is canceled the probes not yet finished are recorded as canceled
// failures and the partial batch is returned with ctx's error.
func (d *Dispatcher) Dispatch(ctx context.Context, req shared.ProbeRequest, count int) (*shared.Batch, error) {
	if count < 1 {
		return nil, ErrInvalidCount
	}
	limit := d.limit(count)

	batch := &shared.Batch{Results: make([]shared.ProbeResult, 0, count)}
	results := make(chan shared.ProbeResult, limit)
	collected := make(chan struct{})

	// Only the collector touches batch until it is returned.
	go func() {
		defer close(collected)
		for r := range results {
			batch.Results = append(batch.Results, r)
			if d.Observer != nil {
				d.Observer(r)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	log.WithFields(log.Fields{
		"target":        req.Target,
		"count":         count,
		"max_in_flight": limit,
	}).Debug("Dispatching probes")

	for seq := range count {
		if ctx.Err() != nil {
			results <- canceled(seq)
			continue
		}
		if gctx.Err() != nil {
			// A probe failed fatally; the batch is discarded.
			break
		}
		g.Go(func() error {
			r, err := d.probe(gctx, req, seq)
			if err != nil {
				return err
			}
			results <- r
			return nil
		})
	}

	err := g.Wait()
	close(results)
	<-collected

	if err != nil {
		log.WithError(err).Debug("Batch aborted")
		return nil, err
	}
	return batch, ctx.Err()
}

// probe sends one echo request. Only non-transport errors are returned.
func (d *Dispatcher) probe(ctx context.Context, req shared.ProbeRequest, seq int) (shared.ProbeResult, error) {
	reply, err := d.Sender.Send(ctx, echo.Request{
		Target:       req.Target,
		Timeout:      req.Timeout,
		Payload:      payload.Generate(req.PayloadSize),
		TTL:          req.TTL,
		DontFragment: req.DontFragment,
		Seq:          seq,
	})
	if err != nil {
		var te *echo.TransportError
		if !errors.As(err, &te) {
			return shared.ProbeResult{}, fmt.Errorf("probe %d: %w", seq, err)
		}
		r := shared.ProbeResult{Seq: seq, Failure: te.Kind, Err: err}
		if te.Peer.IsValid() {
			r.Peer = te.Peer.String()
		}
		log.WithError(err).WithField("seq", seq).Debug("Probe failed")
		return r, nil
	}

	r := shared.ProbeResult{Seq: seq, Succeeded: true, RTT: reply.RTT}
	if reply.Peer.IsValid() {
		r.Peer = reply.Peer.String()
	}
	return r, nil
}

func canceled(seq int) shared.ProbeResult {
	return shared.ProbeResult{
		Seq:     seq,
		Failure: echo.KindCanceled,
		Err:     &echo.TransportError{Kind: echo.KindCanceled, Err: context.Canceled},
	}
}
