package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tkjaer/sping/internal/shared"
)

// report is the JSON document written once per run.
type report struct {
	shared.Summary
	Probes []probeJSON `json:"probes"`
}

type probeJSON struct {
	Seq       int     `json:"seq"`
	Succeeded bool    `json:"succeeded"`
	RTT       float64 `json:"rtt_ms,omitempty"`
	Peer      string  `json:"peer,omitempty"`
	Failure   string  `json:"failure,omitempty"`
}

// JSONOutput writes the run summary to a file or stdout when complete.
// A file is staged next to its destination and only moved into place once a
// summary was written, so an aborted run leaves any previous report intact.
type JSONOutput struct {
	mu       sync.Mutex
	file     *os.File
	filename string
	enc      *json.Encoder
	toStdout bool
	probes   []probeJSON
	written  bool
	err      error
}

func NewJSONOutput(filename string) (*JSONOutput, error) {
	if filename == "" {
		// Output to stdout
		return &JSONOutput{
			file:     os.Stdout,
			enc:      json.NewEncoder(os.Stdout),
			toStdout: true,
		}, nil
	}
	f, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".*.tmp")
	if err != nil {
		return nil, err
	}
	return &JSONOutput{
		file:     f,
		filename: filename,
		enc:      json.NewEncoder(f),
	}, nil
}

func (j *JSONOutput) ProbeResult(r shared.ProbeResult) {
	j.mu.Lock()
	defer j.mu.Unlock()

	p := probeJSON{Seq: r.Seq, Succeeded: r.Succeeded, Peer: r.Peer}
	if r.Succeeded {
		p.RTT = shared.Milliseconds(r.RTT)
	} else {
		p.Failure = r.Failure.String()
	}
	j.probes = append(j.probes, p)
}

func (j *JSONOutput) Summary(s shared.Summary) {
	j.mu.Lock()
	defer j.mu.Unlock()

	probes := j.probes
	if probes == nil {
		probes = []probeJSON{}
	}
	if err := j.enc.Encode(report{Summary: s, Probes: probes}); err != nil {
		j.err = fmt.Errorf("write json report: %w", err)
		return
	}
	j.written = true
}

// Close reports a failed write. For a file it also publishes the report, or
// discards the staged file when no summary made it out.
func (j *JSONOutput) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.toStdout {
		return j.err
	}
	err := j.err
	if cerr := j.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close json report: %w", cerr)
	}
	if err != nil || !j.written {
		return errors.Join(err, removeIfExists(j.file.Name()))
	}
	if err := os.Rename(j.file.Name(), j.filename); err != nil {
		return errors.Join(fmt.Errorf("publish json report: %w", err), removeIfExists(j.file.Name()))
	}
	return nil
}

func removeIfExists(name string) error {
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
