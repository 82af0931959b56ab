package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/tkjaer/sping/internal/shared"
	"github.com/tkjaer/sping/internal/version"
)

const (
	// MaxPayload is the largest ICMP echo payload that fits an IPv4 datagram.
	MaxPayload = 65507
	maxTTL     = 255
)

type Args struct {
	Address string
	Count   int

	// Echo request
	Payload      int
	TimeoutMs    int
	TimeToLive   int
	DontFragment bool
	Privileged   bool
	Parallel     int // 0 = runtime default

	// Output
	Verbose     bool
	NoResolve   bool
	Json        bool   // output json to stdout
	JsonFile    string // output json to file alongside the table
	MetricsFile string // prometheus textfile

	// Logging
	Log      string // log file path, empty means no log file
	LogLevel string // log level: debug, info, warn, error
}

// ParseArgs parses os.Args. flag.ErrHelp is returned when usage was requested.
func ParseArgs() (Args, error) {
	var args Args
	var showVersion bool

	flag.CommandLine.Init("sping", flag.ContinueOnError)
	flag.Usage = func() {
		println("sping - send ICMP echo requests concurrently")
		println()
		println("Sends a batch of echo requests to one host in parallel and reports")
		println("the reply ratio, packet loss and average round-trip time.")
		println()
		println("Usage:")
		println("  sping [OPTIONS] ADDRESS")
		println()
		println("Examples:")
		println("  sping 192.0.2.1                      # One echo request")
		println("  sping -c 100 -p 1400 -f example.com  # 100 requests, 1400 byte payload, DF set")
		println("  sping -c 20 -J example.com           # JSON summary to stdout")
		println()
		println("Options:")
		flag.PrintDefaults()
	}

	flag.BoolVarP(&showVersion, "version", "V", false, "Show version information")
	flag.IntVarP(&args.Count, "count", "c", 1, "Number of echo requests to send")
	flag.IntVarP(&args.Payload, "payload", "p", 32, fmt.Sprintf("Payload size in bytes (0-%d)", MaxPayload))
	flag.IntVarP(&args.TimeoutMs, "timeout", "t", 1000, "Time to wait for each reply in milliseconds")
	flag.IntVarP(&args.TimeToLive, "timeToLive", "T", 128, "Time to live of the echo requests")
	flag.BoolVarP(&args.DontFragment, "dontFragment", "f", false, "Set the do-not-fragment bit")
	flag.IntVarP(&args.Parallel, "parallel", "P", 0, "Maximum echo requests in flight (0 = default)")
	flag.BoolVar(&args.Privileged, "privileged", defaultPrivileged(), "Use raw ICMP sockets instead of unprivileged datagram sockets")
	flag.BoolVarP(&args.Verbose, "verbose", "v", false, "Print every reply and enable debug logging")
	flag.BoolVarP(&args.NoResolve, "no-resolve", "n", false, "Do not look up the reverse name of the address")
	flag.BoolVarP(&args.Json, "json", "J", false, "Write JSON summary to stdout instead of the table")
	flag.StringVarP(&args.JsonFile, "json-file", "j", "", "Also write JSON summary to file")
	flag.StringVar(&args.MetricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to file")
	flag.StringVarP(&args.Log, "log", "l", "", "Diagnostic log file (empty = stderr only)")
	flag.StringVar(&args.LogLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return args, err
	}

	if showVersion {
		fmt.Println(version.FullVersion())
		os.Exit(0)
	}

	if flag.NArg() > 1 {
		return args, &ConfigurationError{Field: "address", Reason: fmt.Sprintf("expects a single value, got %d", flag.NArg())}
	}
	args.Address = flag.Arg(0)
	if err := args.Validate(); err != nil {
		return args, err
	}
	return args, nil
}

// Validate checks every value before any probe is sent.
func (a Args) Validate() error {
	switch {
	case a.Address == "":
		return &ConfigurationError{Field: "address", Reason: "is required"}
	case a.Count < 1:
		return &ConfigurationError{Field: "count", Reason: "must be at least 1"}
	case a.Payload < 0 || a.Payload > MaxPayload:
		return &ConfigurationError{Field: "payload", Reason: fmt.Sprintf("must be between 0 and %d", MaxPayload)}
	case a.TimeoutMs <= 0:
		return &ConfigurationError{Field: "timeout", Reason: "must be positive"}
	case a.TimeToLive < 1 || a.TimeToLive > maxTTL:
		return &ConfigurationError{Field: "timeToLive", Reason: fmt.Sprintf("must be between 1 and %d", maxTTL)}
	case a.Parallel < 0:
		return &ConfigurationError{Field: "parallel", Reason: "must not be negative"}
	case a.Json && a.JsonFile != "":
		return &ConfigurationError{Field: "json", Reason: "cannot use both --json and --json-file"}
	}
	return ValidateAddress(a.Address)
}

// Timeout returns the per-reply timeout.
func (a Args) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// Request builds the immutable probe parameters for a run.
func (a Args) Request() shared.ProbeRequest {
	return shared.ProbeRequest{
		Target:       CanonicalAddress(a.Address),
		Timeout:      a.Timeout(),
		PayloadSize:  a.Payload,
		TTL:          a.TimeToLive,
		DontFragment: a.DontFragment,
	}
}

// Raw sockets need root; everyone else gets the unprivileged datagram socket.
func defaultPrivileged() bool {
	return runtime.GOOS == "linux" && os.Geteuid() == 0
}
