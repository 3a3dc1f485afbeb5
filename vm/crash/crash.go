// Package crash encodes uncaught-exception reports as CBOR so a supervisor
// can pick up why a program died without scraping stderr.
package crash

import (
	"fmt"
	"os"
	"time"

	"github.com/chazu/strand/vm"
	"github.com/fxamacker/cbor/v2"
)

// Version is the report format version written into every Report.
const Version = 1

// Report describes one uncaught exception.
type Report struct {
	Version   byte      `cbor:"1,keyasint"`
	Class     string    `cbor:"2,keyasint"`
	Message   string    `cbor:"3,keyasint,omitempty"`
	Backtrace []string  `cbor:"4,keyasint,omitempty"` // most recent call first
	Fiber     string    `cbor:"5,keyasint,omitempty"` // status of the active context
	Program   string    `cbor:"6,keyasint,omitempty"`
	Time      time.Time `cbor:"7,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("crash: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// FromException builds a report for exc. fiber is the status of the
// context that was running when the exception escaped.
func FromException(exc *vm.Exception, fiber string) *Report {
	r := &Report{
		Version: Version,
		Message: exc.Message,
		Fiber:   fiber,
		Time:    time.Now().UTC(),
	}
	if exc.Class != nil {
		r.Class = exc.Class.Name
	}
	if exc.HasBacktrace() {
		r.Backtrace = append([]string(nil), exc.Backtrace()...)
	}
	return r
}

// String renders the report the way the runtime prints exceptions.
func (r *Report) String() string {
	if r.Message == "" {
		return r.Class
	}
	return fmt.Sprintf("%s (%s)", r.Message, r.Class)
}

// Marshal serializes a Report to CBOR bytes.
func Marshal(r *Report) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// Unmarshal deserializes a Report from CBOR bytes.
func Unmarshal(data []byte) (*Report, error) {
	var r Report
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("crash: unmarshal report: %w", err)
	}
	if r.Version != Version {
		return nil, fmt.Errorf("crash: unsupported report version %d", r.Version)
	}
	return &r, nil
}

// WriteFile writes the encoded report to path, replacing any previous one.
func WriteFile(path string, r *Report) error {
	data, err := Marshal(r)
	if err != nil {
		return fmt.Errorf("crash: marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("crash: write %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a report written by WriteFile.
func ReadFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crash: read %s: %w", path, err)
	}
	return Unmarshal(data)
}
