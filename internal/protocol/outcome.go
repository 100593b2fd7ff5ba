package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// OutcomeKind classifies the per-worker result of an aggregate read.
type OutcomeKind int

const (
	// OutcomeValue means the worker replied with a reading.
	OutcomeValue OutcomeKind = iota
	// OutcomeAbsent means the worker replied but has no reading yet.
	OutcomeAbsent
	// OutcomeUnavailable means the worker stopped before replying.
	OutcomeUnavailable
	// OutcomeTimedOut means the worker did not reply before the deadline.
	OutcomeTimedOut
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeValue:       "value",
	OutcomeAbsent:      "absent",
	OutcomeUnavailable: "unavailable",
	OutcomeTimedOut:    "timed_out",
}

func (k OutcomeKind) String() string {
	if name, ok := outcomeNames[k]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// Outcome is the result recorded for one worker of an aggregate read.
// Value is only meaningful when Kind is OutcomeValue.
type Outcome struct {
	Kind  OutcomeKind
	Value float64
}

// ValueOutcome returns an OutcomeValue carrying v.
func ValueOutcome(v float64) Outcome {
	return Outcome{Kind: OutcomeValue, Value: v}
}

// Absent, Unavailable and TimedOut are the value-less outcomes.
var (
	Absent      = Outcome{Kind: OutcomeAbsent}
	Unavailable = Outcome{Kind: OutcomeUnavailable}
	TimedOut    = Outcome{Kind: OutcomeTimedOut}
)

// OutcomeFromReading maps a worker reply to Value or Absent.
func OutcomeFromReading(v *float64) Outcome {
	if v == nil {
		return Absent
	}
	return ValueOutcome(*v)
}

func (o Outcome) String() string {
	if o.Kind == OutcomeValue {
		return fmt.Sprintf("value(%g)", o.Value)
	}
	return o.Kind.String()
}

type outcomeJSON struct {
	Value  *float64 `json:"value,omitempty"`
	Status string   `json:"status"`
}

// MarshalJSON encodes an outcome as {"status":"value","value":1.5}, or
// {"status":"timed_out"} for outcomes without a value.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{Status: o.Kind.String()}
	if o.Kind == OutcomeValue {
		v := o.Value
		out.Value = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var in outcomeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	for kind, name := range outcomeNames {
		if name != in.Status {
			continue
		}
		*o = Outcome{Kind: kind}
		if kind == OutcomeValue {
			if in.Value == nil {
				return errors.New("outcome status value without a value")
			}
			o.Value = *in.Value
		}
		return nil
	}
	return errors.Errorf("unknown outcome status %q", in.Status)
}
