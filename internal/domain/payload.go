package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload marks a claimed job whose input is unusable. Payload
// errors are fatal immediately, with no retry.
var ErrInvalidPayload = errors.New("invalid job payload")

// JobPayload is the typed shape of GenerationJob.Payload. Optional fields are
// pointers or nilable so presence is explicit.
type JobPayload struct {
	FullContext    string         `json:"full_context"`
	PlanNormalized *Plan          `json:"plan_normalized,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MessageID returns the external message identifier progress notifications
// are keyed by, when the enqueuer supplied one.
func (p *JobPayload) MessageID() string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	v, ok := p.Metadata["message_id"]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// DecodePayload parses and validates raw payload JSON. Shape is checked at
// the job-processing boundary so malformed input fails fast.
func DecodePayload(raw []byte) (*JobPayload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	var p JobPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *JobPayload) Validate() error {
	if strings.TrimSpace(p.FullContext) == "" {
		return fmt.Errorf("%w: missing full_context", ErrInvalidPayload)
	}
	if p.PlanNormalized != nil {
		if len(p.PlanNormalized.Modules) == 0 {
			return fmt.Errorf("%w: plan_normalized has no modules", ErrInvalidPayload)
		}
		for i, m := range p.PlanNormalized.Modules {
			if strings.TrimSpace(m.Title) == "" {
				return fmt.Errorf("%w: plan module %d has no title", ErrInvalidPayload, i)
			}
		}
	}
	return nil
}
