package ingress

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taskflow-realtime/domain"
)

var ErrMissingType = errors.New("event type is required")

// Envelope is the wire form used by out-of-process publishers: an event
// plus the scope it targets.
type Envelope struct {
	Type  string         `json:"type"`
	Data  map[string]any `json:"data"`
	Scope string         `json:"scope,omitempty"`
}

// DecodeEnvelope parses raw into an event and scope. A missing scope means
// global.
func DecodeEnvelope(raw []byte) (domain.Event, string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Event{}, "", fmt.Errorf("decode envelope: %w", err)
	}
	env.Type = strings.TrimSpace(env.Type)
	if env.Type == "" {
		return domain.Event{}, "", ErrMissingType
	}
	scope := strings.TrimSpace(env.Scope)
	if scope == "" {
		scope = domain.ScopeGlobal
	}
	return domain.NewEvent(env.Type, env.Data), scope, nil
}
