// Package actions implements the declarative interaction sequence that the
// browser engine evaluates on a page before capturing its HTML.
package actions

import "fmt"

const (
	TypeWaitFor    = "wait_for"
	TypeClick      = "click"
	TypeHover      = "hover"
	TypeType       = "type"
	TypeClosePopup = "close_popup"
	TypeScroll     = "scroll"
	TypeSleep      = "sleep"
	TypeMouseDrift = "mouse_drift"
)

const (
	PresetShort  = "short"
	PresetMedium = "medium"
	PresetLong   = "long"
)

// Action is a tagged record. Type selects the variant; the other fields are
// read per variant and ignored otherwise.
type Action struct {
	Type     string  `json:"type" yaml:"type"`
	Selector string  `json:"selector,omitempty" yaml:"selector,omitempty"`
	TimeoutS float64 `json:"timeout_s,omitempty" yaml:"timeout_s,omitempty"`

	// click / scroll
	Repeat int     `json:"repeat,omitempty" yaml:"repeat,omitempty"`
	PauseS float64 `json:"pause_s,omitempty" yaml:"pause_s,omitempty"`

	// type
	Text  string `json:"text,omitempty" yaml:"text,omitempty"`
	Clear *bool  `json:"clear,omitempty" yaml:"clear,omitempty"`

	// scroll
	MinPx int `json:"min_px,omitempty" yaml:"min_px,omitempty"`
	MaxPx int `json:"max_px,omitempty" yaml:"max_px,omitempty"`

	// sleep
	Preset  string  `json:"preset,omitempty" yaml:"preset,omitempty"`
	Seconds float64 `json:"seconds,omitempty" yaml:"seconds,omitempty"`

	// Strict actions abort the sequence on failure. wait_for is always
	// strict; the others default to soft.
	Strict bool `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// Result records the outcome of one executed action.
type Result struct {
	Type      string  `json:"type"`
	OK        bool    `json:"ok"`
	ElapsedMS float64 `json:"elapsed_ms"`
	Error     string  `json:"error,omitempty"`
}

var knownTypes = map[string]bool{
	TypeWaitFor:    true,
	TypeClick:      true,
	TypeHover:      true,
	TypeType:       true,
	TypeClosePopup: true,
	TypeScroll:     true,
	TypeSleep:      true,
	TypeMouseDrift: true,
}

func KnownType(t string) bool { return knownTypes[t] }

// Check validates an action sequence at config load time.
func Check(as []Action) error {
	for i, a := range as {
		if !KnownType(a.Type) {
			return fmt.Errorf("actions[%d]: unknown type %q", i, a.Type)
		}
		switch a.Type {
		case TypeWaitFor, TypeClick, TypeHover, TypeType, TypeClosePopup:
			if a.Selector == "" {
				return fmt.Errorf("actions[%d]: %s requires selector", i, a.Type)
			}
		case TypeSleep:
			if a.Seconds <= 0 && a.Preset == "" {
				return fmt.Errorf("actions[%d]: sleep requires preset or seconds", i)
			}
			if a.Preset != "" && a.Preset != PresetShort && a.Preset != PresetMedium && a.Preset != PresetLong {
				return fmt.Errorf("actions[%d]: unknown sleep preset %q", i, a.Preset)
			}
		case TypeScroll:
			if a.MinPx < 0 || a.MaxPx < a.MinPx {
				return fmt.Errorf("actions[%d]: scroll needs 0 <= min_px <= max_px", i)
			}
		}
	}
	return nil
}

// IsStrict reports whether a failed action aborts the sequence. wait_for and
// close_popup have fixed semantics; everything else is soft unless declared
// strict.
func (a Action) IsStrict() bool {
	switch a.Type {
	case TypeWaitFor:
		return true
	case TypeClosePopup:
		return false
	default:
		return a.Strict
	}
}
