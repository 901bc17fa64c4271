package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// -- Action Schemas --

// ActionName identifies one member of the action catalog.
type ActionName string

const (
	ActionGoto         ActionName = "goto"
	ActionClick        ActionName = "click"
	ActionDblclick     ActionName = "dblclick"
	ActionHover        ActionName = "hover"
	ActionFill         ActionName = "fill"
	ActionType         ActionName = "type"
	ActionPress        ActionName = "press"
	ActionCheck        ActionName = "check"
	ActionUncheck      ActionName = "uncheck"
	ActionSelectOption ActionName = "select_option"
	ActionFocus        ActionName = "focus"
)

// MouseButton identifies which mouse button an interaction uses.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// Valid reports whether the button names a supported mouse button.
// The empty value is valid and resolves to left.
func (b MouseButton) Valid() bool {
	switch b {
	case "", ButtonLeft, ButtonRight, ButtonMiddle:
		return true
	}
	return false
}

// Position is an x/y offset in CSS pixels, relative to the top-left corner
// of the targeted element.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Locator addresses one page element. It is a two-variant union: either a
// raw selector string in the engine's native selector language, or a
// structured role/name descriptor with optional refinements. Exactly one
// variant is populated after a successful decode.
type Locator struct {
	// Selector is the raw variant, passed to the engine unmodified.
	Selector string `json:"selector,omitempty"`

	// Role and Name form the structured variant. Role is the semantic
	// element role ("button", "textbox", ...); Name is the accessible name
	// to match against.
	Role string `json:"role,omitempty"`
	Name string `json:"name,omitempty"`
	// Exact requires the accessible name to match exactly rather than by
	// case-insensitive substring.
	Exact bool `json:"exact,omitempty"`
	// Text narrows matches to elements containing this text.
	Text string `json:"text,omitempty"`
	// Position is an optional interaction offset carried with the locator.
	Position *Position `json:"position,omitempty"`
}

// IsStructured reports whether the locator uses the role/name variant.
func (l *Locator) IsStructured() bool {
	return l.Selector == ""
}

// UnmarshalJSON accepts either a JSON string (raw selector) or an object
// (structured descriptor). Any other shape is rejected.
func (l *Locator) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("locator: empty value")
	}

	switch trimmed[0] {
	case '"':
		var selector string
		if err := json.Unmarshal(data, &selector); err != nil {
			return fmt.Errorf("locator: invalid selector string: %w", err)
		}
		if selector == "" {
			return fmt.Errorf("locator: selector must not be empty")
		}
		*l = Locator{Selector: selector}
		return nil

	case '{':
		// Decode into an alias to avoid recursing into this method.
		type structured Locator
		var s structured
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("locator: invalid structured descriptor: %w", err)
		}
		if s.Selector != "" {
			return fmt.Errorf("locator: selector and role/name forms cannot be mixed")
		}
		if s.Role == "" || s.Name == "" {
			return fmt.Errorf("locator: structured descriptor requires both role and name")
		}
		*l = Locator(s)
		return nil

	default:
		return fmt.Errorf("locator: expected a selector string or a role/name object, got %s", shapeOf(trimmed[0]))
	}
}

// MarshalJSON emits the raw variant as a bare string and the structured
// variant as an object, mirroring the accepted input shapes.
func (l Locator) MarshalJSON() ([]byte, error) {
	if l.Selector != "" {
		return json.Marshal(l.Selector)
	}
	type structured Locator
	return json.Marshal(structured(l))
}

func shapeOf(first byte) string {
	switch {
	case first == '[':
		return "an array"
	case first == 't' || first == 'f':
		return "a boolean"
	case first == 'n':
		return "null"
	case first == '-' || (first >= '0' && first <= '9'):
		return "a number"
	default:
		return "an unrecognized value"
	}
}

// StringList accepts either a single JSON string or an array of strings,
// for parameters like select_option's option that take one or many values.
type StringList []string

// UnmarshalJSON decodes both accepted shapes.
func (s *StringList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var values []string
		if err := json.Unmarshal(data, &values); err != nil {
			return err
		}
		*s = values
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*s = StringList{value}
	return nil
}

// ActionRequest is one client-issued command against a live session.
// Which fields are required depends on the action; the catalog validates
// per-action before anything touches the engine.
type ActionRequest struct {
	SessionID string     `json:"sessionId"`
	Action    ActionName `json:"action"`
	Locator   *Locator   `json:"locator,omitempty"`

	// Per-action parameters. Value is a pointer so that an explicit empty
	// string (clear the field) is distinguishable from an absent parameter.
	URL    string     `json:"url,omitempty"`    // goto
	Value  *string    `json:"value,omitempty"`  // fill
	Text   string     `json:"text,omitempty"`   // type
	Key    string     `json:"key,omitempty"`    // press
	Option StringList `json:"option,omitempty"` // select_option

	// Common optional modifiers.
	Force    bool        `json:"force,omitempty"`
	Button   MouseButton `json:"button,omitempty"`
	Delay    int         `json:"delay,omitempty"` // milliseconds between keystrokes
	Position *Position   `json:"position,omitempty"`

	// Timeout bounds the whole action in milliseconds, including the wait
	// for the session's serialization token. Zero means the server default.
	Timeout int `json:"timeout,omitempty"`
}

// ActionStatus is the binary outcome of an action.
type ActionStatus string

const (
	StatusSuccess ActionStatus = "success"
	StatusError   ActionStatus = "error"
)

// ActionResult is the uniform response envelope for every action. The
// screenshot is best-effort: present whenever the page was still reachable
// when the result was assembled, empty otherwise.
type ActionResult struct {
	Status     ActionStatus `json:"status"`
	Screenshot string       `json:"screenshot,omitempty"`
	Error      string       `json:"error,omitempty"`
}
