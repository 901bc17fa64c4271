package session

import (
	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// -- Action Catalog --

// execution carries everything a catalog handler needs for one engine call.
// target is nil for page-level actions. timeout is the remaining budget for
// the engine operation, in milliseconds.
type execution struct {
	page    Page
	target  playwright.Locator
	req     *schemas.ActionRequest
	timeout float64
}

// actionSpec is one catalog entry: whether the action addresses an element,
// which parameters it requires, and the single engine operation it maps to.
// Handlers are pure dispatch; anything shared across actions lives in the
// surrounding pipeline, never inside a handler.
type actionSpec struct {
	needsLocator bool
	// navigational actions default to the longer navigation timeout.
	navigational bool
	validate     func(req *schemas.ActionRequest) error
	run          func(ex *execution) error
}

// catalog is the closed dispatch table over every supported action. New
// actions are added by registering an entry here, never by branching inside
// an existing handler.
var catalog = map[schemas.ActionName]actionSpec{
	schemas.ActionGoto: {
		navigational: true,
		validate: func(req *schemas.ActionRequest) error {
			if req.URL == "" {
				return NewError(KindValidation, "goto requires a url")
			}
			return nil
		},
		run: func(ex *execution) error {
			_, err := ex.page.Goto(ex.req.URL, playwright.PageGotoOptions{
				Timeout:   playwright.Float(ex.timeout),
				WaitUntil: playwright.WaitUntilStateLoad,
			})
			return err
		},
	},
	schemas.ActionClick: {
		needsLocator: true,
		validate:     validateClickModifiers,
		run: func(ex *execution) error {
			return ex.target.Click(playwright.LocatorClickOptions{
				Timeout:  playwright.Float(ex.timeout),
				Force:    playwright.Bool(ex.req.Force),
				Button:   engineButton(ex.req.Button),
				Delay:    delayOption(ex.req.Delay),
				Position: enginePosition(ex.req.Position),
			})
		},
	},
	schemas.ActionDblclick: {
		needsLocator: true,
		validate:     validateClickModifiers,
		run: func(ex *execution) error {
			return ex.target.Dblclick(playwright.LocatorDblclickOptions{
				Timeout:  playwright.Float(ex.timeout),
				Force:    playwright.Bool(ex.req.Force),
				Button:   engineButton(ex.req.Button),
				Delay:    delayOption(ex.req.Delay),
				Position: enginePosition(ex.req.Position),
			})
		},
	},
	schemas.ActionHover: {
		needsLocator: true,
		run: func(ex *execution) error {
			return ex.target.Hover(playwright.LocatorHoverOptions{
				Timeout:  playwright.Float(ex.timeout),
				Force:    playwright.Bool(ex.req.Force),
				Position: enginePosition(ex.req.Position),
			})
		},
	},
	schemas.ActionFill: {
		needsLocator: true,
		validate: func(req *schemas.ActionRequest) error {
			// An explicit empty value clears the field; absence is an error.
			if req.Value == nil {
				return NewError(KindValidation, "fill requires a value")
			}
			return nil
		},
		run: func(ex *execution) error {
			return ex.target.Fill(*ex.req.Value, playwright.LocatorFillOptions{
				Timeout: playwright.Float(ex.timeout),
				Force:   playwright.Bool(ex.req.Force),
			})
		},
	},
	schemas.ActionType: {
		needsLocator: true,
		validate: func(req *schemas.ActionRequest) error {
			if req.Text == "" {
				return NewError(KindValidation, "type requires text")
			}
			return validateDelay(req.Delay)
		},
		run: func(ex *execution) error {
			return ex.target.PressSequentially(ex.req.Text, playwright.LocatorPressSequentiallyOptions{
				Timeout: playwright.Float(ex.timeout),
				Delay:   delayOption(ex.req.Delay),
			})
		},
	},
	schemas.ActionPress: {
		needsLocator: true,
		validate: func(req *schemas.ActionRequest) error {
			if req.Key == "" {
				return NewError(KindValidation, "press requires a key")
			}
			return validateDelay(req.Delay)
		},
		run: func(ex *execution) error {
			return ex.target.Press(ex.req.Key, playwright.LocatorPressOptions{
				Timeout: playwright.Float(ex.timeout),
				Delay:   delayOption(ex.req.Delay),
			})
		},
	},
	schemas.ActionFocus: {
		needsLocator: true,
		run: func(ex *execution) error {
			return ex.target.Focus(playwright.LocatorFocusOptions{
				Timeout: playwright.Float(ex.timeout),
			})
		},
	},
	schemas.ActionCheck: {
		needsLocator: true,
		run: func(ex *execution) error {
			return ex.target.Check(playwright.LocatorCheckOptions{
				Timeout:  playwright.Float(ex.timeout),
				Force:    playwright.Bool(ex.req.Force),
				Position: enginePosition(ex.req.Position),
			})
		},
	},
	schemas.ActionUncheck: {
		needsLocator: true,
		run: func(ex *execution) error {
			return ex.target.Uncheck(playwright.LocatorUncheckOptions{
				Timeout:  playwright.Float(ex.timeout),
				Force:    playwright.Bool(ex.req.Force),
				Position: enginePosition(ex.req.Position),
			})
		},
	},
	schemas.ActionSelectOption: {
		needsLocator: true,
		validate: func(req *schemas.ActionRequest) error {
			if len(req.Option) == 0 {
				return NewError(KindValidation, "select_option requires at least one option")
			}
			return nil
		},
		run: func(ex *execution) error {
			values := []string(ex.req.Option)
			_, err := ex.target.SelectOption(playwright.SelectOptionValues{
				Values: &values,
			}, playwright.LocatorSelectOptionOptions{
				Timeout: playwright.Float(ex.timeout),
				Force:   playwright.Bool(ex.req.Force),
			})
			return err
		},
	},
}

// lookupAction resolves an action name against the catalog.
func lookupAction(name schemas.ActionName) (actionSpec, error) {
	spec, ok := catalog[name]
	if !ok {
		return actionSpec{}, Errorf(KindValidation, "unsupported action %q", name)
	}
	return spec, nil
}

func validateClickModifiers(req *schemas.ActionRequest) error {
	if !req.Button.Valid() {
		return Errorf(KindValidation, "unsupported mouse button %q (expected left, right or middle)", req.Button)
	}
	return validateDelay(req.Delay)
}

func validateDelay(ms int) error {
	if ms < 0 {
		return NewError(KindValidation, "delay must not be negative")
	}
	return nil
}

// -- Engine option helpers --

func engineButton(b schemas.MouseButton) *playwright.MouseButton {
	switch b {
	case schemas.ButtonRight:
		return playwright.MouseButtonRight
	case schemas.ButtonMiddle:
		return playwright.MouseButtonMiddle
	default:
		return playwright.MouseButtonLeft
	}
}

func delayOption(ms int) *float64 {
	if ms <= 0 {
		return nil
	}
	return playwright.Float(float64(ms))
}

func enginePosition(p *schemas.Position) *playwright.Position {
	if p == nil {
		return nil
	}
	return &playwright.Position{X: p.X, Y: p.Y}
}
