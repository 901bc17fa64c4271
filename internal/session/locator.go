// internal/session/locator.go
package session

import (
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// Page is the slice of the engine page surface the action pipeline uses.
// playwright.Page satisfies it; tests substitute fakes.
type Page interface {
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
	Locator(selector string, options ...playwright.PageLocatorOptions) playwright.Locator
	GetByRole(role playwright.AriaRole, options ...playwright.PageGetByRoleOptions) playwright.Locator
	Screenshot(options ...playwright.PageScreenshotOptions) ([]byte, error)
	IsClosed() bool
}

// validRoles is the ARIA role vocabulary accepted in structured locators.
// A role outside this set cannot be turned into an engine query and is a
// validation failure, not an element-not-found.
var validRoles = map[string]struct{}{
	"alert": {}, "alertdialog": {}, "application": {}, "article": {},
	"banner": {}, "blockquote": {}, "button": {}, "caption": {}, "cell": {},
	"checkbox": {}, "code": {}, "columnheader": {}, "combobox": {},
	"complementary": {}, "contentinfo": {}, "definition": {}, "deletion": {},
	"dialog": {}, "directory": {}, "document": {}, "emphasis": {}, "feed": {},
	"figure": {}, "form": {}, "generic": {}, "grid": {}, "gridcell": {},
	"group": {}, "heading": {}, "img": {}, "insertion": {}, "link": {},
	"list": {}, "listbox": {}, "listitem": {}, "log": {}, "main": {},
	"marquee": {}, "math": {}, "menu": {}, "menubar": {}, "menuitem": {},
	"menuitemcheckbox": {}, "menuitemradio": {}, "meter": {}, "navigation": {},
	"none": {}, "note": {}, "option": {}, "paragraph": {}, "presentation": {},
	"progressbar": {}, "radio": {}, "radiogroup": {}, "region": {}, "row": {},
	"rowgroup": {}, "rowheader": {}, "scrollbar": {}, "search": {},
	"searchbox": {}, "separator": {}, "slider": {}, "spinbutton": {},
	"status": {}, "strong": {}, "subscript": {}, "superscript": {},
	"switch": {}, "tab": {}, "table": {}, "tablist": {}, "tabpanel": {},
	"term": {}, "textbox": {}, "time": {}, "timer": {}, "toolbar": {},
	"tooltip": {}, "tree": {}, "treegrid": {}, "treeitem": {},
}

// resolveTarget turns either locator representation into one addressable
// engine target. Raw selectors pass through unmodified in the engine's own
// selector language. Structured descriptors become an accessibility query,
// narrowed by the optional text filter and pinned to the first match so the
// result always addresses a single element.
//
// Building the target is pure: no engine round trip happens here, so a
// malformed descriptor fails fast as a validation error while a selector
// that matches nothing only surfaces once the action runs.
func resolveTarget(page Page, loc *schemas.Locator) (playwright.Locator, error) {
	if loc == nil {
		return nil, NewError(KindValidation, "locator is required for this action")
	}

	if !loc.IsStructured() {
		return page.Locator(loc.Selector), nil
	}

	if loc.Role == "" || loc.Name == "" {
		return nil, NewError(KindValidation, "structured locator requires both role and name")
	}
	role := strings.ToLower(strings.TrimSpace(loc.Role))
	if _, ok := validRoles[role]; !ok {
		return nil, Errorf(KindValidation, "unknown role %q in structured locator", loc.Role)
	}

	options := playwright.PageGetByRoleOptions{Name: loc.Name}
	if loc.Exact {
		options.Exact = playwright.Bool(true)
	}

	target := page.GetByRole(playwright.AriaRole(role), options)
	if loc.Text != "" {
		target = target.Filter(playwright.LocatorFilterOptions{HasText: loc.Text})
	}
	return target.First(), nil
}
