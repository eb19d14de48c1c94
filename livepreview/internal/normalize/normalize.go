// Package normalize rewrites AI-generated component source into a
// script the sandbox can evaluate as-is.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hazyhaar/livepick/livepreview/internal/diag"
)

// Result is the outcome of Normalize. Err is a *diag.CompileError;
// Code is empty when Err is set.
type Result struct {
	Code           string
	Component      string // detected top-level component, or ""
	RenderAppended bool   // a render call was added
	Err            error
}

var (
	legacyFunc   = regexp.MustCompile(`(?m)^([ \t]*)function[ \t]+([A-Z][A-Za-z0-9_$]*)[ \t]*\(([^)]*)\)[ \t]*\{`)
	repeatedSemi = regexp.MustCompile(`(?m);(?:[ \t]*;)+[ \t]*$`)
	loneSemi     = regexp.MustCompile(`(?m)^([ \t]*\}[ \t]*)\n[ \t]*;[ \t]*$`)
	blankRuns    = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
	bindingDecl  = regexp.MustCompile(`(?m)^(?:(?:const|let|var)[ \t]+([A-Z][A-Za-z0-9_$]*)[ \t]*=|function[ \t]+([A-Z][A-Za-z0-9_$]*)[ \t]*\(|class[ \t]+([A-Z][A-Za-z0-9_$]*))`)
	defaultIdent = regexp.MustCompile(`^export[ \t]+default[ \t]+[A-Za-z_$][A-Za-z0-9_$.]*[ \t]*;?[ \t]*$`)
	defaultAnon  = regexp.MustCompile(`^export[ \t]+default[ \t]+(?:async[ \t]+)?(?:function[ \t]*\(|\()`)
	exportDecl   = regexp.MustCompile(`^export[ \t]+(?:default[ \t]+)?((?:async[ \t]+)?(?:function|class|const|let|var)\b)`)
)

// AnonymousComponent names an anonymous default export.
const AnonymousComponent = "App"

// Normalize applies, in order: module statement stripping, legacy
// function rewriting, semicolon and blank-line cleanup, and render call
// insertion for the first top-level component. A source with no
// component is not an error.
func Normalize(raw string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: &diag.CompileError{
				Stage:   diag.StageNormalize,
				Message: fmt.Sprint(r),
			}}
		}
	}()

	code := strings.ReplaceAll(raw, "\r\n", "\n")
	code = stripModuleStatements(code)
	code = legacyFunc.ReplaceAllString(code, "${1}const ${2} = (${3}) => {")
	code = repeatedSemi.ReplaceAllString(code, ";")
	code = loneSemi.ReplaceAllString(code, "${1}")
	code = blankRuns.ReplaceAllString(code, "\n\n")
	code = strings.TrimLeft(code, "\n")

	res.Component = DetectComponent(code)
	if res.Component != "" && !HasRender(code, res.Component) {
		code = strings.TrimRight(code, " \t\n") + "\n\nrender(<" + res.Component + " />)"
		res.RenderAppended = true
	}
	res.Code = code
	return res
}

// DetectComponent returns the first capitalised top-level binding.
func DetectComponent(code string) string {
	m := bindingDecl.FindStringSubmatch(code)
	for _, g := range m[min(1, len(m)):] {
		if g != "" {
			return g
		}
	}
	return ""
}

// HasRender reports whether code already renders name.
func HasRender(code, name string) bool {
	re := regexp.MustCompile(`render\(\s*<` + regexp.QuoteMeta(name) + `\b`)
	return re.MatchString(code)
}

// stripModuleStatements drops import lines (multi-line braces included)
// and export-only lines, and removes the export prefix from exported
// declarations.
func stripModuleStatements(code string) string {
	lines := strings.Split(code, "\n")
	out := lines[:0]
	skipping := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if skipping {
			if closesStatement(trimmed) {
				skipping = false
			}
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "import{") ||
			trimmed == "import":
			skipping = !closesStatement(trimmed)
			continue
		case defaultAnon.MatchString(trimmed):
			line = "const " + AnonymousComponent + " = " +
				strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(trimmed, "export")), "default"))
		case exportDecl.MatchString(trimmed):
			line = exportDecl.ReplaceAllString(trimmed, "$1")
		case defaultIdent.MatchString(trimmed):
			continue
		case strings.HasPrefix(trimmed, "export {") || strings.HasPrefix(trimmed, "export{") ||
			strings.HasPrefix(trimmed, "export *"):
			skipping = !closesStatement(trimmed)
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// closesStatement reports whether an import/export line ends the
// statement: it names its module or ends without an open brace.
func closesStatement(trimmed string) bool {
	if strings.Contains(trimmed, " from ") || strings.HasPrefix(trimmed, "from ") ||
		strings.HasPrefix(trimmed, "}") && strings.Contains(trimmed, "from") {
		return true
	}
	if strings.HasPrefix(trimmed, "import '") || strings.HasPrefix(trimmed, `import "`) {
		return true
	}
	return strings.Count(trimmed, "{") <= strings.Count(trimmed, "}") && !strings.HasSuffix(trimmed, ",")
}
