package sandbox

import (
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/hazyhaar/livepick/livepreview/internal/diag"
)

// sourceFile names the module in diagnostics.
const sourceFile = "preview.tsx"

// Transpile lowers JSX (and TypeScript annotations) to plain script
// calling h and Fragment. The first esbuild error becomes a
// *diag.CompileError; the rest are folded into its message.
func Transpile(code string) (string, error) {
	res := api.Transform(code, api.TransformOptions{
		Loader:      api.LoaderTSX,
		JSX:         api.JSXTransform,
		JSXFactory:  "h",
		JSXFragment: "Fragment",
		Target:      api.ES2017,
		Sourcefile:  sourceFile,
	})
	if len(res.Errors) > 0 {
		first := res.Errors[0]
		ce := &diag.CompileError{Stage: diag.StageCompile, Message: first.Text}
		if first.Location != nil {
			ce.Line = first.Location.Line
			ce.Column = first.Location.Column + 1
		}
		if len(res.Errors) > 1 {
			var more []string
			for _, m := range res.Errors[1:] {
				more = append(more, m.Text)
			}
			ce.Message += " (also: " + strings.Join(more, "; ") + ")"
		}
		return "", ce
	}
	return string(res.Code), nil
}
