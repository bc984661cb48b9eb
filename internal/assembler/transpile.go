package assembler

import (
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

// Transpile compiles JSX and TypeScript syntax down to browser JavaScript,
// leaving import statements in place. On failure the input is returned with
// the error text so the document can still be assembled.
func Transpile(code string) (string, error) {
	result := api.Transform(code, api.TransformOptions{
		Loader:      api.LoaderTSX,
		JSX:         api.JSXTransform,
		JSXFactory:  "React.createElement",
		JSXFragment: "React.Fragment",
		Target:      api.ES2020,
		Sourcefile:  "artifact.tsx",
	})

	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		log.Debug().Strs("errors", msgs).Msg("Transpile failed, embedding source as-is")
		return code, &TranspileError{Messages: msgs}
	}

	return string(result.Code), nil
}

// TranspileError lists esbuild diagnostics
type TranspileError struct {
	Messages []string
}

func (e *TranspileError) Error() string {
	return "transpile failed: " + strings.Join(e.Messages, "; ")
}
