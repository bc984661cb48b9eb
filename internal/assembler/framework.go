package assembler

import (
	"fmt"
	"strings"

	"github.com/fluxbase-eu/artifacts/internal/catalog"
)

// GlobalAliases are framework exports made available as bare globals so
// components can call hooks they never imported.
var GlobalAliases = []string{
	"useState", "useEffect", "useRef", "useCallback", "useMemo", "useContext",
	"useReducer", "useLayoutEffect", "useId", "useTransition", "useDeferredValue",
	"useImperativeHandle", "Fragment", "createContext", "forwardRef", "memo",
}

// UMD builds loaded by script tag in shim mode
var (
	FrameworkUMDURL = "https://unpkg.com/react@" + catalog.FrameworkVersion + "/umd/react.production.min.js"
	RendererUMDURL  = "https://unpkg.com/react-dom@" + catalog.FrameworkVersion + "/umd/react-dom.production.min.js"
)

// FrameworkStrategy decides how the framework reaches the component: loaded
// as UMD globals by script tag, or imported as ES modules through the import
// map. Both leave the same alias table populated on globalThis.
type FrameworkStrategy interface {
	Name() string
	// HeadScripts returns script tags loaded before the import map
	HeadScripts() []string
	// Imports returns import statements the bootstrap needs
	Imports() []string
	// Bootstrap returns code run before the component body
	Bootstrap() string
	// Namespace is the expression naming the framework object
	Namespace() string
	// CreateRoot is the expression naming the renderer's createRoot
	CreateRoot() string
	// ScriptSources are CSP script-src entries the strategy needs
	ScriptSources() []string
}

// StrategyFor selects the framework strategy for a bundle
func StrategyFor(useFrameworkEsm bool) FrameworkStrategy {
	if useFrameworkEsm {
		return esmStrategy{}
	}
	return umdStrategy{}
}

type umdStrategy struct{}

func (umdStrategy) Name() string { return "umd" }

func (umdStrategy) HeadScripts() []string {
	return []string{
		`<script crossorigin src="` + FrameworkUMDURL + `"></script>`,
		`<script crossorigin src="` + RendererUMDURL + `"></script>`,
	}
}

func (umdStrategy) Imports() []string { return nil }

func (s umdStrategy) Bootstrap() string {
	return "if (!window.React || !window.ReactDOM) {\n" +
		"  throw new Error('React failed to load. Check your network connection and reload.');\n" +
		"}\n" + aliasCode(s.Namespace())
}

func (umdStrategy) Namespace() string { return "window.React" }

func (umdStrategy) CreateRoot() string { return "window.ReactDOM.createRoot" }

func (umdStrategy) ScriptSources() []string { return []string{"data:", "https://unpkg.com"} }

type esmStrategy struct{}

func (esmStrategy) Name() string { return "esm" }

func (esmStrategy) HeadScripts() []string { return nil }

func (esmStrategy) Imports() []string {
	return []string{
		`import * as __artifactReact from "react";`,
		`import { createRoot as __artifactCreateRoot } from "react-dom/client";`,
	}
}

func (s esmStrategy) Bootstrap() string {
	return "if (!window.React) window.React = " + s.Namespace() + ";\n" + aliasCode(s.Namespace())
}

func (esmStrategy) Namespace() string { return "__artifactReact" }

func (esmStrategy) CreateRoot() string { return "__artifactCreateRoot" }

func (esmStrategy) ScriptSources() []string { return nil }

func aliasCode(namespace string) string {
	quoted := make([]string, len(GlobalAliases))
	for i, name := range GlobalAliases {
		quoted[i] = fmt.Sprintf("%q", name)
	}
	return "for (const __name of [" + strings.Join(quoted, ", ") + "]) {\n" +
		"  if (globalThis[__name] === undefined) globalThis[__name] = " + namespace + "[__name];\n" +
		"}\n"
}
