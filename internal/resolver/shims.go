package resolver

import (
	"encoding/base64"
	"regexp"
	"sort"
	"strings"
)

// Framework packages served from window globals in shim mode
var (
	reactExports = []string{
		"Children", "Component", "Fragment", "Profiler", "PureComponent", "StrictMode",
		"Suspense", "cloneElement", "createContext", "createElement", "createRef",
		"forwardRef", "isValidElement", "lazy", "memo", "startTransition", "useCallback",
		"useContext", "useDebugValue", "useDeferredValue", "useEffect", "useId",
		"useImperativeHandle", "useInsertionEffect", "useLayoutEffect", "useMemo",
		"useReducer", "useRef", "useState", "useSyncExternalStore", "useTransition", "version",
	}
	reactDOMExports = []string{
		"createPortal", "findDOMNode", "flushSync", "hydrate", "render",
		"unmountComponentAtNode", "unstable_batchedUpdates", "version",
	}
)

const reactDOMClientModule = `const D = window.ReactDOM;
export const createRoot = (...a) => D.createRoot(...a);
export const hydrateRoot = (...a) => D.hydrateRoot(...a);
export default { createRoot, hydrateRoot };
`

const jsxRuntimeModule = `const R = window.React;
function jsx(type, props, key) {
  const p = Object.assign({}, props);
  if (key !== undefined) p.key = key;
  return R.createElement(type, p);
}
export { jsx, jsx as jsxs, jsx as jsxDEV };
export const Fragment = R.Fragment;
`

var exportNameRe = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)

var unexportable = map[string]bool{
	"default": true, "class": true, "function": true, "const": true, "let": true,
	"var": true, "import": true, "export": true, "new": true, "delete": true,
}

// DataModule encodes JavaScript source as an inline module URL
func DataModule(src string) string {
	return "data:text/javascript;base64," + base64.StdEncoding.EncodeToString([]byte(src))
}

// GlobalModule returns module source re-exporting window[global] with the
// given named exports. The global object is also the default export.
func GlobalModule(global string, names ...[]string) string {
	var b strings.Builder
	b.WriteString("const m = window." + global + " || {};\n")
	b.WriteString("export default m;\n")
	if list := exportList(names...); len(list) > 0 {
		b.WriteString("export const { " + strings.Join(list, ", ") + " } = m;\n")
	}
	return b.String()
}

// exportList merges, filters and sorts export names
func exportList(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, n := range list {
			if seen[n] || unexportable[n] || !exportNameRe.MatchString(n) {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// frameworkShims returns the import map entries pointing the framework's
// module specifiers at its UMD globals
func frameworkShims(named map[string][]string) map[string]string {
	return map[string]string{
		"react":                 DataModule(GlobalModule("React", reactExports, named["react"])),
		"react-dom":             DataModule(GlobalModule("ReactDOM", reactDOMExports, named["react-dom"])),
		"react-dom/client":      DataModule(reactDOMClientModule),
		"react/jsx-runtime":     DataModule(jsxRuntimeModule),
		"react/jsx-dev-runtime": DataModule(jsxRuntimeModule),
	}
}

// FrameworkShims returns the shim-mode import map entries for the framework
func FrameworkShims() map[string]string {
	return frameworkShims(nil)
}
