// Package catalog holds the hand-curated tables the bundling pipeline relies
// on: module CDN providers, pre-vendored bundles, peer externalization, global
// shims and script libraries injected on demand. Defaults are Go data and can
// be extended from a YAML file.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FrameworkVersion is the pinned UI framework release used by shims and ESM mode
const FrameworkVersion = "18.3.1"

// FrameworkPackages are always externalized from CDN builds
var FrameworkPackages = []string{"react", "react-dom"}

// Provider is a module CDN that serves npm packages as ES modules
type Provider struct {
	Name   string `yaml:"name"`
	Origin string `yaml:"origin"`
	// Template supports {origin}, {spec} (pkg or pkg@version) and {external}
	Template string `yaml:"template"`
}

// Prebuilt is a pinned, pre-vendored bundle URL
type Prebuilt struct {
	URL string `yaml:"url"`
	// Global names the window object a UMD build exposes, when one exists
	Global string `yaml:"global"`
}

// GlobalShim redirects a package to a window global loaded by a script tag
type GlobalShim struct {
	Global  string   `yaml:"global"`
	Exports []string `yaml:"exports"`
}

// Library is a script injected when its trigger appears in component source
type Library struct {
	Name    string `yaml:"name"`
	Trigger string `yaml:"trigger"`
	URL     string `yaml:"url"`
	// RequiresFramework marks UMD builds that need window.React
	RequiresFramework bool `yaml:"requires_framework"`

	trigger *regexp.Regexp
}

// Matches reports whether the library's trigger appears in source
func (l *Library) Matches(source string) bool {
	if l.trigger == nil {
		return false
	}
	return l.trigger.MatchString(source)
}

// Catalog is the complete set of tables
type Catalog struct {
	Providers   map[string]Provider   `yaml:"providers"`
	Prebuilt    map[string]Prebuilt   `yaml:"prebuilt"`
	Peers       map[string][]string   `yaml:"peers"`
	GlobalShims map[string]GlobalShim `yaml:"global_shims"`
	Libraries   []Library             `yaml:"libraries"`
}

// Default returns a fresh copy of the built-in tables
func Default() *Catalog {
	c := &Catalog{
		Providers: map[string]Provider{
			"esm.sh": {
				Name:     "esm.sh",
				Origin:   "https://esm.sh",
				Template: "{origin}/{spec}?external={external}",
			},
			"jsdelivr": {
				Name:     "jsdelivr",
				Origin:   "https://esm.run",
				Template: "{origin}/{spec}?external={external}",
			},
			"unpkg": {
				Name:     "unpkg",
				Origin:   "https://unpkg.com",
				Template: "{origin}/{spec}?module&external={external}",
			},
		},
		Prebuilt: map[string]Prebuilt{
			"lucide-react": {
				URL:    "https://esm.sh/lucide-react@0.460.0?external=react,react-dom",
				Global: "LucideReact",
			},
			"framer-motion": {
				URL:    "https://esm.sh/framer-motion@11.11.17?external=react,react-dom",
				Global: "Motion",
			},
			"canvas-confetti": {
				URL: "https://esm.sh/canvas-confetti@1.9.3?external=react,react-dom",
			},
		},
		Peers: map[string][]string{
			"react-chartjs-2":    {"chart.js"},
			"react-leaflet":      {"leaflet"},
			"@react-three/fiber": {"three"},
			"@react-three/drei":  {"three", "@react-three/fiber"},
			"react-konva":        {"konva"},
			"@dnd-kit/sortable":  {"@dnd-kit/core"},
			"@dnd-kit/utilities": {"@dnd-kit/core"},
		},
		GlobalShims: map[string]GlobalShim{
			"framer-motion": {
				Global: "Motion",
				Exports: []string{
					"motion", "AnimatePresence", "LayoutGroup", "MotionConfig", "Reorder",
					"useAnimation", "useAnimate", "useInView", "useMotionValue", "useScroll",
					"useSpring", "useTransform", "useReducedMotion", "animate", "stagger",
				},
			},
			"lucide-react": {
				Global: "LucideReact",
				Exports: []string{
					"Check", "X", "Plus", "Minus", "ChevronDown", "ChevronUp", "ChevronLeft",
					"ChevronRight", "Search", "Settings", "User", "Home", "Star", "Heart",
					"Trash2", "Edit", "Loader2", "AlertCircle", "Info", "Sun", "Moon",
				},
			},
		},
		Libraries: []Library{
			{
				Name:    "prop-types",
				Trigger: `\brecharts\b`,
				URL:     "https://unpkg.com/prop-types@15.8.1/prop-types.min.js",
			},
			{
				Name:              "framer-motion",
				Trigger:           `\bmotion\b`,
				URL:               "https://unpkg.com/framer-motion@11.11.17/dist/framer-motion.js",
				RequiresFramework: true,
			},
			{
				Name:              "lucide-react",
				Trigger:           `lucide-react`,
				URL:               "https://unpkg.com/lucide-react@0.460.0/dist/umd/lucide-react.min.js",
				RequiresFramework: true,
			},
			{
				Name:    "canvas-confetti",
				Trigger: `(?i)\bconfetti\b`,
				URL:     "https://cdn.jsdelivr.net/npm/canvas-confetti@1.9.3/dist/confetti.browser.min.js",
			},
		},
	}

	if err := c.compile(); err != nil {
		panic(err)
	}
	return c
}

// Load returns the default catalog merged with the YAML file at path.
// An empty path returns the defaults.
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var overrides Catalog
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	c.merge(&overrides)
	if err := c.compile(); err != nil {
		return nil, err
	}
	return c, nil
}

// merge applies overrides key by key; libraries are replaced by name or appended
func (c *Catalog) merge(o *Catalog) {
	for name, p := range o.Providers {
		if p.Name == "" {
			p.Name = name
		}
		c.Providers[name] = p
	}
	for pkg, p := range o.Prebuilt {
		c.Prebuilt[pkg] = p
	}
	for pkg, peers := range o.Peers {
		c.Peers[pkg] = peers
	}
	for pkg, s := range o.GlobalShims {
		c.GlobalShims[pkg] = s
	}
	for _, lib := range o.Libraries {
		replaced := false
		for i := range c.Libraries {
			if c.Libraries[i].Name == lib.Name {
				c.Libraries[i] = lib
				replaced = true
				break
			}
		}
		if !replaced {
			c.Libraries = append(c.Libraries, lib)
		}
	}
}

func (c *Catalog) compile() error {
	for name, p := range c.Providers {
		if p.Origin == "" || !strings.Contains(p.Template, "{spec}") {
			return fmt.Errorf("provider %q needs an origin and a template containing {spec}", name)
		}
	}
	for i := range c.Libraries {
		lib := &c.Libraries[i]
		if lib.Name == "" || lib.URL == "" {
			return fmt.Errorf("library #%d needs a name and a url", i)
		}
		re, err := regexp.Compile(lib.Trigger)
		if err != nil {
			return fmt.Errorf("library %q has an invalid trigger: %w", lib.Name, err)
		}
		lib.trigger = re
	}
	return nil
}

// ProvidersFor returns providers in the given order, rejecting unknown names
func (c *Catalog) ProvidersFor(names []string) ([]Provider, error) {
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		p, ok := c.Providers[name]
		if !ok {
			return nil, fmt.Errorf("unknown cdn provider: %s", name)
		}
		out = append(out, p)
	}
	return out, nil
}

// Externals returns the packages a CDN build of pkg must not bundle
func (c *Catalog) Externals(pkg string) []string {
	ext := append([]string{}, FrameworkPackages...)
	for _, peer := range c.Peers[pkg] {
		if !contains(ext, peer) {
			ext = append(ext, peer)
		}
	}
	return ext
}

// URL builds the module URL for pkg at version ("" for latest)
func (p Provider) URL(pkg, version string, external []string) string {
	return p.expand(moduleSpec(pkg, version, ""), external)
}

// ModuleURL builds the URL of an entry point inside pkg, such as the client
// entry of react-dom. Query parameters left empty by the template are dropped,
// so a package with nothing to externalize gets a plain URL.
func (p Provider) ModuleURL(pkg, version, subpath string, external []string) string {
	u := p.expand(moduleSpec(pkg, version, subpath), external)
	base, query, found := strings.Cut(u, "?")
	if !found {
		return u
	}
	var kept []string
	for _, param := range strings.Split(query, "&") {
		if param != "" && !strings.HasSuffix(param, "=") {
			kept = append(kept, param)
		}
	}
	if len(kept) == 0 {
		return base
	}
	return base + "?" + strings.Join(kept, "&")
}

func (p Provider) expand(spec string, external []string) string {
	return strings.NewReplacer(
		"{origin}", strings.TrimSuffix(p.Origin, "/"),
		"{spec}", spec,
		"{external}", strings.Join(external, ","),
	).Replace(p.Template)
}

func moduleSpec(pkg, version, subpath string) string {
	spec := pkg
	if version != "" {
		spec += "@" + version
	}
	if subpath != "" {
		spec += "/" + subpath
	}
	return spec
}

// Fingerprint is a digest of every table. Documents built from catalogs with
// different fingerprints may differ.
func (c *Catalog) Fingerprint() string {
	// yaml.v3 sorts map keys, so equal catalogs encode identically
	raw, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// SortedPackages returns the keys of m in order
func SortedPackages[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
