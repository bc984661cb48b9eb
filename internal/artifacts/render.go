package artifacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxbase-eu/artifacts/internal/assembler"
	"github.com/fluxbase-eu/artifacts/internal/normalize"
	"github.com/fluxbase-eu/artifacts/internal/resolver"
	"github.com/fluxbase-eu/artifacts/internal/transform"
)

// RenderOptions are the inputs of a standalone render
type RenderOptions struct {
	Code            string
	Dependencies    map[string]string
	Title           string
	UseFrameworkEsm bool
	Tailwind        bool
}

// Rendered is a finished document with the resolution it was built from
type Rendered struct {
	HTML       string
	Resolution *resolver.Resolution
	// TranspileErr is set when the component was embedded untranspiled
	TranspileErr error
}

// KeySetup fingerprints the deployment settings a document depends on besides
// the request: catalog tables, provider order, the host framework URLs are
// externalized on and the stylesheet toggle.
func KeySetup(r *resolver.Resolver, tailwind bool, primaryHost string) string {
	return fmt.Sprintf("%s/%s/tailwind=%t", r.Fingerprint(), primaryHost, tailwind)
}

// Render resolves dependencies and builds a document without storing it.
// It skips authorization, rate limiting and caching.
func Render(ctx context.Context, r *resolver.Resolver, opts RenderOptions) (*Rendered, error) {
	if opts.Code == "" {
		return nil, errors.New("code is required")
	}
	if len(opts.Code) > MaxCodeBytes {
		return nil, fmt.Errorf("code exceeds %d bytes", MaxCodeBytes)
	}
	if err := validateDependencies(opts.Dependencies); err != nil {
		return nil, err
	}

	resolution, err := r.Resolve(ctx, opts.Dependencies, opts.UseFrameworkEsm, resolver.NamedImports(opts.Code))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dependencies: %w", err)
	}

	html, terr := buildDocument(r, resolution, opts, r.PrimaryHost())
	return &Rendered{HTML: html, Resolution: resolution, TranspileErr: terr}, nil
}

// buildDocument normalizes, assembles and post-processes a component. The
// returned error only reports a transpile failure; the document is always usable.
func buildDocument(r *resolver.Resolver, resolution *resolver.Resolution, opts RenderOptions, primaryHost string) (string, error) {
	doc := assembler.Assemble(assembler.Options{
		Code:            normalize.Normalize(opts.Code),
		Resolution:      resolution,
		Title:           opts.Title,
		UseFrameworkEsm: opts.UseFrameworkEsm,
		Tailwind:        opts.Tailwind,
	})

	html := transform.Apply(doc.HTML, transform.Options{
		Source:          opts.Code,
		UseFrameworkEsm: opts.UseFrameworkEsm,
		Catalog:         r.Catalog(),
		PrimaryHost:     primaryHost,
	})
	return html, doc.TranspileErr
}
