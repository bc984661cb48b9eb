package artifacts

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/fluxbase-eu/artifacts/internal/catalog"
)

const (
	// MaxCodeBytes bounds the component source size
	MaxCodeBytes = 500 * 1024
	// MaxDependencies bounds the number of declared packages
	MaxDependencies = 50
	// MaxPackageNameLength is the npm package name limit
	MaxPackageNameLength = 214
	// MaxTitleLength bounds the document title, in characters
	MaxTitleLength   = 200
	maxVersionLength = 64
)

var (
	packageCharsRe = regexp.MustCompile(`^[@a-z0-9\-/._]+$`)
	packageNameRe  = regexp.MustCompile(`^(?:@[a-z0-9\-._]+/)?[a-z0-9\-._]+$`)
	distTagRe      = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	// Versions are spliced into CDN URLs unescaped, so ranges are limited to
	// single comparators that stay one URL path token
	versionCharsRe = regexp.MustCompile(`^[0-9A-Za-z.^~*=+_-]+$`)
	uuidRe         = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	legacyIDRe     = regexp.MustCompile(`^artifact-[0-9a-f]{32}$`)
)

// Request is a bundle request as received on the wire
type Request struct {
	Code         string            `json:"code"`
	Dependencies map[string]string `json:"dependencies"`
	ArtifactID   string            `json:"artifactId"`
	SessionID    string            `json:"sessionId"`
	Title        string            `json:"title"`
	IsGuest      bool              `json:"isGuest"`
	// BundleReact loads the framework as ES modules instead of global shims
	BundleReact bool `json:"bundleReact"`
	Streaming   bool `json:"streaming"`
}

// Validate checks every field and reports all failures at once
func (r *Request) Validate() error {
	errs := validation.Errors{}

	if err := validation.Validate(r.Code,
		validation.Required.Error("code is required"),
		validation.Length(0, MaxCodeBytes).Error(fmt.Sprintf("code exceeds %d bytes", MaxCodeBytes)),
	); err != nil {
		errs["code"] = err
	}

	if err := validation.Validate(r.ArtifactID,
		validation.Required.Error("artifactId is required"),
		validation.By(artifactIDRule),
	); err != nil {
		errs["artifactId"] = err
	}

	if err := validation.Validate(r.SessionID,
		validation.Required.Error("sessionId is required"),
		validation.Length(36, 36).Error("sessionId must be a UUID"),
		validation.Match(uuidRe).Error("sessionId must be a UUID"),
	); err != nil {
		errs["sessionId"] = err
	}

	if err := validation.Validate(r.Title,
		validation.RuneLength(0, MaxTitleLength).Error(fmt.Sprintf("title exceeds %d characters", MaxTitleLength)),
	); err != nil {
		errs["title"] = err
	}

	if err := validateDependencies(r.Dependencies); err != nil {
		errs["dependencies"] = err
	}

	return errs.Filter()
}

func artifactIDRule(value interface{}) error {
	id, _ := value.(string)
	if uuidRe.MatchString(id) || legacyIDRe.MatchString(id) {
		return nil
	}
	return validation.NewError("validation_artifact_id", "artifactId must be a UUID or artifact-<32 hex>")
}

func validateDependencies(deps map[string]string) error {
	if len(deps) > MaxDependencies {
		return validation.NewError("validation_too_many", fmt.Sprintf("at most %d dependencies are allowed", MaxDependencies))
	}
	// Sorted so the reported failure is stable
	for _, name := range catalog.SortedPackages(deps) {
		if !ValidPackageName(name) {
			return validation.NewError("validation_package_name", fmt.Sprintf("invalid package name %q", name))
		}
		if !ValidVersion(deps[name]) {
			return validation.NewError("validation_version", fmt.Sprintf("invalid version %q for %s", deps[name], name))
		}
	}
	return nil
}

// ValidPackageName reports whether name is an acceptable npm package name
func ValidPackageName(name string) bool {
	if name == "" || len(name) > MaxPackageNameLength {
		return false
	}
	if !packageCharsRe.MatchString(name) || !packageNameRe.MatchString(name) {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	base := name
	if strings.HasPrefix(name, "@") {
		_, base, _ = strings.Cut(name, "/")
	}
	return !strings.HasPrefix(base, ".") && !strings.HasPrefix(base, "_")
}

// ValidVersion accepts exact versions, single-comparator ranges (^, ~, =,
// x wildcards) and dist-tags
func ValidVersion(v string) bool {
	if v == "" || len(v) > maxVersionLength {
		return false
	}
	if strings.Contains(v, "..") || strings.ContainsAny(v, `/\`) {
		return false
	}
	if v == "*" || distTagRe.MatchString(v) {
		return true
	}
	if !versionCharsRe.MatchString(v) {
		return false
	}
	if _, err := semver.NewVersion(v); err == nil {
		return true
	}
	_, err := semver.NewConstraint(v)
	return err == nil
}
