package deps

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/mod/modfile"
)

// goDirective is the pseudo module that resolves to the go.mod language version.
const goDirective = "go"

// Resolved is a requirement pinned to a concrete version.
type Resolved struct {
	Module     string
	Version    string
	Constraint string
}

// Resolver pins a single requirement.
type Resolver interface {
	Resolve(req Requirement) (Resolved, error)
}

// Resolve pins every requirement. It fails if any requirement fails, reporting
// all failures, and never returns a partial list. The result is sorted by
// module path.
func (m *Manifest) Resolve(r Resolver) ([]Resolved, error) {
	resolved := make([]Resolved, 0, len(m.Requirements))
	var errs []error

	for _, req := range m.Requirements {
		res, err := r.Resolve(req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolved = append(resolved, res)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	slices.SortFunc(resolved, func(a, b Resolved) int {
		return cmp.Compare(a.Module, b.Module)
	})
	return resolved, nil
}

// WriteLock writes one "module version" line per resolved dependency.
func WriteLock(w io.Writer, resolved []Resolved) error {
	for _, r := range resolved {
		if _, err := fmt.Fprintf(w, "%s %s\n", r.Module, r.Version); err != nil {
			return err
		}
	}
	return nil
}

// ModuleResolver resolves requirements against the requirement list of a go.mod file.
type ModuleResolver struct {
	goVersion string
	versions  map[string]string
	local     map[string]string
}

// NewModuleResolver loads the go.mod file at path.
func NewModuleResolver(path string) (*ModuleResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module file: %w", err)
	}
	return ParseModuleFile(path, data)
}

// ParseModuleFile builds a ModuleResolver from go.mod content. Replacements
// pointing at another version are honoured; replacements pointing at a local
// directory cannot be resolved.
func ParseModuleFile(path string, data []byte) (*ModuleResolver, error) {
	f, err := modfile.Parse(path, data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse module file: %w", err)
	}

	r := &ModuleResolver{
		versions: make(map[string]string, len(f.Require)),
		local:    make(map[string]string),
	}
	if f.Go != nil {
		r.goVersion = f.Go.Version
	}
	for _, req := range f.Require {
		r.versions[req.Mod.Path] = req.Mod.Version
	}
	for _, rep := range f.Replace {
		if rep.Old.Version != "" && r.versions[rep.Old.Path] != rep.Old.Version {
			continue
		}
		if rep.New.Version == "" {
			r.local[rep.Old.Path] = rep.New.Path
			continue
		}
		r.versions[rep.Old.Path] = rep.New.Version
	}

	return r, nil
}

// Resolve pins req to the version required by the module file.
func (r *ModuleResolver) Resolve(req Requirement) (Resolved, error) {
	var version string
	switch {
	case req.Module == goDirective:
		version = r.goVersion
	case r.local[req.Module] != "":
		return Resolved{}, fmt.Errorf("%w: %s is replaced by local directory %s", ErrUnresolvable, req.Module, r.local[req.Module])
	default:
		version = r.versions[req.Module]
	}
	if version == "" {
		return Resolved{}, fmt.Errorf("%w: %s is not in the module graph", ErrUnresolvable, req.Module)
	}

	res := Resolved{Module: req.Module, Version: version}
	if len(req.Constraints) == 0 {
		return res, nil
	}

	constraint, err := semverConstraint(req.Constraints)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %s: %v", ErrUnresolvable, req.Module, err)
	}
	res.Constraint = constraint.String()

	v, err := semver.NewVersion(version)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %s has non-semantic version %q", ErrUnresolvable, req.Module, version)
	}
	if ok, reasons := constraint.Validate(v); !ok {
		return Resolved{}, fmt.Errorf("%w: %s %s does not satisfy %s: %v",
			ErrUnresolvable, req.Module, version, req.String(), errors.Join(reasons...))
	}

	return res, nil
}

// semverConstraint translates manifest constraints into a Masterminds constraint.
func semverConstraint(constraints []Constraint) (*semver.Constraints, error) {
	parts := make([]string, 0, len(constraints))
	for _, c := range constraints {
		switch c.Op {
		case "==":
			parts = append(parts, "="+c.Version)
		case "~=":
			upper, err := compatibleUpperBound(c.Version)
			if err != nil {
				return nil, err
			}
			parts = append(parts, ">="+c.Version, "<"+upper)
		default:
			parts = append(parts, c.Op+c.Version)
		}
	}
	return semver.NewConstraint(strings.Join(parts, ", "))
}

// compatibleUpperBound returns the exclusive upper bound of a compatible
// release: ~=1.4 allows 1.x from 1.4, ~=1.4.2 allows 1.4.x from 1.4.2.
func compatibleUpperBound(version string) (string, error) {
	core, _, _ := strings.Cut(strings.TrimPrefix(version, "v"), "-")
	segments := strings.Split(core, ".")
	if len(segments) < 2 {
		return "", fmt.Errorf("compatible release %q needs at least two segments", version)
	}

	nums := make([]int, len(segments))
	for i, s := range segments {
		n, err := strconv.Atoi(s)
		if err != nil {
			return "", fmt.Errorf("invalid version %q", version)
		}
		nums[i] = n
	}

	prefix := nums[:len(nums)-1]
	prefix[len(prefix)-1]++

	bound := make([]string, 3)
	for i := range bound {
		bound[i] = "0"
		if i < len(prefix) {
			bound[i] = strconv.Itoa(prefix[i])
		}
	}
	return strings.Join(bound, "."), nil
}

// ParseLock reads the output of WriteLock.
func ParseLock(r io.Reader) ([]Resolved, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock: %w", err)
	}

	var resolved []Resolved
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: lock line %d: %q", ErrSyntax, i+1, line)
		}
		resolved = append(resolved, Resolved{Module: fields[0], Version: fields[1]})
	}
	return resolved, nil
}
