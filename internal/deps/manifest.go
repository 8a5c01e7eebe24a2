// Package deps reads the dependency manifest an image is built from and
// resolves it, all or nothing, against a module graph.
//
// The manifest is plain text with one requirement per line:
//
//	# comment
//	github.com/spf13/viper >=1.20, <2
//	github.com/jmoiron/sqlx ==1.4.0
//	go >=1.24
//
// A requirement is a module path optionally followed by one or more
// comma separated constraints. Supported operators are ==, !=, >=, <=, >, <
// and ~= (compatible release).
package deps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"
)

var (
	// ErrSyntax is returned for malformed manifest lines.
	ErrSyntax = errors.New("manifest syntax error")
	// ErrConflict is returned when a module is declared twice with different constraints.
	ErrConflict = errors.New("conflicting requirements")
	// ErrUnresolvable is returned when a requirement cannot be satisfied.
	ErrUnresolvable = errors.New("unresolvable requirement")
)

var (
	modulePattern     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)
	constraintPattern = regexp.MustCompile(`^(==|!=|>=|<=|~=|>|<)\s*(v?[0-9][0-9A-Za-z.+-]*)$`)
)

// Constraint is a single version condition.
type Constraint struct {
	Op      string
	Version string
}

func (c Constraint) String() string {
	return c.Op + c.Version
}

// Requirement is one manifest entry.
type Requirement struct {
	Module      string
	Constraints []Constraint
	Line        int
}

// String renders the requirement the way it is written in a manifest.
func (r Requirement) String() string {
	if len(r.Constraints) == 0 {
		return r.Module
	}
	parts := make([]string, len(r.Constraints))
	for i, c := range r.Constraints {
		parts[i] = c.String()
	}
	return r.Module + " " + strings.Join(parts, ", ")
}

func (r Requirement) sameConstraints(other Requirement) bool {
	return slices.Equal(r.Constraints, other.Constraints)
}

// Manifest is a parsed dependency manifest. Requirements keep file order.
type Manifest struct {
	Requirements []Requirement
}

// ParseFile parses the manifest at path.
func ParseFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	return Parse(f)
}

// Parse reads a manifest. Exact duplicate entries collapse into one; the same
// module with different constraints is a conflict.
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	seen := make(map[string]int)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		req, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrSyntax, lineNo, err)
		}
		req.Line = lineNo

		if idx, ok := seen[req.Module]; ok {
			prev := m.Requirements[idx]
			if !prev.sameConstraints(req) {
				return nil, fmt.Errorf("%w: %s (line %d: %q, line %d: %q)",
					ErrConflict, req.Module, prev.Line, prev.String(), lineNo, req.String())
			}
			continue
		}

		seen[req.Module] = len(m.Requirements)
		m.Requirements = append(m.Requirements, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return m, nil
}

// parseLine splits "module op version, op version" into a Requirement.
func parseLine(line string) (Requirement, error) {
	end := strings.IndexAny(line, "=!<>~ \t")
	module, rest := line, ""
	if end >= 0 {
		module, rest = line[:end], strings.TrimSpace(line[end:])
	}

	if !modulePattern.MatchString(module) {
		return Requirement{}, fmt.Errorf("invalid module path %q", module)
	}

	req := Requirement{Module: module}
	if rest == "" {
		return req, nil
	}

	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		match := constraintPattern.FindStringSubmatch(part)
		if match == nil {
			return Requirement{}, fmt.Errorf("invalid constraint %q for %s", part, module)
		}
		req.Constraints = append(req.Constraints, Constraint{Op: match[1], Version: match[2]})
	}
	return req, nil
}
