// Package metrics defines the raw metric payloads produced by the analysis
// service and the adapters that normalize them into fixed Go shapes.
package metrics

import (
	"fmt"
	"sort"
)

// Name identifies one raw metric served by the analysis service.
type Name string

const (
	MetricFiles            Name = "files"
	MetricLOC              Name = "loc-sloc"
	MetricDependencies     Name = "dependencies"
	MetricClassesPerFile   Name = "classes-per-file"
	MetricClassCoupling    Name = "class-coupling"
	MetricFunctionsPerFile Name = "functions-per-file"
	MetricFunctionCoupling Name = "function-coupling"
)

// All returns every metric the graph assembly consumes, in request order.
func All() []Name {
	return []Name{
		MetricFiles,
		MetricLOC,
		MetricDependencies,
		MetricClassesPerFile,
		MetricClassCoupling,
		MetricFunctionsPerFile,
		MetricFunctionCoupling,
	}
}

// Bundle holds the normalized payloads of one repository scan.
// A metric that could not be fetched or decoded keeps its zero value and is
// listed in Missing.
type Bundle struct {
	RepoID           string           `json:"repo_id"`
	Files            []string         `json:"files"`
	LOC              LOCReport        `json:"loc"`
	Dependencies     DependencyGraph  `json:"dependencies"`
	ClassesPerFile   ClassesPerFile   `json:"classes_per_file"`
	ClassCoupling    ClassCoupling    `json:"class_coupling"`
	FunctionsPerFile FunctionsPerFile `json:"functions_per_file"`
	FunctionCoupling FunctionCoupling `json:"function_coupling"`
	Missing          []Name           `json:"missing,omitempty"`
}

// NewBundle returns an empty bundle for a repository.
func NewBundle(repoID string) *Bundle {
	return &Bundle{RepoID: repoID}
}

// Decode normalizes a raw payload and stores it under the given metric.
// On error the bundle is left unchanged.
func (b *Bundle) Decode(name Name, raw []byte) error {
	var err error
	switch name {
	case MetricFiles:
		var v []string
		if v, err = DecodeFiles(raw); err == nil {
			b.Files = v
		}
	case MetricLOC:
		var v LOCReport
		if v, err = DecodeLOC(raw); err == nil {
			b.LOC = v
		}
	case MetricDependencies:
		var v DependencyGraph
		if v, err = DecodeDependencies(raw); err == nil {
			b.Dependencies = v
		}
	case MetricClassesPerFile:
		var v ClassesPerFile
		if v, err = DecodeClassesPerFile(raw); err == nil {
			b.ClassesPerFile = v
		}
	case MetricClassCoupling:
		var v ClassCoupling
		if v, err = DecodeClassCoupling(raw); err == nil {
			b.ClassCoupling = v
		}
	case MetricFunctionsPerFile:
		var v FunctionsPerFile
		if v, err = DecodeFunctionsPerFile(raw); err == nil {
			b.FunctionsPerFile = v
		}
	case MetricFunctionCoupling:
		var v FunctionCoupling
		if v, err = DecodeFunctionCoupling(raw); err == nil {
			b.FunctionCoupling = v
		}
	default:
		return fmt.Errorf("unknown metric %q", name)
	}
	if err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}

// MarkMissing records that a metric fell back to its empty default.
func (b *Bundle) MarkMissing(name Name) {
	for _, m := range b.Missing {
		if m == name {
			return
		}
	}
	b.Missing = append(b.Missing, name)
}

// HasScan reports whether the bundle carries any structural data at all.
func (b *Bundle) HasScan() bool {
	return len(b.Files) > 0 || len(b.ClassesPerFile) > 0 || len(b.FunctionsPerFile) > 0
}

// SortedKeys returns the keys of m in lexical order. Every scan over a
// payload map goes through it so that first-match policies are stable.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
