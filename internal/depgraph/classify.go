package depgraph

import (
	"sort"
	"strings"
)

// MethodClassifier decides whether a standalone function name actually
// denotes a method of one of the classes declared in the same file.
//
// Given the function name and the class names known for its file, it returns
// the owning class and the member name, or ok=false when the function belongs
// directly to the file.
type MethodClassifier interface {
	Classify(funcName string, classes []string) (class, member string, ok bool)
}

// ClassifierFunc adapts a function to MethodClassifier.
type ClassifierFunc func(funcName string, classes []string) (string, string, bool)

func (f ClassifierFunc) Classify(funcName string, classes []string) (string, string, bool) {
	return f(funcName, classes)
}

// PrefixClassifier recognizes the "Class.method" naming convention. When
// several classes match, the longest class name wins.
type PrefixClassifier struct{}

func (PrefixClassifier) Classify(funcName string, classes []string) (string, string, bool) {
	candidates := append([]string(nil), classes...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i]) > len(candidates[j])
	})
	for _, class := range candidates {
		member, found := strings.CutPrefix(funcName, class+".")
		if found && member != "" {
			return class, member, true
		}
	}
	return "", "", false
}
