package depgraph

import (
	"strings"

	"github.com/efebarandurmaz/codelens/internal/metrics"
)

// SymbolIndex maps short class and function names to the files declaring
// them. It only lives for the duration of one assembly.
//
// Files are scanned in lexical path order, coupling payloads first and the
// per-file listings after them, so every first-match decision is
// deterministic. A short name declared in several files is ambiguous: class
// lookups prefer the first candidate that exists in the registry, function
// lookups keep the last file scanned.
type SymbolIndex struct {
	classFiles map[string][]string
	funcFile   map[string]string
	funcFiles  map[string][]string
}

// SymbolSources are the payloads the index is built from.
type SymbolSources struct {
	ClassCoupling    metrics.ClassCoupling
	FunctionCoupling metrics.FunctionCoupling
	ClassesPerFile   metrics.ClassesPerFile
	FunctionsPerFile metrics.FunctionsPerFile
}

// BuildSymbolIndex scans the raw payloads and indexes declared names.
func BuildSymbolIndex(src SymbolSources) *SymbolIndex {
	idx := &SymbolIndex{
		classFiles: make(map[string][]string),
		funcFile:   make(map[string]string),
		funcFiles:  make(map[string][]string),
	}

	for _, file := range metrics.SortedKeys(src.ClassCoupling) {
		for _, class := range metrics.SortedKeys(src.ClassCoupling[file]) {
			idx.addClass(class, file)
		}
	}
	for _, file := range metrics.SortedKeys(src.ClassesPerFile) {
		for _, class := range metrics.SortedKeys(src.ClassesPerFile[file]) {
			idx.addClass(class, file)
		}
	}

	for _, file := range metrics.SortedKeys(src.FunctionCoupling) {
		for _, fn := range metrics.SortedKeys(src.FunctionCoupling[file]) {
			idx.funcFile[fn] = file
			idx.addFuncFile(fn, file)
		}
	}
	for _, file := range metrics.SortedKeys(src.FunctionsPerFile) {
		for _, fn := range metrics.SortedKeys(src.FunctionsPerFile[file]) {
			if _, ok := idx.funcFile[fn]; !ok {
				idx.funcFile[fn] = file
			}
			idx.addFuncFile(fn, file)
		}
	}
	return idx
}

func (idx *SymbolIndex) addClass(class, file string) {
	for _, f := range idx.classFiles[class] {
		if f == file {
			return
		}
	}
	idx.classFiles[class] = append(idx.classFiles[class], file)
}

func (idx *SymbolIndex) addFuncFile(fn, file string) {
	for _, f := range idx.funcFiles[fn] {
		if f == file {
			return
		}
	}
	idx.funcFiles[fn] = append(idx.funcFiles[fn], file)
}

// ClassFiles returns every file declaring a class with the given short name.
func (idx *SymbolIndex) ClassFiles(class string) []string {
	return idx.classFiles[class]
}

// FindOwnerFile returns the file owning class. The first candidate whose
// "file::class" node exists in reg wins; otherwise the first candidate is
// returned. ok is false when no file declares the name.
func (idx *SymbolIndex) FindOwnerFile(class string, reg *Registry) (string, bool) {
	candidates := idx.classFiles[class]
	if len(candidates) == 0 {
		return "", false
	}
	for _, file := range candidates {
		if reg != nil && reg.Has(ClassID(file, class)) {
			return file, true
		}
	}
	return candidates[0], true
}

// FunctionFile returns the file a function short name was last declared in.
func (idx *SymbolIndex) FunctionFile(fn string) (string, bool) {
	f, ok := idx.funcFile[fn]
	return f, ok
}

// ResolveFunction maps a function short name to a registry node ID. Names in
// "Class.method" form fall back to the method node when no standalone
// function node exists.
func (idx *SymbolIndex) ResolveFunction(fn string, reg *Registry) (string, bool) {
	file, ok := idx.FunctionFile(fn)
	if !ok {
		return "", false
	}
	return resolveInFile(file, fn, reg)
}

func resolveInFile(file, fn string, reg *Registry) (string, bool) {
	if id := FunctionID(file, fn); reg.Has(id) {
		return id, true
	}
	if class, member, found := strings.Cut(fn, "."); found && member != "" {
		if id := MethodID(file, class, member); reg.Has(id) {
			return id, true
		}
	}
	return "", false
}

// Ambiguous returns the class and function names declared in more than one
// file, mapped to their candidate files in scan order.
func (idx *SymbolIndex) Ambiguous() map[string][]string {
	out := make(map[string][]string)
	for name, files := range idx.classFiles {
		if len(files) > 1 {
			out[name] = files
		}
	}
	for name, files := range idx.funcFiles {
		if len(files) > 1 {
			if _, taken := out[name]; !taken {
				out[name] = files
			}
		}
	}
	return out
}
