package depgraph

import (
	"strings"

	"github.com/efebarandurmaz/codelens/internal/metrics"
)

// IDSeparator joins a file path with class and member names in node IDs.
const IDSeparator = "::"

// constructorKey replaces the reserved member name "constructor" inside IDs
// so it cannot collide with built-in identifiers downstream. Labels keep the
// original name.
const constructorKey = "_constructor_"

// MemberKey returns the ID segment used for a class member name.
func MemberKey(name string) string {
	if name == "constructor" {
		return constructorKey
	}
	return name
}

// ClassID returns the node ID of a class declared in file.
func ClassID(file, class string) string {
	return file + IDSeparator + class
}

// MethodID returns the node ID of a class member.
func MethodID(file, class, member string) string {
	return file + IDSeparator + class + IDSeparator + MemberKey(member)
}

// FunctionID returns the node ID of a standalone function.
func FunctionID(file, fn string) string {
	return file + IDSeparator + fn
}

// Registry owns every node of one graph, keyed by ID. Children lists are kept
// consistent with ParentID back-references.
type Registry struct {
	nodes map[string]*Node
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// RegistryFromNodes indexes an already-built node list.
func RegistryFromNodes(nodes []*Node) *Registry {
	r := NewRegistry()
	for _, n := range nodes {
		if _, ok := r.nodes[n.ID]; ok {
			continue
		}
		r.nodes[n.ID] = n
		r.order = append(r.order, n.ID)
	}
	return r
}

// Get returns the node with the given ID.
func (r *Registry) Get(id string) (*Node, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// Has reports whether id is a known node.
func (r *Registry) Has(id string) bool {
	_, ok := r.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (r *Registry) Len() int {
	return len(r.order)
}

// Nodes returns all nodes in registration order.
func (r *Registry) Nodes() []*Node {
	out := make([]*Node, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id])
	}
	return out
}

// Roots returns the IDs of nodes without a parent, in registration order.
func (r *Registry) Roots() []string {
	var roots []string
	for _, id := range r.order {
		if r.nodes[id].ParentID == "" {
			roots = append(roots, id)
		}
	}
	return roots
}

// Children returns the direct children of id.
func (r *Registry) Children(id string) []string {
	if n, ok := r.nodes[id]; ok {
		return n.Children
	}
	return nil
}

// Parent returns the parent ID of id, if any.
func (r *Registry) Parent(id string) (string, bool) {
	n, ok := r.nodes[id]
	if !ok || n.ParentID == "" {
		return "", false
	}
	return n.ParentID, true
}

// Descendants returns every node below id, breadth-first.
func (r *Registry) Descendants(id string) []string {
	var out []string
	queue := append([]string(nil), r.Children(id)...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		queue = append(queue, r.Children(cur)...)
	}
	return out
}

// AncestorOfType walks up from id (inclusive) to the first node of type t.
func (r *Registry) AncestorOfType(id string, t NodeType) (string, bool) {
	for cur := id; cur != ""; {
		n, ok := r.nodes[cur]
		if !ok {
			return "", false
		}
		if n.Type == t {
			return cur, true
		}
		cur = n.ParentID
	}
	return "", false
}

// add registers n under its parent unless a node with the same ID exists, in
// which case the existing node is returned untouched.
func (r *Registry) add(n *Node) *Node {
	if existing, ok := r.nodes[n.ID]; ok {
		return existing
	}
	if n.ParentID != "" {
		if p, ok := r.nodes[n.ParentID]; ok {
			n.Depth = p.Depth + 1
			p.Children = append(p.Children, n.ID)
		} else {
			n.ParentID = ""
		}
	}
	r.nodes[n.ID] = n
	r.order = append(r.order, n.ID)
	return n
}

// RegistryInput carries the payloads the containment tree is built from.
type RegistryInput struct {
	Files      []string
	LOC        map[string]metrics.LOCCount
	Classes    metrics.ClassesPerFile
	Functions  metrics.FunctionsPerFile
	Classifier MethodClassifier // defaults to PrefixClassifier
}

// BuildRegistry constructs the containment tree. It is a pure function of its
// input: building twice from the same input yields identical IDs, labels and
// parent links.
func BuildRegistry(in RegistryInput) *Registry {
	r := NewRegistry()
	classifier := in.Classifier
	if classifier == nil {
		classifier = PrefixClassifier{}
	}

	for _, path := range in.Files {
		r.addFile(path)
	}

	classesByFile := make(map[string][]string)
	for _, file := range metrics.SortedKeys(in.Classes) {
		fileID, ok := r.addFile(file)
		if !ok {
			continue
		}
		classes := in.Classes[file]
		for _, class := range metrics.SortedKeys(classes) {
			classID := ClassID(file, class)
			r.add(&Node{ID: classID, Label: class, Type: NodeClass, ParentID: fileID})
			classesByFile[file] = append(classesByFile[file], class)
			for _, m := range classes[class] {
				name := m.Name()
				if name == "" {
					continue
				}
				r.add(&Node{ID: MethodID(file, class, name), Label: name, Type: NodeFunction, ParentID: classID})
			}
		}
	}

	for _, file := range metrics.SortedKeys(in.Functions) {
		fileID, ok := r.addFile(file)
		if !ok {
			continue
		}
		for _, fn := range metrics.SortedKeys(in.Functions[file]) {
			if class, method, ok := classifier.Classify(fn, classesByFile[file]); ok {
				id := MethodID(file, class, method)
				if !r.Has(id) {
					r.add(&Node{ID: id, Label: method, Type: NodeFunction, ParentID: ClassID(file, class)})
				}
				continue
			}
			r.add(&Node{ID: FunctionID(file, fn), Label: fn, Type: NodeFunction, ParentID: fileID})
		}
	}

	r.applyLOC(in.LOC)
	return r
}

// addFile registers the directory chain and FILE node for path and returns
// the file's ID. Empty path segments (leading or doubled slashes) do not
// produce directories.
func (r *Registry) addFile(path string) (string, bool) {
	segs := strings.Split(path, "/")
	name := segs[len(segs)-1]
	if name == "" {
		return "", false
	}
	if n, ok := r.nodes[path]; ok {
		return path, n.Type == NodeFile
	}

	parent := ""
	prefix := ""
	for i, seg := range segs[:len(segs)-1] {
		if i == 0 {
			prefix = seg
		} else {
			prefix += "/" + seg
		}
		if seg == "" {
			continue
		}
		r.add(&Node{ID: prefix, Label: seg, Type: NodeDirectory, ParentID: parent})
		parent = prefix
	}
	r.add(&Node{ID: path, Label: name, Type: NodeFile, ParentID: parent})
	return path, true
}

// applyLOC copies per-file line counts onto FILE nodes and rolls them up
// onto their directories.
func (r *Registry) applyLOC(loc map[string]metrics.LOCCount) {
	for _, path := range metrics.SortedKeys(loc) {
		n, ok := r.nodes[path]
		if !ok || n.Type != NodeFile {
			continue
		}
		c := loc[path]
		n.LOC, n.SLOC = c.LOC, c.SLOC
		for p := n.ParentID; p != ""; p = r.nodes[p].ParentID {
			r.nodes[p].LOC += c.LOC
			r.nodes[p].SLOC += c.SLOC
		}
	}
}
