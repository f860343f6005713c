package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Count is a call or dependency count. Anything that is not a JSON number
// decodes to zero so a malformed count contributes nothing.
type Count int

func (c *Count) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		*c = 0
		return nil
	}
	*c = Count(f)
	return nil
}

// LOCCount is the line count pair reported per file and in total.
type LOCCount struct {
	LOC  int `json:"loc"`
	SLOC int `json:"sloc"`
}

// LOCReport is the loc-sloc payload.
type LOCReport struct {
	Total     LOCCount            `json:"total"`
	ByFile    map[string]LOCCount `json:"byFile"`
	FileCount int                 `json:"fileCount"`
}

// DependencyGraph maps a file path to the file paths it imports.
type DependencyGraph map[string][]string

// ClassMember is one entry of a class listing.
type ClassMember struct {
	Type string `json:"type"` // ClassMethod or ClassProperty
	Key  struct {
		Name string `json:"name"`
	} `json:"key"`
}

// Name returns the member's identifier.
func (m ClassMember) Name() string {
	return m.Key.Name
}

// ClassesPerFile maps file path -> class name -> members.
type ClassesPerFile map[string]map[string][]ClassMember

// CallCounts maps a target symbol's short name to the number of calls.
type CallCounts map[string]Count

// ClassMethodEntry is one method of a class in the class-coupling payload.
// FanOut and FanIn are keyed by the other class, then by its method.
type ClassMethodEntry struct {
	Method string `json:"name"`
	Alt    string `json:"method"`
	Key    struct {
		Name string `json:"name"`
	} `json:"key"`
	FanOut map[string]CallCounts `json:"fan-out,omitempty"`
	FanIn  map[string]CallCounts `json:"fan-in,omitempty"`
}

// Name returns the method name, whichever field the service filled in.
func (e ClassMethodEntry) Name() string {
	switch {
	case e.Method != "":
		return e.Method
	case e.Alt != "":
		return e.Alt
	default:
		return e.Key.Name
	}
}

// ClassCoupling maps file path -> class name -> method entries.
type ClassCoupling map[string]map[string][]ClassMethodEntry

// FunctionsPerFile maps file path -> function name -> AST node (kept raw).
type FunctionsPerFile map[string]map[string]json.RawMessage

// FunctionCouplingEntry is the fan-in/fan-out record of one function.
type FunctionCouplingEntry struct {
	FanOut CallCounts `json:"fan-out,omitempty"`
	FanIn  CallCounts `json:"fan-in,omitempty"`
}

// FunctionCoupling maps file path -> function name -> coupling record.
type FunctionCoupling map[string]map[string]FunctionCouplingEntry

var errNotObject = errors.New("payload is not a JSON object")

// unwrapResult returns the "result" member of an envelope, or the payload
// itself when there is no envelope.
func unwrapResult(raw []byte) []byte {
	var env struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Result) > 0 && !isNull(env.Result) {
		return env.Result
	}
	return raw
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isEmpty(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || isNull(t)
}

// DecodeFiles accepts a bare array, {"result": [...]} or {"files": [...]}.
func DecodeFiles(raw []byte) ([]string, error) {
	if isEmpty(raw) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var env struct {
		Result []string `json:"result"`
		Files  []string `json:"files"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Files != nil {
		return env.Files, nil
	}
	return env.Result, nil
}

// DecodeLOC decodes the loc-sloc payload.
func DecodeLOC(raw []byte) (LOCReport, error) {
	var r LOCReport
	if isEmpty(raw) {
		return r, nil
	}
	err := json.Unmarshal(unwrapResult(raw), &r)
	return r, err
}

// DecodeDependencies decodes {"graph": {...}}, with or without an envelope.
func DecodeDependencies(raw []byte) (DependencyGraph, error) {
	if isEmpty(raw) {
		return nil, nil
	}
	var env struct {
		Graph DependencyGraph `json:"graph"`
	}
	if err := json.Unmarshal(unwrapResult(raw), &env); err != nil {
		return nil, err
	}
	return env.Graph, nil
}

// DecodeClassesPerFile decodes the classes-per-file payload.
func DecodeClassesPerFile(raw []byte) (ClassesPerFile, error) {
	var v ClassesPerFile
	return v, decodeObject(raw, &v)
}

// DecodeClassCoupling decodes the class-coupling payload.
func DecodeClassCoupling(raw []byte) (ClassCoupling, error) {
	var v ClassCoupling
	return v, decodeObject(raw, &v)
}

// DecodeFunctionsPerFile decodes the functions-per-file payload.
func DecodeFunctionsPerFile(raw []byte) (FunctionsPerFile, error) {
	var v FunctionsPerFile
	return v, decodeObject(raw, &v)
}

// DecodeFunctionCoupling decodes the function-coupling payload.
func DecodeFunctionCoupling(raw []byte) (FunctionCoupling, error) {
	var v FunctionCoupling
	return v, decodeObject(raw, &v)
}

func decodeObject(raw []byte, v any) error {
	if isEmpty(raw) {
		return nil
	}
	body := bytes.TrimSpace(unwrapResult(raw))
	if len(body) == 0 || body[0] != '{' {
		return errNotObject
	}
	return json.Unmarshal(body, v)
}
