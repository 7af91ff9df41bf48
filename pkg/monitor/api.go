/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: api.go
Description: Descriptors of interceptable APIs. An API table lists the declaring
type, method, return type and parameter types of each monitored entry point and
can be loaded from YAML so new APIs need no code changes.
*/

package monitor

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// API describes one interceptable entry point.
type API struct {
	DeclaringType string   `yaml:"type"`
	Method        string   `yaml:"method"`
	ReturnType    string   `yaml:"returns"`
	ParamTypes    []string `yaml:"params"`
}

// ID returns the short identifier used in denial messages, Type->method.
func (a *API) ID() string {
	return a.DeclaringType + "->" + a.Method
}

// Signature returns the policy signature, Type.method(p1,p2).
func (a *API) Signature() string {
	return fmt.Sprintf("%s.%s(%s)", a.DeclaringType, a.Method, strings.Join(a.ParamTypes, ","))
}

// ReturnTypeName returns the declared return type, "void" when unset.
func (a *API) ReturnTypeName() string {
	if a.ReturnType == "" {
		return "void"
	}
	return a.ReturnType
}

// APITable indexes API descriptors by signature.
type APITable struct {
	apis  map[string]*API
	order []string
}

// NewAPITable builds a table from descriptors. Duplicate signatures are rejected.
func NewAPITable(apis ...*API) (*APITable, error) {
	t := &APITable{apis: make(map[string]*API)}
	for _, api := range apis {
		if err := t.Register(api); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Register adds api to the table.
func (t *APITable) Register(api *API) error {
	if api.DeclaringType == "" || api.Method == "" {
		return fmt.Errorf("api descriptor needs a type and a method: %+v", *api)
	}
	key := normalizeSignature(api.Signature())
	if _, exists := t.apis[key]; exists {
		return fmt.Errorf("duplicate api %s", api.Signature())
	}
	t.apis[key] = api
	t.order = append(t.order, key)
	return nil
}

// Lookup finds an API by signature, ignoring whitespace.
func (t *APITable) Lookup(signature string) (*API, bool) {
	api, ok := t.apis[normalizeSignature(signature)]
	return api, ok
}

// MustLookup is Lookup for tables built at init time.
func (t *APITable) MustLookup(signature string) *API {
	api, ok := t.Lookup(signature)
	if !ok {
		panic("monitor: unknown api " + signature)
	}
	return api
}

// All returns the registered APIs in registration order.
func (t *APITable) All() []*API {
	out := make([]*API, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.apis[key])
	}
	return out
}

// Len returns the number of registered APIs.
func (t *APITable) Len() int {
	return len(t.order)
}

type apiFile struct {
	APIs []*API `yaml:"apis"`
}

// ParseAPITable reads a YAML API table.
func ParseAPITable(r io.Reader) (*APITable, error) {
	var file apiFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode api table: %w", err)
	}
	return NewAPITable(file.APIs...)
}

// LoadAPITable reads a YAML API table from path.
func LoadAPITable(path string) (*APITable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open api table: %w", err)
	}
	defer f.Close()
	return ParseAPITable(f)
}
