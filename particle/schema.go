package particle

import "fmt"

// Type is the semantic type of a user-declared variable. Storage is always
// float64; the type controls output formatting.
type Type int

const (
	Float64 Type = iota
	Int32
)

// Variable declares one user variable: a named per-particle scalar with an
// initial value and an output participation flag.
type Variable struct {
	Name    string
	Type    Type
	Default float64
	ToWrite bool
}

// reserved are column names owned by the core particle state; user variables
// may not shadow them.
var reserved = map[string]bool{
	"lon": true, "lat": true, "depth": true, "time": true, "dt": true,
	"dlon": true, "dlat": true, "ddepth": true, "id": true, "state": true,
}

// Schema is the ordered set of user-declared variables, resolved once
// before any particle storage is allocated.
type Schema struct {
	vars  []Variable
	index map[string]int
}

// NewSchema validates and freezes a variable declaration list.
func NewSchema(vars ...Variable) (*Schema, error) {
	s := &Schema{vars: vars, index: make(map[string]int, len(vars))}
	for i, v := range vars {
		if v.Name == "" {
			return nil, fmt.Errorf("particle: variable %d has empty name", i)
		}
		if reserved[v.Name] {
			return nil, fmt.Errorf("particle: variable name %q is reserved", v.Name)
		}
		if _, dup := s.index[v.Name]; dup {
			return nil, fmt.Errorf("particle: duplicate variable %q", v.Name)
		}
		s.index[v.Name] = i
	}
	return s, nil
}

// Vars returns the declared variables in order.
func (s *Schema) Vars() []Variable {
	if s == nil {
		return nil
	}
	return s.vars
}

// Index returns the column index of a named variable.
func (s *Schema) Index(name string) (int, bool) {
	if s == nil {
		return 0, false
	}
	i, ok := s.index[name]
	return i, ok
}
