package directory

import (
	"maps"
	"slices"
	"strings"
)

// Op is the kind of a staged attribute change.
type Op int

const (
	// OpReplace replaces every value of an attribute. No values removes the attribute.
	OpReplace Op = iota
	// OpAdd adds values to a multi valued attribute.
	OpAdd
	// OpDelete removes the given values, or the whole attribute when no value is given.
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpReplace:
		return "replace"
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	}

	return "unknown"
}

// Change is one staged attribute operation.
type Change struct {
	Op        Op
	Attribute string
	Values    []string
}

// Entry is a directory entry with its committed attribute values and a change set
// staged for the next Commit. Attribute names are case insensitive.
type Entry struct {
	DN string

	attrs   map[string][]string
	changes []Change
	isNew   bool
}

// NewEntry creates a committed entry from attribute values.
func NewEntry(dn string, attrs map[string][]string) *Entry {
	e := &Entry{DN: dn, attrs: make(map[string][]string, len(attrs))}

	for name, values := range attrs {
		if len(values) == 0 {
			continue
		}

		key := strings.ToLower(name)
		e.attrs[key] = append(e.attrs[key], values...)
	}

	return e
}

// NewUserEntry creates an empty entry that does not exist in the directory yet.
// Commit adds it instead of modifying it.
func NewUserEntry(dn string) *Entry {
	e := NewEntry(dn, nil)
	e.isNew = true

	return e
}

// IsNew reports whether the entry does not exist in the directory yet.
func (e *Entry) IsNew() bool {
	return e.isNew
}

// Get returns a copy of the committed values of attr.
func (e *Entry) Get(attr string) []string {
	return slices.Clone(e.attrs[strings.ToLower(attr)])
}

// First returns the first committed value of attr or "".
func (e *Entry) First(attr string) string {
	if v := e.attrs[strings.ToLower(attr)]; len(v) > 0 {
		return v[0]
	}

	return ""
}

// Has reports whether attr holds value.
func (e *Entry) Has(attr, value string) bool {
	return slices.Contains(e.attrs[strings.ToLower(attr)], value)
}

// Staged returns the values of attr as they will be after a successful commit.
func (e *Entry) Staged(attr string) []string {
	key := strings.ToLower(attr)
	projected := applyChanges(map[string][]string{key: e.attrs[key]}, e.changes)

	return projected[key]
}

// Replace stages replacing all values of attr.
func (e *Entry) Replace(attr string, values ...string) {
	e.changes = append(e.changes, Change{Op: OpReplace, Attribute: attr, Values: slices.Clone(values)})
}

// Add stages adding values to attr. Adding nothing is a no-op.
func (e *Entry) Add(attr string, values ...string) {
	if len(values) == 0 {
		return
	}

	e.changes = append(e.changes, Change{Op: OpAdd, Attribute: attr, Values: slices.Clone(values)})
}

// Delete stages removing values from attr, or the whole attribute when no value is given.
func (e *Entry) Delete(attr string, values ...string) {
	e.changes = append(e.changes, Change{Op: OpDelete, Attribute: attr, Values: slices.Clone(values)})
}

// Changes returns the staged change set.
func (e *Entry) Changes() []Change {
	return slices.Clone(e.changes)
}

// Dirty reports whether a commit would write anything.
func (e *Entry) Dirty() bool {
	return e.isNew || len(e.changes) > 0
}

// Attributes returns the projected attribute set, committed values with the change set applied.
func (e *Entry) Attributes() map[string][]string {
	return applyChanges(e.attrs, e.changes)
}

// MarkCommitted folds the change set into the committed values.
// Directory implementations call it after the write succeeded.
func (e *Entry) MarkCommitted() {
	e.attrs = applyChanges(e.attrs, e.changes)
	e.changes = nil
	e.isNew = false
}

// Discard drops the change set.
func (e *Entry) Discard() {
	e.changes = nil
}

func applyChanges(attrs map[string][]string, changes []Change) map[string][]string {
	out := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		if len(v) > 0 {
			out[k] = slices.Clone(v)
		}
	}

	for _, c := range changes {
		key := strings.ToLower(c.Attribute)

		switch c.Op {
		case OpReplace:
			out[key] = slices.Clone(c.Values)
		case OpAdd:
			for _, v := range c.Values {
				if !slices.Contains(out[key], v) {
					out[key] = append(out[key], v)
				}
			}
		case OpDelete:
			if len(c.Values) == 0 {
				delete(out, key)
				continue
			}

			out[key] = slices.DeleteFunc(out[key], func(v string) bool {
				return slices.Contains(c.Values, v)
			})
		}

		if len(out[key]) == 0 {
			delete(out, key)
		}
	}

	return out
}

// sortedNames returns the attribute names of attrs in stable order.
func sortedNames(attrs map[string][]string) []string {
	return slices.Sorted(maps.Keys(attrs))
}
