package graph

import (
	"fmt"

	"github.com/dbsmedya/regstage/internal/sqlutil"
)

// KeyRef names a column of a table in the plan.
type KeyRef struct {
	Table  string
	Column string
}

// TableSpec declares one table of a snapshot plan. A table with no From
// references and no filter column is copied whole.
type TableSpec struct {
	Table        string
	FilterColumn string
	From         []KeyRef
}

// Builder constructs a plan graph from table declarations.
type Builder struct {
	root    string
	rootKey string
	specs   []TableSpec
}

// NewBuilder creates a builder whose seed node is root, exposing its values
// under rootKey.
func NewBuilder(root, rootKey string, specs []TableSpec) *Builder {
	return &Builder{root: root, rootKey: rootKey, specs: specs}
}

// Build validates the declarations and returns the graph. Declarations may
// reference tables declared later; cycles are rejected.
func (b *Builder) Build() (*Graph, error) {
	if b.root == "" {
		return nil, fmt.Errorf("root is not specified")
	}
	if !sqlutil.IsValidIdentifier(b.rootKey) {
		return nil, &sqlutil.InvalidIdentifierError{Name: b.rootKey}
	}

	g := NewGraph(b.root, b.rootKey)

	for _, spec := range b.specs {
		if !sqlutil.IsValidIdentifier(spec.Table) {
			return nil, &sqlutil.InvalidIdentifierError{Name: spec.Table}
		}
		if g.HasNode(spec.Table) {
			return nil, fmt.Errorf("duplicate table %q in plan", spec.Table)
		}
		if len(spec.From) > 0 && spec.FilterColumn == "" {
			return nil, fmt.Errorf("filter column is not specified for table %q", spec.Table)
		}
		if spec.FilterColumn != "" {
			if !sqlutil.IsValidIdentifier(spec.FilterColumn) {
				return nil, &sqlutil.InvalidIdentifierError{Name: spec.FilterColumn}
			}
			if len(spec.From) == 0 {
				return nil, fmt.Errorf("table %q has a filter column but no key source", spec.Table)
			}
		}
		g.AddNode(spec.Table, &Node{FilterColumn: spec.FilterColumn})
	}

	for _, spec := range b.specs {
		for _, ref := range spec.From {
			if !g.HasNode(ref.Table) {
				return nil, fmt.Errorf("table %q references unknown table %q", spec.Table, ref.Table)
			}
			column := ref.Column
			if ref.Table == b.root && column == "" {
				column = b.rootKey
			}
			if !sqlutil.IsValidIdentifier(column) {
				return nil, &sqlutil.InvalidIdentifierError{Name: column}
			}
			g.AddEdge(ref.Table, spec.Table, column)
		}
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}

	return g, nil
}
