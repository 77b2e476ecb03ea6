// Package graph models a snapshot plan: registry tables connected by the key
// columns whose collected values filter the rows copied from a child table.
package graph

// Node represents a table in the plan.
type Node struct {
	Name         string // Table name
	FilterColumn string // column restricted to the collected keys (empty copies the whole table)
	IsRoot       bool   // True for the seed key set, which is not itself copied
}

// Edge represents a dependency relationship between tables.
type Edge struct {
	From string // Parent table name
	To   string // Child table name
}

// EdgeMeta lists the parent columns whose values feed the child's filter.
type EdgeMeta struct {
	SourceColumns []string
}

// Graph represents the complete dependency structure of a snapshot.
type Graph struct {
	Nodes        map[string]*Node    // table name -> node
	Children     map[string][]string // table name -> child table names (outgoing edges)
	Parents      map[string][]string // table name -> parent table names (incoming edges)
	Root         string              // Seed node name
	RootKey      string              // Column name the seed values are exposed as
	order        []string            // insertion order, keeps sorting deterministic
	edgeMetadata map[Edge]*EdgeMeta
}

// NewGraph creates a graph whose seed node exposes its values as rootKey.
func NewGraph(root, rootKey string) *Graph {
	g := &Graph{
		Nodes:        make(map[string]*Node),
		Children:     make(map[string][]string),
		Parents:      make(map[string][]string),
		Root:         root,
		RootKey:      rootKey,
		edgeMetadata: make(map[Edge]*EdgeMeta),
	}
	g.AddNode(root, &Node{IsRoot: true})
	return g
}

// AddNode adds a table node to the graph.
// If node is nil, a new node with default values is created.
func (g *Graph) AddNode(name string, node *Node) {
	if node == nil {
		node = &Node{}
	}
	node.Name = name
	if _, exists := g.Nodes[name]; !exists {
		g.order = append(g.order, name)
	}
	g.Nodes[name] = node
}

// AddEdge records that child is filtered by values of sourceColumn in parent.
// Repeated calls for the same pair add further source columns to one edge.
func (g *Graph) AddEdge(parent, child, sourceColumn string) {
	edge := Edge{From: parent, To: child}
	meta, exists := g.edgeMetadata[edge]
	if !exists {
		meta = &EdgeMeta{}
		g.edgeMetadata[edge] = meta
		g.Children[parent] = append(g.Children[parent], child)
		g.Parents[child] = append(g.Parents[child], parent)
	}
	for _, c := range meta.SourceColumns {
		if c == sourceColumn {
			return
		}
	}
	meta.SourceColumns = append(meta.SourceColumns, sourceColumn)
}

// GetChildren returns all direct children of a table.
func (g *Graph) GetChildren(parent string) []string {
	return g.Children[parent]
}

// GetParents returns all direct parents of a table.
func (g *Graph) GetParents(child string) []string {
	return g.Parents[child]
}

// GetNode returns the node for a given table name, or nil if not found.
func (g *Graph) GetNode(name string) *Node {
	return g.Nodes[name]
}

// GetEdgeMeta returns metadata for an edge, or nil if not found.
func (g *Graph) GetEdgeMeta(parent, child string) *EdgeMeta {
	return g.edgeMetadata[Edge{From: parent, To: child}]
}

// HasNode returns true if the graph contains a node with the given name.
func (g *Graph) HasNode(name string) bool {
	_, exists := g.Nodes[name]
	return exists
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.Nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.edgeMetadata)
}

// AllNodes returns every table name in insertion order.
func (g *Graph) AllNodes() []string {
	return append([]string(nil), g.order...)
}

// InDegree returns the number of incoming edges (parents) for a node.
func (g *Graph) InDegree(name string) int {
	return len(g.Parents[name])
}
