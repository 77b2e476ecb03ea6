package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCycleDetected is returned when the plan contains a cycle, making
// topological sorting impossible.
var ErrCycleDetected = errors.New("cycle detected in dependency graph")

// CycleInfo describes the tables left over after Kahn's algorithm stalls.
type CycleInfo struct {
	TotalNodes        int      // Total number of nodes in the graph
	ProcessedNodes    int      // Number of nodes successfully processed
	UnprocessedNodes  []string // Nodes part of or blocked by a cycle
	CycleParticipants []string // Nodes that are actually part of a cycle
	CyclePath         []string // Ordered path showing the cycle (e.g., [A, B, A])
}

// CycleError reports which tables are in a cycle and which it blocks.
type CycleError struct {
	Info *CycleInfo
}

func (e *CycleError) Error() string {
	msg := fmt.Sprintf("cycle detected in dependency graph: %d of %d tables could not be processed",
		len(e.Info.UnprocessedNodes), e.Info.TotalNodes)

	if len(e.Info.CyclePath) > 0 {
		msg += fmt.Sprintf("\nCycle path: %s", strings.Join(e.Info.CyclePath, " -> "))
	}

	if len(e.Info.CycleParticipants) > 0 {
		msg += fmt.Sprintf("\nTables in cycle: %s", strings.Join(e.Info.CycleParticipants, ", "))
	}

	participantSet := make(map[string]bool)
	for _, p := range e.Info.CycleParticipants {
		participantSet[p] = true
	}
	var blocked []string
	for _, u := range e.Info.UnprocessedNodes {
		if !participantSet[u] {
			blocked = append(blocked, u)
		}
	}
	if len(blocked) > 0 {
		msg += fmt.Sprintf("\nTables blocked by cycle: %s", strings.Join(blocked, ", "))
	}

	return msg
}

// Unwrap lets callers test for ErrCycleDetected.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// CalculateInDegrees computes the number of incoming edges for each node.
func (g *Graph) CalculateInDegrees() map[string]int {
	inDegree := make(map[string]int, len(g.Nodes))
	for name := range g.Nodes {
		inDegree[name] = len(g.Parents[name])
	}
	return inDegree
}

// kahn runs Kahn's algorithm. Ready nodes are taken in insertion order so the
// result is stable from run to run.
func (g *Graph) kahn() ([]string, map[string]bool) {
	inDegree := g.CalculateInDegrees()

	var queue []string
	for _, name := range g.order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var result []string
	processed := make(map[string]bool, len(g.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		result = append(result, node)
		processed[node] = true

		for _, child := range g.GetChildren(node) {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	return result, processed
}

// DetectIncompleteProcessing returns nil when every node can be ordered,
// otherwise a description of the nodes a cycle left behind.
func (g *Graph) DetectIncompleteProcessing() *CycleInfo {
	_, processed := g.kahn()
	if len(processed) == len(g.Nodes) {
		return nil
	}

	unprocessedSet := make(map[string]bool)
	var unprocessed []string
	for _, name := range g.order {
		if !processed[name] {
			unprocessed = append(unprocessed, name)
			unprocessedSet[name] = true
		}
	}

	var participants []string
	for _, node := range unprocessed {
		if g.canReachSelf(node, unprocessedSet) {
			participants = append(participants, node)
		}
	}

	var cyclePath []string
	if len(participants) > 0 {
		cyclePath = g.FindCyclePath(participants[0], unprocessedSet)
	}

	return &CycleInfo{
		TotalNodes:        len(g.Nodes),
		ProcessedNodes:    len(processed),
		UnprocessedNodes:  unprocessed,
		CycleParticipants: participants,
		CyclePath:         cyclePath,
	}
}

// HasCycle returns true if the plan contains a cycle.
func (g *Graph) HasCycle() bool {
	return g.DetectIncompleteProcessing() != nil
}

// FindCyclePath returns the nodes of a cycle through start, with start at
// both ends, or nil if there is none inside allowedNodes.
func (g *Graph) FindCyclePath(start string, allowedNodes map[string]bool) []string {
	visited := make(map[string]bool)
	path := []string{start}
	if g.dfsFindPath(start, start, visited, allowedNodes, &path) {
		return path
	}
	return nil
}

func (g *Graph) dfsFindPath(current, target string, visited, allowedNodes map[string]bool, path *[]string) bool {
	for _, child := range g.GetChildren(current) {
		if !allowedNodes[child] {
			continue
		}
		if child == target {
			*path = append(*path, target)
			return true
		}
		if visited[child] {
			continue
		}
		visited[child] = true
		*path = append(*path, child)
		if g.dfsFindPath(child, target, visited, allowedNodes, path) {
			return true
		}
		*path = (*path)[:len(*path)-1]
	}
	return false
}

func (g *Graph) canReachSelf(start string, allowedNodes map[string]bool) bool {
	visited := make(map[string]bool)
	return g.dfsCanReach(start, start, visited, allowedNodes, true)
}

func (g *Graph) dfsCanReach(current, target string, visited, allowedNodes map[string]bool, isStart bool) bool {
	if current == target && !isStart {
		return true
	}
	if visited[current] || !allowedNodes[current] {
		return false
	}
	visited[current] = true
	for _, child := range g.GetChildren(current) {
		if g.dfsCanReach(child, target, visited, allowedNodes, false) {
			return true
		}
	}
	return false
}

// TopologicalSort returns tables parents-first using Kahn's algorithm.
func (g *Graph) TopologicalSort() ([]string, error) {
	result, processed := g.kahn()
	if len(processed) != len(g.Nodes) {
		return nil, &CycleError{Info: g.DetectIncompleteProcessing()}
	}
	return result, nil
}

// CopyOrder returns the tables to copy, parents first, without the seed node.
func (g *Graph) CopyOrder() ([]string, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, len(order))
	for _, name := range order {
		if !g.Nodes[name].IsRoot {
			tables = append(tables, name)
		}
	}
	return tables, nil
}

// Validate checks the graph for cycles.
func (g *Graph) Validate() error {
	if info := g.DetectIncompleteProcessing(); info != nil {
		return &CycleError{Info: info}
	}
	return nil
}
