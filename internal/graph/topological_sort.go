package graph

import (
	"fmt"
)

type Node interface {
	GetName() string
	GetDependencies() []string
}

// TopologicalSort orders nodes so every node comes after its dependencies.
// Nodes keep their input order unless a dependency forces otherwise.
func TopologicalSort(nodes []Node) ([]string, error) {
	byName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, dup := byName[n.GetName()]; dup {
			return nil, fmt.Errorf("duplicate node %s", n.GetName())
		}
		byName[n.GetName()] = n
	}

	visited := make(map[string]bool)
	visiting := make(map[string]bool)
	result := make([]string, 0, len(nodes))

	var visit func(string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if visiting[name] {
			return fmt.Errorf("cycle detected in dependencies involving %s", name)
		}

		node, exists := byName[name]
		if !exists {
			return fmt.Errorf("node %s not found", name)
		}

		visiting[name] = true

		for _, dep := range node.GetDependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}

		visiting[name] = false
		visited[name] = true
		result = append(result, name)
		return nil
	}

	for _, n := range nodes {
		if err := visit(n.GetName()); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func ValidateGraph(nodes []Node) error {
	names := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		names[n.GetName()] = true
	}
	for _, n := range nodes {
		for _, dep := range n.GetDependencies() {
			if !names[dep] {
				return fmt.Errorf("node %s depends on %s which does not exist", n.GetName(), dep)
			}
		}
	}
	return nil
}
