package graph

import (
	"fmt"
	"io"
)

// DumpAllNodes writes the description of every node in insertion order,
// followed by the role sets.
func (net *Network) DumpAllNodes(w io.Writer, includeData bool) error {
	if err := DumpNodes(w, net.order, includeData); err != nil {
		return err
	}
	for _, role := range AllRoles {
		members := net.roles[role]
		if len(members) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s:", role); err != nil {
			return err
		}
		for _, m := range members {
			if _, err := fmt.Fprintf(w, " %s", m.Name()); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

// DumpNodes writes the description of each node.
func DumpNodes(w io.Writer, nodes []Node, includeData bool) error {
	for _, n := range nodes {
		if _, err := io.WriteString(w, n.Describe(includeData)); err != nil {
			return fmt.Errorf("dump %q: %w", n.Name(), err)
		}
	}
	return nil
}
