package command

import (
	"sort"
	"strings"
)

type node struct {
	name     string
	cmd      *Command
	hint     string // reply for a group invoked without a subcommand
	children map[string]*node
}

func newRoot() *node {
	return &node{children: map[string]*node{}}
}

func splitRoute(route string) []string {
	return strings.Fields(strings.ToLower(strings.TrimSpace(route)))
}

func (n *node) ensure(route []string) *node {
	cur := n
	for _, tok := range route {
		if cur.children == nil {
			cur.children = map[string]*node{}
		}
		next, ok := cur.children[tok]
		if !ok {
			next = &node{name: tok, children: map[string]*node{}}
			cur.children[tok] = next
		}
		cur = next
	}
	return cur
}

func (n *node) child(name string) (*node, bool) {
	c, ok := n.children[name]
	return c, ok
}

func (n *node) childNames() []string {
	out := make([]string, 0, len(n.children))
	for k := range n.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
