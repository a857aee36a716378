package plan

import (
	"strings"

	"github.com/pabot-dev/pabot/internal/errors"
)

// resolve maps #DEPENDS names to dispatchable unit ids and rejects
// unresolved or ambiguous references and dependency cycles.
func (p *Plan) resolve() error {
	// A dependency on a group member resolves to the enclosing group:
	// members complete only when their group's subprocess does.
	owner := make(map[int]int)
	for _, item := range p.Items {
		if item.Type != ItemUnit || item.Unit.Kind != KindGroup {
			continue
		}
		for _, m := range item.Unit.Members {
			owner[m.ID] = item.Unit.ID
		}
	}

	dispatchable := p.Units()
	for _, u := range dispatchable {
		targets := u.Depends
		if u.Kind == KindGroup {
			// Member dependencies pointing outside the group become
			// dependencies of the group itself.
			targets = nil
			for _, m := range u.Members {
				targets = append(targets, m.Depends...)
			}
		}
		u.DependsOn = u.DependsOn[:0]
		seen := make(map[int]bool)
		for _, name := range targets {
			matches := p.byName[name]
			switch {
			case len(matches) == 0:
				return errors.NewPlanErrorf("unresolved #DEPENDS reference %q for %q", name, u.Name)
			case len(matches) > 1:
				return errors.NewPlanErrorf(
					"#DEPENDS reference %q for %q is ambiguous, use the fully qualified dotted name",
					name, u.Name)
			}
			id := matches[0].ID
			if g, ok := owner[id]; ok {
				id = g
			}
			if u.Kind == KindGroup && id == u.ID {
				continue // intra-group edge, handled by member ordering
			}
			if !seen[id] {
				seen[id] = true
				u.DependsOn = append(u.DependsOn, id)
			}
		}
	}
	return p.checkCycles(dispatchable)
}

// checkCycles runs a DFS over the dependency edges and reports the first
// cycle found, naming its members.
func (p *Plan) checkCycles(units []*Unit) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	state := make(map[int]int)
	var stack []int

	var visit func(id int) []int
	visit = func(id int) []int {
		state[id] = gray
		stack = append(stack, id)
		for _, dep := range p.units[id].DependsOn {
			switch state[dep] {
			case gray:
				// Back edge: slice the current path from dep onward.
				for i, v := range stack {
					if v == dep {
						return append(stack[i:len(stack):len(stack)], dep)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = black
		return nil
	}

	for _, u := range units {
		if state[u.ID] != white {
			continue
		}
		stack = stack[:0]
		if cycle := visit(u.ID); cycle != nil {
			names := make([]string, len(cycle))
			for i, id := range cycle {
				names[i] = p.units[id].Name
			}
			return errors.NewPlanErrorf("cyclic #DEPENDS chain: %s", strings.Join(names, " -> "))
		}
	}
	return nil
}

// orderMembersByDepends reorders group members so that every member runs
// after the members it depends on, and rebuilds the group name to match.
// Only edges between members of the same group are considered here.
func (g *Unit) orderMembersByDepends() error {
	byName := make(map[string]*Unit, len(g.Members))
	for _, m := range g.Members {
		byName[m.Name] = m
	}

	hasInternalDeps := false
	for _, m := range g.Members {
		for _, d := range m.Depends {
			if _, ok := byName[d]; ok {
				hasInternalDeps = true
			}
		}
	}
	if !hasInternalDeps {
		return nil
	}

	// Stage expansion: pull in members whose internal dependencies have
	// all been placed; a round that places nothing means a cycle.
	placed := make(map[string]bool)
	var ordered []*Unit
	remaining := append([]*Unit(nil), g.Members...)
	for len(remaining) > 0 {
		var next, later []*Unit
		for _, m := range remaining {
			ready := true
			for _, d := range m.Depends {
				if _, internal := byName[d]; internal && !placed[d] {
					ready = false
					break
				}
			}
			if ready {
				next = append(next, m)
			} else {
				later = append(later, m)
			}
		}
		if len(next) == 0 {
			names := make([]string, len(later))
			for i, m := range later {
				names[i] = m.Name
			}
			return errors.NewPlanErrorf(
				"circular #DEPENDS between group members: %s", strings.Join(names, ", "))
		}
		for _, m := range next {
			placed[m.Name] = true
			ordered = append(ordered, m)
		}
		remaining = later
	}

	g.Members = ordered
	g.Name = "Group"
	for _, m := range ordered {
		g.Name += "_" + m.Name
	}
	return nil
}
