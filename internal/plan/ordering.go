package plan

import (
	"strings"

	"github.com/pabot-dev/pabot/internal/errors"
)

// ApplyOrdering rearranges base according to a user-provided ordering plan.
// Ordering entries may use the fully qualified name or a trailing dotted
// suffix of it; every entry must match a unit in base, and units base knows
// but the ordering omits run after everything the ordering mentions. The
// ordering contributes its own barriers, groups, sleeps and dependency
// annotations.
func ApplyOrdering(base, ordering *Plan) (*Plan, error) {
	baseUnits := base.Units()
	if mentioned := countRunnables(ordering); mentioned > len(baseUnits) {
		return nil, errors.NewPlanError(
			"ordering file mentions more suites or tests than the plan contains",
			"remove duplicate entries from the ordering file",
			"regenerate .pabotsuitenames if the test tree changed")
	}

	used := make(map[int]bool)
	out := NewPlan()
	var resolveErr error
	cloneResolved := func(u *Unit) *Unit {
		full, err := matchUnit(baseUnits, used, u)
		if err != nil {
			resolveErr = err
			return nil
		}
		clone := *u
		clone.Name = full.Name
		clone.Kind = full.Kind
		clone.DependsOn = nil
		clone.Members = nil
		return &clone
	}

	for _, item := range ordering.Items {
		switch item.Type {
		case ItemWait:
			out.Items = append(out.Items, item)
		case ItemUnit:
			if item.Unit.Kind == KindGroup {
				group := &Unit{Kind: KindGroup, Sleep: item.Unit.Sleep}
				for _, m := range item.Unit.Members {
					member := cloneResolved(m)
					if member == nil {
						return nil, resolveErr
					}
					out.register(member)
					if err := group.addMember(member); err != nil {
						return nil, err
					}
				}
				out.appendUnit(group)
				continue
			}
			unit := cloneResolved(item.Unit)
			if unit == nil {
				return nil, resolveErr
			}
			out.appendUnit(unit)
		}
	}

	for _, u := range baseUnits {
		if !used[u.ID] {
			clone := *u
			clone.DependsOn = nil
			out.appendUnit(&clone)
		}
	}

	if err := out.resolve(); err != nil {
		return nil, err
	}
	return out, nil
}

func countRunnables(p *Plan) int {
	n := 0
	for _, item := range p.Items {
		if item.Type != ItemUnit {
			continue
		}
		if item.Unit.Kind == KindGroup {
			n += len(item.Unit.Members)
		} else {
			n++
		}
	}
	return n
}

// matchUnit finds the base unit an ordering entry refers to, by exact name
// or by dotted suffix, skipping units already claimed by earlier entries.
func matchUnit(baseUnits []*Unit, used map[int]bool, entry *Unit) (*Unit, error) {
	var match *Unit
	for _, u := range baseUnits {
		if used[u.ID] || u.Kind == KindGroup {
			continue
		}
		if u.Name == entry.Name || strings.HasSuffix(u.Name, "."+entry.Name) {
			if match != nil {
				return nil, errors.NewPlanErrorf(
					"ordering entry %q matches both %q and %q, use the fully qualified name",
					entry.Name, match.Name, u.Name)
			}
			match = u
		}
	}
	if match == nil {
		return nil, errors.NewPlanErrorf(
			"%s entry %q in the ordering file does not match any suite or test",
			entry.Kind, entry.Name)
	}
	used[match.ID] = true
	return match, nil
}
