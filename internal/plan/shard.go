package plan

import (
	"github.com/pabot-dev/pabot/internal/errors"
)

// SolveShard keeps only the shard'th slice (1-based) of the plan's units,
// split into count near-equal contiguous slices in plan order. Barriers
// between retained units survive; a dependency pointing outside the shard is
// a plan error since the dependent could never start.
func SolveShard(p *Plan, shard, count int) (*Plan, error) {
	if count <= 1 {
		return p, nil
	}
	if shard < 1 || shard > count {
		return nil, errors.NewPlanErrorf("shard index %d is outside 1..%d", shard, count)
	}

	units := p.Units()
	q, r := len(units)/count, len(units)%count
	start := (shard-1)*q + min(shard-1, r)
	end := shard*q + min(shard, r)

	keep := make(map[int]bool, end-start)
	for _, u := range units[start:end] {
		keep[u.ID] = true
	}

	out := NewPlan()
	for _, item := range p.Items {
		switch item.Type {
		case ItemWait:
			out.Items = append(out.Items, item)
		case ItemUnit:
			if !keep[item.Unit.ID] {
				continue
			}
			for _, dep := range item.Unit.DependsOn {
				if !keep[dep] {
					return nil, errors.NewPlanErrorf(
						"%q depends on %q which falls outside shard %d/%d",
						item.Unit.Name, p.units[dep].Name, shard, count)
				}
			}
			clone := cloneForShard(item.Unit)
			for _, m := range clone.Members {
				out.register(m)
			}
			out.appendUnit(clone)
		}
	}
	out.Items = tidyWaits(out.Items)
	if err := out.resolve(); err != nil {
		return nil, err
	}
	return out, nil
}

// cloneForShard copies a unit without its resolved ids, which are
// reassigned in the sharded plan. Group members are copied too so the new
// plan can index them independently.
func cloneForShard(u *Unit) *Unit {
	clone := *u
	clone.DependsOn = nil
	clone.Members = nil
	for _, m := range u.Members {
		member := *m
		member.DependsOn = nil
		clone.Members = append(clone.Members, &member)
	}
	return &clone
}

// tidyWaits removes barriers that no longer separate units.
func tidyWaits(items []Item) []Item {
	var out []Item
	for _, item := range items {
		if item.Type == ItemWait && (len(out) == 0 || out[len(out)-1].Type == ItemWait) {
			continue
		}
		out = append(out, item)
	}
	for len(out) > 0 && out[len(out)-1].Type == ItemWait {
		out = out[:len(out)-1]
	}
	return out
}

// Chunk bundles the plan's units into at most processes groups of near-equal
// size, each executed sequentially by one subprocess. Chunking flattens
// barriers, and each chunk waits the largest sleep among its members; it is
// mutually exclusive with
// dependency edges, which cannot be honored inside opaque chunks.
func Chunk(p *Plan, processes int) (*Plan, error) {
	units := p.Units()
	for _, u := range units {
		if len(u.DependsOn) > 0 {
			return nil, errors.NewPlanError("--chunk cannot be combined with #DEPENDS annotations")
		}
		if u.Kind == KindGroup {
			return nil, errors.NewPlanError("--chunk cannot be combined with { } groups")
		}
	}
	if processes < 1 {
		processes = 1
	}

	out := NewPlan()
	q, r := len(units)/processes, len(units)%processes
	for i := 0; i < processes; i++ {
		start := i*q + min(i, r)
		end := (i+1)*q + min(i+1, r)
		if start == end {
			continue
		}
		group := &Unit{Kind: KindGroup}
		for _, u := range units[start:end] {
			member := *u
			member.DependsOn = nil
			out.register(&member)
			if err := group.addMember(&member); err != nil {
				return nil, err
			}
		}
		out.appendUnit(group)
	}
	return out, nil
}
