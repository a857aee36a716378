// Package plan models the ordered execution plan pabot runs: units (suites,
// tests, groups), wait barriers, sleep hints, and the dependency edges
// between units. The plan is the canonical sequential projection of a run;
// the scheduler in internal/scheduler consumes it.
package plan

import (
	"fmt"
	"strings"

	"github.com/pabot-dev/pabot/internal/errors"
)

// Kind identifies what a Unit dispatches.
type Kind int

const (
	// KindSuite runs one suite in a subprocess.
	KindSuite Kind = iota
	// KindTest runs one test in a subprocess.
	KindTest
	// KindGroup runs an ordered bundle of suites or tests in one subprocess.
	KindGroup
)

// String returns the selector name used on the runner command line.
func (k Kind) String() string {
	switch k {
	case KindSuite:
		return "suite"
	case KindTest:
		return "test"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Unit is one dispatchable work item. IDs are assigned monotonically at plan
// expansion and are stable across re-execution from the same cache.
type Unit struct {
	ID   int
	Kind Kind
	// Name is the fully-qualified dotted identifier. For groups it is
	// synthesized from member names joined with underscores.
	Name string
	// Depends holds the #DEPENDS names as written; DependsOn holds the
	// resolved unit IDs after Plan.resolve.
	Depends   []string
	DependsOn []int
	// Sleep is the startup delay in seconds, attached from a #SLEEP hint.
	Sleep int
	// Members is non-empty only for KindGroup; members run sequentially
	// inside a single subprocess.
	Members []*Unit
	// ArgfileIndex is the numeric suffix of the --argumentfileN flag this
	// unit runs under, or "" when no argument file variants exist.
	ArgfileIndex string
	// QueueIndex is assigned at dispatch time, unique per execution.
	QueueIndex int
}

// Line renders the unit back into ordering-file syntax.
func (u *Unit) Line() string {
	if u.Kind == KindGroup {
		var sb strings.Builder
		sb.WriteString("{\n")
		for _, m := range u.Members {
			sb.WriteString(m.Line())
			sb.WriteString("\n")
		}
		sb.WriteString("}")
		return sb.String()
	}
	line := "--" + u.Kind.String() + " " + u.Name
	for _, d := range u.Depends {
		line += " #DEPENDS " + d
	}
	return line
}

// Selectors returns the runner selector flags for this unit. A group clears
// any inherited suite/test selection and lists only its members so nothing
// executes twice.
func (u *Unit) Selectors() []string {
	if u.Kind != KindGroup {
		return []string{"--" + u.Kind.String(), u.Name}
	}
	var args []string
	for _, m := range u.Members {
		args = append(args, "--"+m.Kind.String(), m.Name)
	}
	return args
}

// addMember appends a member to a group, enforcing element-type homogeneity
// and folding the member's sleep into the group's (largest wins).
func (u *Unit) addMember(m *Unit) error {
	if len(u.Members) > 0 && u.Members[0].Kind != m.Kind {
		return errors.NewPlanError(
			"a group can contain only test or only suite entries, not both",
			"split mixed entries into separate { } groups")
	}
	if m.Sleep > u.Sleep {
		u.Sleep = m.Sleep
	}
	if u.Name == "" {
		u.Name = "Group"
	}
	u.Name += "_" + m.Name
	u.Members = append(u.Members, m)
	return nil
}

// Item is one parsed plan entry: a Unit, a WaitBarrier, or a SleepHint.
// Exactly one of the fields is meaningful, discriminated by Type.
type Item struct {
	Type  ItemType
	Unit  *Unit
	Sleep int
}

// ItemType discriminates Item.
type ItemType int

const (
	// ItemUnit dispatches a unit.
	ItemUnit ItemType = iota
	// ItemWait is a total barrier: nothing after it starts until
	// everything before it has completed.
	ItemWait
	// ItemSleep attaches a startup delay to the next unit or group.
	ItemSleep
)

// Line renders the item back into ordering-file syntax.
func (i Item) Line() string {
	switch i.Type {
	case ItemWait:
		return "#WAIT"
	case ItemSleep:
		return fmt.Sprintf("#SLEEP %d", i.Sleep)
	default:
		return i.Unit.Line()
	}
}

// Plan is the parsed, validated execution plan.
type Plan struct {
	Items []Item
	// units indexes runnable units (including groups) by id.
	units map[int]*Unit
	// byName indexes non-group units by fully-qualified name.
	byName map[string][]*Unit
	nextID int
}

// NewPlan creates an empty plan.
func NewPlan() *Plan {
	return &Plan{
		units:  make(map[int]*Unit),
		byName: make(map[string][]*Unit),
	}
}

// Units returns all dispatchable units (groups count as one) in plan order.
func (p *Plan) Units() []*Unit {
	var out []*Unit
	for _, item := range p.Items {
		if item.Type == ItemUnit {
			out = append(out, item.Unit)
		}
	}
	return out
}

// Unit returns the unit with the given id, or nil.
func (p *Plan) Unit(id int) *Unit {
	return p.units[id]
}

// register assigns the next id to u and indexes it.
func (p *Plan) register(u *Unit) {
	u.ID = p.nextID
	p.nextID++
	p.units[u.ID] = u
	if u.Kind != KindGroup {
		p.byName[u.Name] = append(p.byName[u.Name], u)
	}
}

// appendUnit registers and appends a unit item.
func (p *Plan) appendUnit(u *Unit) {
	p.register(u)
	p.Items = append(p.Items, Item{Type: ItemUnit, Unit: u})
}
