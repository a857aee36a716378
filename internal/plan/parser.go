package plan

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pabot-dev/pabot/internal/errors"
)

const dependsKeyword = "#DEPENDS"

// maxSleepSeconds bounds #SLEEP hints to one hour.
const maxSleepSeconds = 3600

// WarnFunc receives non-fatal parser diagnostics, one message per call.
type WarnFunc func(msg string)

// Parser reads ordering-file syntax into a Plan.
type Parser struct {
	warn WarnFunc
}

// NewParser creates a parser. warn may be nil.
func NewParser(warn WarnFunc) *Parser {
	if warn == nil {
		warn = func(string) {}
	}
	return &Parser{warn: warn}
}

// Parse reads one item per line from r and returns the validated plan.
// Grammar:
//
//	--suite NAME [#DEPENDS NAME ...]
//	--test NAME [#DEPENDS NAME ...]
//	#WAIT
//	#SLEEP n
//	{ ... }
//
// Blank lines and unrecognized lines are ignored. Dependency names are
// resolved and checked for cycles before the plan is returned.
func (p *Parser) Parse(r io.Reader) (*Plan, error) {
	pl := NewPlan()
	var group *Unit
	pendingSleep := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "{":
			if group != nil {
				return nil, errors.NewPlanErrorf("line %d: nested { } groups are not supported", lineno)
			}
			group = &Unit{Kind: KindGroup}
			group.Sleep = pendingSleep
			pendingSleep = 0
		case line == "}":
			if group == nil {
				return nil, errors.NewPlanErrorf("line %d: } without a matching {", lineno)
			}
			if pendingSleep > 0 {
				p.warn(fmt.Sprintf("line %d: #SLEEP not followed by a suite or test, ignoring", lineno))
				pendingSleep = 0
			}
			if len(group.Members) == 0 {
				p.warn(fmt.Sprintf("line %d: empty group ignored", lineno))
			} else {
				if err := group.orderMembersByDepends(); err != nil {
					return nil, err
				}
				pl.appendUnit(group)
			}
			group = nil
		case line == "#WAIT":
			if pendingSleep > 0 {
				p.warn(fmt.Sprintf("line %d: #SLEEP before #WAIT applies to nothing, ignoring", lineno))
				pendingSleep = 0
			}
			if group != nil {
				// Members already run sequentially in one subprocess,
				// so a barrier inside a group adds nothing.
				p.warn(fmt.Sprintf("line %d: #WAIT inside a group has no effect", lineno))
				continue
			}
			pl.Items = append(pl.Items, Item{Type: ItemWait})
		case strings.HasPrefix(line, "#SLEEP "):
			n, err := parseSleep(strings.TrimSpace(line[len("#SLEEP "):]))
			if err != nil {
				return nil, errors.NewPlanErrorf("line %d: %v", lineno, err)
			}
			pendingSleep = n
		case strings.HasPrefix(line, "--suite "):
			u, err := parseRunnable(KindSuite, line[len("--suite "):])
			if err != nil {
				return nil, errors.NewPlanErrorf("line %d: %v", lineno, err)
			}
			u.Sleep = pendingSleep
			pendingSleep = 0
			if group != nil {
				if err := group.addMember(u); err != nil {
					return nil, err
				}
				pl.register(u)
			} else {
				pl.appendUnit(u)
			}
		case strings.HasPrefix(line, "--test "):
			u, err := parseRunnable(KindTest, line[len("--test "):])
			if err != nil {
				return nil, errors.NewPlanErrorf("line %d: %v", lineno, err)
			}
			u.Sleep = pendingSleep
			pendingSleep = 0
			if group != nil {
				if err := group.addMember(u); err != nil {
					return nil, err
				}
				pl.register(u)
			} else {
				pl.appendUnit(u)
			}
		default:
			// Not part of the grammar. Old cache files may carry other
			// annotations; skip them rather than fail the whole plan.
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapWithMessage(err, errors.Plan, "reading ordering data")
	}
	if group != nil {
		return nil, errors.NewPlanError("unterminated { } group at end of input")
	}
	if pendingSleep > 0 {
		p.warn("#SLEEP at end of input applies to nothing, ignoring")
	}
	if err := pl.resolve(); err != nil {
		return nil, err
	}
	return pl, nil
}

// parseRunnable splits "NAME [#DEPENDS X ...]" into a suite or test unit.
func parseRunnable(kind Kind, rest string) (*Unit, error) {
	parts := strings.Split(rest, dependsKeyword)
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return nil, fmt.Errorf("%s name cannot be empty before %s", kind, dependsKeyword)
	}
	u := &Unit{Kind: kind, Name: name}
	for _, dep := range parts[1:] {
		dep = strings.TrimSpace(dep)
		if dep == "" {
			return nil, fmt.Errorf("%s requires a name", dependsKeyword)
		}
		u.Depends = append(u.Depends, dep)
	}
	return u, nil
}

func parseSleep(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("#SLEEP value %q is not an integer", value)
	}
	if n < 0 || n > maxSleepSeconds {
		return 0, fmt.Errorf("#SLEEP value %d is not between 0 and %d", n, maxSleepSeconds)
	}
	return n, nil
}
