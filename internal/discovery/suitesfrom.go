package discovery

import (
	"sort"
	"time"
)

// suiteStat is what a previous run's output tells us about one suite.
type suiteStat struct {
	failed  bool
	elapsed time.Duration
}

// statsFromOutput walks a previous output.xml and collects per-leaf-suite
// pass/fail state and duration.
func statsFromOutput(path string) (map[string]suiteStat, error) {
	out, err := parseOutputXML(path)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]suiteStat)
	var walk func(s suiteXML, prefix string)
	walk = func(s suiteXML, prefix string) {
		name := s.Name
		if prefix != "" {
			name = prefix + "." + s.Name
		}
		if len(s.Tests) > 0 {
			stats[name] = suiteStat{
				failed:  s.Status.Status == "FAIL",
				elapsed: statusElapsed(s.Status),
			}
		}
		for _, child := range s.Suites {
			walk(child, name)
		}
	}
	walk(out.Suite, "")
	return stats, nil
}

// timestampLayout is the runner's output.xml timestamp format.
const timestampLayout = "20060102 15:04:05.000"

func statusElapsed(st statusXML) time.Duration {
	if st.Elapsed != "" {
		if d, err := time.ParseDuration(st.Elapsed + "s"); err == nil {
			return d
		}
	}
	start, err1 := time.Parse(timestampLayout, st.StartTime)
	end, err2 := time.Parse(timestampLayout, st.EndTime)
	if err1 != nil || err2 != nil {
		return 0
	}
	return end.Sub(start)
}

// OrderBySuitesFrom reorders suite names using a previous run's output:
// failed suites come first, the rest sort by observed duration descending so
// long suites start early. Suites unknown to the previous run keep their
// relative position at the end. The sort is stable.
func OrderBySuitesFrom(names []string, outputPath string) ([]string, error) {
	stats, err := statsFromOutput(outputPath)
	if err != nil {
		return nil, err
	}
	ordered := append([]string(nil), names...)
	sort.SliceStable(ordered, func(i, j int) bool {
		si, iKnown := stats[ordered[i]]
		sj, jKnown := stats[ordered[j]]
		switch {
		case si.failed != sj.failed:
			return si.failed
		case iKnown != jKnown:
			return iKnown
		default:
			return si.elapsed > sj.elapsed
		}
	})
	return ordered, nil
}
