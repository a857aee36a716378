package merger

import (
	"sort"
)

// natSort orders strings with embedded numbers by numeric value, so
// pabot_results/10 sorts after pabot_results/9. Worker directories are
// named by queue index and the merge wants them in dispatch order.
func natSort(items []string) {
	sort.SliceStable(items, func(i, j int) bool {
		return natLess(items[i], items[j])
	})
}

func natLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			na, ni := takeNumber(a, i)
			nb, nj := takeNumber(b, j)
			if na != nb {
				return na < nb
			}
			i, j = ni, nj
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	return len(a)-i < len(b)-j
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// takeNumber parses the digit run starting at i, returning its value and
// the index after it.
func takeNumber(s string, i int) (uint64, int) {
	var n uint64
	for i < len(s) && isDigit(s[i]) {
		n = n*10 + uint64(s[i]-'0')
		i++
	}
	return n, i
}
