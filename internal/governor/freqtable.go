package governor

import (
	"errors"
	"fmt"
)

// InvalidFrequency marks a table entry that must be skipped.
const InvalidFrequency = ^uint(0)

var errNoFrequency = errors.New("no usable frequency in table")

// FrequencyEntry is one selectable operating point.
type FrequencyEntry struct {
	Index     int
	Frequency uint
}

// FrequencyTable lists the operating points of a policy in driver order.
type FrequencyTable []FrequencyEntry

// Target returns the position of the entry matching target under rel,
// considering only valid entries within [minFreq, maxFreq]. When no entry
// satisfies rel, the closest entry on the other side is used.
func (t FrequencyTable) Target(minFreq, maxFreq, target uint, rel Relation) (int, error) {
	optimal, suboptimal := -1, -1

	for pos, entry := range t {
		freq := entry.Frequency
		if freq == InvalidFrequency || freq < minFreq || freq > maxFreq {
			continue
		}

		switch rel {
		case RelationH:
			if freq <= target {
				if optimal < 0 || freq >= t[optimal].Frequency {
					optimal = pos
				}
			} else if suboptimal < 0 || freq <= t[suboptimal].Frequency {
				suboptimal = pos
			}
		default:
			if freq >= target {
				if optimal < 0 || freq <= t[optimal].Frequency {
					optimal = pos
				}
			} else if suboptimal < 0 || freq >= t[suboptimal].Frequency {
				suboptimal = pos
			}
		}
	}

	if optimal >= 0 {
		return optimal, nil
	}
	if suboptimal >= 0 {
		return suboptimal, nil
	}

	return -1, fmt.Errorf("target %d kHz within [%d, %d]: %w", target, minFreq, maxFreq, errNoFrequency)
}

// resolve rounds target down to a table entry. When target lies above cur but
// rounding down would not move above cur, it rounds up instead so that small
// up steps are not swallowed by coarse tables.
func (t FrequencyTable) resolve(minFreq, maxFreq, target, cur uint) (uint, error) {
	pos, err := t.Target(minFreq, maxFreq, target, RelationH)
	if err != nil {
		return 0, err
	}

	if target > cur && t[pos].Frequency <= cur {
		if pos, err = t.Target(minFreq, maxFreq, target, RelationL); err != nil {
			return 0, err
		}
	}

	return t[pos].Frequency, nil
}
