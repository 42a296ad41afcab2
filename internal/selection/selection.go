// Package selection tracks which deliveries an operator has picked across a
// paginated, filtered result set.
//
// The state is a tagged variant: either an explicit set of keys, or the
// "all matching filter" sentinel with an optional set of exclusions. The
// sentinel is never materialized; Resolve expands it against whatever dataset
// the caller passes in, so the selection follows the current results if they
// change between selecting and resolving.
package selection

import (
	"maps"
	"sort"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

// Mode identifies the active variant of the selection state.
type Mode int

const (
	ModeExplicit Mode = iota
	ModeAllMatching
)

func (m Mode) String() string {
	if m == ModeAllMatching {
		return "ALL_MATCHING_FILTER"
	}
	return "EXPLICIT"
}

// Manager owns the selection state for a single dataset. It is not safe for
// concurrent use; the owning workspace serializes access.
//
// In the sentinel variant, picked holds terminal rows chosen one by one and
// excluded holds eligible rows the operator opted out of.
type Manager struct {
	mode     Mode
	picked   map[int]struct{}
	excluded map[int]struct{}
}

func NewManager() *Manager {
	return &Manager{
		picked:   make(map[int]struct{}),
		excluded: make(map[int]struct{}),
	}
}

func (m *Manager) Mode() Mode { return m.mode }

// Clone returns an independent copy of the state.
func (m *Manager) Clone() *Manager {
	return &Manager{
		mode:     m.mode,
		picked:   maps.Clone(m.picked),
		excluded: maps.Clone(m.excluded),
	}
}

// Eligible reports whether a row may be picked up by a bulk selection.
func Eligible(d domain.DeliveryRecord) bool {
	return !d.Status.IsTerminal()
}

func (m *Manager) IsSelected(d domain.DeliveryRecord) bool {
	key := d.Key()
	if m.mode == ModeAllMatching && Eligible(d) {
		_, excluded := m.excluded[key]
		return !excluded
	}
	return m.Picked(key)
}

// Picked reports whether key was chosen individually.
func (m *Manager) Picked(key int) bool {
	_, ok := m.picked[key]
	return ok
}

// Toggle flips a single row, terminal or not.
func (m *Manager) Toggle(d domain.DeliveryRecord) {
	if m.mode == ModeAllMatching && Eligible(d) {
		flip(m.excluded, d.Key())
		return
	}
	flip(m.picked, d.Key())
}

// ToggleAllOnPage selects every eligible visible row, or deselects them when
// all of them are already selected. Keys outside the page are left alone.
func (m *Manager) ToggleAllOnPage(rows []domain.DeliveryRecord) {
	candidates := candidateKeys(rows)
	if len(candidates) == 0 {
		return
	}

	allSelected := true
	for _, key := range candidates {
		if !m.candidateSelected(key) {
			allSelected = false
			break
		}
	}

	for _, key := range candidates {
		switch {
		case m.mode == ModeAllMatching && allSelected:
			m.excluded[key] = struct{}{}
		case m.mode == ModeAllMatching:
			delete(m.excluded, key)
		case allSelected:
			delete(m.picked, key)
		default:
			m.picked[key] = struct{}{}
		}
	}
}

func (m *Manager) candidateSelected(key int) bool {
	if m.mode == ModeAllMatching {
		_, excluded := m.excluded[key]
		return !excluded
	}
	return m.Picked(key)
}

// SelectAllMatchingFilter switches to the sentinel variant. Individual picks
// are dropped.
func (m *Manager) SelectAllMatchingFilter() {
	m.mode = ModeAllMatching
	clear(m.picked)
	clear(m.excluded)
}

func (m *Manager) Clear() {
	m.mode = ModeExplicit
	clear(m.picked)
	clear(m.excluded)
}

// Remove deselects the given keys, leaving everything else as is.
func (m *Manager) Remove(keys ...int) {
	for _, key := range keys {
		delete(m.picked, key)
		if m.mode == ModeAllMatching {
			m.excluded[key] = struct{}{}
		}
	}
}

// Resolve returns the selected keys in ascending order. Picked keys are
// returned as-is, including keys from pages not present in snapshot. The
// sentinel adds every eligible row of snapshot minus exclusions.
func (m *Manager) Resolve(snapshot []domain.DeliveryRecord) []int {
	seen := make(map[int]struct{}, len(m.picked)+len(snapshot))
	keys := make([]int, 0, len(m.picked))
	for key := range m.picked {
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	if m.mode == ModeAllMatching {
		for _, key := range candidateKeys(snapshot) {
			if _, excluded := m.excluded[key]; excluded {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	sort.Ints(keys)
	return keys
}

func (m *Manager) Count(snapshot []domain.DeliveryRecord) int {
	if m.mode == ModeExplicit {
		return len(m.picked)
	}
	return len(m.Resolve(snapshot))
}

func candidateKeys(rows []domain.DeliveryRecord) []int {
	keys := make([]int, 0, len(rows))
	for _, row := range rows {
		if Eligible(row) {
			keys = append(keys, row.Key())
		}
	}
	return keys
}

func flip(set map[int]struct{}, key int) {
	if _, ok := set[key]; ok {
		delete(set, key)
		return
	}
	set[key] = struct{}{}
}
