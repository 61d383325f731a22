// Package scoring - delta.go считает разницу между старым и новым набором реакций.
package scoring

import "sort"

// Delta - какие реакции пользователь поставил и какие снял.
type Delta struct {
	Added   []string
	Removed []string
}

// Empty сообщает, что набор реакций не изменился.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// ComputeDelta возвращает Added = new − old и Removed = old − new.
// Повторы внутри набора схлопываются, результат отсортирован.
//
// Пример:
//
//	ComputeDelta([]string{"a", "b"}, []string{"b", "c"}) → {Added: [c], Removed: [a]}
func ComputeDelta(oldSet, newSet []string) Delta {
	oldKeys := toSet(oldSet)
	newKeys := toSet(newSet)

	return Delta{
		Added:   difference(newKeys, oldKeys),
		Removed: difference(oldKeys, newKeys),
	}
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func difference(a, b map[string]struct{}) []string {
	out := make([]string, 0, len(a))
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
