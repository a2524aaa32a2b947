package dataset

import "sort"

// Set holds datasets bucketed by HashKey and deduplicated by Equal. Two
// datasets with the same name but different input paths are both kept.
// The zero value is an empty set.
type Set struct {
	buckets map[string][]*Dataset
	n       int
}

func NewSet(ds ...*Dataset) *Set {
	s := &Set{buckets: make(map[string][]*Dataset)}
	for _, d := range ds {
		s.Add(d)
	}
	return s
}

// Add inserts d unless an equal dataset is already present. It reports
// whether d was added.
func (s *Set) Add(d *Dataset) bool {
	if d == nil || s.Contains(d) {
		return false
	}
	if s.buckets == nil {
		s.buckets = make(map[string][]*Dataset)
	}
	k := d.HashKey()
	s.buckets[k] = append(s.buckets[k], d)
	s.n++
	return true
}

func (s *Set) Contains(d *Dataset) bool {
	if d == nil {
		return false
	}
	for _, e := range s.buckets[d.HashKey()] {
		if eq, _ := e.Equal(d); eq {
			return true
		}
	}
	return false
}

func (s *Set) Len() int { return s.n }

// Datasets returns the members ordered by name, then input path.
func (s *Set) Datasets() []*Dataset {
	out := make([]*Dataset, 0, s.n)
	for _, b := range s.buckets {
		out = append(out, b...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].InputFilePath < out[j].InputFilePath
	})
	return out
}
