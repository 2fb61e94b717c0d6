package model

// TestGroup is a set of test cases that originate from the same source, in
// first-seen order.
type TestGroup struct {
	Source string     `json:"source" yaml:"source"`
	Cases  []TestCase `json:"cases" yaml:"cases"`
}

// WorkUnit is the atomic item handed to one backend at a time: a whole test
// source or a source-keyed group of individual cases.  Exactly one field is
// set on a usable unit.
type WorkUnit struct {
	Source string     `json:"source,omitempty" yaml:"source,omitempty"`
	Group  *TestGroup `json:"group,omitempty" yaml:"group,omitempty"`
}

// IsZero reports whether the unit carries no work.
func (u WorkUnit) IsZero() bool {
	return u.Source == "" && u.Group == nil
}

// GroupBySource buckets test cases by their originating source.  Groups keep
// the first-seen order of sources and cases keep their input order inside a
// group, so grouping the same input twice yields identical output.
func GroupBySource(cases []TestCase) []TestGroup {
	if len(cases) == 0 {
		return nil
	}
	index := make(map[string]int, len(cases))
	groups := make([]TestGroup, 0, len(cases))
	for _, testCase := range cases {
		at, ok := index[testCase.Source]
		if !ok {
			at = len(groups)
			index[testCase.Source] = at
			groups = append(groups, TestGroup{Source: testCase.Source})
		}
		groups[at].Cases = append(groups[at].Cases, testCase)
	}
	return groups
}
