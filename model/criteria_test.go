package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunCriteriaValidate(t *testing.T) {
	var nilCriteria *RunCriteria
	assert.Error(t, nilCriteria.Validate())

	assert.NoError(t, (&RunCriteria{Sources: []string{"a.dll"}}).Validate())
	assert.NoError(t, (&RunCriteria{TestCases: []TestCase{{Source: "a.dll"}}}).Validate())
	assert.NoError(t, (&RunCriteria{}).Validate())

	both := &RunCriteria{
		Sources:   []string{"a.dll"},
		TestCases: []TestCase{{Source: "b.dll"}},
	}
	assert.Error(t, both.Validate())
}

func TestRunCriteriaForUnit(t *testing.T) {
	criteria := &RunCriteria{
		Sources:                        []string{"a.dll", "b.dll"},
		FrequencyOfRunStatsChangeEvent: 10,
		KeepAlive:                      true,
		RunSettings:                    "<RunSettings/>",
		RunStatsChangeTimeout:          Duration(5 * time.Second),
	}

	narrowed := criteria.ForUnit(WorkUnit{Source: "b.dll"})
	assert.Equal(t, []string{"b.dll"}, narrowed.Sources)
	assert.Empty(t, narrowed.TestCases)
	assert.Equal(t, criteria.FrequencyOfRunStatsChangeEvent, narrowed.FrequencyOfRunStatsChangeEvent)
	assert.Equal(t, criteria.KeepAlive, narrowed.KeepAlive)
	assert.Equal(t, criteria.RunSettings, narrowed.RunSettings)
	assert.Equal(t, criteria.RunStatsChangeTimeout, narrowed.RunStatsChangeTimeout)

	// The original criteria is never mutated.
	assert.Equal(t, []string{"a.dll", "b.dll"}, criteria.Sources)

	group := &TestGroup{Source: "a.dll", Cases: []TestCase{{FullyQualifiedName: "Suite.A1", Source: "a.dll"}}}
	narrowed = criteria.ForUnit(WorkUnit{Group: group})
	assert.Empty(t, narrowed.Sources)
	assert.Equal(t, group.Cases, narrowed.TestCases)
}
