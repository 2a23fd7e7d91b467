package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pacts/internal/model"
)

func TestPlanExpandsSuiteIntoOneRunStatePerRow(t *testing.T) {
	suite := model.Suite{TestCases: []model.TestCase{
		{
			ID: "signup",
			Steps: []model.StepTemplate{
				{Target: "Email", Action: model.ActionFill, Value: "{{email}}"},
				{Target: "Submit", Action: model.ActionClick},
			},
			Data: []map[string]string{
				{"email": "a@b.com"},
				{"email": "c@d.com"},
			},
		},
	}}

	states := Plan(Request{URL: "https://example.com", Suite: &suite})

	require.Len(t, states, 2, "one RunState per data row")
	for _, rs := range states {
		assert.Len(t, rs.Plan, 2)
		assert.NotEmpty(t, rs.PlanHash)
		assert.Equal(t, "https://example.com", rs.Context["url"])
	}
	assert.NotEqual(t, states[0].PlanHash, states[1].PlanHash, "distinct data rows should not collide on plan_hash")
}

func TestPlanWrapsLegacyLinesAsSingleTestCase(t *testing.T) {
	states := Plan(Request{
		URL:         "https://example.com",
		LegacyLines: []string{"Email | fill | a@b.com", "Submit | click |"},
	})

	require.Len(t, states, 1)
	assert.Len(t, states[0].Plan, 2)
}

func TestPlanErrorsWhenNeitherSuiteNorLinesGiven(t *testing.T) {
	states := Plan(Request{URL: "https://example.com"})

	require.Len(t, states, 1)
	assert.Equal(t, model.VerdictError, states[0].Verdict)
}

func TestPlanClampsMaxHealRoundsToCeiling(t *testing.T) {
	suite := model.Suite{TestCases: []model.TestCase{
		{ID: "tc", Steps: []model.StepTemplate{{Target: "Go", Action: model.ActionClick}}},
	}}
	states := Plan(Request{URL: "https://example.com", Suite: &suite, MaxHealRounds: 99})

	assert.Equal(t, maxHealRoundsCeiling, states[0].MaxHealRounds)
}

func TestPlanDefaultsMaxHealRoundsWhenUnset(t *testing.T) {
	suite := model.Suite{TestCases: []model.TestCase{
		{ID: "tc", Steps: []model.StepTemplate{{Target: "Go", Action: model.ActionClick}}},
	}}
	states := Plan(Request{URL: "https://example.com", Suite: &suite})

	assert.Equal(t, defaultMaxHealRounds, states[0].MaxHealRounds)
}

func TestParseRequirementFileURLThenJSONSuite(t *testing.T) {
	body := []byte(`https://example.com/login
{"testcases":[{"id":"login","steps":[{"target":"Email","action":"fill","value":"a@b.com"}],"data":[{}]}]}`)

	req, err := ParseRequirementFile(body)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/login", req.URL)
	require.NotNil(t, req.Suite)
	assert.Len(t, req.Suite.TestCases, 1)
}

func TestParseRequirementFileURLThenLegacyLines(t *testing.T) {
	body := []byte("https://example.com/login\nEmail | fill | a@b.com\nSubmit | click |")

	req, err := ParseRequirementFile(body)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/login", req.URL)
	assert.Len(t, req.LegacyLines, 2)
}

func TestParseRequirementFileRejectsEmptyBody(t *testing.T) {
	_, err := ParseRequirementFile([]byte("https://example.com\n\n"))
	assert.Error(t, err)
}

func TestParseRequirementFileRejectsEmptyInput(t *testing.T) {
	_, err := ParseRequirementFile([]byte(""))
	assert.Error(t, err)
}
