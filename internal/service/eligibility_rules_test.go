package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarship-api/internal/models"
)

func doctoralConfig() *models.ScholarshipConfiguration {
	return &models.ScholarshipConfiguration{
		ID:       "cfg-phd",
		Category: models.ScholarshipCategoryDoctoral,
		AlternatePolicy: models.AlternatePolicy{
			CohortRestricted: true,
			MaxReceived:      12,
			ReceivedUnit:     models.ReceivedUnitMonth,
		},
	}
}

func TestAlternateCollegeMismatchCitesColleges(t *testing.T) {
	cfg := doctoralConfig()
	replaced := &models.Application{ID: "app-orig", CollegeCode: "EE", EnrollmentYear: intPtr(112), EnrollmentTerm: intPtr(1)}
	alternate := &models.Application{ID: "app-alt", CollegeCode: "CS", IsAlternate: true, EnrollmentYear: intPtr(112), EnrollmentTerm: intPtr(1)}

	out := EvaluateEligibility(cfg, EligibilityInput{Application: alternate, Replaced: replaced})

	require.True(t, out.Excluded())
	assert.Equal(t, models.ExclusionAlternateIneligible, *out.Exclusion)
	assert.Contains(t, out.Message, "college mismatch")
	assert.Contains(t, out.Message, "CS")
	assert.Contains(t, out.Message, "EE")
	assert.Equal(t, []string{RuleAlternateCollege}, out.Failed)
}

func TestAlternateMissingFieldsSkipWithWarning(t *testing.T) {
	cfg := doctoralConfig()
	replaced := &models.Application{ID: "app-orig", CollegeCode: "EE"}
	alternate := &models.Application{ID: "app-alt", CollegeCode: "EE", IsAlternate: true}

	out := EvaluateEligibility(cfg, EligibilityInput{Application: alternate, Replaced: replaced})

	assert.False(t, out.Excluded())
	assert.Equal(t, []string{RuleAlternateCohort}, out.Warnings)
	var cohort models.RuleResult
	for _, r := range out.Results {
		if r.Rule == RuleAlternateCohort {
			cohort = r
		}
	}
	assert.True(t, cohort.Skipped)
	assert.False(t, cohort.Passed)
}

func TestAlternateUnknownReplacedSkipsComparisons(t *testing.T) {
	out := EvaluateEligibility(doctoralConfig(), EligibilityInput{Application: &models.Application{IsAlternate: true, CollegeCode: "EE"}})
	assert.False(t, out.Excluded())
	assert.ElementsMatch(t, []string{RuleAlternateCollege, RuleAlternateCohort}, out.Warnings)
}

func TestAlternateReceivedCapCountsMonths(t *testing.T) {
	cfg := doctoralConfig()
	replaced := &models.Application{CollegeCode: "EE", EnrollmentYear: intPtr(112), EnrollmentTerm: intPtr(1)}
	alternate := &models.Application{CollegeCode: "EE", IsAlternate: true, EnrollmentYear: intPtr(112), EnrollmentTerm: intPtr(1)}
	received := []models.ReceivedPeriod{
		{StudentID: "s1", PeriodLabel: "2024-H1", RosterCycle: models.RosterCycleHalfYearly},
		{StudentID: "s1", PeriodLabel: "2024-H2", RosterCycle: models.RosterCycleHalfYearly},
		{StudentID: "s1", PeriodLabel: "2024-H2", RosterCycle: models.RosterCycleHalfYearly},
	}

	out := EvaluateEligibility(cfg, EligibilityInput{Application: alternate, Replaced: replaced, Received: received})
	require.True(t, out.Excluded())
	assert.Equal(t, []string{RuleAlternateReceivedCap}, out.Failed)

	cfg.AlternatePolicy.ReceivedUnit = models.ReceivedUnitPeriod
	out = EvaluateEligibility(cfg, EligibilityInput{Application: alternate, Replaced: replaced, Received: received})
	assert.False(t, out.Excluded())
}

func TestReceivedCount(t *testing.T) {
	periods := []models.ReceivedPeriod{
		{PeriodLabel: "2024-01", RosterCycle: models.RosterCycleMonthly},
		{PeriodLabel: "2024", RosterCycle: models.RosterCycleYearly},
		{PeriodLabel: "2024-01", RosterCycle: models.RosterCycleMonthly},
	}
	assert.Equal(t, 2, ReceivedCount(periods, models.ReceivedUnitPeriod))
	assert.Equal(t, 13, ReceivedCount(periods, models.ReceivedUnitMonth))
}

func TestConfiguredRulesHardAndWarning(t *testing.T) {
	cfg := &models.ScholarshipConfiguration{EligibilityRules: models.EligibilityRules{
		{Key: RuleBankAccount, Severity: models.RuleSeverityHard},
		{Key: RuleAccountHolderMatch, Severity: models.RuleSeverityWarning},
		{Key: "gpa_floor", Severity: models.RuleSeverityHard},
	}}
	app := &models.Application{StudentName: "Lin Wei", AccountHolder: "Lin Mei", BankCode: "700", BankAccount: "123"}

	out := EvaluateEligibility(cfg, EligibilityInput{Application: app})
	assert.False(t, out.Excluded())
	assert.Equal(t, []string{RuleAccountHolderMatch, "gpa_floor"}, out.Warnings)

	app.BankAccount = ""
	out = EvaluateEligibility(cfg, EligibilityInput{Application: app})
	require.True(t, out.Excluded())
	assert.Equal(t, models.ExclusionRuleFailed, *out.Exclusion)
	assert.Equal(t, []string{RuleBankAccount}, out.Failed)
	assert.Contains(t, out.Message, "bank code or account number is missing")
}

func TestNonAlternateSkipsCohortChecks(t *testing.T) {
	out := EvaluateEligibility(doctoralConfig(), EligibilityInput{Application: &models.Application{CollegeCode: "EE"}})
	assert.Empty(t, out.Results)
	assert.False(t, out.Excluded())
}
