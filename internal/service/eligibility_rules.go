package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/scholarship-api/internal/models"
)

// Rule keys recognised in a configuration's eligibility_rules.
const (
	RuleBankAccount        = "bank_account"
	RuleAccountHolderMatch = "account_holder_match"
	RuleMaxReceived        = "max_received"
	RuleRenewalHistory     = "renewal_history"

	RuleAlternateCollege     = "alternate_college"
	RuleAlternateCohort      = "alternate_cohort"
	RuleAlternateReceivedCap = "alternate_received_cap"
)

// EligibilityInput is everything the rules may look at for one candidate.
type EligibilityInput struct {
	Application *models.Application
	// Replaced is the application an alternate stands in for; nil when unknown.
	Replaced *models.Application
	Received []models.ReceivedPeriod
}

// EligibilityOutcome aggregates rule results for one candidate.
type EligibilityOutcome struct {
	Results   models.RuleResults
	Failed    []string
	Warnings  []string
	Exclusion *models.ExclusionReason
	Message   string
}

// Excluded reports whether a hard rule failed.
func (o EligibilityOutcome) Excluded() bool {
	return o.Exclusion != nil
}

type ruleFunc func(cfg *models.ScholarshipConfiguration, in EligibilityInput) models.RuleResult

var configurableRules = map[string]ruleFunc{
	RuleBankAccount:        checkBankAccount,
	RuleAccountHolderMatch: checkAccountHolder,
	RuleMaxReceived:        checkMaxReceived,
	RuleRenewalHistory:     checkRenewalHistory,
}

// KnownRule reports whether key names a configurable rule.
func KnownRule(key string) bool {
	_, ok := configurableRules[key]
	return ok
}

// EvaluateEligibility runs the configured rules and, for cohort-restricted
// alternates, the alternate promotion checks. A rule that lacks the data it
// compares is skipped and reported as a warning, never passed silently.
func EvaluateEligibility(cfg *models.ScholarshipConfiguration, in EligibilityInput) EligibilityOutcome {
	var out EligibilityOutcome
	var hardFailures, alternateFailures []string

	record := func(res models.RuleResult) {
		out.Results = append(out.Results, res)
		switch {
		case res.Skipped:
			out.Warnings = append(out.Warnings, res.Rule)
		case res.Passed:
		case res.Severity == models.RuleSeverityWarning:
			out.Warnings = append(out.Warnings, res.Rule)
		default:
			out.Failed = append(out.Failed, res.Rule)
		}
	}

	for _, rule := range cfg.EligibilityRules {
		fn, ok := configurableRules[rule.Key]
		if !ok {
			record(models.RuleResult{Rule: rule.Key, Severity: models.RuleSeverityWarning, Skipped: true, Message: "unknown rule"})
			continue
		}
		res := fn(cfg, in)
		res.Rule = rule.Key
		res.Severity = rule.Severity
		if res.Severity == "" {
			res.Severity = models.RuleSeverityHard
		}
		record(res)
		if !res.Passed && !res.Skipped && res.Severity == models.RuleSeverityHard {
			hardFailures = append(hardFailures, res.Message)
		}
	}

	if in.Application.IsAlternate && cfg.AlternatePolicy.CohortRestricted {
		for _, res := range alternateChecks(cfg, in) {
			res.Severity = models.RuleSeverityHard
			record(res)
			if !res.Passed && !res.Skipped {
				alternateFailures = append(alternateFailures, res.Message)
			}
		}
	}

	switch {
	case len(alternateFailures) > 0:
		reason := models.ExclusionAlternateIneligible
		out.Exclusion = &reason
		out.Message = strings.Join(append(alternateFailures, hardFailures...), "; ")
	case len(hardFailures) > 0:
		reason := models.ExclusionRuleFailed
		out.Exclusion = &reason
		out.Message = strings.Join(hardFailures, "; ")
	}
	return out
}

func rulePassed(message string) models.RuleResult {
	return models.RuleResult{Passed: true, Message: message}
}

func ruleFailed(message string) models.RuleResult {
	return models.RuleResult{Message: message}
}

func ruleSkipped(message string) models.RuleResult {
	return models.RuleResult{Skipped: true, Message: message}
}

func checkBankAccount(_ *models.ScholarshipConfiguration, in EligibilityInput) models.RuleResult {
	app := in.Application
	if strings.TrimSpace(app.BankCode) == "" || strings.TrimSpace(app.BankAccount) == "" {
		return ruleFailed("bank code or account number is missing")
	}
	return rulePassed("")
}

func checkAccountHolder(_ *models.ScholarshipConfiguration, in EligibilityInput) models.RuleResult {
	app := in.Application
	holder := strings.TrimSpace(app.AccountHolder)
	name := strings.TrimSpace(app.StudentName)
	if holder == "" || name == "" {
		return ruleSkipped("account holder or student name missing, holder check skipped")
	}
	if !strings.EqualFold(holder, name) {
		return ruleFailed(fmt.Sprintf("account holder %q does not match student %q", holder, name))
	}
	return rulePassed("")
}

func checkMaxReceived(cfg *models.ScholarshipConfiguration, in EligibilityInput) models.RuleResult {
	limit := cfg.AlternatePolicy.MaxReceived
	if limit <= 0 {
		return ruleSkipped("no received cap configured, check skipped")
	}
	unit := cfg.AlternatePolicy.ReceivedUnit
	count := ReceivedCount(in.Received, unit)
	if count >= limit {
		return ruleFailed(fmt.Sprintf("already received %d %s(s), cap is %d", count, receivedUnitName(unit), limit))
	}
	return rulePassed(fmt.Sprintf("received %d of %d %s(s)", count, limit, receivedUnitName(unit)))
}

func checkRenewalHistory(_ *models.ScholarshipConfiguration, in EligibilityInput) models.RuleResult {
	if !in.Application.IsRenewal {
		return rulePassed("new application")
	}
	if len(in.Received) == 0 {
		return ruleFailed("renewal without any prior disbursement")
	}
	return rulePassed("")
}

func alternateChecks(cfg *models.ScholarshipConfiguration, in EligibilityInput) []models.RuleResult {
	app := in.Application
	replaced := in.Replaced
	results := make([]models.RuleResult, 0, 3)

	college := func() models.RuleResult {
		if replaced == nil {
			return ruleSkipped("replaced application unknown, college check skipped")
		}
		if app.CollegeCode == "" || replaced.CollegeCode == "" {
			return ruleSkipped("college code missing, college check skipped")
		}
		if app.CollegeCode != replaced.CollegeCode {
			return ruleFailed(fmt.Sprintf("college mismatch: alternate college %s differs from replaced student's college %s", app.CollegeCode, replaced.CollegeCode))
		}
		return rulePassed("")
	}()
	college.Rule = RuleAlternateCollege
	results = append(results, college)

	cohort := func() models.RuleResult {
		if replaced == nil {
			return ruleSkipped("replaced application unknown, cohort check skipped")
		}
		if app.EnrollmentYear == nil || app.EnrollmentTerm == nil || replaced.EnrollmentYear == nil || replaced.EnrollmentTerm == nil {
			return ruleSkipped("enrollment year or term missing, cohort check skipped")
		}
		if *app.EnrollmentYear != *replaced.EnrollmentYear || *app.EnrollmentTerm != *replaced.EnrollmentTerm {
			return ruleFailed(fmt.Sprintf("cohort mismatch: alternate enrolled %d-%d, replaced student enrolled %d-%d",
				*app.EnrollmentYear, *app.EnrollmentTerm, *replaced.EnrollmentYear, *replaced.EnrollmentTerm))
		}
		return rulePassed("")
	}()
	cohort.Rule = RuleAlternateCohort
	results = append(results, cohort)

	received := checkMaxReceived(cfg, in)
	received.Rule = RuleAlternateReceivedCap
	results = append(results, received)
	return results
}

// ReceivedCount counts historical disbursements in the configured unit. Periods
// are de-duplicated by label; the month unit converts each period by its cycle.
func ReceivedCount(periods []models.ReceivedPeriod, unit models.ReceivedUnit) int {
	seen := make(map[string]struct{}, len(periods))
	count := 0
	for _, p := range periods {
		if _, dup := seen[p.PeriodLabel]; dup {
			continue
		}
		seen[p.PeriodLabel] = struct{}{}
		if unit == models.ReceivedUnitMonth {
			count += p.RosterCycle.MonthsPerPeriod()
		} else {
			count++
		}
	}
	return count
}

func receivedUnitName(unit models.ReceivedUnit) string {
	if unit == models.ReceivedUnitMonth {
		return "month"
	}
	return "period"
}
