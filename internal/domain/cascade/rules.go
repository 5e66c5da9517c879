package cascade

import "github.com/occhealth/occhealth/internal/domain/dependent"

// DefaultIncidentCondition is recorded when an incident is flagged without
// a condition.
const DefaultIncidentCondition = "Sin especificar"

const (
	RuleIncident   = "incident"
	RuleGloves     = "gloves"
	RuleDiet       = "diet"
	RuleFoodIntake = "food_intake"
)

// DefaultRules returns the cascade in evaluation order: incident, gloves,
// diet, food intake. Each rule checks only its own flag, with one
// precedence: when a bounded diet applies, food intake is skipped so an
// encounter produces at most one diet record.
func DefaultRules() []Rule {
	return []Rule{
		{Name: RuleIncident, Applies: func(f Flags) bool { return f.IsIncident }, Build: buildIncident},
		{Name: RuleGloves, Applies: func(f Flags) bool { return f.NeedsGloves }, Build: buildGloveUse},
		{Name: RuleDiet, Applies: func(f Flags) bool { return f.NeedsDiet }, Build: buildDiet},
		{Name: RuleFoodIntake, Applies: func(f Flags) bool { return f.NeedsFoodIntake }, Build: buildFoodIntake},
	}
}

func buildIncident(src Source, req Request) (dependent.Record, error) {
	condition := req.IncidentCondition
	if condition == "" {
		condition = DefaultIncidentCondition
	}
	days := src.DaysOfRest
	if req.IncidentDaysOfRest != nil {
		days = *req.IncidentDaysOfRest
	}
	return &dependent.Incident{Base: src.base(), Condition: condition, DaysOfRest: days}, nil
}

func buildGloveUse(src Source, req Request) (dependent.Record, error) {
	if req.GloveStartDate == "" || req.GloveEndDate == "" {
		return nil, skip("glove use needs a start and an end date")
	}
	return &dependent.GloveUse{Base: src.base(), StartDate: req.GloveStartDate, EndDate: req.GloveEndDate}, nil
}

func buildDiet(src Source, req Request) (dependent.Record, error) {
	if req.DietStartDate == "" || req.DietEndDate == "" {
		return nil, skip("diet needs a start and an end date")
	}
	r := dependent.Bounded(req.DietStartDate, req.DietEndDate)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &dependent.Diet{Base: src.base(), Range: r, Observation: req.DietObservation}, nil
}

// buildFoodIntake records an open-ended diet. A bounded diet created by the
// same submission takes precedence, so an encounter yields at most one diet.
func buildFoodIntake(src Source, req Request) (dependent.Record, error) {
	if req.NeedsDiet && req.DietStartDate != "" && req.DietEndDate != "" {
		return nil, skip("bounded diet recorded for this encounter")
	}
	if req.FoodIntakeStartDate == "" {
		return nil, skip("food intake needs a start date")
	}
	r := dependent.OpenEnded(req.FoodIntakeStartDate)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &dependent.Diet{Base: src.base(), Range: r, Observation: req.FoodIntakeObservation}, nil
}
