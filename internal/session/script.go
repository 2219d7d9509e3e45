package session

import (
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationTag names the reason an answer was rejected.
type ValidationTag string

const (
	TagEmptyCity         ValidationTag = "empty_city"
	TagCityTooLong       ValidationTag = "city_too_long"
	TagNotANumber        ValidationTag = "not_a_number"
	TagNonPositiveNumber ValidationTag = "non_positive_threshold"
)

// MaxCityLength bounds free-text city answers.
const MaxCityLength = 100

// ValidationError reports an answer that does not fit the pending step.
// The session stays on the same step.
type ValidationError struct {
	Tag   ValidationTag
	Step  Step
	Input string
}

func (e *ValidationError) Error() string {
	return "session: invalid answer for " + e.Step.String() + ": " + string(e.Tag)
}

var validate = validator.New()

// stepRule is one question of a script: the key the answer is stored under
// and how it is normalized.
type stepRule struct {
	step  Step
	key   string
	parse func(answer string) (string, ValidationTag)
}

var (
	cityStep      = stepRule{step: StepAwaitingCity, key: KeyCity, parse: parseCity}
	thresholdStep = stepRule{step: StepAwaitingThreshold, key: KeyThreshold, parse: parseThreshold}
)

// scripts lists the steps of each dialog in order.
var scripts = map[DialogKind][]stepRule{
	DialogCurrentWeather: {cityStep},
	DialogForecast:       {cityStep},
	DialogAlertSetup:     {cityStep, thresholdStep},
}

func ruleFor(kind DialogKind, step Step) (stepRule, int, bool) {
	for i, s := range scripts[kind] {
		if s.step == step {
			return s, i, true
		}
	}
	return stepRule{}, 0, false
}

func parseCity(answer string) (string, ValidationTag) {
	city := strings.Join(strings.Fields(answer), " ")
	if err := validate.Var(city, "required"); err != nil {
		return "", TagEmptyCity
	}
	if err := validate.Var(city, "max="+strconv.Itoa(MaxCityLength)); err != nil {
		return "", TagCityTooLong
	}
	return city, ""
}

func parseThreshold(answer string) (string, ValidationTag) {
	raw := strings.ReplaceAll(strings.TrimSpace(answer), ",", ".")
	raw = strings.TrimSuffix(strings.TrimSuffix(raw, "°C"), "°")
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return "", TagNotANumber
	}
	if err := validate.Var(v, "gt=0"); err != nil {
		return "", TagNonPositiveNumber
	}
	return strconv.FormatFloat(v, 'f', -1, 64), ""
}
