package weather

import (
	"strings"
	"time"
)

// AggregateReadings combines multiple provider readings into a single WeatherSnapshot.
// Numeric fields are averaged; conditions are selected by majority (or first if tied).
func AggregateReadings(readings []ProviderReading) WeatherSnapshot {
	if len(readings) == 0 {
		return WeatherSnapshot{
			Timestamp: time.Now().UTC(),
			Condition: ConditionUnknown,
		}
	}

	var (
		sumTemp     float64
		sumFeels    float64
		sumHumidity float64
		sumWind     float64
		place       string
	)

	providers := make([]ProviderContribution, 0, len(readings))
	var newestTS time.Time

	for _, r := range readings {
		sumTemp += r.TemperatureC
		sumFeels += r.FeelsLikeC
		sumHumidity += r.HumidityPct
		sumWind += r.WindSpeedMS

		if place == "" {
			place = r.Place
		}
		if r.Timestamp.After(newestTS) {
			newestTS = r.Timestamp
		}

		providers = append(providers, ProviderContribution{
			ProviderName: r.ProviderName,
			Timestamp:    r.Timestamp,
		})
	}

	n := float64(len(readings))
	cond, text := majorityCondition(readings)

	if newestTS.IsZero() {
		newestTS = time.Now().UTC()
	}

	return WeatherSnapshot{
		Place:         place,
		Timestamp:     newestTS,
		Temperature:   sumTemp / n,
		FeelsLike:     sumFeels / n,
		Humidity:      sumHumidity / n,
		WindSpeed:     sumWind / n,
		Condition:     cond,
		ConditionText: text,
		Providers:     providers,
	}
}

// AggregateDay combines the readings different providers gave for one
// forecast day into a single ForecastPoint.
func AggregateDay(day time.Time, readings []ProviderReading) ForecastPoint {
	var sumTemp float64
	for _, r := range readings {
		sumTemp += r.TemperatureC
	}
	cond, text := majorityCondition(readings)

	point := ForecastPoint{
		Date:          day,
		DateLabel:     DateLabel(day),
		Condition:     cond,
		ConditionText: text,
	}
	if len(readings) > 0 {
		point.Temperature = sumTemp / float64(len(readings))
	}
	return point
}

// majorityCondition picks the most frequent condition, keeping the first
// reading's order on ties, and returns the first description reported for it.
func majorityCondition(readings []ProviderReading) (Condition, string) {
	counts := make(map[Condition]int)
	for _, r := range readings {
		counts[r.Condition]++
	}

	best := ConditionUnknown
	bestCount := 0
	for _, r := range readings {
		if c := counts[r.Condition]; c > bestCount {
			best, bestCount = r.Condition, c
		}
	}

	for _, r := range readings {
		if r.Condition == best && r.Description != "" {
			return best, capitalize(r.Description)
		}
	}
	return best, capitalize(string(best))
}

func capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}
