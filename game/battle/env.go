package battle

import "fmt"

// Rand is the random source used by the resolver, the AI and the controller.
// *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// percent draws a uniform value in [0, 100).
func percent(r Rand) float64 {
	return r.Float64() * 100
}

// Weather is the field condition during a battle.
type Weather int

const (
	WeatherClear Weather = iota
	WeatherRain
	WeatherThunderstorm
	WeatherSnow
	WeatherHeatwave
	WeatherTempest
	WeatherFog
)

var weatherNames = [...]string{"clear", "rain", "thunderstorm", "snow", "heatwave", "tempest", "fog"}

func (w Weather) String() string {
	if w < 0 || int(w) >= len(weatherNames) {
		return fmt.Sprintf("Weather(%d)", int(w))
	}
	return weatherNames[w]
}

func ParseWeather(s string) (Weather, error) {
	if s == "" {
		return WeatherClear, nil
	}
	for i, n := range weatherNames {
		if n == s {
			return Weather(i), nil
		}
	}
	return 0, fmt.Errorf("battle: unknown weather %q", s)
}

// Environment holds the field conditions that feed the damage formula.
type Environment struct {
	Weather   Weather
	Severe    bool
	WindSpeed float64
}

var weatherElements = map[Weather]SkillType{
	WeatherHeatwave:     TypeFire,
	WeatherThunderstorm: TypeElectric,
	WeatherSnow:         TypeIce,
	WeatherTempest:      TypeWind,
}

// multiplierFor returns the weather boost for a skill type.
func (e Environment) multiplierFor(t SkillType) float64 {
	el, ok := weatherElements[e.Weather]
	if !ok || el != t {
		return 1
	}
	if e.Severe {
		return 3
	}
	return 2
}

func (e Environment) rainy() bool {
	return e.Weather == WeatherRain || e.Weather == WeatherThunderstorm
}
