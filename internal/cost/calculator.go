package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Gemini map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
	Actor  ActorRate            `yaml:"actor" mapstructure:"actor"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ActorRate holds scraping-actor pricing. Actors bill per compute unit plus
// a flat per-result charge for dataset items.
type ActorRate struct {
	PerComputeUnit float64 `yaml:"per_compute_unit" mapstructure:"per_compute_unit"`
	PerResult      float64 `yaml:"per_result" mapstructure:"per_result"`
}

// Calculator computes estimated run costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Gemini computes the cost for a Gemini scoring call.
func (c *Calculator) Gemini(model string, input, output int) float64 {
	rate, ok := c.rates.Gemini[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Actor computes the cost for one actor run.
func (c *Calculator) Actor(computeUnits float64, results int) float64 {
	return computeUnits*c.rates.Actor.PerComputeUnit + float64(results)*c.rates.Actor.PerResult
}

// ClientRun rolls a client's usage into one estimated figure for the run
// record.
func (c *Calculator) ClientRun(model string, llmInput, llmOutput int, computeUnits float64, posts int) float64 {
	return c.Gemini(model, llmInput, llmOutput) + c.Actor(computeUnits, posts)
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Gemini: map[string]ModelRate{
			"gemini-2.0-flash": {Input: 0.10, Output: 0.40},
			"gemini-1.5-pro":   {Input: 1.25, Output: 5.00},
		},
		Actor: ActorRate{PerComputeUnit: 0.40, PerResult: 0.002},
	}
}
