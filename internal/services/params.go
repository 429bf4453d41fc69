package services

// LLMParameters holds the fixed generation parameters sent with every upstream request. A nil field is
// left to the provider's default.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	MaxTokens   *int     `yaml:"maxTokens"`
}

const (
	DefaultTemperature float32 = 0.5
	DefaultTopP        float32 = 1
	DefaultMaxTokens           = 1024
)

// WithDefaults returns a copy of p where every unset parameter is replaced by the relay's default.
func (p LLMParameters) WithDefaults() LLMParameters {
	if p.Temperature == nil {
		t := DefaultTemperature
		p.Temperature = &t
	}
	if p.TopP == nil {
		tp := DefaultTopP
		p.TopP = &tp
	}
	if p.MaxTokens == nil {
		mt := DefaultMaxTokens
		p.MaxTokens = &mt
	}
	return p
}
