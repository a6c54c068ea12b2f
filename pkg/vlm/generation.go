package vlm

// DefaultMaxNewTokens is the generation token budget used when the caller
// supplies no override.
const DefaultMaxNewTokens = 100

// GenerationConfig holds the parameters of one autoregressive generation
// call. It is fixed at adapter construction time.
type GenerationConfig struct {
	MaxNewTokens int      `json:"max_new_tokens"`
	DoSample     bool     `json:"do_sample"`
	Temperature  float32  `json:"temperature,omitempty"`
	TopP         float32  `json:"top_p,omitempty"`
	TopK         int      `json:"top_k,omitempty"`
	BOSTokenID   int32    `json:"bos_token_id"`
	EOSTokenID   int32    `json:"eos_token_id"`
	PadTokenID   int32    `json:"pad_token_id"`
	StopStrings  []string `json:"stop_strings,omitempty"`
}

// DefaultGenerationConfig derives the default configuration from a
// tokenizer: greedy decoding, a capped token budget, and end/pad ids taken
// from the tokenizer (pad falls back to the end id when undefined).
func DefaultGenerationConfig(tok Tokenizer) GenerationConfig {
	pad := tok.PadTokenID()
	if pad < 0 {
		pad = tok.EOSTokenID()
	}
	return GenerationConfig{
		MaxNewTokens: DefaultMaxNewTokens,
		DoSample:     false,
		BOSTokenID:   tok.BOSTokenID(),
		EOSTokenID:   tok.EOSTokenID(),
		PadTokenID:   pad,
	}
}

// GenerationOverrides overlays caller-supplied generation settings onto the
// defaults, key by key. Nil fields leave the default untouched.
type GenerationOverrides struct {
	MaxNewTokens *int
	DoSample     *bool
	Temperature  *float32
	TopP         *float32
	TopK         *int
	StopStrings  []string
}

// Overlay applies the overrides to cfg and returns the result.
func (o *GenerationOverrides) Overlay(cfg GenerationConfig) GenerationConfig {
	if o == nil {
		return cfg
	}
	if o.MaxNewTokens != nil {
		cfg.MaxNewTokens = *o.MaxNewTokens
	}
	if o.DoSample != nil {
		cfg.DoSample = *o.DoSample
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		cfg.TopP = *o.TopP
	}
	if o.TopK != nil {
		cfg.TopK = *o.TopK
	}
	if len(o.StopStrings) > 0 {
		cfg.StopStrings = append([]string(nil), o.StopStrings...)
	}
	return cfg
}

// Fields returns the names of the overridden fields, for logging.
func (o *GenerationOverrides) Fields() []string {
	if o == nil {
		return nil
	}
	var fields []string
	if o.MaxNewTokens != nil {
		fields = append(fields, "max_new_tokens")
	}
	if o.DoSample != nil {
		fields = append(fields, "do_sample")
	}
	if o.Temperature != nil {
		fields = append(fields, "temperature")
	}
	if o.TopP != nil {
		fields = append(fields, "top_p")
	}
	if o.TopK != nil {
		fields = append(fields, "top_k")
	}
	if len(o.StopStrings) > 0 {
		fields = append(fields, "stop_strings")
	}
	return fields
}
