package vlm

import (
	"context"
	"reflect"
	"testing"
)

type stubTokenizer struct {
	bos, eos, pad int32
}

func (s stubTokenizer) Encode(ctx context.Context, text string, addSpecialTokens bool) ([]int32, error) {
	return nil, nil
}

func (s stubTokenizer) Decode(ctx context.Context, ids []int32, skipSpecialTokens bool) (string, error) {
	return "", nil
}

func (s stubTokenizer) BOSTokenID() int32 { return s.bos }
func (s stubTokenizer) EOSTokenID() int32 { return s.eos }
func (s stubTokenizer) PadTokenID() int32 { return s.pad }

func TestDefaultGenerationConfig(t *testing.T) {
	cfg := DefaultGenerationConfig(stubTokenizer{bos: 1, eos: 2, pad: 0})
	if cfg.MaxNewTokens != 100 {
		t.Fatalf("expected max_new_tokens=100, got %d", cfg.MaxNewTokens)
	}
	if cfg.DoSample {
		t.Fatal("expected greedy decoding by default")
	}
	if cfg.BOSTokenID != 1 || cfg.EOSTokenID != 2 || cfg.PadTokenID != 0 {
		t.Fatalf("unexpected token ids: %+v", cfg)
	}
}

func TestDefaultGenerationConfigPadFallback(t *testing.T) {
	cfg := DefaultGenerationConfig(stubTokenizer{bos: 1, eos: 2, pad: -1})
	if cfg.PadTokenID != 2 {
		t.Fatalf("expected pad to fall back to eos, got %d", cfg.PadTokenID)
	}
}

func TestOverridesOverlay(t *testing.T) {
	base := DefaultGenerationConfig(stubTokenizer{bos: 1, eos: 2, pad: 0})

	maxTokens := 256
	doSample := true
	temperature := float32(0.7)
	overrides := &GenerationOverrides{
		MaxNewTokens: &maxTokens,
		DoSample:     &doSample,
		Temperature:  &temperature,
	}

	cfg := overrides.Overlay(base)
	if cfg.MaxNewTokens != 256 || !cfg.DoSample || cfg.Temperature != 0.7 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	// Untouched fields keep their defaults.
	if cfg.EOSTokenID != 2 || cfg.PadTokenID != 0 {
		t.Fatalf("token ids should be untouched: %+v", cfg)
	}

	wantFields := []string{"max_new_tokens", "do_sample", "temperature"}
	if got := overrides.Fields(); !reflect.DeepEqual(got, wantFields) {
		t.Fatalf("expected fields %v, got %v", wantFields, got)
	}
}

func TestOverridesNil(t *testing.T) {
	base := DefaultGenerationConfig(stubTokenizer{bos: 1, eos: 2, pad: 0})
	var overrides *GenerationOverrides
	if got := overrides.Overlay(base); !reflect.DeepEqual(got, base) {
		t.Fatalf("nil overrides must be a no-op: %+v", got)
	}
	if overrides.Fields() != nil {
		t.Fatal("nil overrides have no fields")
	}
}

func TestTensorWithoutLeadingRows(t *testing.T) {
	tensor := Tensor{
		Shape: []int64{3, 2},
		Data:  []float32{1, 2, 3, 4, 5, 6},
	}
	trimmed, err := tensor.WithoutLeadingRows(1)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if trimmed.Rows() != 2 || len(trimmed.Data) != 4 || trimmed.Data[0] != 3 {
		t.Fatalf("unexpected trimmed tensor: %+v", trimmed)
	}
	if _, err := tensor.WithoutLeadingRows(4); err == nil {
		t.Fatal("expected error trimming past the end")
	}
}
