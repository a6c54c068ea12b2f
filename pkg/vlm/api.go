// Package vlm defines the provider interfaces and shared types for running
// multimodal (vision+language) checkpoints. Concrete implementations live in
// pkg/vlm/backends; the adapter in pkg/vlm/llava orchestrates them.
package vlm

import (
	"context"
	"image"
)

const (
	// ImagePlaceholder is the reserved token marking where image embeddings
	// are spliced into a prompt. It must occur exactly once in a composed
	// prompt.
	ImagePlaceholder = "<image>"
	// ImageTokenIndex is the reserved token id spliced into the input id
	// sequence at the placeholder position.
	ImageTokenIndex int32 = -200
)

// DType identifies the numeric precision model weights are loaded at.
type DType string

const (
	DTypeFloat16  DType = "float16"
	DTypeBFloat16 DType = "bfloat16"
	DTypeFloat32  DType = "float32"
)

// Device identifies the compute device models run on.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
	DeviceMPS  Device = "mps"
)

// LoadOptions carries settings common to all sub-model loads.
type LoadOptions struct {
	// DType is the precision weights are loaded at.
	DType DType
}

// Model is the surface shared by all loaded sub-models. Loaders return
// models resident on CPU; callers switch them to evaluation mode and move
// them to the target device afterwards. Loading to CPU first and moving
// later avoids peak-memory spikes when loading directly onto an accelerator.
type Model interface {
	// Path returns the path the model was loaded from, for provenance logs.
	Path() string
	// MergeAdapter merges a low-rank (LoRA) adapter into the base weights.
	MergeAdapter(ctx context.Context, adapterPath string) error
	// Eval switches the model to evaluation mode.
	Eval(ctx context.Context) error
	// ToDevice moves the model to the given device.
	ToDevice(ctx context.Context, device Device) error
}

// GenerateInput is the multimodal input to a language model generation call.
// InputIDs must contain exactly one ImageTokenIndex entry; the image
// embeddings substitute for it at that position.
type GenerateInput struct {
	InputIDs        []int32
	ImageEmbeddings Tensor
}

// LanguageModel is a causal language model supporting multimodal generation.
type LanguageModel interface {
	Model
	// Generate runs autoregressive decoding and returns the generated token
	// ids (prompt tokens excluded).
	Generate(ctx context.Context, input GenerateInput, cfg GenerationConfig) ([]int32, error)
}

// VisionOutput holds the per-layer hidden states of a vision encoder
// forward pass. HiddenStates[0] is the embedding layer output; the last
// entry is the final encoder layer.
type VisionOutput struct {
	HiddenStates []Tensor
}

// VisionEncoder is a CLIP-style vision tower.
type VisionEncoder interface {
	Model
	// Forward encodes a preprocessed pixel tensor and returns all hidden
	// layer outputs.
	Forward(ctx context.Context, pixels Tensor) (*VisionOutput, error)
}

// Projector maps vision encoder features into the language model embedding
// space.
type Projector interface {
	Model
	Project(ctx context.Context, features Tensor) (Tensor, error)
}

// Tokenizer converts between text and token ids. PadTokenID returns a
// negative value when the underlying tokenizer defines no pad token.
type Tokenizer interface {
	Encode(ctx context.Context, text string, addSpecialTokens bool) ([]int32, error)
	Decode(ctx context.Context, ids []int32, skipSpecialTokens bool) (string, error)
	BOSTokenID() int32
	EOSTokenID() int32
	PadTokenID() int32
}

// ImageProcessor prepares raw images for a vision encoder.
type ImageProcessor interface {
	// ImageMean returns the per-channel normalization mean in the 0-1 range.
	ImageMean() [3]float32
	// Preprocess converts an image to the normalized pixel tensor the vision
	// encoder expects.
	Preprocess(ctx context.Context, img image.Image) (Tensor, error)
}

// LanguageModelLoader loads language backbones and their tokenizers.
type LanguageModelLoader interface {
	LoadLanguageModel(ctx context.Context, path string, opts LoadOptions) (LanguageModel, error)
	LoadTokenizer(ctx context.Context, path string) (Tokenizer, error)
}

// VisionEncoderLoader loads vision towers and their image processors.
type VisionEncoderLoader interface {
	LoadVisionEncoder(ctx context.Context, path string, opts LoadOptions) (VisionEncoder, error)
	LoadImageProcessor(ctx context.Context, path string) (ImageProcessor, error)
}

// ProjectorLoader loads multimodal projectors.
type ProjectorLoader interface {
	LoadProjector(ctx context.Context, path string, opts LoadOptions) (Projector, error)
}
