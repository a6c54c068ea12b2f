package llava

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vlmbench/llava-runner/pkg/checkpoint"
	"github.com/vlmbench/llava-runner/pkg/dataset"
	"github.com/vlmbench/llava-runner/pkg/logging"
	"github.com/vlmbench/llava-runner/pkg/vlm"
)

// 1x1 transparent PNG, the payload format benchmark TSV files carry.
const tinyPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

type fakeModel struct {
	path   string
	merged []string
	evaled bool
	device vlm.Device
}

func (m *fakeModel) Path() string { return m.path }
func (m *fakeModel) MergeAdapter(_ context.Context, adapterPath string) error {
	m.merged = append(m.merged, adapterPath)
	return nil
}
func (m *fakeModel) Eval(context.Context) error { m.evaled = true; return nil }
func (m *fakeModel) ToDevice(_ context.Context, device vlm.Device) error {
	m.device = device
	return nil
}

type fakeLLM struct {
	fakeModel
	gotInput vlm.GenerateInput
	gotCfg   vlm.GenerationConfig
	output   []int32
}

func (m *fakeLLM) Generate(_ context.Context, input vlm.GenerateInput, cfg vlm.GenerationConfig) ([]int32, error) {
	m.gotInput = input
	m.gotCfg = cfg
	return m.output, nil
}

// fakeTokenizer encodes any text as its byte length, with a leading BOS id
// when special tokens are requested. That keeps splice positions easy to
// assert on.
type fakeTokenizer struct {
	pad     int32
	decoded string
}

func (t *fakeTokenizer) Encode(_ context.Context, text string, addSpecialTokens bool) ([]int32, error) {
	var ids []int32
	if addSpecialTokens {
		ids = append(ids, t.BOSTokenID())
	}
	return append(ids, int32(len(text))), nil
}
func (t *fakeTokenizer) Decode(_ context.Context, ids []int32, _ bool) (string, error) {
	return t.decoded, nil
}
func (t *fakeTokenizer) BOSTokenID() int32 { return 1 }
func (t *fakeTokenizer) EOSTokenID() int32 { return 2 }
func (t *fakeTokenizer) PadTokenID() int32 { return t.pad }

type fakeVision struct {
	fakeModel
	hidden []vlm.Tensor
}

func (v *fakeVision) Forward(_ context.Context, pixels vlm.Tensor) (*vlm.VisionOutput, error) {
	return &vlm.VisionOutput{HiddenStates: v.hidden}, nil
}

type fakeProcessor struct {
	gotSize image.Point
}

func (p *fakeProcessor) ImageMean() [3]float32 { return [3]float32{0.48, 0.46, 0.41} }
func (p *fakeProcessor) Preprocess(_ context.Context, img image.Image) (vlm.Tensor, error) {
	p.gotSize = img.Bounds().Size()
	return vlm.Tensor{Shape: []int64{3, 2, 2}, Data: make([]float32, 12)}, nil
}

type fakeProjector struct {
	fakeModel
	gotFeatures vlm.Tensor
	output      vlm.Tensor
}

func (p *fakeProjector) Project(_ context.Context, features vlm.Tensor) (vlm.Tensor, error) {
	p.gotFeatures = features
	return p.output, nil
}

// fakeProviders satisfies all loader interfaces and records the paths it
// was asked to load from.
type fakeProviders struct {
	llm       *fakeLLM
	tokenizer *fakeTokenizer
	vision    *fakeVision
	processor *fakeProcessor
	projector *fakeProjector

	llmPath, visionPath, projectorPath string
}

func (f *fakeProviders) Resolve(_ context.Context, ref string) (string, error) { return ref, nil }

func (f *fakeProviders) LoadLanguageModel(_ context.Context, path string, _ vlm.LoadOptions) (vlm.LanguageModel, error) {
	f.llmPath = path
	f.llm.path = path
	return f.llm, nil
}
func (f *fakeProviders) LoadTokenizer(_ context.Context, path string) (vlm.Tokenizer, error) {
	return f.tokenizer, nil
}
func (f *fakeProviders) LoadVisionEncoder(_ context.Context, path string, _ vlm.LoadOptions) (vlm.VisionEncoder, error) {
	f.visionPath = path
	f.vision.path = path
	return f.vision, nil
}
func (f *fakeProviders) LoadImageProcessor(_ context.Context, path string) (vlm.ImageProcessor, error) {
	return f.processor, nil
}
func (f *fakeProviders) LoadProjector(_ context.Context, path string, _ vlm.LoadOptions) (vlm.Projector, error) {
	f.projectorPath = path
	f.projector.path = path
	return f.projector, nil
}

func newFakeProviders() *fakeProviders {
	// Four hidden layers with distinct leading values so layer selection is
	// observable; every layer has 3 rows of 2 features, row 0 being the
	// class token.
	hidden := make([]vlm.Tensor, 4)
	for i := range hidden {
		data := make([]float32, 6)
		for j := range data {
			data[j] = float32(i*10 + j)
		}
		hidden[i] = vlm.Tensor{Shape: []int64{3, 2}, Data: data}
	}
	return &fakeProviders{
		llm:       &fakeLLM{output: []int32{7, 8, 9}},
		tokenizer: &fakeTokenizer{pad: -1, decoded: " B "},
		vision:    &fakeVision{hidden: hidden},
		processor: &fakeProcessor{},
		projector: &fakeProjector{output: vlm.Tensor{Shape: []int64{2, 4}, Data: make([]float32, 8)}},
	}
}

func (f *fakeProviders) providers() Providers {
	return Providers{
		Resolver:       f,
		LanguageModels: f,
		VisionEncoders: f,
		Projectors:     f,
	}
}

// writeBundle creates a checkpoint bundle fixture with the given optional
// subdirectories; projector/ is always present.
func writeBundle(t *testing.T, subdirs ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, sub := range append([]string{checkpoint.ProjectorDir}, subdirs...) {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", sub, err)
		}
	}
	return root
}

func newTestAdapter(t *testing.T, fakes *fakeProviders, opts Options) *Adapter {
	t.Helper()
	if opts.ImageCacheDir == "" {
		opts.ImageCacheDir = filepath.Join(t.TempDir(), "images")
	}
	adapter, err := New(context.Background(), logging.NullLogger(), opts, fakes.providers())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestNewRequiresProviders(t *testing.T) {
	fakes := newFakeProviders()
	providers := fakes.providers()
	providers.Projectors = nil
	_, err := New(context.Background(), logging.NullLogger(), Options{CheckpointRef: "x"}, providers)
	var cfgErr *vlm.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestNewRejectsUnknownTemplate(t *testing.T) {
	fakes := newFakeProviders()
	_, err := New(context.Background(), logging.NullLogger(), Options{
		CheckpointRef:  writeBundle(t, checkpoint.LLMDir, checkpoint.VisualEncoderDir),
		PromptTemplate: "no_such_template",
	}, fakes.providers())
	if err == nil || !strings.Contains(err.Error(), "unknown prompt template") {
		t.Fatalf("expected template error, got %v", err)
	}
}

func TestNewWiresBundledSubmodels(t *testing.T) {
	fakes := newFakeProviders()
	root := writeBundle(t, checkpoint.LLMDir, checkpoint.VisualEncoderDir,
		checkpoint.LLMAdapterDir, checkpoint.VisualEncoderAdapterDir)

	newTestAdapter(t, fakes, Options{CheckpointRef: root, Device: vlm.DeviceCPU})

	if fakes.llmPath != filepath.Join(root, checkpoint.LLMDir) {
		t.Fatalf("llm loaded from %q", fakes.llmPath)
	}
	if fakes.visionPath != filepath.Join(root, checkpoint.VisualEncoderDir) {
		t.Fatalf("vision encoder loaded from %q", fakes.visionPath)
	}
	if fakes.projectorPath != filepath.Join(root, checkpoint.ProjectorDir) {
		t.Fatalf("projector loaded from %q", fakes.projectorPath)
	}

	wantLLMAdapter := filepath.Join(root, checkpoint.LLMAdapterDir)
	if len(fakes.llm.merged) != 1 || fakes.llm.merged[0] != wantLLMAdapter {
		t.Fatalf("llm adapter merges: %v", fakes.llm.merged)
	}
	wantVisAdapter := filepath.Join(root, checkpoint.VisualEncoderAdapterDir)
	if len(fakes.vision.merged) != 1 || fakes.vision.merged[0] != wantVisAdapter {
		t.Fatalf("vision adapter merges: %v", fakes.vision.merged)
	}

	for name, m := range map[string]*fakeModel{
		"llm":       &fakes.llm.fakeModel,
		"vision":    &fakes.vision.fakeModel,
		"projector": &fakes.projector.fakeModel,
	} {
		if !m.evaled {
			t.Errorf("%s not switched to eval mode", name)
		}
		if m.device != vlm.DeviceCPU {
			t.Errorf("%s on device %q", name, m.device)
		}
	}
}

func TestNewExplicitPaths(t *testing.T) {
	fakes := newFakeProviders()
	adapter := newTestAdapter(t, fakes, Options{
		CheckpointRef:     writeBundle(t),
		LLMPath:           "hub/llm-7b",
		VisualEncoderPath: "hub/clip-vit",
		Device:            vlm.DeviceCPU,
	})
	if fakes.llmPath != "hub/llm-7b" || fakes.visionPath != "hub/clip-vit" {
		t.Fatalf("explicit paths not honored: %q, %q", fakes.llmPath, fakes.visionPath)
	}
	if len(fakes.llm.merged) != 0 {
		t.Fatalf("unexpected adapter merge: %v", fakes.llm.merged)
	}
	if adapter == nil {
		t.Fatal("nil adapter")
	}
}

func TestNewPropagatesWiringErrors(t *testing.T) {
	fakes := newFakeProviders()
	// Bundle without llm/ and no explicit path.
	_, err := New(context.Background(), logging.NullLogger(), Options{
		CheckpointRef:     writeBundle(t),
		VisualEncoderPath: "hub/clip-vit",
	}, fakes.providers())
	if !errors.Is(err, checkpoint.ErrLLMPathRequired) {
		t.Fatalf("expected ErrLLMPathRequired, got %v", err)
	}

	// Bundle with llm/ plus a conflicting explicit path.
	_, err = New(context.Background(), logging.NullLogger(), Options{
		CheckpointRef:     writeBundle(t, checkpoint.LLMDir, checkpoint.VisualEncoderDir),
		LLMPath:           "hub/llm-7b",
	}, fakes.providers())
	if !errors.Is(err, checkpoint.ErrLLMPathConflict) {
		t.Fatalf("expected ErrLLMPathConflict, got %v", err)
	}
}

func TestNewGenerationDefaultsAndOverrides(t *testing.T) {
	fakes := newFakeProviders()
	adapter := newTestAdapter(t, fakes, Options{
		CheckpointRef: writeBundle(t, checkpoint.LLMDir, checkpoint.VisualEncoderDir),
		Device:        vlm.DeviceCPU,
	})
	cfg := adapter.GenerationConfig()
	if cfg.MaxNewTokens != vlm.DefaultMaxNewTokens || cfg.DoSample {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	// Tokenizer has no pad token, so pad falls back to EOS.
	if cfg.PadTokenID != fakes.tokenizer.EOSTokenID() {
		t.Fatalf("pad id %d, want eos fallback %d", cfg.PadTokenID, fakes.tokenizer.EOSTokenID())
	}

	maxNew := 512
	sample := true
	adapter = newTestAdapter(t, newFakeProviders(), Options{
		CheckpointRef: writeBundle(t, checkpoint.LLMDir, checkpoint.VisualEncoderDir),
		Device:        vlm.DeviceCPU,
		Generation:    &vlm.GenerationOverrides{MaxNewTokens: &maxNew, DoSample: &sample},
	})
	cfg = adapter.GenerationConfig()
	if cfg.MaxNewTokens != 512 || !cfg.DoSample {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestBuildPromptMultiChoice(t *testing.T) {
	fakes := newFakeProviders()
	adapter := newTestAdapter(t, fakes, Options{
		CheckpointRef: writeBundle(t, checkpoint.LLMDir, checkpoint.VisualEncoderDir),
		Device:        vlm.DeviceCPU,
	})

	row := dataset.Row{
		Index:    "42",
		Question: "What color is the sky?",
		Images:   []string{tinyPNGBase64},
		Columns:  map[string]string{"A": "Blue", "B": "Green", "C": "nan"},
	}
	prompt, err := adapter.BuildPrompt(row, "MMBench_DEV_EN")
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}

	want := "What color is the sky? There are several options:\nA. Blue\nB. Green\n\nAnswer with the option's letter from the given choices directly."
	if prompt.Text != want {
		t.Fatalf("prompt text:\n%q\nwant:\n%q", prompt.Text, want)
	}

	if len(prompt.ImagePaths) != 1 {
		t.Fatalf("image paths: %v", prompt.ImagePaths)
	}
	// Images land under the dataset family's cache root, keyed by row index.
	if got, want := prompt.ImagePaths[0], filepath.Join(adapter.imageCacheDir, "MMBench", "42.jpg"); got != want {
		t.Fatalf("image path %q, want %q", got, want)
	}
	if _, err := os.Stat(prompt.ImagePaths[0]); err != nil {
		t.Fatalf("image not materialized: %v", err)
	}

	// Rebuilding must reuse the cached file, not rewrite it.
	before, err := os.Stat(prompt.ImagePaths[0])
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if _, err := adapter.BuildPrompt(row, "MMBench_DEV_EN"); err != nil {
		t.Fatalf("rebuild prompt: %v", err)
	}
	after, err := os.Stat(prompt.ImagePaths[0])
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatal("cached image was rewritten")
	}
}

func TestBuildPromptHintAndChinese(t *testing.T) {
	adapter := newTestAdapter(t, newFakeProviders(), Options{
		CheckpointRef: writeBundle(t, checkpoint.LLMDir, checkpoint.VisualEncoderDir),
		Device:        vlm.DeviceCPU,
	})

	row := dataset.Row{
		Index:    "7",
		Question: "天空是什么颜色？",
		Hint:     "看图片。",
		Images:   []string{tinyPNGBase64},
		Columns:  map[string]string{"A": "蓝色", "B": "绿色"},
	}
	prompt, err := adapter.BuildPrompt(row, "MMBench_DEV_CN")
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	if !strings.HasPrefix(prompt.Text, "看图片。 天空是什么颜色？ There are several options:\n") {
		t.Fatalf("hint not prepended: %q", prompt.Text)
	}
	if !strings.HasSuffix(prompt.Text, "\n请直接回答选项字母。") {
		t.Fatalf("expected Chinese answer instruction: %q", prompt.Text)
	}
}

func TestBuildPromptPassthroughForVQA(t *testing.T) {
	adapter := newTestAdapter(t, newFakeProviders(), Options{
		CheckpointRef: writeBundle(t, checkpoint.LLMDir, checkpoint.VisualEncoderDir),
		Device:        vlm.DeviceCPU,
	})
	row := dataset.Row{
		Index:    "1",
		Question: "What does the sign say?",
		Images:   []string{tinyPNGBase64},
		Columns:  map[string]string{"A": "Stop"},
	}
	prompt, err := adapter.BuildPrompt(row, "TextVQA_VAL")
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	if prompt.Text != row.Question {
		t.Fatalf("VQA question must pass through unchanged, got %q", prompt.Text)
	}
}

func TestBuildPromptMultiImage(t *testing.T) {
	adapter := newTestAdapter(t, newFakeProviders(), Options{
		CheckpointRef: writeBundle(t, checkpoint.LLMDir, checkpoint.VisualEncoderDir),
		Device:        vlm.DeviceCPU,
	})
	row := dataset.Row{
		Index:      "3",
		Question:   "Compare the figures.",
		Images:     []string{tinyPNGBase64, tinyPNGBase64},
		ImageNames: []string{"3_a.png", "3_b.png"},
	}
	prompt, err := adapter.BuildPrompt(row, "MMMU_DEV_VAL")
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	if len(prompt.ImagePaths) != 2 {
		t.Fatalf("image paths: %v", prompt.ImagePaths)
	}

	// Generation refuses multi-image prompts instead of truncating.
	_, err = adapter.GeneratePrompt(context.Background(), prompt, "MMMU_DEV_VAL")
	if !errors.Is(err, ErrMultiImageUnsupported) {
		t.Fatalf("expected ErrMultiImageUnsupported, got %v", err)
	}
}

func TestBuildPromptRequiresImage(t *testing.T) {
	adapter := newTestAdapter(t, newFakeProviders(), Options{
		CheckpointRef: writeBundle(t, checkpoint.LLMDir, checkpoint.VisualEncoderDir),
		Device:        vlm.DeviceCPU,
	})
	_, err := adapter.BuildPrompt(dataset.Row{Index: "9", Question: "?"}, "MME")
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
}

// writeTestImage writes a decodable 2x4 PNG and returns its path.
func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.png")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create image: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, image.NewRGBA(image.Rect(0, 0, 2, 4))); err != nil {
		t.Fatalf("encode image: %v", err)
	}
	return path
}

func TestGeneratePipeline(t *testing.T) {
	fakes := newFakeProviders()
	adapter := newTestAdapter(t, fakes, Options{
		CheckpointRef: writeBundle(t, checkpoint.LLMDir, checkpoint.VisualEncoderDir),
		Device:        vlm.DeviceCPU,
	})

	answer, err := adapter.Generate(context.Background(), writeTestImage(t), "What is this?", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if answer != "B" {
		t.Fatalf("answer %q, want decoded output trimmed to %q", answer, "B")
	}

	// The 2x4 input must be padded to a 4x4 square before preprocessing.
	if fakes.processor.gotSize != image.Pt(4, 4) {
		t.Fatalf("preprocessed size %v, want 4x4", fakes.processor.gotSize)
	}

	// Default layer selection is the second-to-last hidden state (index 2
	// of 4) with the class token row dropped.
	features := fakes.projector.gotFeatures
	if features.Rows() != 2 {
		t.Fatalf("projector got %d rows, want 2 (class token dropped)", features.Rows())
	}
	if features.Data[0] != 22 {
		t.Fatalf("projector got layer starting at %v, want second-to-last layer row 1", features.Data[0])
	}

	// Input ids: BOS-prefixed prefix, the image token, then the suffix
	// encoded without special tokens.
	ids := fakes.llm.gotInput.InputIDs
	if len(ids) != 4 {
		t.Fatalf("input ids: %v", ids)
	}
	if ids[0] != fakes.tokenizer.BOSTokenID() {
		t.Fatalf("prefix missing BOS: %v", ids)
	}
	if ids[2] != vlm.ImageTokenIndex {
		t.Fatalf("image token not spliced: %v", ids)
	}
	if fakes.llm.gotInput.ImageEmbeddings.Rows() != fakes.projector.output.Rows() {
		t.Fatal("projected embeddings not passed to generation")
	}
}

func TestGenerateAppliesTemplate(t *testing.T) {
	fakes := newFakeProviders()
	adapter := newTestAdapter(t, fakes, Options{
		CheckpointRef:  writeBundle(t, checkpoint.LLMDir, checkpoint.VisualEncoderDir),
		Device:         vlm.DeviceCPU,
		PromptTemplate: "internlm2_chat",
	})

	if _, err := adapter.Generate(context.Background(), writeTestImage(t), "Hi", ""); err != nil {
		t.Fatalf("generate: %v", err)
	}
	// The template prefix before the placeholder encodes to a non-empty
	// segment: "<|im_start|>user\n" is 17 bytes.
	ids := fakes.llm.gotInput.InputIDs
	if ids[1] != 17 {
		t.Fatalf("template prefix not wrapped around placeholder: %v", ids)
	}
}

func TestGenerateRejectsEmbeddedPlaceholder(t *testing.T) {
	adapter := newTestAdapter(t, newFakeProviders(), Options{
		CheckpointRef: writeBundle(t, checkpoint.LLMDir, checkpoint.VisualEncoderDir),
		Device:        vlm.DeviceCPU,
	})
	_, err := adapter.Generate(context.Background(), writeTestImage(t), "what is "+vlm.ImagePlaceholder+"?", "")
	var placeholderErr *PlaceholderError
	if !errors.As(err, &placeholderErr) {
		t.Fatalf("expected PlaceholderError, got %v", err)
	}
	if placeholderErr.Count != 2 {
		t.Fatalf("placeholder count %d, want 2", placeholderErr.Count)
	}
}

func TestSelectHiddenLayer(t *testing.T) {
	states := []vlm.Tensor{
		{Shape: []int64{1, 1}, Data: []float32{0}},
		{Shape: []int64{1, 1}, Data: []float32{1}},
		{Shape: []int64{1, 1}, Data: []float32{2}},
	}
	for _, tc := range []struct {
		index int
		want  float32
	}{
		{-1, 2}, {-2, 1}, {0, 0}, {2, 2},
	} {
		got, err := selectHiddenLayer(states, tc.index)
		if err != nil {
			t.Fatalf("index %d: %v", tc.index, err)
		}
		if got.Data[0] != tc.want {
			t.Fatalf("index %d selected %v, want %v", tc.index, got.Data[0], tc.want)
		}
	}
	if _, err := selectHiddenLayer(states, -4); err == nil {
		t.Fatal("expected out of range error")
	}
	if _, err := selectHiddenLayer(nil, -2); err == nil {
		t.Fatal("expected error for empty hidden states")
	}
}
