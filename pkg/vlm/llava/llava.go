// Package llava adapts LLaVA-XTuner checkpoints to the benchmark harness
// interface: BuildPrompt assembles dataset-aware prompts and Generate runs
// one multimodal inference. Model execution is delegated to the providers
// injected at construction.
package llava

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vlmbench/llava-runner/pkg/checkpoint"
	"github.com/vlmbench/llava-runner/pkg/checkpoint/safetensors"
	"github.com/vlmbench/llava-runner/pkg/dataset"
	"github.com/vlmbench/llava-runner/pkg/hostinfo"
	"github.com/vlmbench/llava-runner/pkg/logging"
	"github.com/vlmbench/llava-runner/pkg/snapshot"
	"github.com/vlmbench/llava-runner/pkg/vlm"
	"github.com/vlmbench/llava-runner/pkg/vlm/templates"
)

const (
	// DefaultVisualSelectLayer is the hidden layer image features are taken
	// from: the second-to-last encoder layer, matching how the projector
	// was trained.
	DefaultVisualSelectLayer = -2
	// DefaultImageCacheDir is where decoded benchmark images land.
	DefaultImageCacheDir = "images"
)

// Providers are the model-execution collaborators the adapter delegates
// to. All fields are required.
type Providers struct {
	Resolver       snapshot.Resolver
	LanguageModels vlm.LanguageModelLoader
	VisionEncoders vlm.VisionEncoderLoader
	Projectors     vlm.ProjectorLoader
}

func (p Providers) validate() error {
	if p.Resolver == nil {
		return vlm.NewConfigError("resolver", "no checkpoint resolver provided")
	}
	if p.LanguageModels == nil {
		return vlm.NewConfigError("language-models", "no language model provider")
	}
	if p.VisionEncoders == nil {
		return vlm.NewConfigError("vision-encoders", "no vision encoder provider")
	}
	if p.Projectors == nil {
		return vlm.NewConfigError("projectors", "no projector provider")
	}
	return nil
}

// Options configure a new Adapter.
type Options struct {
	// CheckpointRef is a local bundle directory or a registry reference.
	CheckpointRef string
	// LLMPath is the explicit language model path. Required when the
	// bundle has no llm/ subdirectory, forbidden when it has one.
	LLMPath string
	// VisualEncoderPath is the explicit vision encoder path, under the
	// same rule as LLMPath.
	VisualEncoderPath string
	// VisualSelectLayer selects the vision hidden layer; negative values
	// count from the end. Zero means DefaultVisualSelectLayer.
	VisualSelectLayer int
	// PromptTemplate names an instruction template from the fixed
	// registry. Empty means the raw prompt is used unmodified.
	PromptTemplate string
	// DType is the load precision. Empty means float16.
	DType vlm.DType
	// Device overrides automatic device selection.
	Device vlm.Device
	// ImageCacheDir overrides DefaultImageCacheDir.
	ImageCacheDir string
	// Generation overlays generation settings onto the defaults.
	Generation *vlm.GenerationOverrides
	// Datasets overrides the built-in dataset registry.
	Datasets *dataset.Registry
}

// Adapter holds the loaded sub-models and generation configuration. It is
// created once and not mutated afterwards; concurrent Generate calls on
// one instance are not supported.
type Adapter struct {
	log logging.Logger

	llm       vlm.LanguageModel
	tokenizer vlm.Tokenizer
	visual    vlm.VisionEncoder
	processor vlm.ImageProcessor
	projector vlm.Projector

	visualSelectLayer int
	template          *templates.Template
	genConfig         vlm.GenerationConfig

	datasets      *dataset.Registry
	imageCacheDir string
}

// New resolves the checkpoint bundle, wires and loads all sub-models, and
// returns a ready-to-generate Adapter.
func New(ctx context.Context, log logging.Logger, opts Options, providers Providers) (*Adapter, error) {
	if err := providers.validate(); err != nil {
		return nil, err
	}
	if opts.CheckpointRef == "" {
		return nil, vlm.NewConfigError("checkpoint", "no checkpoint reference provided")
	}

	// Fail on a bad template name before any weights are touched.
	var template *templates.Template
	if opts.PromptTemplate != "" {
		resolved, err := templates.Lookup(opts.PromptTemplate)
		if err != nil {
			return nil, err
		}
		template = &resolved
	}

	root, err := providers.Resolver.Resolve(ctx, opts.CheckpointRef)
	if err != nil {
		return nil, err
	}
	manifest, err := checkpoint.Parse(root)
	if err != nil {
		return nil, err
	}
	llmSource, err := manifest.LLM(opts.LLMPath)
	if err != nil {
		return nil, err
	}
	visualSource, err := manifest.VisualEncoder(opts.VisualEncoderPath)
	if err != nil {
		return nil, err
	}

	dtype := opts.DType
	if dtype == "" {
		dtype = vlm.DTypeFloat16
	}
	device := opts.Device
	if device == "" {
		device = hostinfo.DefaultDevice(log)
	}
	log.Infof("Loading checkpoint %s at %s, target device %s", root, dtype, device)
	preflight(log, llmSource.Path, visualSource.Path, manifest.ProjectorPath())

	loadOpts := vlm.LoadOptions{DType: dtype}
	adapter := &Adapter{
		log:               log,
		visualSelectLayer: opts.VisualSelectLayer,
		template:          template,
		datasets:          opts.Datasets,
		imageCacheDir:     opts.ImageCacheDir,
	}
	if adapter.visualSelectLayer == 0 {
		adapter.visualSelectLayer = DefaultVisualSelectLayer
	}
	if adapter.datasets == nil {
		adapter.datasets = dataset.NewRegistry()
	}
	if adapter.imageCacheDir == "" {
		adapter.imageCacheDir = DefaultImageCacheDir
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		llm, err := providers.LanguageModels.LoadLanguageModel(gctx, llmSource.Path, loadOpts)
		if err != nil {
			return err
		}
		tokenizer, err := providers.LanguageModels.LoadTokenizer(gctx, llmSource.Path)
		if err != nil {
			return err
		}
		if adapterPath, ok := manifest.LLMAdapter(); ok {
			if err := llm.MergeAdapter(gctx, adapterPath); err != nil {
				return err
			}
			log.Infof("Loaded language model adapter from %s", adapterPath)
		}
		if err := readyModel(gctx, llm, device); err != nil {
			return err
		}
		adapter.llm = llm
		adapter.tokenizer = tokenizer
		return nil
	})
	group.Go(func() error {
		visual, err := providers.VisionEncoders.LoadVisionEncoder(gctx, visualSource.Path, loadOpts)
		if err != nil {
			return err
		}
		processor, err := providers.VisionEncoders.LoadImageProcessor(gctx, visualSource.Path)
		if err != nil {
			return err
		}
		if adapterPath, ok := manifest.VisualEncoderAdapter(); ok {
			if err := visual.MergeAdapter(gctx, adapterPath); err != nil {
				return err
			}
			log.Infof("Loaded visual encoder adapter from %s", adapterPath)
		}
		if err := readyModel(gctx, visual, device); err != nil {
			return err
		}
		adapter.visual = visual
		adapter.processor = processor
		return nil
	})
	group.Go(func() error {
		projector, err := providers.Projectors.LoadProjector(gctx, manifest.ProjectorPath(), loadOpts)
		if err != nil {
			return err
		}
		if err := readyModel(gctx, projector, device); err != nil {
			return err
		}
		adapter.projector = projector
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	log.Infof("Loaded language model from %s (%s)", adapter.llm.Path(), llmSource.Kind)
	log.Infof("Loaded visual encoder from %s (%s)", adapter.visual.Path(), visualSource.Kind)
	log.Infof("Loaded projector from %s", adapter.projector.Path())

	adapter.genConfig = vlm.DefaultGenerationConfig(adapter.tokenizer)
	if fields := opts.Generation.Fields(); len(fields) > 0 {
		log.Warnf("Generation overrides received (%s), using as generation config", strings.Join(fields, ", "))
		adapter.genConfig = opts.Generation.Overlay(adapter.genConfig)
	}

	return adapter, nil
}

// GenerationConfig returns the adapter's effective generation
// configuration.
func (a *Adapter) GenerationConfig() vlm.GenerationConfig {
	return a.genConfig
}

// readyModel switches a freshly loaded model to evaluation mode and moves
// it from CPU to the target device.
func readyModel(ctx context.Context, model vlm.Model, device vlm.Device) error {
	if err := model.Eval(ctx); err != nil {
		return err
	}
	return model.ToDevice(ctx, device)
}

// preflight estimates checkpoint weight sizes from safetensors headers and
// warns when they exceed system memory. Advisory only: explicit paths may
// point at hub identifiers the loaders resolve themselves, in which case
// the estimate is silently skipped.
func preflight(log logging.Logger, dirs ...string) {
	var totalBytes, totalParams int64
	for _, dir := range dirs {
		bytes, params, err := safetensors.DirStats(dir)
		if err != nil {
			log.Debugf("No local weight stats for %s: %v", dir, err)
			continue
		}
		totalBytes += bytes
		totalParams += params
	}
	if totalBytes == 0 {
		return
	}
	log.Infof("Checkpoint weights on disk: %s (%s parameters)",
		safetensors.FormatSize(totalBytes), safetensors.FormatParameters(totalParams))
	if ram := hostinfo.TotalRAM(log); ram > 0 && uint64(totalBytes) > ram {
		log.Warnf("Checkpoint weights (%s) exceed system memory (%s); loading may fail",
			safetensors.FormatSize(totalBytes), safetensors.FormatSize(int64(ram)))
	}
}
