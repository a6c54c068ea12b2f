package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vlmbench/llava-runner/pkg/dataset"
	"github.com/vlmbench/llava-runner/pkg/snapshot"
	"github.com/vlmbench/llava-runner/pkg/vlm"
	"github.com/vlmbench/llava-runner/pkg/vlm/backends/torchrunner"
	"github.com/vlmbench/llava-runner/pkg/vlm/llava"
)

var log = logrus.New()

// rootFlags are the persistent flags shared by all commands.
var rootFlags struct {
	storePath     string
	datasetsFile  string
	imageCacheDir string
	verbose       bool
}

// modelFlags configure the adapter for commands that load a checkpoint.
var modelFlags struct {
	checkpoint        string
	llmPath           string
	visualEncoderPath string
	promptTemplate    string
	visualSelectLayer int
	dtype             string
	device            string
	maxNewTokens      int
	doSample          bool

	runnerPython string
	runnerScript string
	runnerHost   string
	runnerFlags  string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:           "llava-runner",
		Short:         "Run and evaluate LLaVA-XTuner checkpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if rootFlags.verbose {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&rootFlags.storePath, "store-path", defaultStorePath(), "checkpoint snapshot store directory")
	root.PersistentFlags().StringVar(&rootFlags.datasetsFile, "datasets-file", "", "dataset registry overlay (yaml, json, or toml)")
	root.PersistentFlags().StringVar(&rootFlags.imageCacheDir, "image-cache", llava.DefaultImageCacheDir, "decoded image cache directory")
	root.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newPullCommand(), newTemplatesCommand(), newGenerateCommand(), newEvalCommand())

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "checkpoints"
	}
	return filepath.Join(home, ".llava-runner", "checkpoints")
}

// addModelFlags registers the adapter flags on commands that run inference.
func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&modelFlags.checkpoint, "checkpoint", "", "checkpoint bundle directory or registry reference (required)")
	cmd.Flags().StringVar(&modelFlags.llmPath, "llm-path", "", "explicit language model path, for bundles without llm/")
	cmd.Flags().StringVar(&modelFlags.visualEncoderPath, "visual-encoder-path", "", "explicit vision encoder path, for bundles without visual_encoder/")
	cmd.Flags().StringVar(&modelFlags.promptTemplate, "prompt-template", "", "instruction template name (see the templates command)")
	cmd.Flags().IntVar(&modelFlags.visualSelectLayer, "visual-select-layer", llava.DefaultVisualSelectLayer, "vision hidden layer to project")
	cmd.Flags().StringVar(&modelFlags.dtype, "dtype", string(vlm.DTypeFloat16), "weight precision (float16, bfloat16, float32)")
	cmd.Flags().StringVar(&modelFlags.device, "device", "", "target device (cpu, cuda, mps); autodetected when empty")
	cmd.Flags().IntVar(&modelFlags.maxNewTokens, "max-new-tokens", 0, "generation token budget override")
	cmd.Flags().BoolVar(&modelFlags.doSample, "do-sample", false, "sample instead of greedy decoding")

	cmd.Flags().StringVar(&modelFlags.runnerPython, "runner-python", torchrunner.DefaultPython, "inference runner interpreter")
	cmd.Flags().StringVar(&modelFlags.runnerScript, "runner-script", "", "inference runner server script (required)")
	cmd.Flags().StringVar(&modelFlags.runnerHost, "runner-host", torchrunner.DefaultHost, "inference runner listen address")
	cmd.Flags().StringVar(&modelFlags.runnerFlags, "runner-flags", "", "extra runner flags, shell quoted")
	_ = cmd.MarkFlagRequired("checkpoint")
	_ = cmd.MarkFlagRequired("runner-script")
}

// newResolver builds the snapshot client all commands resolve checkpoint
// references through.
func newResolver() (*snapshot.Client, error) {
	return snapshot.NewClient(
		snapshot.WithStoreRootPath(rootFlags.storePath),
		snapshot.WithLogger(log.WithField("component", "snapshot")),
	)
}

// newRegistry builds the dataset registry, applying the overlay file when
// one is configured.
func newRegistry() (*dataset.Registry, error) {
	registry := dataset.NewRegistry()
	if rootFlags.datasetsFile != "" {
		if err := registry.LoadFile(rootFlags.datasetsFile); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// startAdapter launches the inference runner and constructs the adapter
// against it. The returned runner must be closed by the caller.
func startAdapter(ctx context.Context) (*llava.Adapter, *torchrunner.Runner, error) {
	resolver, err := newResolver()
	if err != nil {
		return nil, nil, err
	}
	registry, err := newRegistry()
	if err != nil {
		return nil, nil, err
	}

	runnerConfig := torchrunner.NewDefaultConfig()
	runnerConfig.Python = modelFlags.runnerPython
	runnerConfig.Script = modelFlags.runnerScript
	runnerConfig.Host = modelFlags.runnerHost
	runnerConfig.ExtraFlags = modelFlags.runnerFlags
	runner, err := torchrunner.Start(ctx, log, log.WithField("component", "runner"), runnerConfig)
	if err != nil {
		return nil, nil, err
	}

	var overrides *vlm.GenerationOverrides
	if modelFlags.maxNewTokens > 0 || modelFlags.doSample {
		overrides = &vlm.GenerationOverrides{}
		if modelFlags.maxNewTokens > 0 {
			overrides.MaxNewTokens = &modelFlags.maxNewTokens
		}
		if modelFlags.doSample {
			overrides.DoSample = &modelFlags.doSample
		}
	}

	client := runner.Client()
	adapter, err := llava.New(ctx, log, llava.Options{
		CheckpointRef:     modelFlags.checkpoint,
		LLMPath:           modelFlags.llmPath,
		VisualEncoderPath: modelFlags.visualEncoderPath,
		VisualSelectLayer: modelFlags.visualSelectLayer,
		PromptTemplate:    modelFlags.promptTemplate,
		DType:             vlm.DType(modelFlags.dtype),
		Device:            vlm.Device(modelFlags.device),
		ImageCacheDir:     rootFlags.imageCacheDir,
		Generation:        overrides,
		Datasets:          registry,
	}, llava.Providers{
		Resolver:       resolver,
		LanguageModels: client,
		VisionEncoders: client,
		Projectors:     client,
	})
	if err != nil {
		runner.Close()
		return nil, nil, err
	}
	return adapter, runner, nil
}
