package llava

import (
	"context"
	"fmt"
	"strings"

	"github.com/vlmbench/llava-runner/pkg/imaging"
	"github.com/vlmbench/llava-runner/pkg/vlm"
)

// GeneratePrompt runs one inference for a built prompt. Prompts carrying
// more than one image are rejected, not truncated.
func (a *Adapter) GeneratePrompt(ctx context.Context, prompt *Prompt, datasetName string) (string, error) {
	switch len(prompt.ImagePaths) {
	case 0:
		return "", ErrNoImage
	case 1:
		return a.Generate(ctx, prompt.ImagePaths[0], prompt.Text, datasetName)
	default:
		return "", fmt.Errorf("%w: prompt has %d images", ErrMultiImageUnsupported, len(prompt.ImagePaths))
	}
}

// Generate runs the full multimodal pipeline for one image and prompt:
// square-pad and preprocess the image, encode it, project the selected
// hidden layer into the language embedding space, splice the image token
// into the tokenized prompt, and decode the model's output. The dataset
// name is accepted for interface uniformity with BuildPrompt; generation
// does not branch on it.
func (a *Adapter) Generate(ctx context.Context, imagePath, prompt, datasetName string) (string, error) {
	_ = datasetName
	embeddings, err := a.encodeImage(ctx, imagePath)
	if err != nil {
		return "", err
	}
	inputIDs, err := a.tokenizePrompt(ctx, prompt)
	if err != nil {
		return "", err
	}

	output, err := a.llm.Generate(ctx, vlm.GenerateInput{
		InputIDs:        inputIDs,
		ImageEmbeddings: embeddings,
	}, a.genConfig)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	answer, err := a.tokenizer.Decode(ctx, output, true)
	if err != nil {
		return "", fmt.Errorf("decode output: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// encodeImage turns an image file into language-space embeddings. The
// class token is dropped: only patch features carry spatial content the
// projector was trained on.
func (a *Adapter) encodeImage(ctx context.Context, imagePath string) (vlm.Tensor, error) {
	img, err := imaging.Load(imagePath)
	if err != nil {
		return vlm.Tensor{}, err
	}
	squared := imaging.ExpandToSquare(img, imaging.MeanFillColor(a.processor.ImageMean()))
	pixels, err := a.processor.Preprocess(ctx, squared)
	if err != nil {
		return vlm.Tensor{}, fmt.Errorf("preprocess image: %w", err)
	}
	visionOut, err := a.visual.Forward(ctx, pixels)
	if err != nil {
		return vlm.Tensor{}, fmt.Errorf("vision forward: %w", err)
	}
	layer, err := selectHiddenLayer(visionOut.HiddenStates, a.visualSelectLayer)
	if err != nil {
		return vlm.Tensor{}, err
	}
	patches, err := layer.WithoutLeadingRows(1)
	if err != nil {
		return vlm.Tensor{}, fmt.Errorf("drop class token: %w", err)
	}
	embeddings, err := a.projector.Project(ctx, patches)
	if err != nil {
		return vlm.Tensor{}, fmt.Errorf("project image features: %w", err)
	}
	return embeddings, nil
}

// tokenizePrompt wraps the prompt in the instruction template, splits it
// at the image placeholder, and tokenizes each side. The prefix keeps its
// special tokens (BOS), the suffix does not, and the reserved image token
// id joins the two halves.
func (a *Adapter) tokenizePrompt(ctx context.Context, prompt string) ([]int32, error) {
	text := vlm.ImagePlaceholder + "\n" + prompt
	if a.template != nil {
		text = a.template.Wrap(text)
	}

	segments := strings.Split(text, vlm.ImagePlaceholder)
	if len(segments) != 2 {
		return nil, &PlaceholderError{Count: len(segments) - 1}
	}
	prefix, err := a.tokenizer.Encode(ctx, segments[0], true)
	if err != nil {
		return nil, fmt.Errorf("encode prompt prefix: %w", err)
	}
	suffix, err := a.tokenizer.Encode(ctx, segments[1], false)
	if err != nil {
		return nil, fmt.Errorf("encode prompt suffix: %w", err)
	}

	ids := make([]int32, 0, len(prefix)+1+len(suffix))
	ids = append(ids, prefix...)
	ids = append(ids, vlm.ImageTokenIndex)
	ids = append(ids, suffix...)
	return ids, nil
}

// selectHiddenLayer indexes the vision hidden states, supporting negative
// indices counted from the end.
func selectHiddenLayer(states []vlm.Tensor, index int) (vlm.Tensor, error) {
	if len(states) == 0 {
		return vlm.Tensor{}, fmt.Errorf("vision encoder returned no hidden states")
	}
	i := index
	if i < 0 {
		i += len(states)
	}
	if i < 0 || i >= len(states) {
		return vlm.Tensor{}, fmt.Errorf("visual select layer %d out of range for %d hidden states", index, len(states))
	}
	return states[i], nil
}
