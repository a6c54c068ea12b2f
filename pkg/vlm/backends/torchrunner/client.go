package torchrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"

	"github.com/vlmbench/llava-runner/pkg/vlm"
)

// Client speaks the runner's loopback HTTP API and implements the vlm
// loader interfaces. Loaded sub-models are identified by server-side
// handles; the returned model values carry their handle and proxy every
// operation to the runner.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for a runner at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
	}
}

// APIError is a non-2xx response from the runner.
type APIError struct {
	Status  int
	Message string
}

// Error implements error.Error.
func (e *APIError) Error() string {
	return fmt.Sprintf("runner API error (status %d): %s", e.Status, e.Message)
}

func (c *Client) post(ctx context.Context, path string, request, response any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		message := string(raw)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		return &APIError{Status: resp.StatusCode, Message: message}
	}
	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Health reports whether the runner answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Message: "unhealthy"}
	}
	return nil
}

type loadRequest struct {
	Kind  string `json:"kind"`
	Path  string `json:"path"`
	DType string `json:"dtype,omitempty"`
}

type loadResponse struct {
	Handle string `json:"handle"`
}

func (c *Client) load(ctx context.Context, kind, path string, opts vlm.LoadOptions) (string, error) {
	var resp loadResponse
	err := c.post(ctx, "/v1/models/load", loadRequest{
		Kind:  kind,
		Path:  path,
		DType: string(opts.DType),
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Handle, nil
}

// model is the shared remote-model proxy.
type model struct {
	client *Client
	handle string
	path   string
}

type modelRequest struct {
	Handle      string `json:"handle"`
	AdapterPath string `json:"adapter_path,omitempty"`
	Device      string `json:"device,omitempty"`
}

func (m *model) Path() string { return m.path }

func (m *model) MergeAdapter(ctx context.Context, adapterPath string) error {
	return m.client.post(ctx, "/v1/models/merge_adapter", modelRequest{Handle: m.handle, AdapterPath: adapterPath}, nil)
}

func (m *model) Eval(ctx context.Context) error {
	return m.client.post(ctx, "/v1/models/eval", modelRequest{Handle: m.handle}, nil)
}

func (m *model) ToDevice(ctx context.Context, device vlm.Device) error {
	return m.client.post(ctx, "/v1/models/to_device", modelRequest{Handle: m.handle, Device: string(device)}, nil)
}

// LoadLanguageModel implements vlm.LanguageModelLoader.
func (c *Client) LoadLanguageModel(ctx context.Context, path string, opts vlm.LoadOptions) (vlm.LanguageModel, error) {
	handle, err := c.load(ctx, "llm", path, opts)
	if err != nil {
		return nil, err
	}
	return &languageModel{model{client: c, handle: handle, path: path}}, nil
}

type languageModel struct {
	model
}

type generateRequest struct {
	Handle          string               `json:"handle"`
	InputIDs        []int32              `json:"input_ids"`
	ImageEmbeddings vlm.Tensor           `json:"image_embeddings"`
	Config          vlm.GenerationConfig `json:"config"`
}

type generateResponse struct {
	OutputIDs []int32 `json:"output_ids"`
}

func (m *languageModel) Generate(ctx context.Context, input vlm.GenerateInput, cfg vlm.GenerationConfig) ([]int32, error) {
	var resp generateResponse
	err := m.client.post(ctx, "/v1/generate", generateRequest{
		Handle:          m.handle,
		InputIDs:        input.InputIDs,
		ImageEmbeddings: input.ImageEmbeddings,
		Config:          cfg,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.OutputIDs, nil
}

type tokenizerLoadResponse struct {
	Handle     string `json:"handle"`
	BOSTokenID int32  `json:"bos_token_id"`
	EOSTokenID int32  `json:"eos_token_id"`
	PadTokenID int32  `json:"pad_token_id"`
}

// LoadTokenizer implements vlm.LanguageModelLoader. Special token ids are
// returned by the load call and cached client-side; only Encode and Decode
// hit the runner afterwards.
func (c *Client) LoadTokenizer(ctx context.Context, path string) (vlm.Tokenizer, error) {
	var resp tokenizerLoadResponse
	if err := c.post(ctx, "/v1/tokenizers/load", loadRequest{Path: path}, &resp); err != nil {
		return nil, err
	}
	return &tokenizer{
		client: c,
		handle: resp.Handle,
		bos:    resp.BOSTokenID,
		eos:    resp.EOSTokenID,
		pad:    resp.PadTokenID,
	}, nil
}

type tokenizer struct {
	client        *Client
	handle        string
	bos, eos, pad int32
}

type encodeRequest struct {
	Handle           string `json:"handle"`
	Text             string `json:"text"`
	AddSpecialTokens bool   `json:"add_special_tokens"`
}

type encodeResponse struct {
	IDs []int32 `json:"ids"`
}

func (t *tokenizer) Encode(ctx context.Context, text string, addSpecialTokens bool) ([]int32, error) {
	var resp encodeResponse
	err := t.client.post(ctx, "/v1/tokenizers/encode", encodeRequest{
		Handle:           t.handle,
		Text:             text,
		AddSpecialTokens: addSpecialTokens,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

type decodeRequest struct {
	Handle            string  `json:"handle"`
	IDs               []int32 `json:"ids"`
	SkipSpecialTokens bool    `json:"skip_special_tokens"`
}

type decodeResponse struct {
	Text string `json:"text"`
}

func (t *tokenizer) Decode(ctx context.Context, ids []int32, skipSpecialTokens bool) (string, error) {
	var resp decodeResponse
	err := t.client.post(ctx, "/v1/tokenizers/decode", decodeRequest{
		Handle:            t.handle,
		IDs:               ids,
		SkipSpecialTokens: skipSpecialTokens,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (t *tokenizer) BOSTokenID() int32 { return t.bos }
func (t *tokenizer) EOSTokenID() int32 { return t.eos }
func (t *tokenizer) PadTokenID() int32 { return t.pad }

// LoadVisionEncoder implements vlm.VisionEncoderLoader.
func (c *Client) LoadVisionEncoder(ctx context.Context, path string, opts vlm.LoadOptions) (vlm.VisionEncoder, error) {
	handle, err := c.load(ctx, "visual_encoder", path, opts)
	if err != nil {
		return nil, err
	}
	return &visionEncoder{model{client: c, handle: handle, path: path}}, nil
}

type visionEncoder struct {
	model
}

type forwardRequest struct {
	Handle string     `json:"handle"`
	Input  vlm.Tensor `json:"input"`
}

type visionForwardResponse struct {
	HiddenStates []vlm.Tensor `json:"hidden_states"`
}

func (v *visionEncoder) Forward(ctx context.Context, pixels vlm.Tensor) (*vlm.VisionOutput, error) {
	var resp visionForwardResponse
	err := v.client.post(ctx, "/v1/vision/forward", forwardRequest{Handle: v.handle, Input: pixels}, &resp)
	if err != nil {
		return nil, err
	}
	return &vlm.VisionOutput{HiddenStates: resp.HiddenStates}, nil
}

type processorLoadResponse struct {
	Handle    string     `json:"handle"`
	ImageMean [3]float32 `json:"image_mean"`
}

// LoadImageProcessor implements vlm.VisionEncoderLoader. The normalization
// mean is cached client-side at load time since prompt construction needs
// it for every image.
func (c *Client) LoadImageProcessor(ctx context.Context, path string) (vlm.ImageProcessor, error) {
	var resp processorLoadResponse
	if err := c.post(ctx, "/v1/processors/load", loadRequest{Path: path}, &resp); err != nil {
		return nil, err
	}
	return &imageProcessor{client: c, handle: resp.Handle, mean: resp.ImageMean}, nil
}

type imageProcessor struct {
	client *Client
	handle string
	mean   [3]float32
}

type preprocessRequest struct {
	Handle string `json:"handle"`
	// ImagePNG is the PNG-encoded image; encoding/json base64s it on the
	// wire.
	ImagePNG []byte `json:"image_png"`
}

type preprocessResponse struct {
	Pixels vlm.Tensor `json:"pixels"`
}

func (p *imageProcessor) ImageMean() [3]float32 { return p.mean }

func (p *imageProcessor) Preprocess(ctx context.Context, img image.Image) (vlm.Tensor, error) {
	var encoded bytes.Buffer
	if err := png.Encode(&encoded, img); err != nil {
		return vlm.Tensor{}, fmt.Errorf("encode image for runner: %w", err)
	}
	var resp preprocessResponse
	err := p.client.post(ctx, "/v1/processors/preprocess", preprocessRequest{
		Handle:   p.handle,
		ImagePNG: encoded.Bytes(),
	}, &resp)
	if err != nil {
		return vlm.Tensor{}, err
	}
	return resp.Pixels, nil
}

// LoadProjector implements vlm.ProjectorLoader.
func (c *Client) LoadProjector(ctx context.Context, path string, opts vlm.LoadOptions) (vlm.Projector, error) {
	handle, err := c.load(ctx, "projector", path, opts)
	if err != nil {
		return nil, err
	}
	return &projector{model{client: c, handle: handle, path: path}}, nil
}

type projector struct {
	model
}

type projectorForwardResponse struct {
	Output vlm.Tensor `json:"output"`
}

func (p *projector) Project(ctx context.Context, features vlm.Tensor) (vlm.Tensor, error) {
	var resp projectorForwardResponse
	err := p.client.post(ctx, "/v1/projector/forward", forwardRequest{Handle: p.handle, Input: features}, &resp)
	if err != nil {
		return vlm.Tensor{}, err
	}
	return resp.Output, nil
}
