package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"

	"memoryd/internal/memerr"
	"memoryd/internal/observability"
)

// OpenAIClient implements Client against any OpenAI-compatible endpoint.
type OpenAIClient struct {
	sdk            openai.Client
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	chatModel      string
	embeddingModel string
	dims           int
}

// NewOpenAIClient builds a Client. baseURL/apiKey/chatModel/embeddingModel
// come from Config.
func NewOpenAIClient(baseURL, apiKey, chatModel, embeddingModel string, dims int) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		sdk:            openai.NewClient(opts...),
		httpClient:     &http.Client{},
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		apiKey:         apiKey,
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		dims:           dims,
	}
}

func (c *OpenAIClient) EmbeddingDimension() int { return c.dims }

// isThinkingModel returns true for "o<int>-*" reasoning models (e.g. o4-mini,
// o1-pro), which require MaxCompletionTokens instead of MaxTokens.
func isThinkingModel(model string) bool {
	model = strings.ToLower(model)
	if !strings.HasPrefix(model, "o") {
		return false
	}
	rest := model[1:]
	i := 0
	for ; i < len(rest) && rest[i] >= '0' && rest[i] <= '9'; i++ {
	}
	return i > 0 && i < len(rest) && rest[i] == '-'
}

func toSDKMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (c *OpenAIClient) newParams(msgs []Message) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.chatModel),
		Messages:    toSDKMessages(msgs),
		Temperature: param.NewOpt(0.2),
	}
	if isThinkingModel(c.chatModel) {
		params.MaxCompletionTokens = param.NewOpt(int64(4096))
	} else {
		params.MaxTokens = param.NewOpt(int64(4096))
	}
	return params
}

// Chat performs a plain chat completion.
func (c *OpenAIClient) Chat(ctx context.Context, msgs []Message) (string, error) {
	resp, err := c.sdk.Chat.Completions.New(ctx, c.newParams(msgs))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStructured issues a structured-output chat completion constrained
// to schema (already normalized by NormalizeSchema by the caller's schema
// registry), then unmarshals the result into out. A malformed response is
// retried once through jsonrepair before being treated as a fatal schema
// mismatch.
func (c *OpenAIClient) GenerateStructured(ctx context.Context, msgs []Message, schemaName string, schema map[string]any, out any) error {
	params := c.newParams(msgs)
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
			JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   schemaName,
				Schema: schema,
				Strict: param.NewOpt(true),
			},
		},
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("structured completion %s: %w", schemaName, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("structured completion %s: no choices returned", schemaName)
	}

	raw := resp.Choices[0].Message.Content
	if err := unmarshalJSON([]byte(raw), out); err != nil {
		redacted := observability.RedactJSON(json.RawMessage(raw))
		observability.LoggerWithTrace(ctx).Warn().Str("schema", schemaName).Str("raw", string(redacted)).Err(err).Msg("structured_output_repair_failed")
		return fmt.Errorf("%w: %s: %v", memerr.ErrSchemaMismatch, schemaName, err)
	}
	return nil
}

// unmarshalJSON tries a direct decode first, then a jsonrepair pass for
// malformed model output before giving up. Grounded on the retrieval pack's
// repair-then-retry pattern for structured LLM JSON output.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}

// --- Embeddings ---
// The upstream SDK's Embeddings client is bypassed in favor of a raw HTTP
// POST, mirroring how this code base has always talked to the embeddings
// endpoint; every text is embedded in a single bulk request instead of one
// request per input, to amortize round trips.

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	reqBody := embeddingRequest{
		Input:          texts,
		Model:          c.embeddingModel,
		EncodingFormat: "float",
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	url := c.baseURL + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding request failed: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = normalizeUnit(d.Embedding)
	}
	return out, nil
}

// normalizeUnit returns an L2-normalized copy of v so stored embeddings are always
// unit-norm, keeping cosine distance and dot-product distance equivalent.
func normalizeUnit(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
