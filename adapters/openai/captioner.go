package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/sirupsen/logrus"

	"github.com/FrenchMajesty/tagger/pkg/imageio"
)

const (
	defaultModel     = "gpt-4.1-mini"
	defaultMaxTokens = 40
	defaultPrompt    = `Describe the clothing or product in this image in one short sentence.

Rules:
- Return ONLY the sentence, nothing else
- Use lowercase, no trailing punctuation
- Mention colors, materials, patterns and garment types when visible
- At most 30 words`
)

// Captioner implements image captioning with a vision-capable chat model
type Captioner struct {
	client    *openai.Client
	model     string
	prompt    string
	maxTokens int64
	logger    logrus.FieldLogger
}

// Option configures a Captioner
type Option func(*captionerConfig)

type captionerConfig struct {
	model      string
	prompt     string
	baseURL    string
	maxTokens  int64
	maxRetries int
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// WithModel sets the chat model
func WithModel(model string) Option {
	return func(c *captionerConfig) { c.model = model }
}

// WithPrompt replaces the instruction sent with every image
func WithPrompt(prompt string) Option {
	return func(c *captionerConfig) { c.prompt = prompt }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint
func WithBaseURL(url string) Option {
	return func(c *captionerConfig) { c.baseURL = url }
}

// WithMaxRetries sets the SDK retry budget
func WithMaxRetries(n int) Option {
	return func(c *captionerConfig) { c.maxRetries = n }
}

// WithHTTPClient replaces http.DefaultClient
func WithHTTPClient(hc *http.Client) Option {
	return func(c *captionerConfig) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *captionerConfig) { c.logger = logger }
}

// NewCaptioner creates a Captioner. apiKey is required.
func NewCaptioner(apiKey string, opts ...Option) (*Captioner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	cfg := captionerConfig{
		model:      defaultModel,
		prompt:     defaultPrompt,
		maxTokens:  defaultMaxTokens,
		maxRetries: 2,
		httpClient: http.DefaultClient,
		logger:     logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	client := openai.NewClient(clientOpts...)

	return &Captioner{
		client:    &client,
		model:     cfg.model,
		prompt:    cfg.prompt,
		maxTokens: cfg.maxTokens,
		logger:    cfg.logger.WithField("model", cfg.model),
	}, nil
}

// Caption sends the image as a data URL and returns the model's sentence
func (c *Captioner) Caption(ctx context.Context, img *imageio.Image) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.prompt),
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
							openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
								URL:    img.DataURL(),
								Detail: "low",
							}),
						},
					},
				},
			},
		},
		MaxCompletionTokens: param.NewOpt(c.maxTokens),
		Temperature:         param.NewOpt(0.0),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to caption image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("caption response has no choices")
	}

	caption := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.WithField("caption", caption).Debug("captioned image")
	return caption, nil
}
