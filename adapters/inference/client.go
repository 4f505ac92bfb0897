// Package inference talks to the model-serving sidecar that hosts the
// image-text encoder, the captioner and the vision backbone.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/FrenchMajesty/tagger/internal/retry"
	"github.com/FrenchMajesty/tagger/pkg/imageio"
)

// DefaultCaptionMaxLength caps generated captions, in tokens
const DefaultCaptionMaxLength = 30

// Client calls one sidecar origin. The same origin may serve every model.
type Client struct {
	origin           string
	httpClient       *http.Client
	retryConfig      retry.Config
	captionMaxLength int
	logger           logrus.FieldLogger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryConfig replaces retry.DefaultConfig
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) { c.retryConfig = cfg }
}

// WithCaptionMaxLength sets the caption token cap
func WithCaptionMaxLength(n int) Option {
	return func(c *Client) { c.captionMaxLength = n }
}

func New(origin string, logger logrus.FieldLogger, opts ...Option) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Client{
		origin:           strings.TrimRight(origin, "/"),
		httpClient:       &http.Client{Timeout: 60 * time.Second},
		retryConfig:      retry.DefaultConfig(),
		captionMaxLength: DefaultCaptionMaxLength,
		logger:           logger.WithField("origin", origin),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Origin returns the sidecar base URL
func (c *Client) Origin() string {
	return c.origin
}

// EmbedImage returns the image embedding from the image-text encoder
func (c *Client) EmbedImage(ctx context.Context, img *imageio.Image) ([]float32, error) {
	res, err := c.vectorize(ctx, vecRequest{Images: []string{img.Base64()}})
	if err != nil {
		return nil, err
	}
	if len(res.ImageVectors) != 1 {
		return nil, errors.Errorf("expected 1 image vector, got %d", len(res.ImageVectors))
	}
	return res.ImageVectors[0], nil
}

// EmbedTexts returns one text embedding per input, in input order
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	res, err := c.vectorize(ctx, vecRequest{Texts: texts})
	if err != nil {
		return nil, err
	}
	if len(res.TextVectors) != len(texts) {
		return nil, errors.Errorf("expected %d text vectors, got %d", len(texts), len(res.TextVectors))
	}
	return res.TextVectors, nil
}

// Caption returns a short caption for the image
func (c *Client) Caption(ctx context.Context, img *imageio.Image) (string, error) {
	res, err := post[captionResponse](ctx, c, "/caption", captionRequest{
		Image:     img.Base64(),
		MaxLength: c.captionMaxLength,
	})
	if err != nil {
		return "", err
	}
	return res.Caption, nil
}

// ExtractFeatures returns the pooled backbone features for the image
func (c *Client) ExtractFeatures(ctx context.Context, img *imageio.Image) ([]float32, error) {
	res, err := post[featuresResponse](ctx, c, "/features", featuresRequest{Image: img.Base64()})
	if err != nil {
		return nil, err
	}
	if len(res.Vector) == 0 {
		return nil, errors.New("empty feature vector")
	}
	return res.Vector, nil
}

func (c *Client) vectorize(ctx context.Context, in vecRequest) (*vecResponse, error) {
	return post[vecResponse](ctx, c, "/vectorize", in)
}

// post sends body as JSON and decodes the response into a new R. Transient
// failures are retried; each attempt decodes into its own value so an error
// from a failed attempt never leaks into a later success.
func post[R any, PR interface {
	*R
	errorCarrier
}](ctx context.Context, c *Client, path string, body any) (*R, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal body")
	}

	return retry.Execute(ctx, retry.Options{
		Config:  c.retryConfig,
		Logger:  c.logger,
		APIName: "inference" + path,
	}, func(ctx context.Context, attempt int) (*R, int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(payload))
		if err != nil {
			return nil, 0, errors.Wrap(err, "create POST request")
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := c.httpClient.Do(req)
		if err != nil {
			return nil, 0, errors.Wrap(err, "send POST request")
		}
		defer res.Body.Close()

		bodyBytes, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, res.StatusCode, errors.Wrap(err, "read response body")
		}

		out := new(R)
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			if res.StatusCode > 399 {
				return nil, res.StatusCode, errors.Errorf("fail with status %d", res.StatusCode)
			}
			return nil, res.StatusCode, errors.Wrap(err, "unmarshal response body")
		}

		msg := PR(out).errorMessage()
		if res.StatusCode > 399 {
			return nil, res.StatusCode, errors.Errorf("fail with status %d: %s", res.StatusCode, msg)
		}
		if msg != "" {
			return nil, res.StatusCode, errors.New(msg)
		}
		return out, res.StatusCode, nil
	})
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s%s", c.origin, path)
}

type errorCarrier interface {
	errorMessage() string
}

type vecRequest struct {
	Texts  []string `json:"texts,omitempty"`
	Images []string `json:"images,omitempty"`
}

type vecResponse struct {
	TextVectors  [][]float32 `json:"textVectors"`
	ImageVectors [][]float32 `json:"imageVectors"`
	Error        string      `json:"error"`
}

func (r *vecResponse) errorMessage() string { return r.Error }

type captionRequest struct {
	Image     string `json:"image"`
	MaxLength int    `json:"max_length"`
}

type captionResponse struct {
	Caption string `json:"caption"`
	Error   string `json:"error"`
}

func (r *captionResponse) errorMessage() string { return r.Error }

type featuresRequest struct {
	Image string `json:"image"`
}

type featuresResponse struct {
	Vector []float32 `json:"vector"`
	Dims   int       `json:"dims"`
	Error  string    `json:"error"`
}

func (r *featuresResponse) errorMessage() string { return r.Error }
