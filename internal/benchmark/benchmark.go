// Package benchmark measures tagging quality and latency of each strategy
// against a labeled image dataset.
package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/FrenchMajesty/tagger"
	"github.com/FrenchMajesty/tagger/pkg/imageio"
)

const MAX_DATASET_SIZE = 500

// Predictor runs one prediction. *tagger.Tagger implements it.
type Predictor interface {
	Predict(ctx context.Context, img *imageio.Image, topK int, strategy string) tagger.Response
}

// DatasetItem is one labeled image
type DatasetItem struct {
	ImagePath string
	Expected  []string
}

// Result is the outcome of one strategy on one image
type Result struct {
	ImagePath string            `json:"image_path"`
	Strategy  tagger.StrategyID `json:"strategy"`
	Expected  []string          `json:"expected"`
	Predicted []string          `json:"predicted"`
	Hits      int               `json:"hits"`
	Fallback  bool              `json:"fallback,omitempty"`
	Error     string            `json:"error,omitempty"`
	Latency   time.Duration     `json:"latency"`
}

type StrategyMetrics struct {
	Strategy  tagger.StrategyID `json:"strategy"`
	Images    int               `json:"images"`
	Errors    int               `json:"errors"`
	Fallbacks int               `json:"fallbacks"`

	// Averaged over images without errors
	PrecisionAtK float64 `json:"precision_at_k"`
	RecallAtK    float64 `json:"recall_at_k"`
	HitRate      float64 `json:"hit_rate"`

	MeanLatency time.Duration `json:"mean_latency"`
	MaxLatency  time.Duration `json:"max_latency"`
}

type BenchmarkMetrics struct {
	TotalDuration time.Duration     `json:"total_duration"`
	TotalImages   int               `json:"total_images"`
	TopK          int               `json:"top_k"`
	Strategies    []StrategyMetrics `json:"strategies"`
}

// LoadDataset reads a CSV with a header row and two columns: image path and
// expected tags separated by ";". Relative image paths are resolved against
// the CSV's directory.
func LoadDataset(path string, limit int) ([]DatasetItem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}

	if len(records) < 2 {
		return nil, fmt.Errorf("dataset file must have at least a header and one row")
	}

	base := filepath.Dir(path)
	dataset := make([]DatasetItem, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) < 2 || strings.TrimSpace(record[0]) == "" {
			continue // Skip malformed rows
		}

		imagePath := strings.TrimSpace(record[0])
		if !filepath.IsAbs(imagePath) {
			imagePath = filepath.Join(base, imagePath)
		}

		var expected []string
		for _, tag := range strings.Split(record[1], ";") {
			if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
				expected = append(expected, tag)
			}
		}
		if len(expected) == 0 {
			continue
		}

		dataset = append(dataset, DatasetItem{ImagePath: imagePath, Expected: expected})
	}

	return trimDataset(dataset, limit), nil
}

// trimDataset trims the dataset to the specified limit
func trimDataset(dataset []DatasetItem, limit int) []DatasetItem {
	if limit <= 0 {
		limit = MAX_DATASET_SIZE
	}
	if len(dataset) > limit {
		return dataset[:limit]
	}
	return dataset
}

// Run predicts every image with every strategy. Images that cannot be read
// or decoded count as an error for each strategy.
func Run(ctx context.Context, p Predictor, dataset []DatasetItem, strategies []tagger.StrategyID, topK int, logger logrus.FieldLogger) (*BenchmarkMetrics, []Result, error) {
	if len(dataset) == 0 {
		return nil, nil, fmt.Errorf("dataset is empty")
	}
	if len(strategies) == 0 {
		strategies = tagger.Strategies()
	}

	startTime := time.Now()
	results := make([]Result, 0, len(dataset)*len(strategies))

	for i, item := range dataset {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		img, loadErr := loadImage(item.ImagePath)
		for _, id := range strategies {
			result := Result{
				ImagePath: item.ImagePath,
				Strategy:  id,
				Expected:  item.Expected,
			}
			if loadErr != nil {
				result.Error = loadErr.Error()
				results = append(results, result)
				continue
			}

			start := time.Now()
			resp := p.Predict(ctx, img, topK, id.String())
			result.Latency = time.Since(start)
			result.Predicted = resp.Tags
			result.Fallback = resp.Fallback
			result.Error = resp.Error
			result.Hits = countHits(item.Expected, resp.Tags)
			results = append(results, result)
		}

		logger.WithFields(logrus.Fields{
			"action": "benchmark",
			"done":   i + 1,
			"total":  len(dataset),
		}).Debug("benchmarked image")
	}

	metrics := &BenchmarkMetrics{
		TotalDuration: time.Since(startTime),
		TotalImages:   len(dataset),
		TopK:          topK,
	}
	for _, id := range strategies {
		metrics.Strategies = append(metrics.Strategies, summarize(id, results))
	}
	return metrics, results, nil
}

func loadImage(path string) (*imageio.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return imageio.Decode(data)
}

func countHits(expected, predicted []string) int {
	hits := 0
	for _, tag := range predicted {
		if slices.Contains(expected, tag) {
			hits++
		}
	}
	return hits
}

func summarize(id tagger.StrategyID, results []Result) StrategyMetrics {
	m := StrategyMetrics{Strategy: id}
	var scored int
	var totalLatency time.Duration

	for _, r := range results {
		if r.Strategy != id {
			continue
		}
		m.Images++
		if r.Error != "" {
			m.Errors++
			continue
		}
		if r.Fallback {
			m.Fallbacks++
		}

		scored++
		if len(r.Predicted) > 0 {
			m.PrecisionAtK += float64(r.Hits) / float64(len(r.Predicted))
		}
		m.RecallAtK += float64(r.Hits) / float64(len(r.Expected))
		if r.Hits > 0 {
			m.HitRate++
		}

		totalLatency += r.Latency
		m.MaxLatency = max(m.MaxLatency, r.Latency)
	}

	if scored > 0 {
		m.PrecisionAtK /= float64(scored)
		m.RecallAtK /= float64(scored)
		m.HitRate /= float64(scored)
		m.MeanLatency = totalLatency / time.Duration(scored)
	}
	return m
}

// SaveMetricsToFile writes the metrics as JSON into dir and returns the path
func SaveMetricsToFile(dir string, metrics *BenchmarkMetrics) (string, error) {
	return saveJSON(dir, "metrics", metrics)
}

// SaveResultsToFile writes the per-image results as JSON into dir and returns the path
func SaveResultsToFile(dir string, results []Result) (string, error) {
	return saveJSON(dir, "results", results)
}

func saveJSON(dir, prefix string, v any) (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	random := uuid.New().String()[:8]
	filename := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.json", prefix, timestamp, random))

	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(filename, jsonData, 0644); err != nil {
		return "", err
	}

	return filename, nil
}
