package tagger_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/FrenchMajesty/tagger"
	"github.com/FrenchMajesty/tagger/adapters"
	"github.com/FrenchMajesty/tagger/adapters/mock"
	"github.com/FrenchMajesty/tagger/pkg/imageio"
	"github.com/FrenchMajesty/tagger/pkg/prototypes"
)

// Example shows tagging an image with backends served by the inference sidecar
func Example_basic() {
	// Reads TAGGER_INFERENCE_URL
	sidecar, err := adapters.NewInferenceClient(nil, nil)
	if err != nil {
		log.Fatal(err)
	}

	tg, err := tagger.New(tagger.Config{
		ImageEmbedder:    sidecar,
		TextEmbedder:     sidecar,
		Captioner:        sidecar,
		FeatureExtractor: sidecar,
		Prototypes:       prototypes.NewFilePersistence("prototypes.msgpack"),
	})
	if err != nil {
		log.Fatal(err)
	}

	data, err := os.ReadFile("dress.jpg")
	if err != nil {
		log.Fatal(err)
	}
	img, err := imageio.Decode(data)
	if err != nil {
		log.Fatal(err)
	}

	resp := tg.Predict(context.Background(), img, 5, "clip")
	if resp.Error != "" {
		log.Fatal(resp.Error)
	}
	fmt.Println(resp.Tags)
}

// Example shows serving concurrent requests through a bounded worker pool
func Example_pool() {
	backend := mock.New(32)
	tg, err := tagger.New(tagger.Config{
		ImageEmbedder: backend,
		TextEmbedder:  backend,
		Captioner:     backend,
	})
	if err != nil {
		log.Fatal(err)
	}

	pool := tagger.NewPool(tg, 4, tagger.DefaultQueueSize)
	defer pool.Close()

	data, err := os.ReadFile("dress.jpg")
	if err != nil {
		log.Fatal(err)
	}
	img, err := imageio.Decode(data)
	if err != nil {
		log.Fatal(err)
	}

	resp := pool.Predict(context.Background(), tagger.Request{Image: img, TopK: 3, Strategy: "blip"})
	fmt.Println(resp.Caption, resp.Tags)
}
