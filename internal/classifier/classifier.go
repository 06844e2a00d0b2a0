// Package classifier runs the request pipeline: decode, normalize, infer, rank.
package classifier

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/Brownie44l1/classify-api/internal/logger"
	"github.com/Brownie44l1/classify-api/internal/model"
	"github.com/Brownie44l1/classify-api/internal/models"
	"github.com/Brownie44l1/classify-api/internal/preprocess"
	"github.com/Brownie44l1/classify-api/internal/repository"
)

// Classifier is shared by every request; the model manager serialises
// access to sessions.
type Classifier struct {
	manager       *model.Manager
	decoder       *preprocess.Decoder
	normalizer    *preprocess.Normalizer
	confidenceKey string
	records       repository.PredictionRepository
}

// Options configures a Classifier. Records may be nil.
type Options struct {
	ConfidenceKey string
	Records       repository.PredictionRepository
}

// New wires the pipeline stages together.
func New(manager *model.Manager, decoder *preprocess.Decoder, normalizer *preprocess.Normalizer, opts Options) *Classifier {
	if opts.ConfidenceKey == "" {
		opts.ConfidenceKey = model.DefaultConfidenceKey
	}
	return &Classifier{
		manager:       manager,
		decoder:       decoder,
		normalizer:    normalizer,
		confidenceKey: opts.ConfidenceKey,
		records:       opts.Records,
	}
}

// Manager exposes the model lifecycle for admin operations.
func (c *Classifier) Manager() *model.Manager {
	return c.manager
}

// ClassifyReader decodes an uploaded image and classifies it.
func (c *Classifier) ClassifyReader(ctx context.Context, r io.Reader, source string) (*model.PredictionResult, error) {
	img, format, err := c.decoder.Decode(r)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	logger.Logger.Debug("image decoded", "source", source, "format", format, "width", b.Dx(), "height", b.Dy())
	return c.Classify(ctx, img, source)
}

// Classify normalizes img to the model's input size and ranks the model output.
// The image is normalized for the model that actually runs it.
func (c *Classifier) Classify(ctx context.Context, img image.Image, source string) (*model.PredictionResult, error) {
	return c.run(ctx, source, func(sig *model.Signature) (*model.Tensor, error) {
		height, width, err := sig.TargetSize()
		if err != nil {
			return nil, err
		}
		return c.normalizer.Normalize(img, height, width)
	})
}

// ClassifyTensor ranks a caller-supplied tensor that is already normalized
// to the model's [H, W, 3] input.
func (c *Classifier) ClassifyTensor(ctx context.Context, values []float32, source string) (*model.PredictionResult, error) {
	return c.run(ctx, source, func(sig *model.Signature) (*model.Tensor, error) {
		height, width, err := sig.TargetSize()
		if err != nil {
			return nil, err
		}
		input := &model.Tensor{
			Shape:  []int64{int64(height), int64(width), model.ImageChannels},
			Floats: values,
		}
		if err := sig.CheckInput(input); err != nil {
			return nil, err
		}
		return input, nil
	})
}

func (c *Classifier) run(ctx context.Context, source string, prepare model.InputFunc) (*model.PredictionResult, error) {
	start := time.Now()

	sig, fetches, err := c.manager.Run(ctx, prepare, []string{c.confidenceKey})
	if err != nil {
		return nil, err
	}

	result, err := model.Rank(fetches, sig.Classes.Label, c.confidenceKey)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	top, _ := result.Top()
	logger.Logger.Info("prediction", "source", source, "label", top.Label, "confidence", top.Confidence, "elapsed", elapsed)
	c.record(source, top, elapsed)
	return result, nil
}

func (c *Classifier) record(source string, top model.Prediction, elapsed time.Duration) {
	if c.records == nil {
		return
	}
	rec := &models.PredictionRecord{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Source:     source,
		Label:      top.Label,
		Confidence: float64(top.Confidence),
		LatencyMs:  elapsed.Milliseconds(),
	}
	if err := c.records.Insert(rec); err != nil {
		logger.Logger.Warn("failed to record prediction", "id", rec.ID, "error", err)
	}
}
