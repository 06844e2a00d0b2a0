package classifier_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nfnt/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/classify-api/internal/classifier"
	"github.com/Brownie44l1/classify-api/internal/model"
	"github.com/Brownie44l1/classify-api/internal/model/modeltest"
	"github.com/Brownie44l1/classify-api/internal/preprocess"
	"github.com/Brownie44l1/classify-api/internal/repository/sqlite"
)

func whiteImage(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func setup(t *testing.T, rt *modeltest.Runtime, opts classifier.Options) *classifier.Classifier {
	t.Helper()
	c, _ := setupInDir(t, rt, opts)
	return c
}

func setupInDir(t *testing.T, rt *modeltest.Runtime, opts classifier.Options) (*classifier.Classifier, string) {
	t.Helper()
	dir := modeltest.WriteModelDir(t, modeltest.DefaultSignature(8, "cat", "dog", "bird"))
	m := model.NewManager(model.ManagerConfig{Dir: dir}, rt)
	return classifier.New(m, preprocess.NewDecoder(nil), preprocess.NewNormalizer(resize.Bicubic), opts), dir
}

// swappingImage runs swap the first time its bounds are read.
type swappingImage struct {
	*image.RGBA
	once sync.Once
	swap func()
}

func (s *swappingImage) Bounds() image.Rectangle {
	s.once.Do(s.swap)
	return s.RGBA.Bounds()
}

func TestClassify_EndToEnd(t *testing.T) {
	rt := modeltest.NewRuntime(0.1, 0.1, 0.8)
	c := setup(t, rt, classifier.Options{})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, whiteImage(50)))

	result, err := c.ClassifyReader(context.Background(), &buf, "white.png")
	require.NoError(t, err)

	assert.Equal(t, []model.Prediction{
		{Label: "bird", Confidence: 0.8},
		{Label: "cat", Confidence: 0.1},
		{Label: "dog", Confidence: 0.1},
	}, result.Predictions)

	assert.Equal(t, []string{"Confidences"}, rt.LastKeys())

	input := rt.LastInput()
	require.Len(t, input, 8*8*3)
	for _, v := range input {
		assert.InDelta(t, 1.0, v, 1e-3)
	}
}

func TestClassify_ModelReloadedDuringPreprocessing(t *testing.T) {
	rt := modeltest.NewRuntime(0.1, 0.1, 0.8)
	c, dir := setupInDir(t, rt, classifier.Options{})
	require.NoError(t, c.Manager().Load())

	img := &swappingImage{
		RGBA: whiteImage(40),
		swap: func() {
			modeltest.WriteSignature(t, dir, modeltest.DefaultSignature(16, "ant", "bee", "wasp"))
			_, err := c.Manager().Reload()
			require.NoError(t, err)
		},
	}

	result, err := c.Classify(context.Background(), img, "swap.png")
	require.NoError(t, err)

	assert.Len(t, rt.LastInput(), 16*16*3)
	assert.Equal(t, 1, rt.Runs())
	top, _ := result.Top()
	assert.Equal(t, "wasp", top.Label)
}

func TestClassify_BadImageSkipsModel(t *testing.T) {
	rt := modeltest.NewRuntime(0.1, 0.1, 0.8)
	c := setup(t, rt, classifier.Options{})

	_, err := c.ClassifyReader(context.Background(), bytes.NewReader([]byte("nope")), "x")
	assert.ErrorIs(t, err, model.ErrBadRequest)
	assert.Equal(t, 0, rt.Runs())
}

func TestClassify_ClassMismatch(t *testing.T) {
	rt := modeltest.NewRuntime(0.5, 0.5)
	c := setup(t, rt, classifier.Options{})

	_, err := c.Classify(context.Background(), whiteImage(8), "x")
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestClassifyTensor(t *testing.T) {
	rt := modeltest.NewRuntime(0.3, 0.6, 0.1)
	c := setup(t, rt, classifier.Options{})

	result, err := c.ClassifyTensor(context.Background(), make([]float32, 8*8*3), "tensor")
	require.NoError(t, err)
	top, _ := result.Top()
	assert.Equal(t, "dog", top.Label)

	_, err = c.ClassifyTensor(context.Background(), make([]float32, 10), "tensor")
	assert.ErrorIs(t, err, model.ErrBadRequest)
	assert.Equal(t, 1, rt.Runs())
}

func TestClassify_RecordsPredictions(t *testing.T) {
	db, err := sqlite.New(filepath.Join(t.TempDir(), "predictions.db"))
	require.NoError(t, err)
	defer db.Close()
	repo := sqlite.NewPredictionRepository(db)

	rt := modeltest.NewRuntime(0.2, 0.7, 0.1)
	c := setup(t, rt, classifier.Options{Records: repo})

	_, err = c.Classify(context.Background(), whiteImage(16), "upload.png")
	require.NoError(t, err)

	records, err := repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "dog", records[0].Label)
	assert.Equal(t, "upload.png", records[0].Source)
	assert.InDelta(t, 0.7, records[0].Confidence, 1e-6)
	assert.NotEmpty(t, records[0].ID)
}
