// Package generation runs the two remote transformation steps that turn a
// cropped face into the final image.
package generation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/facemoji/internal/logging"
)

var (
	// ErrEmptyOutput is returned when a model produced an empty collection.
	ErrEmptyOutput = errors.New("model returned no images")
	// ErrMalformedOutput is returned when a model output is not an image reference.
	ErrMalformedOutput = errors.New("model returned an unexpected output")
)

// StyleParams are passed through to the stylization model.
type StyleParams struct {
	Style             string
	Prompt            string
	InstantIDStrength float64
	Width             int
}

// Stylizer turns the image stored at imagePath into a styled image. The raw
// output is either a single image reference or a list of them.
type Stylizer interface {
	Stylize(ctx context.Context, imagePath string, params StyleParams) (interface{}, error)
}

// BackgroundRemover strips the background from the referenced image.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, imageRef string) (interface{}, error)
}

// Adapter chains stylization and background removal. It performs no retries.
type Adapter struct {
	stylizer Stylizer
	remover  BackgroundRemover
	params   StyleParams
	logger   *zap.Logger
}

// NewAdapter builds an Adapter.
func NewAdapter(stylizer Stylizer, remover BackgroundRemover, params StyleParams, logger *zap.Logger) *Adapter {
	return &Adapter{
		stylizer: stylizer,
		remover:  remover,
		params:   params,
		logger:   logger.Named("generation"),
	}
}

// Generate stylizes the face at facePath, removes the background of the
// result and returns a reference to the final image.
func (a *Adapter) Generate(ctx context.Context, taskID, facePath string) (string, error) {
	opLogger := logging.WithOperation(a.logger, "generation.generate", taskID)

	styledOut, err := a.stylizer.Stylize(ctx, facePath, a.params)
	if err != nil {
		return "", logging.NewOperationError("generation.stylize", taskID, err)
	}
	styled, err := FirstImage(styledOut)
	if err != nil {
		return "", logging.NewOperationError("generation.stylize", taskID, err)
	}
	opLogger.Debug("stylized face", zap.String("styled", styled))

	finalOut, err := a.remover.RemoveBackground(ctx, styled)
	if err != nil {
		return "", logging.NewOperationError("generation.remove_background", taskID, err)
	}
	final, err := FirstImage(finalOut)
	if err != nil {
		return "", logging.NewOperationError("generation.remove_background", taskID, err)
	}
	opLogger.Debug("removed background", zap.String("result", final))
	return final, nil
}

// FirstImage normalizes a model output to a single image reference: a string
// is returned as is, a list yields its first element.
func FirstImage(output interface{}) (string, error) {
	switch v := output.(type) {
	case string:
		if v == "" {
			return "", ErrEmptyOutput
		}
		return v, nil
	case []string:
		if len(v) == 0 {
			return "", ErrEmptyOutput
		}
		return FirstImage(v[0])
	case []interface{}:
		if len(v) == 0 {
			return "", ErrEmptyOutput
		}
		first, ok := v[0].(string)
		if !ok {
			return "", fmt.Errorf("%w: first element is %T", ErrMalformedOutput, v[0])
		}
		return FirstImage(first)
	case nil:
		return "", ErrEmptyOutput
	default:
		return "", fmt.Errorf("%w: %T", ErrMalformedOutput, output)
	}
}
