package batch

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/lehigh-university-libraries/visionbatch/internal/classifier"
	"github.com/lehigh-university-libraries/visionbatch/internal/detection"
	"github.com/lehigh-university-libraries/visionbatch/internal/imaging"
	"github.com/lehigh-university-libraries/visionbatch/internal/models"
)

const (
	// InitialTemperature keeps the yes/no pass low variance
	InitialTemperature = 0.3
	// EnhancedTemperature lets the descriptive pass be more exploratory
	EnhancedTemperature = 0.7
)

// Classifier is the single outbound call the processor depends on
type Classifier interface {
	Classify(ctx context.Context, image []byte, mimeType, prompt string, temperature float64) classifier.Response
}

// ProgressFunc is invoked after each image finishes, with its index in the input
type ProgressFunc func(index int, filename string)

// Processor drives a classifier over a batch of images, one at a time
type Processor struct {
	classifier    Classifier
	thumbnailSize int
	logger        *slog.Logger
}

func NewProcessor(c Classifier, thumbnailSize int, logger *slog.Logger) *Processor {
	if thumbnailSize <= 0 {
		thumbnailSize = imaging.DefaultThumbnailSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{classifier: c, thumbnailSize: thumbnailSize, logger: logger}
}

// RunInitial classifies every image with the yes/no prompt. The output has one
// entry per input, in input order; a failed image is recorded and skipped over.
func (p *Processor) RunInitial(ctx context.Context, images []models.ImageInput, prompt string, onItem ProgressFunc) []models.ImageResult {
	results := make([]models.ImageResult, 0, len(images))

	for i, img := range images {
		result := p.classifyInitial(ctx, img, prompt)
		results = append(results, result)

		if onItem != nil {
			onItem(i, img.Filename)
		}
	}

	return results
}

func (p *Processor) classifyInitial(ctx context.Context, img models.ImageInput, prompt string) models.ImageResult {
	result := models.ImageResult{Filename: img.Filename}

	if err := ctx.Err(); err != nil {
		result.Error = err.Error()
		return result
	}

	mimeType, err := imaging.MimeType(img.Data)
	if err != nil {
		p.logger.Warn("Skipping undecodable image", "filename", img.Filename, "err", err)
		result.Error = err.Error()
		return result
	}
	result.MimeType = mimeType
	result.FullImage = imaging.Base64(img.Data)

	thumb, err := imaging.Thumbnail(img.Data, p.thumbnailSize, p.thumbnailSize)
	if err != nil {
		p.logger.Warn("Failed to create thumbnail", "filename", img.Filename, "err", err)
	} else {
		result.Thumbnail = imaging.Base64(thumb)
	}

	resp := p.classifier.Classify(ctx, img.Data, mimeType, prompt, InitialTemperature)
	result.Success = resp.Success
	result.Error = resp.Error
	result.RawResponse = resp.Text
	if resp.Success {
		result.Detection = detection.Parse(resp.Text)
	}

	p.logger.Info("Classified image",
		"filename", img.Filename,
		"success", result.Success,
		"detection", result.Detection.String())
	return result
}

// RunEnhanced runs the descriptive prompt over already classified images. The
// original detection is carried over unchanged and the reply is kept as free text.
func (p *Processor) RunEnhanced(ctx context.Context, items []models.ImageResult, prompt string, onItem ProgressFunc) []models.ImageResult {
	results := make([]models.ImageResult, 0, len(items))

	for i, item := range items {
		p.logger.Info("Performing enhanced analysis", "filename", item.Filename)
		result := p.describe(ctx, item, prompt)
		results = append(results, result)

		if onItem != nil {
			onItem(i, item.Filename)
		}
	}

	return results
}

func (p *Processor) describe(ctx context.Context, item models.ImageResult, prompt string) models.ImageResult {
	result := models.ImageResult{
		Filename:  item.Filename,
		Thumbnail: item.Thumbnail,
		FullImage: item.FullImage,
		MimeType:  item.MimeType,
		Detection: item.Detection,
	}

	if err := ctx.Err(); err != nil {
		result.Error = err.Error()
		return result
	}

	data, err := base64.StdEncoding.DecodeString(item.FullImage)
	if err != nil {
		result.Error = fmt.Sprintf("failed to decode stored image: %v", err)
		return result
	}

	resp := p.classifier.Classify(ctx, data, item.MimeType, prompt, EnhancedTemperature)
	result.Success = resp.Success
	result.Error = resp.Error
	result.RawResponse = resp.Text
	if resp.Success {
		text := resp.Text
		result.EnhancedAnalysis = &text
	}
	return result
}
