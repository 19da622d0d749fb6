package detection

import (
	"log/slog"
	"strings"

	"github.com/lehigh-university-libraries/visionbatch/internal/models"
)

// Parse maps a free-text model reply to a tri-state detection.
// An exact "true"/"false" wins; otherwise a reply mentioning only one of the
// two words decides, and anything else is unknown.
func Parse(response string) models.Detection {
	response = strings.ToLower(strings.TrimSpace(response))

	switch response {
	case "true":
		return models.DetectionTrue
	case "false":
		return models.DetectionFalse
	}

	hasTrue := strings.Contains(response, "true")
	hasFalse := strings.Contains(response, "false")
	switch {
	case hasTrue && !hasFalse:
		return models.DetectionTrue
	case hasFalse && !hasTrue:
		return models.DetectionFalse
	}

	slog.Warn("Could not parse detection result from response", "response", response)
	return models.DetectionUnknown
}
