package usecase

import (
	"errors"
	"net/http"
	"strings"

	"photo-restyler/internal/domain"
)

// SeedRejectionClassifier decides whether a failed call was the service
// refusing the seed parameter. Implementations must be safe for concurrent use.
type SeedRejectionClassifier interface {
	IsSeedRejection(err error) bool
}

var defaultSeedMarkers = []string{"unknown field", "seed", "invalid argument", "not supported"}

// MarkerClassifier matches the error text against a fixed list of phrases,
// case-insensitively. False positives only cost one extra call.
type MarkerClassifier struct {
	markers []string
}

func NewMarkerClassifier(markers ...string) *MarkerClassifier {
	if len(markers) == 0 {
		markers = defaultSeedMarkers
	}
	lower := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lower = append(lower, m)
		}
	}
	return &MarkerClassifier{markers: lower}
}

func (c *MarkerClassifier) IsSeedRejection(err error) bool {
	if err == nil {
		return false
	}
	var te *domain.TransportError
	if errors.As(err, &te) && te.Code == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(te.Message), "seed") {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, m := range c.markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
