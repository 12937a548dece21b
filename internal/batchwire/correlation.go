package batchwire

import (
	"fmt"
	"strings"

	"photo-restyler/internal/domain"
)

// Separator joins run id and file name in a correlation id. Run ids only use
// [a-z0-9-], so splitting at the first separator is unambiguous even when the
// file name itself contains it.
const Separator = "::"

func CorrelationID(runID, fileName string) string {
	return runID + Separator + fileName
}

func ParseCorrelationID(id string) (runID, fileName string, err error) {
	i := strings.Index(id, Separator)
	if i <= 0 || i+len(Separator) >= len(id) {
		return "", "", fmt.Errorf("%w: malformed correlation id %q", domain.ErrInvalidArgument, id)
	}
	return id[:i], id[i+len(Separator):], nil
}
