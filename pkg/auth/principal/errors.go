package principal

import (
	"errors"
	"fmt"
)

var errBadComponentCount = errors.New("component count must be a non-negative integer")

type formatIndexError struct {
	index string
	max   int
}

func (e *formatIndexError) Error() string {
	return fmt.Sprintf("placeholder $%s is outside of the valid range 0 to %d", e.index, e.max)
}
