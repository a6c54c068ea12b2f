package llava

import (
	"errors"
	"fmt"
)

// ErrNoImage indicates a benchmark row without any image payload.
var ErrNoImage = errors.New("row carries no image")

// ErrMultiImageUnsupported indicates a prompt with several images. The
// model consumes exactly one image per generation; callers must split or
// skip such rows rather than have them silently truncated here.
var ErrMultiImageUnsupported = errors.New("multi-image prompts are not supported")

// PlaceholderError indicates a composed prompt whose image placeholder
// count is not exactly one, which would make the token splice ambiguous.
type PlaceholderError struct {
	Count int
}

// Error implements error.Error.
func (e *PlaceholderError) Error() string {
	return fmt.Sprintf("prompt must contain the image placeholder exactly once, found %d", e.Count)
}
