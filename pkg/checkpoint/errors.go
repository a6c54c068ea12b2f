package checkpoint

import "errors"

var (
	// ErrNotADirectory indicates the checkpoint path exists but is not a
	// directory.
	ErrNotADirectory = errors.New("checkpoint path is not a directory")
	// ErrMissingProjector indicates the bundle has no projector subdirectory.
	ErrMissingProjector = errors.New("checkpoint bundle is missing the projector subdirectory")
	// ErrLLMPathConflict indicates an explicit language model path was given
	// even though the bundle already contains one.
	ErrLLMPathConflict = errors.New("bundle contains an llm subdirectory, do not pass an explicit language model path")
	// ErrLLMPathRequired indicates the bundle contains no language model and
	// no explicit path was given.
	ErrLLMPathRequired = errors.New("bundle contains no llm subdirectory, an explicit language model path is required")
	// ErrVisualEncoderPathConflict indicates an explicit vision encoder path
	// was given even though the bundle already contains one.
	ErrVisualEncoderPathConflict = errors.New("bundle contains a visual_encoder subdirectory, do not pass an explicit vision encoder path")
	// ErrVisualEncoderPathRequired indicates the bundle contains no vision
	// encoder and no explicit path was given.
	ErrVisualEncoderPathRequired = errors.New("bundle contains no visual_encoder subdirectory, an explicit vision encoder path is required")
)
