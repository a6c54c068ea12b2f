// Package checkpoint inspects LLaVA-style checkpoint bundles on disk and
// decides where each sub-model should be loaded from.
//
// A bundle is a directory with up to five well-known subdirectories:
//
//	llm/                     language backbone (optional)
//	visual_encoder/          vision encoder (optional)
//	llm_adapter/             LoRA adapter for the backbone (optional)
//	visual_encoder_adapter/  LoRA adapter for the vision encoder (optional)
//	projector/               multimodal projector (required)
//
// The directory is scanned exactly once; all subsequent decisions branch on
// the resulting Manifest rather than re-probing the filesystem.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
)

// Well-known subdirectory names inside a checkpoint bundle.
const (
	LLMDir                  = "llm"
	VisualEncoderDir        = "visual_encoder"
	LLMAdapterDir           = "llm_adapter"
	VisualEncoderAdapterDir = "visual_encoder_adapter"
	ProjectorDir            = "projector"
)

// SourceKind describes how a sub-model path was determined.
type SourceKind uint8

const (
	// SourceBundled indicates the sub-model lives inside the bundle.
	SourceBundled SourceKind = iota
	// SourceExplicit indicates the sub-model path was supplied by the caller.
	SourceExplicit
)

// String implements Stringer.String for SourceKind.
func (k SourceKind) String() string {
	switch k {
	case SourceBundled:
		return "bundled"
	case SourceExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// Source is the resolved origin of a single sub-model.
type Source struct {
	Kind SourceKind
	Path string
}

// Manifest is the result of scanning a bundle directory once at load time.
type Manifest struct {
	root                    string
	hasLLM                  bool
	hasVisualEncoder        bool
	hasLLMAdapter           bool
	hasVisualEncoderAdapter bool
}

// Parse scans the bundle rooted at dir and returns its manifest. The
// projector subdirectory is mandatory; everything else is recorded as
// present or absent.
func Parse(dir string) (*Manifest, error) {
	if fi, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("inspect checkpoint dir: %w", err)
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("checkpoint path %q: %w", dir, ErrNotADirectory)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}

	m := &Manifest{root: dir}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		switch entry.Name() {
		case LLMDir:
			m.hasLLM = true
		case VisualEncoderDir:
			m.hasVisualEncoder = true
		case LLMAdapterDir:
			m.hasLLMAdapter = true
		case VisualEncoderAdapterDir:
			m.hasVisualEncoderAdapter = true
		}
	}

	if _, err := os.Stat(m.ProjectorPath()); err != nil {
		return nil, fmt.Errorf("checkpoint %q: %w", dir, ErrMissingProjector)
	}

	return m, nil
}

// Root returns the bundle root directory.
func (m *Manifest) Root() string {
	return m.root
}

// LLM resolves the language model source. Exactly one of the bundled llm/
// subdirectory and the explicit path may supply it.
func (m *Manifest) LLM(explicitPath string) (Source, error) {
	if m.hasLLM {
		if explicitPath != "" {
			return Source{}, ErrLLMPathConflict
		}
		return Source{Kind: SourceBundled, Path: filepath.Join(m.root, LLMDir)}, nil
	}
	if explicitPath == "" {
		return Source{}, ErrLLMPathRequired
	}
	return Source{Kind: SourceExplicit, Path: explicitPath}, nil
}

// VisualEncoder resolves the vision encoder source under the same rule as
// LLM.
func (m *Manifest) VisualEncoder(explicitPath string) (Source, error) {
	if m.hasVisualEncoder {
		if explicitPath != "" {
			return Source{}, ErrVisualEncoderPathConflict
		}
		return Source{Kind: SourceBundled, Path: filepath.Join(m.root, VisualEncoderDir)}, nil
	}
	if explicitPath == "" {
		return Source{}, ErrVisualEncoderPathRequired
	}
	return Source{Kind: SourceExplicit, Path: explicitPath}, nil
}

// LLMAdapter returns the path of the language model LoRA adapter, if the
// bundle ships one.
func (m *Manifest) LLMAdapter() (string, bool) {
	if !m.hasLLMAdapter {
		return "", false
	}
	return filepath.Join(m.root, LLMAdapterDir), true
}

// VisualEncoderAdapter returns the path of the vision encoder LoRA adapter,
// if the bundle ships one.
func (m *Manifest) VisualEncoderAdapter() (string, bool) {
	if !m.hasVisualEncoderAdapter {
		return "", false
	}
	return filepath.Join(m.root, VisualEncoderAdapterDir), true
}

// ProjectorPath returns the projector directory. Parse guarantees it exists.
func (m *Manifest) ProjectorPath() string {
	return filepath.Join(m.root, ProjectorDir)
}
