// Package safetensors reads safetensors file headers without loading tensor
// data. The adapter uses it to estimate how much memory a checkpoint will
// take before any weights are loaded.
//
// File layout:
//
//	[8 bytes: header length (uint64, little-endian)]
//	[N bytes: JSON header]
//	[remaining: tensor data]
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
)

// maxHeaderLen bounds the JSON header size to reject corrupt files early.
const maxHeaderLen = 100 * 1024 * 1024

// TensorInfo describes one tensor entry in a safetensors header.
type TensorInfo struct {
	Dtype       string
	Shape       []int64
	DataOffsets [2]int64
}

// Header is the parsed JSON header of a safetensors file.
type Header struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
}

// ParseHeader reads the header of the safetensors file at path. Only the
// header bytes are read; tensor data is never touched, so this stays cheap
// for multi-gigabyte shards.
func ParseHeader(path string) (*Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open safetensors file: %w", err)
	}
	defer file.Close()

	var headerLen uint64
	if err := binary.Read(file, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	if headerLen > maxHeaderLen {
		return nil, fmt.Errorf("header length %d exceeds limit", headerLen)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("parse header JSON: %w", err)
	}

	header := &Header{Tensors: make(map[string]TensorInfo)}
	for name, value := range raw {
		if name == "__metadata__" {
			if err := json.Unmarshal(value, &header.Metadata); err != nil {
				return nil, fmt.Errorf("parse __metadata__: %w", err)
			}
			continue
		}
		var info struct {
			Dtype       string   `json:"dtype"`
			Shape       []int64  `json:"shape"`
			DataOffsets [2]int64 `json:"data_offsets"`
		}
		if err := json.Unmarshal(value, &info); err != nil {
			return nil, fmt.Errorf("parse tensor %q: %w", name, err)
		}
		header.Tensors[name] = TensorInfo{
			Dtype:       info.Dtype,
			Shape:       info.Shape,
			DataOffsets: info.DataOffsets,
		}
	}
	return header, nil
}

// WeightBytes returns the total size of the tensor data described by the
// header.
func (h *Header) WeightBytes() int64 {
	var total int64
	for _, tensor := range h.Tensors {
		total += tensor.DataOffsets[1] - tensor.DataOffsets[0]
	}
	return total
}

// Parameters returns the total parameter count described by the header.
func (h *Header) Parameters() int64 {
	var total int64
	for _, tensor := range h.Tensors {
		params := int64(1)
		for _, dim := range tensor.Shape {
			params *= dim
		}
		total += params
	}
	return total
}

// DirStats sums weight bytes and parameter counts across all safetensors
// shards directly under dir. A directory without safetensors files yields
// zeros and no error, since checkpoints may ship weights in other formats.
func DirStats(dir string) (weightBytes, parameters int64, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("read model dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".safetensors") {
			continue
		}
		header, err := ParseHeader(filepath.Join(dir, entry.Name()))
		if err != nil {
			return 0, 0, fmt.Errorf("shard %s: %w", entry.Name(), err)
		}
		weightBytes += header.WeightBytes()
		parameters += header.Parameters()
	}
	return weightBytes, parameters, nil
}

// FormatSize renders bytes in a human-readable form.
func FormatSize(bytes int64) string {
	return units.HumanSizeWithPrecision(float64(bytes), 2)
}

// FormatParameters renders a parameter count like "361.82 M" or "6.74 B".
func FormatParameters(params int64) string {
	return units.CustomSize("%.2f%s", float64(params), 1000.0, []string{"", " K", " M", " B", " T"})
}
