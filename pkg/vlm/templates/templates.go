// Package templates holds the fixed registry of instruction templates a
// checkpoint may have been fine-tuned with. Each template wraps the user
// input in the chat markup the backbone expects; the "{input}" placeholder
// marks where the prompt goes.
package templates

import (
	"fmt"
	"sort"
	"strings"
)

// Template is a named instruction-wrapping format.
type Template struct {
	Name        string
	Instruction string
}

// Wrap substitutes the prompt into the template's instruction format.
func (t Template) Wrap(input string) string {
	return strings.ReplaceAll(t.Instruction, "{input}", input)
}

// registry is the fixed set of known templates. Names follow the training
// tooling's conventions so checkpoint cards can be used verbatim.
var registry = map[string]Template{
	"vicuna": {
		Name: "vicuna",
		Instruction: "A chat between a curious user and an artificial intelligence assistant. " +
			"The assistant gives helpful, detailed, and polite answers to the user's questions. " +
			"USER: {input} ASSISTANT:",
	},
	"llama2_chat": {
		Name:        "llama2_chat",
		Instruction: "[INST] {input} [/INST]",
	},
	"mistral": {
		Name:        "mistral",
		Instruction: "[INST] {input} [/INST]",
	},
	"internlm_chat": {
		Name:        "internlm_chat",
		Instruction: "<|User|>:{input}<eoh>\n<|Bot|>:",
	},
	"internlm2_chat": {
		Name:        "internlm2_chat",
		Instruction: "<|im_start|>user\n{input}<|im_end|>\n<|im_start|>assistant\n",
	},
	"qwen_chat": {
		Name:        "qwen_chat",
		Instruction: "<|im_start|>user\n{input}<|im_end|>\n<|im_start|>assistant\n",
	},
	"zephyr": {
		Name:        "zephyr",
		Instruction: "<|user|>\n{input}</s>\n<|assistant|>\n",
	},
	"deepseek_coder": {
		Name:        "deepseek_coder",
		Instruction: "### Instruction:\n{input}\n### Response:\n",
	},
}

// Lookup returns the template registered under name.
func Lookup(name string) (Template, error) {
	template, ok := registry[name]
	if !ok {
		return Template{}, fmt.Errorf("unknown prompt template %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return template, nil
}

// Names returns the sorted names of all registered templates.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
