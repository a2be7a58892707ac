package op

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadPromptFile loads an Op's *_prompt.yaml sidecar, deriving its path
// from the Op's declared FilePath (spec §4.2 "Prompt binding"): a file
// named "*_op.go" (or any "*_op.*") looks for "*_prompt.yaml" next to it;
// otherwise "{base}_prompt.yaml" is tried alongside the declared file.
func loadPromptFile(opFilePath string) (map[string]string, error) {
	path := derivePromptPath(opFilePath)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var prompts map[string]string
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, err
	}
	return prompts, nil
}

func derivePromptPath(opFilePath string) string {
	dir := filepath.Dir(opFilePath)
	base := filepath.Base(opFilePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if strings.HasSuffix(stem, "_op") {
		stem = strings.TrimSuffix(stem, "_op")
	}
	return filepath.Join(dir, stem+"_prompt.yaml")
}
