package chatops

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadModelAliases reads a YAML file mapping short flags (as used by
// `!poc run --model <alias>`) to provider model identifiers, and merges it
// into the built-in table: an entry in the file overrides or adds that alias,
// and built-in aliases the file does not name stay. A missing file is not an
// error — the built-in opus/sonnet/haiku table still applies. Expected shape:
//
//	opus: claude-opus-4-20250514
//	sonnet: claude-sonnet-4-5-20250929
//	haiku: claude-haiku-4-5-20251001
//	fast: claude-haiku-4-5-20251001
func LoadModelAliases(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	aliases := make(map[string]string)
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return err
	}

	for k, v := range aliases {
		modelAliases[strings.ToLower(k)] = v
	}
	return nil
}
