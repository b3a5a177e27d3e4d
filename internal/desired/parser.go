package desired

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// Format is a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the decoder from the file extension; unknown extensions fall back to YAML.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// LoadState reads, decodes and validates a desired-state document from disk.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, reconerrors.NewParseError(path, 0, err)
	}
	return ParseState(data, FormatFor(path), path)
}

// ParseState decodes and validates a desired-state document.
func ParseState(data []byte, format Format, source string) (*State, error) {
	var state State
	if err := decode(data, format, source, &state); err != nil {
		return nil, err
	}
	if err := ValidateState(&state); err != nil {
		return nil, err
	}
	return &state, nil
}

// LoadPolicy reads, decodes and validates a change-approval policy from disk.
// An empty path yields DefaultPolicy.
func LoadPolicy(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, reconerrors.NewParseError(path, 0, err)
	}
	return ParsePolicy(data, FormatFor(path), path)
}

// ParsePolicy decodes and validates a change-approval policy.
func ParsePolicy(data []byte, format Format, source string) (*Policy, error) {
	var policy Policy
	if err := decode(data, format, source, &policy); err != nil {
		return nil, err
	}
	if err := ValidatePolicy(&policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

func decode(data []byte, format Format, source string, out any) error {
	switch format {
	case FormatTOML:
		meta, err := toml.Decode(string(data), out)
		if err != nil {
			var perr toml.ParseError
			if errors.As(err, &perr) {
				return reconerrors.NewParseError(source, perr.Position.Line, err)
			}
			return reconerrors.NewParseError(source, 0, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return reconerrors.NewParseError(source, 0, fmt.Errorf("unknown key %q", undecoded[0].String()))
		}
		return nil
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil {
			return reconerrors.NewParseError(source, extractLine(err), err)
		}
		return nil
	default:
		return reconerrors.NewParseError(source, 0, fmt.Errorf("unsupported format %q", format))
	}
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}
	return line
}
