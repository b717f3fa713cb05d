package config

import (
	"encoding/json"
	"fmt"
	"math"

	"chunkcast/pkg/utils"

	"gopkg.in/yaml.v3"
)

// Size is a byte count that config files may write either as a number or as
// a human-friendly string such as "500KiB".
type Size int64

func (s Size) Int() int {
	return int(s)
}

func (s Size) String() string {
	return utils.FormatDataSize(int64(s))
}

// Set parses a human-friendly size, for flags and environment variables.
func (s *Size) Set(v string) error {
	n, err := utils.ParseDataSize(v)
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

func (s *Size) Type() string {
	return "size"
}

func (s *Size) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return s.fromRaw(raw)
}

func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return s.fromRaw(raw)
}

// fromRaw accepts a decoded number or string.
func (s *Size) fromRaw(raw interface{}) error {
	switch v := raw.(type) {
	case float64:
		// JSON numbers are parsed as float64
		if v < 0 || v != math.Trunc(v) {
			return fmt.Errorf("size must be a non-negative whole number of bytes, got %v", v)
		}
		*s = Size(v)
	case int:
		if v < 0 {
			return fmt.Errorf("size must be non-negative, got %d", v)
		}
		*s = Size(v)
	case string:
		return s.Set(v)
	case nil:
		// keep the current value
	default:
		return fmt.Errorf("size must be a number or string, got %T", v)
	}
	return nil
}
