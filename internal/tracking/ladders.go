package tracking

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/kalambet/inkwell/internal/progression"
	"gopkg.in/yaml.v3"
)

// Ladders describes a story's power system. It is read from the file named
// by tracker.ladder_file, for example:
//
//	realms: [Luyện Khí, Trúc Cơ, Kim Đan]
//	grades: [phàm phẩm, hạ phẩm, trung phẩm]
//	levels_per_realm: 9
//	curve: back_loaded
type Ladders struct {
	Realms         []string `yaml:"realms"`
	Grades         []string `yaml:"grades"`
	LevelsPerRealm int      `yaml:"levels_per_realm"`
	Curve          string   `yaml:"curve"`
}

// ParseLadders decodes and validates a ladder document.
func ParseLadders(data []byte) (Ladders, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Ladders{}, fmt.Errorf("ladders: document is empty")
	}
	var l Ladders
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Ladders{}, fmt.Errorf("ladders: decode: %w", err)
	}
	if err := l.Validate(); err != nil {
		return Ladders{}, err
	}
	return l, nil
}

// LoadLadders reads a ladder file. An empty path returns the zero value,
// which selects the built-in cultivation ladders.
func LoadLadders(path string) (Ladders, error) {
	if strings.TrimSpace(path) == "" {
		return Ladders{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Ladders{}, fmt.Errorf("ladders: read %s: %w", path, err)
	}
	l, err := ParseLadders(data)
	if err != nil {
		return Ladders{}, fmt.Errorf("ladders: %s: %w", path, err)
	}
	return l, nil
}

// Validate rejects duplicate rungs and unknown curves.
func (l Ladders) Validate() error {
	for name, ladder := range map[string][]string{"realms": l.Realms, "grades": l.Grades} {
		seen := make(map[string]bool, len(ladder))
		for _, v := range ladder {
			key := strings.ToLower(strings.TrimSpace(v))
			if key == "" {
				return fmt.Errorf("ladders: %s contains an empty entry", name)
			}
			if seen[key] {
				return fmt.Errorf("ladders: %s lists %q twice", name, v)
			}
			seen[key] = true
		}
	}
	if l.LevelsPerRealm < 0 {
		return fmt.Errorf("ladders: levels_per_realm must not be negative")
	}
	switch progression.Curve(l.Curve) {
	case "", progression.CurveLinear, progression.CurveFrontLoaded, progression.CurveBackLoaded:
	default:
		return fmt.Errorf("ladders: unknown curve %q", l.Curve)
	}
	return nil
}
