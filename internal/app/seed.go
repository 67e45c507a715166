package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
)

// seedFile is the YAML layout accepted by --seed:
//
//	events:
//	  - id: e1
//	    date: 2025-03-10
//	    time: "10:00"
//	    tasks: [...]
type seedFile struct {
	Events []seedEvent `yaml:"events"`
}

type seedEvent struct {
	domain.Event `yaml:",inline"`
	Date         string `yaml:"date"`
}

// LoadSeed reads seed events from a YAML file.
func LoadSeed(path string) ([]domain.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML. Dates are calendar days in local time.
func ParseSeed(data []byte) ([]domain.Event, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid seed yaml: %w", err)
	}
	out := make([]domain.Event, 0, len(f.Events))
	for i, se := range f.Events {
		date, err := time.ParseInLocation(domain.DateLayout, se.Date, time.Local)
		if err != nil {
			return nil, fmt.Errorf("seed event %d: date %q must be YYYY-MM-DD", i, se.Date)
		}
		ev := se.Event
		ev.Date = date
		out = append(out, ev)
	}
	return out, nil
}
