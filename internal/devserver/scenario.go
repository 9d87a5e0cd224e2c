package devserver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is the script of synthetic activity events the devserver cycles
// through on each stream connection.
type Scenario struct {
	Events []ScenarioEvent `yaml:"events"`
}

// ScenarioEvent is one scripted event.
type ScenarioEvent struct {
	Message string `yaml:"message"`
	Detail  string `yaml:"detail,omitempty"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(s.Events) == 0 {
		return nil, fmt.Errorf("scenario has no events")
	}
	return &s, nil
}

// DefaultScenario returns the built-in event script.
func DefaultScenario() *Scenario {
	return &Scenario{
		Events: []ScenarioEvent{
			{Message: "Budget threshold reached", Detail: "aws/prod compute at 82% of monthly budget"},
			{Message: "Instance rightsizing recommendation", Detail: "gcp/analytics n2-standard-8 idle for 14 days"},
			{Message: "Spreadsheet import completed", Detail: "march-invoices.xlsx: 1,204 rows"},
			{Message: "Anomaly detected", Detail: "azure/storage egress up 240% day over day"},
			{Message: "Reserved instance expiring", Detail: "aws/prod 12x m5.large expires in 7 days"},
			{Message: "Untagged resources found", Detail: "38 resources missing cost-center tag"},
		},
	}
}
