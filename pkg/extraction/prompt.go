package extraction

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PromptTemplate is the fixed instruction sent alongside every prescription
// image. Loaded once at startup; requests never mutate it.
type PromptTemplate struct {
	System      string  `yaml:"system"`
	Instruction string  `yaml:"instruction"`
	Temperature float64 `yaml:"temperature"`
}

// LoadPrompt reads a prompt template file. An empty path yields the
// built-in default.
func LoadPrompt(path string) (PromptTemplate, error) {
	if path == "" {
		return DefaultPrompt(), nil
	}

	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return PromptTemplate{}, fmt.Errorf("read prompt template: %w", err)
	}

	var tpl PromptTemplate
	if err := yaml.Unmarshal(content, &tpl); err != nil {
		return PromptTemplate{}, fmt.Errorf("parse prompt template: %w", err)
	}
	if tpl.Instruction == "" {
		return PromptTemplate{}, fmt.Errorf("prompt template missing instruction")
	}
	if tpl.System == "" {
		tpl.System = DefaultPrompt().System
	}
	return tpl, nil
}

func DefaultPrompt() PromptTemplate {
	return PromptTemplate{
		System: "You are a helpful assistant that responds in JSON format. " +
			"Help me to get the patient's data and prescribed pathological lab tests " +
			"extracted from the prescription given by a doctor, hospital, or lab.",
		Instruction: `Extract the following fields from the prescription image and return a single JSON object:
date, patient_address, patient_age, patient_age_period, patient_contact, patient_name,
patient_sex, patient_title, referrer_name, referrer_type, remark, ID,
and prescribed_tests as an ordered array of test name strings.
Use an empty string for any field that is not present on the prescription.`,
		Temperature: 0.0,
	}
}
