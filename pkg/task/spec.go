package task

// ModelSpec is a named, versioned description of a scientific model:
// its parameter schema, the result files a run produces, and the
// executable that produces them. Specs are immutable once loaded.
type ModelSpec struct {
	Name        string          `yaml:"name"`
	Version     string          `yaml:"version"`
	FullName    string          `yaml:"full_name,omitempty"`
	Subtitle    string          `yaml:"subtitle,omitempty"`
	Parameters  []ParameterSpec `yaml:"parameters"`
	Attachments []string        `yaml:"attachments,omitempty"`
	Executable  string          `yaml:"executable"`
}

// Param returns the parameter spec with the given name, or nil.
func (m *ModelSpec) Param(name string) *ParameterSpec {
	for i := range m.Parameters {
		if m.Parameters[i].Name == name {
			return &m.Parameters[i]
		}
	}
	return nil
}

// Title returns the display name of the model, falling back to the
// short name when no full name is declared.
func (m *ModelSpec) Title() string {
	if m.FullName != "" {
		return m.FullName
	}
	return m.Name
}
