package identity

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rosterFile struct {
	Students []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"students"`
}

// LoadRoster builds a StaticResolver from a YAML roster file:
//
//	students:
//	  - id: stu-001
//	    name: Dana Kim
func LoadRoster(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}

	students := make([]Student, 0, len(rf.Students))
	for _, s := range rf.Students {
		if s.ID == "" || s.Name == "" {
			return nil, fmt.Errorf("roster %s: every student needs an id and a name", path)
		}
		students = append(students, Student{ID: s.ID, Name: s.Name})
	}
	return NewStaticResolver(students), nil
}
