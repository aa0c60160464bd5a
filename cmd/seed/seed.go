package main

import (
	"fmt"
	"os"
	"time"

	"taskloom/internal/models"

	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout of a knowledge fixture
type seedFile struct {
	Projects []seedProject `yaml:"projects"`
}

type seedProject struct {
	ID    string     `yaml:"id"`
	Name  string     `yaml:"name"`
	Items []seedItem `yaml:"items"`
}

type seedItem struct {
	ID        string    `yaml:"id"`
	Kind      string    `yaml:"kind"`
	Title     string    `yaml:"title"`
	Body      string    `yaml:"body"`
	Status    string    `yaml:"status"`
	Priority  string    `yaml:"priority"`
	SubType   string    `yaml:"sub_type"`
	Lane      string    `yaml:"lane"`
	Links     []string  `yaml:"links"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

func loadSeedFile(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := seed.validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

func (s *seedFile) validate() error {
	seen := make(map[string]bool)
	for _, p := range s.Projects {
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("project needs an id and a name")
		}
		for _, item := range p.Items {
			if item.ID == "" || item.Title == "" {
				return fmt.Errorf("project %s: item needs an id and a title", p.ID)
			}
			if seen[item.ID] {
				return fmt.Errorf("duplicate item id %s", item.ID)
			}
			seen[item.ID] = true
			if models.KnowledgeKind(item.Kind).Category() == models.CategoryUnknown {
				return fmt.Errorf("item %s: unknown kind %q", item.ID, item.Kind)
			}
			if item.CreatedAt.IsZero() {
				return fmt.Errorf("item %s: created_at is required", item.ID)
			}
		}
	}
	return nil
}

func (i seedItem) toModel(projectID string) models.KnowledgeItem {
	return models.KnowledgeItem{
		ID:        i.ID,
		ProjectID: projectID,
		Kind:      models.KnowledgeKind(i.Kind),
		Title:     i.Title,
		Body:      i.Body,
		Status:    models.ItemStatus(i.Status),
		Priority:  models.ItemPriority(i.Priority),
		SubType:   models.ExternalSubType(i.SubType),
		Lane:      models.TaskLane(i.Lane),
		Links:     i.Links,
		CreatedAt: i.CreatedAt.UTC(),
		UpdatedAt: i.UpdatedAt.UTC(),
	}
}
