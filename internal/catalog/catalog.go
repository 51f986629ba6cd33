// Package catalog loads the service catalog from a YAML seed file and
// upserts it into the store at startup. Seeding is idempotent: services
// and opinions are keyed by name, so re-running against an already
// seeded database only updates attributes.
package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fieldsvc/dispatchd/internal/logger"
	"github.com/fieldsvc/dispatchd/internal/model"
)

// SeedFile is the root of the catalog seed document.
type SeedFile struct {
	Services []ServiceSeed `yaml:"services"`
}

// ServiceSeed describes one service and its catalogued opinions.
type ServiceSeed struct {
	Name          string        `yaml:"name"`
	Category      string        `yaml:"category"`
	DefaultFormID string        `yaml:"default_form_id,omitempty"`
	SLAHours      int           `yaml:"sla_hours,omitempty"`
	Opinions      []OpinionSeed `yaml:"opinions,omitempty"`
}

// OpinionSeed describes one outcome annotation for a service.
type OpinionSeed struct {
	Name         string `yaml:"name"`
	Approved     bool   `yaml:"approved,omitempty"`
	Exchangeable bool   `yaml:"exchangeable,omitempty"`
	Final        bool   `yaml:"final,omitempty"`
}

// Store is the subset of the persistence layer the seeder needs.
type Store interface {
	UpsertService(ctx context.Context, svc model.Service) (*model.Service, error)
	UpsertOpinion(ctx context.Context, op model.ServiceOpinion) (*model.ServiceOpinion, error)
}

// Load reads and validates a catalog seed file.
func Load(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a catalog seed document.
func Parse(raw []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}

	seen := make(map[string]bool, len(seed.Services))
	for i, svc := range seed.Services {
		if svc.Name == "" {
			return nil, fmt.Errorf("service %d must have a 'name' field", i)
		}
		if svc.Category == "" {
			return nil, fmt.Errorf("service %q must have a 'category' field", svc.Name)
		}
		if seen[svc.Name] {
			return nil, fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true
		if svc.SLAHours < 0 {
			return nil, fmt.Errorf("service %q has negative sla_hours", svc.Name)
		}

		names := make(map[string]bool, len(svc.Opinions))
		for j, op := range svc.Opinions {
			if op.Name == "" {
				return nil, fmt.Errorf("service %q opinion %d must have a 'name' field", svc.Name, j)
			}
			if names[op.Name] {
				return nil, fmt.Errorf("service %q has duplicate opinion %q", svc.Name, op.Name)
			}
			names[op.Name] = true
		}
	}
	return &seed, nil
}

// Seed upserts every service and opinion from the seed file.
func Seed(ctx context.Context, st Store, seed *SeedFile, log *logger.Logger) error {
	for _, svc := range seed.Services {
		created, err := st.UpsertService(ctx, model.Service{
			Name:          svc.Name,
			Category:      svc.Category,
			DefaultFormID: svc.DefaultFormID,
			SLAHours:      svc.SLAHours,
		})
		if err != nil {
			return fmt.Errorf("failed to seed service %q: %w", svc.Name, err)
		}

		for _, op := range svc.Opinions {
			if _, err := st.UpsertOpinion(ctx, model.ServiceOpinion{
				ServiceID:    created.ID,
				Name:         op.Name,
				Approved:     op.Approved,
				Exchangeable: op.Exchangeable,
				Final:        op.Final,
			}); err != nil {
				return fmt.Errorf("failed to seed opinion %q for service %q: %w", op.Name, svc.Name, err)
			}
		}

		log.Debug("Seeded catalog service",
			logger.Field{Key: "service", Value: svc.Name},
			logger.Field{Key: "opinions", Value: len(svc.Opinions)},
		)
	}

	log.Info("Catalog seeded", logger.Field{Key: "services", Value: len(seed.Services)})
	return nil
}
