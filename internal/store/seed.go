package store

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/persistorai/queuecall/internal/models"
)

// Seed is the YAML layout used to populate a Memory store.
type Seed struct {
	Services []SeedService `yaml:"services"`
	Counters []SeedCounter `yaml:"counters"`
	Staff    []SeedStaff   `yaml:"staff"`
}

// SeedService describes one service in a seed file.
type SeedService struct {
	ID       string `yaml:"id"`
	AgencyID string `yaml:"agency_id"`
	Name     string `yaml:"name"`
}

// SeedCounter describes one counter in a seed file.
type SeedCounter struct {
	ID       string   `yaml:"id"`
	AgencyID string   `yaml:"agency_id"`
	Name     string   `yaml:"name"`
	Services []string `yaml:"services"`
	Inactive bool     `yaml:"inactive"`
}

// SeedStaff describes one operator and the token it authenticates with.
type SeedStaff struct {
	ID       string `yaml:"id"`
	AgencyID string `yaml:"agency_id"`
	Name     string `yaml:"name"`
	Token    string `yaml:"token"`
}

// LoadSeedFile reads and applies a YAML seed file.
func LoadSeedFile(m *Memory, path string) error {
	f, err := os.Open(path) //nolint:gosec // path comes from trusted config
	if err != nil {
		return fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	return LoadSeed(m, f)
}

// LoadSeed decodes a seed document and registers its entities.
func LoadSeed(m *Memory, r io.Reader) error {
	var seed Seed
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decoding seed: %w", err)
	}

	return seed.Apply(m)
}

// Apply validates references and registers the seed's entities.
func (s *Seed) Apply(m *Memory) error {
	known := make(map[string]SeedService, len(s.Services))
	for _, svc := range s.Services {
		if svc.ID == "" || svc.AgencyID == "" {
			return fmt.Errorf("seed service %q: id and agency_id are required", svc.Name)
		}

		known[svc.ID] = svc
	}

	for _, c := range s.Counters {
		if c.ID == "" || c.AgencyID == "" {
			return fmt.Errorf("seed counter %q: id and agency_id are required", c.Name)
		}

		for _, id := range c.Services {
			svc, ok := known[id]
			if !ok {
				return fmt.Errorf("seed counter %s: unknown service %s", c.ID, id)
			}

			if svc.AgencyID != c.AgencyID {
				return fmt.Errorf("seed counter %s: service %s belongs to another agency", c.ID, id)
			}
		}
	}

	for _, st := range s.Staff {
		if st.ID == "" || st.Token == "" {
			return fmt.Errorf("seed staff %q: id and token are required", st.Name)
		}
	}

	for _, svc := range s.Services {
		m.PutService(models.Service{ID: svc.ID, AgencyID: svc.AgencyID, Name: svc.Name})
	}

	for _, c := range s.Counters {
		m.PutCounter(models.Counter{
			ID:                 c.ID,
			AgencyID:           c.AgencyID,
			Name:               c.Name,
			AssignedServiceIDs: c.Services,
			Active:             !c.Inactive,
		})
	}

	for _, st := range s.Staff {
		m.PutStaff(models.Staff{ID: st.ID, AgencyID: st.AgencyID, Name: st.Name}, st.Token)
	}

	return nil
}
