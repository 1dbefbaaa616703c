// Package catalog loads the declarative service catalog (services, their
// actions and reactions, and parameter definitions) from a YAML file and
// upserts it into the store. Entries are matched by name, so a sync is
// idempotent and never changes existing ids.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/tbourn/go-area-backend/internal/capability"
	"github.com/tbourn/go-area-backend/internal/domain"
	"github.com/tbourn/go-area-backend/internal/repo"
)

// File is the root of a catalog document.
type File struct {
	Services []Service `yaml:"services"`
}

// Service is one catalog service.
type Service struct {
	Name        string      `yaml:"name"`
	DisplayName string      `yaml:"display_name"`
	Description string      `yaml:"description"`
	Actions     []Operation `yaml:"actions"`
	Reactions   []Operation `yaml:"reactions"`
}

// Operation is an action or a reaction. Polling and Webhook only apply to
// actions.
type Operation struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Polling     bool    `yaml:"polling"`
	Webhook     bool    `yaml:"webhook"`
	Params      []Param `yaml:"params"`
}

// Param declares one input. Default may be any YAML value; it is stored as
// JSON.
type Param struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
	Default  any    `yaml:"default"`
}

// Parse decodes and validates a catalog document.
func Parse(b []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := f.normalize(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFile reads and parses the catalog at path.
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// normalize canonicalizes names (NFC, trimmed, lower case), defaults
// parameter types, and rejects empty or duplicate names.
func (f *File) normalize() error {
	var errs []error
	seen := map[string]bool{}
	for i := range f.Services {
		s := &f.Services[i]
		s.Name = canonical(s.Name)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("service #%d: missing name", i))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("service %q: duplicate", s.Name))
		}
		seen[s.Name] = true
		if s.DisplayName == "" {
			s.DisplayName = s.Name
		}
		s.DisplayName = norm.NFC.String(s.DisplayName)
		errs = append(errs, normalizeOps(s.Name, "action", s.Actions)...)
		errs = append(errs, normalizeOps(s.Name, "reaction", s.Reactions)...)
	}
	return errors.Join(errs...)
}

func normalizeOps(service, kind string, ops []Operation) []error {
	var errs []error
	seen := map[string]bool{}
	for i := range ops {
		op := &ops[i]
		op.Name = canonical(op.Name)
		if op.Name == "" {
			errs = append(errs, fmt.Errorf("%s: %s #%d: missing name", service, kind, i))
			continue
		}
		if seen[op.Name] {
			errs = append(errs, fmt.Errorf("%s.%s: duplicate %s", service, op.Name, kind))
		}
		seen[op.Name] = true
		if kind == "action" && !op.Polling && !op.Webhook {
			errs = append(errs, fmt.Errorf("%s.%s: action supports neither polling nor webhook", service, op.Name))
		}
		for j := range op.Params {
			p := &op.Params[j]
			p.Name = strings.TrimSpace(norm.NFC.String(p.Name))
			if p.Name == "" {
				errs = append(errs, fmt.Errorf("%s.%s: param #%d: missing name", service, op.Name, j))
			}
			if p.Type == "" {
				p.Type = "string"
			}
		}
	}
	return errs
}

func canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

// Syncer writes a catalog into the store.
type Syncer struct {
	DB       *gorm.DB
	Registry *capability.Registry // optional; used to warn about unbacked entries
	Log      zerolog.Logger

	// OnSync, when set, runs after every committed sync. In-process caches
	// of catalog rows hook in here to drop stale definitions.
	OnSync func(Stats)
}

// Stats counts what a sync touched.
type Stats struct {
	Services  int
	Actions   int
	Reactions int
	Params    int
}

// Sync upserts every entry of f in one transaction.
func (s *Syncer) Sync(ctx context.Context, f *File) (Stats, error) {
	var st Stats
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, svc := range f.Services {
			row, err := repo.UpsertService(ctx, tx, domain.Service{
				Name: svc.Name, DisplayName: svc.DisplayName, Description: svc.Description,
			})
			if err != nil {
				return fmt.Errorf("service %s: %w", svc.Name, err)
			}
			st.Services++

			for _, op := range svc.Actions {
				a, err := repo.UpsertServiceAction(ctx, tx, domain.ServiceAction{
					ServiceID: row.ID, Name: op.Name, Description: op.Description,
					PollingSupported: op.Polling, WebhookSupported: op.Webhook,
				})
				if err != nil {
					return fmt.Errorf("action %s.%s: %w", svc.Name, op.Name, err)
				}
				st.Actions++
				for pos, p := range op.Params {
					def, err := defaultJSON(p.Default)
					if err != nil {
						return fmt.Errorf("action %s.%s param %s: %w", svc.Name, op.Name, p.Name, err)
					}
					if err := repo.UpsertServiceActionParam(ctx, tx, domain.ServiceActionParam{
						ServiceActionID: a.ID, Name: p.Name, DataType: p.Type,
						Required: p.Required, Position: pos, DefaultValue: def,
					}); err != nil {
						return err
					}
					st.Params++
				}
				if op.Polling && s.Registry != nil && !s.Registry.HasPoller(svc.Name, op.Name) {
					s.Log.Warn().Str("capability", domain.CapabilityKey(svc.Name, op.Name)).
						Msg("polling action has no registered poller")
				}
			}

			for _, op := range svc.Reactions {
				r, err := repo.UpsertServiceReaction(ctx, tx, domain.ServiceReaction{
					ServiceID: row.ID, Name: op.Name, Description: op.Description,
				})
				if err != nil {
					return fmt.Errorf("reaction %s.%s: %w", svc.Name, op.Name, err)
				}
				st.Reactions++
				for pos, p := range op.Params {
					def, err := defaultJSON(p.Default)
					if err != nil {
						return fmt.Errorf("reaction %s.%s param %s: %w", svc.Name, op.Name, p.Name, err)
					}
					if err := repo.UpsertServiceReactionParam(ctx, tx, domain.ServiceReactionParam{
						ServiceReactionID: r.ID, Name: p.Name, DataType: p.Type,
						Required: p.Required, Position: pos, DefaultValue: def,
					}); err != nil {
						return err
					}
					st.Params++
				}
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	s.Log.Info().
		Int("services", st.Services).
		Int("actions", st.Actions).
		Int("reactions", st.Reactions).
		Int("params", st.Params).
		Msg("catalog synced")
	if s.OnSync != nil {
		s.OnSync(st)
	}
	return st, nil
}

// SyncFile loads path and syncs it.
func (s *Syncer) SyncFile(ctx context.Context, path string) (Stats, error) {
	f, err := LoadFile(path)
	if err != nil {
		return Stats{}, err
	}
	return s.Sync(ctx, f)
}

func defaultJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
