package sla

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/faultline-io/faultline/internal/models"
)

// instancePack is the on-disk shape of the SLA instance file: definitions by
// id, and instances binding (customer, service) pairs to a definition and the
// resources whose alarms count against it.
type instancePack struct {
	Definitions []models.SLADefinition `yaml:"definitions"`
	Instances   []instanceBinding      `yaml:"instances"`
}

type instanceBinding struct {
	ID          string               `yaml:"id"`
	CustomerID  string               `yaml:"customer_id"`
	ServiceID   string               `yaml:"service_id"`
	Definition  string               `yaml:"definition"`
	PeriodStart time.Time            `yaml:"period_start"`
	Resources   []models.ResourceRef `yaml:"resources"`
}

// Pack holds loaded SLA instances and the resource bindings that route
// alarms to them.
type Pack struct {
	instances []models.SLAInstance
	byKey     map[string]string
	byID      map[string]models.SLAInstance
}

// LoadPack reads definitions and instance bindings from a YAML file. Invalid
// definitions and bindings to unknown definitions are skipped with a warning,
// never fatal. An empty path yields an empty pack.
func LoadPack(path string, logger *slog.Logger) (*Pack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pack := &Pack{
		byKey: make(map[string]string),
		byID:  make(map[string]models.SLAInstance),
	}
	if path == "" {
		return pack, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("sla instance file missing, no instances monitored", slog.String("path", path))
			return pack, nil
		}
		return nil, fmt.Errorf("read sla instances: %w", err)
	}

	var file instancePack
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sla instances: %w", err)
	}

	defs := make(map[string]models.SLADefinition, len(file.Definitions))
	for _, def := range file.Definitions {
		if err := def.Validate(); err != nil {
			logger.Warn("skipping invalid sla definition", slog.String("definition", def.ID), slog.Any("error", err))
			continue
		}
		defs[def.ID] = def
	}

	for _, binding := range file.Instances {
		def, ok := defs[binding.Definition]
		if !ok {
			logger.Warn("skipping sla instance with unknown definition",
				slog.String("instance", binding.ID), slog.String("definition", binding.Definition))
			continue
		}
		instance := models.SLAInstance{
			ID:          binding.ID,
			CustomerID:  binding.CustomerID,
			ServiceID:   binding.ServiceID,
			Definition:  def,
			PeriodStart: binding.PeriodStart,
		}
		if !instance.PeriodStart.IsZero() {
			instance.PeriodEnd = instance.PeriodStart.Add(def.PeriodLength)
		}
		pack.instances = append(pack.instances, instance)
		pack.byID[instance.ID] = instance
		for _, ref := range binding.Resources {
			pack.byKey[ref.Key()] = instance.ID
		}
	}

	logger.Info("sla instance pack loaded",
		slog.String("path", path),
		slog.Int("definitions", len(defs)),
		slog.Int("instances", len(pack.instances)),
	)
	return pack, nil
}

// Instances returns the loaded instances for tracker registration.
func (p *Pack) Instances() []models.SLAInstance {
	return append([]models.SLAInstance(nil), p.instances...)
}

// Resolver returns the resource lookup the tracker consumes. Exact resource
// keys are tried first, then a type-level wildcard binding.
func (p *Pack) Resolver() InstanceResolver {
	return func(ref models.ResourceRef) (*models.SLAInstance, bool) {
		id, ok := p.byKey[ref.Key()]
		if !ok {
			id, ok = p.byKey[models.ResourceRef{Type: ref.Type, ID: models.WildcardResource}.Key()]
		}
		if !ok {
			return nil, false
		}
		instance, ok := p.byID[id]
		if !ok {
			return nil, false
		}
		return &instance, true
	}
}
