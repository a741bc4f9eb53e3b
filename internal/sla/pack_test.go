package sla

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/utils"
)

const samplePack = `
definitions:
  - id: gold
    name: Gold
    availability_target: 0.999
    period_length: 720h
    monthly_fee: 1000
  - id: broken
    availability_target: 1.5
    period_length: 720h
instances:
  - id: inst-1
    customer_id: cust-1
    service_id: svc-1
    definition: gold
    resources:
      - type: olt
        id: dev-A
      - type: core
        id: "*"
  - id: inst-2
    customer_id: cust-2
    service_id: svc-2
    definition: missing
    resources:
      - type: olt
        id: dev-B
`

func TestLoadPackBindsResources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instances.yaml")
	if err := os.WriteFile(path, []byte(samplePack), 0o600); err != nil {
		t.Fatalf("write pack: %v", err)
	}

	pack, err := LoadPack(path, utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("LoadPack: %v", err)
	}

	// The invalid definition and the binding to a missing definition are
	// skipped, never fatal.
	if got := len(pack.Instances()); got != 1 {
		t.Fatalf("expected 1 instance, got %d", got)
	}

	resolve := pack.Resolver()
	if inst, ok := resolve(models.ResourceRef{Type: "olt", ID: "dev-A"}); !ok || inst.ID != "inst-1" {
		t.Fatalf("exact binding failed: %+v ok=%v", inst, ok)
	}
	if inst, ok := resolve(models.ResourceRef{Type: "core", ID: "router-7"}); !ok || inst.ID != "inst-1" {
		t.Fatalf("wildcard binding failed: %+v ok=%v", inst, ok)
	}
	if _, ok := resolve(models.ResourceRef{Type: "olt", ID: "dev-B"}); ok {
		t.Fatalf("binding to skipped instance must not resolve")
	}
}

func TestLoadPackMissingFileYieldsEmpty(t *testing.T) {
	pack, err := LoadPack("/nonexistent/instances.yaml", utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("missing file must not be fatal: %v", err)
	}
	if len(pack.Instances()) != 0 {
		t.Fatalf("expected empty pack")
	}
	if _, ok := pack.Resolver()(models.ResourceRef{Type: "olt", ID: "x"}); ok {
		t.Fatalf("empty pack must resolve nothing")
	}
}
