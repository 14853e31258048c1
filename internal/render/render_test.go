package render

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/domain"
)

func testDevice() *domain.Device {
	return &domain.Device{
		ID:         uuid.New(),
		Name:       "core-sw1",
		Address:    "10.0.0.1",
		Port:       22,
		Platform:   "cisco_ios",
		Department: "netops",
		Group:      "core",
	}
}

// --- Render Tests ---

func TestTemplate_Commands(t *testing.T) {
	tmpl, err := Parse("vlan", `! vlan change for {{ .Device.Name }}
vlan {{ .Params.vlan }}
 name {{ .Params.name | upper }}

# trailing comment
interface {{ default "Gi0/1" .Params.port }}
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := NewContext(testDevice(), map[string]any{"vlan": 120, "name": "users", "port": ""})
	cmds, hash, err := tmpl.Commands(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"vlan 120", "name USERS", "interface Gi0/1"}
	if diff := cmp.Diff(want, cmds); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if hash != Hash(want) {
		t.Errorf("hash mismatch: %s", hash)
	}
}

func TestTemplate_MissingKeyFails(t *testing.T) {
	tmpl, err := Parse("t", "vlan {{ .Params.vlan }}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, _, err = tmpl.Commands(NewContext(testDevice(), nil))
	if !errors.Is(err, ErrTemplateRender) {
		t.Errorf("expected ErrTemplateRender, got %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("t", "vlan {{ .Params.vlan ")
	if !errors.Is(err, ErrTemplateParse) {
		t.Errorf("expected ErrTemplateParse, got %v", err)
	}
}

func TestTemplate_EmptyRender(t *testing.T) {
	tmpl, err := Parse("t", "! only comments\n\n# here\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _, err = tmpl.Commands(NewContext(testDevice(), nil))
	if !errors.Is(err, ErrEmptyRender) {
		t.Errorf("expected ErrEmptyRender, got %v", err)
	}
}

// --- Hash Tests ---

func TestHash_IgnoresFormatting(t *testing.T) {
	a := Normalize("vlan 10\r\n  name x  \n\n")
	b := Normalize("! header\nvlan 10\nname x")
	if Hash(a) != Hash(b) {
		t.Error("equivalent command sequences must hash equally")
	}
	if Hash(a) == Hash([]string{"vlan 20", "name x"}) {
		t.Error("different commands must hash differently")
	}
}
