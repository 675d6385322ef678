package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadLayoutTemplate(t *testing.T) {
	path := writeFile(t, "layout.toml", layoutTemplate)
	layout, err := LoadLayout(path)
	if err != nil {
		t.Fatalf("load layout: %v", err)
	}
	if len(layout.Containers) != 2 {
		t.Fatalf("expected 2 containers, got %d", len(layout.Containers))
	}
	if layout.Containers[0].ICID != nil {
		t.Fatalf("expected pool icid for first container")
	}
	if layout.Containers[1].ICID == nil || *layout.Containers[1].ICID != 12 {
		t.Fatalf("unexpected explicit icid: %v", layout.Containers[1].ICID)
	}
	if layout.Containers[1].Parent != "linux" {
		t.Fatalf("unexpected parent %q", layout.Containers[1].Parent)
	}
	if len(layout.Objects) != 1 || layout.Objects[0].Blobs[0] != 0x80000000 {
		t.Fatalf("unexpected objects: %+v", layout.Objects)
	}
	if layout.Connections[0].MaxRate != 10000 {
		t.Fatalf("unexpected connection: %+v", layout.Connections[0])
	}
}

func TestParseLayout(t *testing.T) {
	layout, err := ParseLayout([]byte(`
name = "bench"

[[containers]]
name = "linux"
options = ["spawn"]

[[connections]]
endpoint1 = "dpni.1:2"
endpoint2 = "dpmac.3"
`))
	if err != nil {
		t.Fatalf("parse layout: %v", err)
	}
	if layout.Name != "bench" || len(layout.Containers) != 1 || layout.Connections[0].Endpoint1 != "dpni.1:2" {
		t.Fatalf("unexpected layout: %+v", layout)
	}

	_, err = ParseLayout([]byte("[[containers]]\nname = \"dpdk\"\nparent = \"linux\"\n"))
	if err == nil || !strings.Contains(err.Error(), "layout invalid") {
		t.Fatalf("expected invalid layout, got %v", err)
	}
	_, err = ParseLayout([]byte("containers = 3"))
	if err == nil || !strings.Contains(err.Error(), "layout parse failed") {
		t.Fatalf("expected parse failure, got %v", err)
	}
	_, err = LoadLayout(filepath.Join(t.TempDir(), "missing.toml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestValidateLayoutRejects(t *testing.T) {
	cases := map[string]Layout{
		"missing name":    {Containers: []ContainerLayout{{}}},
		"forward parent":  {Containers: []ContainerLayout{{Name: "a", Parent: "b"}, {Name: "b"}}},
		"duplicate":       {Containers: []ContainerLayout{{Name: "a"}, {Name: "a"}}},
		"long label":      {Containers: []ContainerLayout{{Name: "0123456789abcdef"}}},
		"unknown target":  {Objects: []ObjectLayout{{Type: "dpsparser", Container: "nope"}}},
		"object type":     {Objects: []ObjectLayout{{Container: ""}}},
		"bad endpoint":    {Connections: []ConnectionLayout{{Endpoint1: "dpni", Endpoint2: "dpmac.1"}}},
		"unknown destroy": {Handoff: HandoffLayout{Destroy: []string{"missing"}}},
	}
	for name, layout := range cases {
		if err := ValidateLayout(layout); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("dpmac.3:2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ep.Type != "dpmac" || ep.ID != 3 || ep.Interface != 2 {
		t.Fatalf("unexpected endpoint %+v", ep)
	}
	ep, err = ParseEndpoint(" dpni.1 ")
	if err != nil || ep.Type != "dpni" || ep.ID != 1 || ep.Interface != 0 {
		t.Fatalf("unexpected endpoint %+v err=%v", ep, err)
	}
	for _, raw := range []string{"", ".1", "dpni.x", "dpni.1:y"} {
		if _, err := ParseEndpoint(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestTopologyRoundTrip(t *testing.T) {
	topo := Topology{
		Firmware: "10.28.0",
		Root: ContainerNode{
			ID: 1, Label: "root", Options: []string{"spawn"},
			Children: []ContainerNode{{
				ID: 2, Label: "linux", ICID: 10, PortalID: 2,
				Objects: []ObjectNode{{Type: "dpsparser", ID: 0, Version: "1.0"}},
			}},
		},
	}
	raw, err := MarshalTopology(topo)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `label = 'linux'`) && !strings.Contains(string(raw), `label = "linux"`) {
		t.Fatalf("expected child label in output:\n%s", raw)
	}
	back, err := UnmarshalTopology(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back.Root.Children) != 1 || back.Root.Children[0].Objects[0].Type != "dpsparser" {
		t.Fatalf("unexpected topology: %+v", back)
	}
}

func TestRuntimeTemplatesValidate(t *testing.T) {
	for _, kind := range []string{KindBoot, KindSim, KindLayout} {
		dir := t.TempDir()
		path := filepath.Join(dir, kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("%s: write template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("%s: expected overwrite refusal", kind)
		}
		if err := ValidateFile(kind, path); err != nil {
			t.Fatalf("%s: validate: %v", kind, err)
		}
	}
	if _, err := Template("daemon"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestDecodeSimFileRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "sim.toml", "listen = \":7070\"\nlisen = \":1\"\n")
	_, _, err := DecodeSimFile(path)
	if err == nil || !strings.Contains(err.Error(), "lisen") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestDecodeBootFileMeta(t *testing.T) {
	path := writeFile(t, "boot.toml", "address = \"sim:7070\"\nredial_attempts = 5\n")
	raw, meta, err := DecodeBootFile(path)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !meta.IsDefined("address") || meta.IsDefined("network") {
		t.Fatalf("unexpected defined keys: %v", meta.Keys())
	}
	if raw.RedialAttempts != 5 {
		t.Fatalf("unexpected redial attempts %d", raw.RedialAttempts)
	}
}
