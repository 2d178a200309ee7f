package registry

import "testing"

func TestBuiltinSet(t *testing.T) {
	models := Builtin()
	if len(models) != 3 {
		t.Fatalf("expected 3 models, got %d", len(models))
	}
	for _, m := range models {
		if m.Arch.Scale != 4 {
			t.Fatalf("model %s: scale=%d, all networks are 4x", m.ID, m.Arch.Scale)
		}
		if m.URL == "" {
			t.Fatalf("model %s: missing weight URL", m.ID)
		}
		if m.Arch.NumInCh != 3 || m.Arch.NumOutCh != 3 {
			t.Fatalf("model %s: expected 3-channel I/O", m.ID)
		}
	}
}

func TestLookup(t *testing.T) {
	cfg, ok := Lookup("RealESRGAN_x4plus_anime_6B")
	if !ok {
		t.Fatalf("expected anime model present")
	}
	if cfg.Arch.NumBlock != 6 {
		t.Fatalf("anime model has 6 blocks, got %d", cfg.Arch.NumBlock)
	}
	if _, ok := Lookup("nope"); ok {
		t.Fatalf("unexpected hit for unknown id")
	}
}

func TestBuiltinReturnsCopy(t *testing.T) {
	a := Builtin()
	a[0].ID = "mutated"
	b := Builtin()
	if b[0].ID == "mutated" {
		t.Fatalf("builtin set mutated via returned slice")
	}
}

func TestModelsProjection(t *testing.T) {
	models := Models()
	if len(models) != len(IDs()) {
		t.Fatalf("projection length mismatch")
	}
	for _, m := range models {
		if m.Scale != 4 || m.ID == "" || m.Name == "" {
			t.Fatalf("incomplete projection: %+v", m)
		}
	}
}
