package config

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDuration_JSON(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"1.5s"`), &d); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if d.D() != 1500*time.Millisecond {
		t.Errorf("got %v, want 1.5s", d)
	}

	b, err := json.Marshal(Duration(250 * time.Millisecond))
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(b) != `"250ms"` {
		t.Errorf("Marshal = %s", b)
	}
}

func TestDuration_YAML(t *testing.T) {
	var v struct {
		Wait Duration `yaml:"wait"`
	}
	if err := yaml.Unmarshal([]byte("wait: 40ms\n"), &v); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if v.Wait.D() != 40*time.Millisecond {
		t.Errorf("got %v, want 40ms", v.Wait)
	}

	out, err := yaml.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(out) != "wait: 40ms\n" {
		t.Errorf("Marshal = %q", out)
	}

	if err := yaml.Unmarshal([]byte("wait: later\n"), &v); err == nil {
		t.Error("expected error for invalid duration")
	}
}
