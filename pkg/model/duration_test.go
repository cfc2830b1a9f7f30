package model

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDuration_JSONRoundTrip(t *testing.T) {
	type payload struct {
		Offset Duration `json:"offset"`
	}
	in := payload{Offset: Duration(15 * time.Millisecond)}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"offset":"15ms"}` {
		t.Errorf("Marshal() = %s, want {\"offset\":\"15ms\"}", data)
	}
	var out payload
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.Offset != in.Offset {
		t.Errorf("round trip = %v, want %v", out.Offset, in.Offset)
	}
}

func TestDuration_UnmarshalJSONNumber(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`25000000`), &d); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if d.Std() != 25*time.Millisecond {
		t.Errorf("Unmarshal(25000000) = %v, want 25ms", d.Std())
	}
}

func TestDuration_UnmarshalJSONInvalid(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Error("Unmarshal() expected error for invalid duration string")
	}
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Error("Unmarshal() expected error for boolean value")
	}
}

func TestDuration_YAML(t *testing.T) {
	var got struct {
		Duration Duration `yaml:"duration"`
	}
	if err := yaml.Unmarshal([]byte("duration: 10ms\n"), &got); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if got.Duration.Std() != 10*time.Millisecond {
		t.Errorf("duration = %v, want 10ms", got.Duration.Std())
	}

	out, err := yaml.Marshal(got)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}
	if string(out) != "duration: 10ms\n" {
		t.Errorf("yaml.Marshal() = %q, want %q", out, "duration: 10ms\n")
	}
}

func TestDuration_YAMLInvalid(t *testing.T) {
	var got struct {
		Duration Duration `yaml:"duration"`
	}
	if err := yaml.Unmarshal([]byte("duration: banana\n"), &got); err == nil {
		t.Error("yaml.Unmarshal() expected error for invalid duration")
	}
}
