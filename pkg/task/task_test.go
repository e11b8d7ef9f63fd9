package task

import (
	"encoding/json"
	"testing"
)

func abmbSpec() *ModelSpec {
	return &ModelSpec{
		Name:     "abmb_c",
		Version:  "1",
		FullName: "ABM-B",
		Subtitle: "Algorithmic BDF Model Bifacial",
		Parameters: []ParameterSpec{
			{Name: "nSamples", Kind: KindInteger, Description: "Number of samples",
				RangeStart: fp(1000), RangeEnd: fp(100000), Step: fp(1), Default: fp(10000)},
			{Name: "wavelengths", Kind: KindRange, Description: "Wavelengths",
				RangeStart: fp(400), RangeEnd: fp(2500), Step: fp(5), Units: "nm"},
			{Name: "angleOfIncidence", Kind: KindFloat, Description: "Incident angle",
				Default: fp(8), RangeStart: fp(0), RangeEnd: fp(360), Step: fp(0.1), Units: "degrees"},
			{Name: "sieveDetourEffects", Kind: KindBoolean,
				Description: "Simulate sieve and detour effects", DefaultBool: bp(true)},
		},
		Attachments: []string{"spectral_distribution.csv", "reflectance.png"},
		Executable:  "/opt/models/abmb",
	}
}

func bp(v bool) *bool { return &v }

func abmbParams() map[string]Value {
	return map[string]Value{
		"nSamples":           IntValue(10000),
		"wavelengths":        RangeValue(400, 2500),
		"angleOfIncidence":   FloatValue(8),
		"sieveDetourEffects": BoolValue(true),
	}
}

func TestTaskValidate(t *testing.T) {
	spec := abmbSpec()

	ok := New("abmb_c", "1", "user@example.org", abmbParams())
	if err := ok.Validate(spec); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}

	// Out-of-range integer must be rejected with the offending parameter named.
	bad := New("abmb_c", "1", "user@example.org", abmbParams())
	bad.Parameters["nSamples"] = IntValue(-5)
	err := bad.Validate(spec)
	if err == nil {
		t.Fatal("out-of-range nSamples accepted")
	}
	verr, isValidation := err.(*ValidationError)
	if !isValidation || verr.Param != "nSamples" {
		t.Errorf("error = %v, want ValidationError on nSamples", err)
	}

	// Missing parameter.
	missing := New("abmb_c", "1", "user@example.org", abmbParams())
	delete(missing.Parameters, "wavelengths")
	if missing.Validate(spec) == nil {
		t.Error("task missing wavelengths accepted")
	}

	// Undeclared parameter.
	extra := New("abmb_c", "1", "user@example.org", abmbParams())
	extra.Parameters["turbo"] = BoolValue(true)
	if extra.Validate(spec) == nil {
		t.Error("task with undeclared parameter accepted")
	}

	// Missing email.
	anon := New("abmb_c", "1", "", abmbParams())
	if anon.Validate(spec) == nil {
		t.Error("task without email accepted")
	}
}

func TestTaskWireRoundTrip(t *testing.T) {
	orig := New("abmb_c", "1", "user@example.org", abmbParams())

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Task
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !orig.Equal(&back) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, *orig)
	}

	// Lifecycle fields must not cross the wire.
	var raw map[string]json.RawMessage
	json.Unmarshal(data, &raw)
	for _, field := range []string{"state", "confirmationCode", "State", "ConfirmationCode"} {
		if _, present := raw[field]; present {
			t.Errorf("field %q leaked onto the wire", field)
		}
	}
}
