package findings

import "testing"

func TestSummarizeTakesMaxSeverityPerClass(t *testing.T) {
	r := NewRecorder()
	r.Add(OK, "home page reachable", ClassGeneral, nil)
	r.Add(Warn, "non standard port", ClassAPIEndpoint, nil)
	r.Add(Crit, "chain id mismatch", ClassAPIEndpoint, nil)
	r.Add(Info, "deprecated key present", ClassOrg, nil)

	summary := r.Summarize()

	if summary[ClassAPIEndpoint] != Crit {
		t.Fatalf("api_endpoint summary = %s, want crit", summary[ClassAPIEndpoint])
	}
	if summary[ClassGeneral] != OK {
		t.Fatalf("general summary = %s, want ok", summary[ClassGeneral])
	}
	if summary[ClassOrg] != Info {
		t.Fatalf("org summary = %s, want info", summary[ClassOrg])
	}
}

func TestPrefixPrepends(t *testing.T) {
	r := NewRecorder()
	r.Add(OK, "second", ClassGeneral, nil)
	r.Prefix(Info, "run metadata", ClassGeneral, nil)

	all := r.All()
	if len(all) != 2 || all[0].Detail != "run metadata" || all[1].Detail != "second" {
		t.Fatalf("unexpected order: %+v", all)
	}
}

func TestAddRequiresKindDetailClass(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on missing class")
		}
	}()
	NewRecorder().Add(OK, "detail", "", nil)
}

func TestDuplicateRegistryFirstSeenOnly(t *testing.T) {
	d := NewDuplicateRegistry()
	if !d.Check(ClassAPIEndpoint, "https://node.example.com") {
		t.Fatal("first check should be true")
	}
	if d.Check(ClassAPIEndpoint, "https://node.example.com") {
		t.Fatal("second check should be false")
	}
	if !d.Check(ClassP2PEndpoint, "https://node.example.com") {
		t.Fatal("different class should be a fresh entry")
	}
}
