package script

import "testing"

func TestTransformReplacesTags(t *testing.T) {
	r := NewRuntime()
	defer r.Close()
	err := r.LoadString(`
		function process_node(obj)
			local out = {}
			for k, v in pairs(obj.tags) do out[k] = v end
			out["source_id"] = tostring(obj.id)
			out["amenity"] = nil
			return out
		end
	`)
	if err != nil {
		t.Fatalf("failed to load script: %v", err)
	}
	if !r.HasHandler("node") {
		t.Fatal("process_node handler not captured")
	}

	got, keep, err := r.Transform("node", 42, map[string]string{"amenity": "cafe", "name": "spot"})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if !keep {
		t.Fatal("tags were dropped")
	}
	if got["source_id"] != "42" || got["name"] != "spot" {
		t.Errorf("tags = %v", got)
	}
	if _, ok := got["amenity"]; ok {
		t.Errorf("amenity survived removal: %v", got)
	}
}

func TestTransformNilKeepsTags(t *testing.T) {
	r := NewRuntime()
	defer r.Close()
	if err := r.LoadString(`function process_way(obj) return nil end`); err != nil {
		t.Fatalf("failed to load script: %v", err)
	}
	in := map[string]string{"highway": "residential"}
	got, keep, err := r.Transform("way", 1, in)
	if err != nil || !keep {
		t.Fatalf("transform = (%v, %v, %v)", got, keep, err)
	}
	if got["highway"] != "residential" {
		t.Errorf("tags = %v", got)
	}
}

func TestTransformFalseDrops(t *testing.T) {
	r := NewRuntime()
	defer r.Close()
	if err := r.LoadString(`function process_relation(obj) return false end`); err != nil {
		t.Fatalf("failed to load script: %v", err)
	}
	_, keep, err := r.Transform("relation", 1, map[string]string{"type": "multipolygon"})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if keep {
		t.Error("false return did not drop the element")
	}
}

func TestTransformWithoutHandlerPassesThrough(t *testing.T) {
	r := NewRuntime()
	defer r.Close()
	in := map[string]string{"name": "x"}
	got, keep, err := r.Transform("node", 1, in)
	if err != nil || !keep || got["name"] != "x" {
		t.Errorf("transform = (%v, %v, %v)", got, keep, err)
	}
}

func TestTransformBadReturnType(t *testing.T) {
	r := NewRuntime()
	defer r.Close()
	if err := r.LoadString(`function process_node(obj) return "nope" end`); err != nil {
		t.Fatalf("failed to load script: %v", err)
	}
	if _, _, err := r.Transform("node", 1, nil); err == nil {
		t.Error("string return accepted, want error")
	}
}
