package mapping

import (
	"reflect"
	"testing"

	"github.com/hyperengineering/trestle/internal/types"
)

func siteRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(types.EntitySite, siteFields())
	if err != nil {
		t.Fatalf("build site registry: %v", err)
	}
	return reg
}

func TestNewSet_AllEntitiesValid(t *testing.T) {
	set, err := NewSet()
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	for _, entity := range types.AllEntityTypes() {
		if _, ok := set.For(entity); !ok {
			t.Errorf("no registry for %s", entity)
		}
	}
}

func TestNewRegistry_RejectsMalformedDefs(t *testing.T) {
	tests := []struct {
		name string
		defs []FieldDef
	}{
		{
			name: "duplicate key",
			defs: []FieldDef{
				{Key: "name", Local: "name", Kind: KindText},
				{Key: "name", Local: "name2", Kind: KindText},
			},
		},
		{
			name: "empty key",
			defs: []FieldDef{{Local: "name", Kind: KindText}},
		},
		{
			name: "unknown kind",
			defs: []FieldDef{{Key: "name", Local: "name", Kind: Kind("blob")}},
		},
		{
			name: "enum without options",
			defs: []FieldDef{{Key: "status", Local: "status", Kind: KindEnum}},
		},
		{
			name: "unpaired external transform",
			defs: []FieldDef{{Key: "date", Local: "date", External: "time", Kind: KindDate, FromExternal: DateFromEpoch}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(types.EntitySite, tt.defs); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestConvert_RoundTripLocalExternal(t *testing.T) {
	reg := siteRegistry(t)

	local := map[string]any{
		"floor":        "12F",
		"start_date":   "2024-03-05",
		"updated_time": "2024-03-05T09:30:00Z",
		"photos":       `[{"ext":".jpg","path":"crm/files/a1","filename":"front.jpg","isImage":true}]`,
	}

	external := reg.Convert(local, ReprLocal, ReprExternal)
	back := reg.Convert(external, ReprExternal, ReprLocal)

	if !reflect.DeepEqual(back, local) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", back, local)
	}

	if got := external["floorNum"]; got != 12 {
		t.Errorf("floorNum = %v, want 12", got)
	}
}

func TestConvert_ExternalToLocal(t *testing.T) {
	reg := siteRegistry(t)

	raw := map[string]any{
		"siteName":    "Harborview Tower",
		"siteAddress": "1 Pier Road",
		"floorNum":    float64(24), // JSON numbers decode as float64
		"status":      "displayed",
		"startTime":   float64(1709600400000),
		"isActive":    true,
		"photoList": []any{
			map[string]any{"ext": ".png", "path": "crm/files/x9", "filename": "plan.png", "isImage": true},
		},
		"updateTime": float64(1709629200000),
	}

	got := reg.Convert(raw, ReprExternal, ReprLocal)

	want := map[string]any{
		"name":         "Harborview Tower",
		"address":      "1 Pier Road",
		"floor":        "24F",
		"status":       "displayed",
		"start_date":   "2024-03-05",
		"is_active":    true,
		"photos":       `[{"ext":".png","path":"crm/files/x9","filename":"plan.png","isImage":true}]`,
		"updated_time": "2024-03-05T09:00:00Z",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("convert mismatch:\n got %#v\nwant %#v", got, want)
	}
}

func TestConvert_AbsentFieldsOmitted(t *testing.T) {
	reg := siteRegistry(t)

	// A sparse frontend submission must stay sparse: fields it does not carry
	// must not appear in the output as null or defaults.
	sparse := map[string]any{"name": "Harborview Tower"}
	got := reg.Convert(sparse, ReprFrontend, ReprLocal)

	if len(got) != 1 {
		t.Fatalf("expected exactly 1 output field, got %d: %#v", len(got), got)
	}
	if got["name"] != "Harborview Tower" {
		t.Errorf("name = %v", got["name"])
	}
	if _, present := got["status"]; present {
		t.Error("absent field materialized in output")
	}
}

func TestConvert_UnparseableValueDropped(t *testing.T) {
	reg := siteRegistry(t)

	raw := map[string]any{
		"siteName":  "Harborview Tower",
		"floorNum":  "penthouse", // not an integer
		"startTime": "not-a-timestamp",
	}
	got := reg.Convert(raw, ReprExternal, ReprLocal)

	if _, present := got["floor"]; present {
		t.Error("unparseable floor value should be dropped, not defaulted")
	}
	if _, present := got["start_date"]; present {
		t.Error("unparseable date value should be dropped")
	}
	if got["name"] != "Harborview Tower" {
		t.Error("valid sibling field lost during conversion")
	}
}

func TestConvert_UnknownEnumValueDropped(t *testing.T) {
	reg := siteRegistry(t)

	// Observed external option labels do not always match the documented set;
	// unknown values are dropped and surfaced via Validate, never guessed.
	raw := map[string]any{"status": "SHOW_ENABLED"}
	got := reg.Convert(raw, ReprExternal, ReprLocal)

	if _, present := got["status"]; present {
		t.Errorf("unknown enum value passed through: %v", got["status"])
	}

	mismatches := reg.Validate(raw, ReprExternal)
	if len(mismatches) != 1 || mismatches[0].Key != "status" {
		t.Errorf("expected one status mismatch, got %#v", mismatches)
	}
}

func TestConvert_FileListFullyReplaces(t *testing.T) {
	reg := siteRegistry(t)

	frontend := map[string]any{
		"photos": []types.FileDescriptor{
			{Ext: ".jpg", Path: "crm/files/b2", Filename: "rear.jpg", IsImage: true},
		},
	}
	got := reg.Convert(frontend, ReprFrontend, ReprLocal)

	want := `[{"ext":".jpg","path":"crm/files/b2","filename":"rear.jpg","isImage":true}]`
	if got["photos"] != want {
		t.Errorf("photos = %v, want %v", got["photos"], want)
	}
}

func TestValidate_ReportsMismatchesWithoutMutating(t *testing.T) {
	reg := siteRegistry(t)

	rec := map[string]any{
		"name":       42,            // not text
		"floor":      "12F",         // valid label
		"start_date": "03/05/2024",  // wrong layout
		"is_active":  "yes",         // not a boolean
		"photos":     "not-json",    // not a descriptor list
		"status":     "displayed",   // valid
	}

	mismatches := reg.Validate(rec, ReprLocal)

	gotKeys := make(map[string]bool, len(mismatches))
	for _, m := range mismatches {
		gotKeys[m.Key] = true
	}
	for _, want := range []string{"name", "start_date", "active", "photos"} {
		if !gotKeys[want] {
			t.Errorf("expected mismatch for %q, got %#v", want, mismatches)
		}
	}
	if gotKeys["floor"] || gotKeys["status"] {
		t.Errorf("valid fields flagged: %#v", mismatches)
	}

	// Validate must not mutate.
	if rec["name"] != 42 || rec["start_date"] != "03/05/2024" {
		t.Error("Validate mutated the record")
	}
}

func TestFloorTransforms(t *testing.T) {
	tests := []struct {
		label string
		num   int
	}{
		{"1F", 1},
		{"12F", 12},
		{"33F", 33},
	}
	for _, tt := range tests {
		n, ok := FloorToNumber(tt.label)
		if !ok || n != tt.num {
			t.Errorf("FloorToNumber(%q) = %v, %v", tt.label, n, ok)
		}
		label, ok := FloorFromNumber(tt.num)
		if !ok || label != tt.label {
			t.Errorf("FloorFromNumber(%d) = %v, %v", tt.num, label, ok)
		}
	}

	if _, ok := FloorToNumber("12"); ok {
		t.Error("label without suffix should not convert")
	}
	if _, ok := FloorFromNumber(12.5); ok {
		t.Error("fractional floor should not convert")
	}
}

func TestLocalColumns_MatchDeclarationOrder(t *testing.T) {
	reg := siteRegistry(t)
	want := []string{"name", "address", "floor", "status", "start_date", "is_active", "photos", "updated_time"}
	if got := reg.LocalColumns(); !reflect.DeepEqual(got, want) {
		t.Errorf("LocalColumns = %v, want %v", got, want)
	}
}
