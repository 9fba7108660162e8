package resolver

import (
	"fmt"
	"testing"

	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

func hittableAt(id, name, role string, cx, cy float64) models.Hittable {
	return models.Hittable{
		ID:       id,
		Name:     name,
		Role:     role,
		Enabled:  true,
		HitState: models.HitStateHittable,
		Center:   []float64{cx, cy},
		Rect:     []float64{cx - 10, cy - 10, 20, 20},
	}
}

func TestDedupe_FirstOccurrenceWins(t *testing.T) {
	elements := []models.Hittable{
		hittableAt("button-1", "Save", "button", 100, 100),
		hittableAt("button-1", "Save copy", "button", 300, 300),
		hittableAt("button-2", "Save", "button", 200, 200),
	}
	out := Dedupe(elements)
	if len(out) != 2 {
		t.Fatalf("deduped length = %d, want 2", len(out))
	}
	if out[0].Name != "Save" || out[0].Center[0] != 100 {
		t.Errorf("first occurrence lost: got %q at %v", out[0].Name, out[0].Center)
	}
	if out[1].ID != "button-2" {
		t.Errorf("DOM order broken: second element = %s", out[1].ID)
	}
}

func TestDedupe_KeyPrecedence(t *testing.T) {
	// No ids: position distinguishes same-named elements, and elements
	// without a center collapse onto the name key.
	elements := []models.Hittable{
		{Name: "Next", Role: "button", Center: []float64{10, 10}},
		{Name: "Next", Role: "button", Center: []float64{500, 10}},
		{Name: "Next", Role: "button"},
		{Name: "Next", Role: "button"},
	}
	out := Dedupe(elements)
	if len(out) != 3 {
		t.Fatalf("deduped length = %d, want 3", len(out))
	}
}

func TestFilterByRadius_KeepsWithinRadius(t *testing.T) {
	center := []float64{500, 500}
	near := hittableAt("a", "near", "button", 550, 500)
	far := hittableAt("b", "far", "button", 900, 900)
	// Center far away but the box spans to within reach of the point.
	wide := models.Hittable{
		ID:       "c",
		Name:     "wide",
		Role:     "banner",
		HitState: models.HitStateHittable,
		Center:   []float64{1000, 500},
		Rect:     []float64{450, 480, 1100, 40},
	}

	out := FilterByRadius([]models.Hittable{near, far, wide}, center, 120)
	if len(out) != 2 {
		t.Fatalf("kept %d elements, want 2", len(out))
	}
	if out[0].ID != "a" || out[1].ID != "c" {
		t.Errorf("kept wrong elements: %s, %s", out[0].ID, out[1].ID)
	}
}

func TestFilterByRadius_NearestFallbackWhenNoneQualify(t *testing.T) {
	center := []float64{0, 0}
	var elements []models.Hittable
	for i := 0; i < 30; i++ {
		x := float64(10000 + i*100)
		elements = append(elements, models.Hittable{
			ID:       fmt.Sprintf("el-%d", i),
			Name:     fmt.Sprintf("element %d", i),
			HitState: models.HitStateHittable,
			Center:   []float64{x, 0},
			Rect:     []float64{x - 5, -5, 10, 10},
		})
	}

	out := FilterByRadius(elements, center, 120)
	if len(out) != nearestFallback {
		t.Fatalf("fallback kept %d elements, want %d", len(out), nearestFallback)
	}
	if out[0].ID != "el-0" {
		t.Errorf("nearest element = %s, want el-0", out[0].ID)
	}
	if out[len(out)-1].ID != "el-19" {
		t.Errorf("farthest kept element = %s, want el-19", out[len(out)-1].ID)
	}
}

func TestFilterByRadius_NoCenterCapsPool(t *testing.T) {
	var elements []models.Hittable
	for i := 0; i < noCenterCap+5; i++ {
		elements = append(elements, hittableAt(fmt.Sprintf("el-%d", i), "x", "link", float64(i), 0))
	}
	out := FilterByRadius(elements, nil, 120)
	if len(out) != noCenterCap {
		t.Fatalf("capped pool = %d, want %d", len(out), noCenterCap)
	}
	if out[0].ID != "el-0" {
		t.Errorf("order changed: first = %s", out[0].ID)
	}
}

func TestMatchExact_NormalizesBeforeComparing(t *testing.T) {
	elements := []models.Hittable{
		hittableAt("a", "  Sign   In ", "button", 100, 100),
		hittableAt("b", "Sign in to continue", "button", 200, 200),
	}
	el := matchExact(elements, []string{"SIGN IN"}, nil)
	if el == nil {
		t.Fatal("no match found")
	}
	if el.ID != "a" {
		t.Errorf("matched %s, want a", el.ID)
	}
}

func TestMatchExact_NearestCenterBreaksTies(t *testing.T) {
	elements := []models.Hittable{
		hittableAt("far", "Delete", "button", 900, 900),
		hittableAt("close", "Delete", "button", 420, 400),
	}
	el := matchExact(elements, []string{"delete"}, []float64{400, 400})
	if el == nil || el.ID != "close" {
		t.Fatalf("matched %v, want close", el)
	}
}

func TestMatchExact_FirstInPoolOrderWithoutCenter(t *testing.T) {
	elements := []models.Hittable{
		hittableAt("first", "Delete", "button", 900, 900),
		hittableAt("second", "Delete", "button", 420, 400),
	}
	el := matchExact(elements, []string{"delete"}, nil)
	if el == nil || el.ID != "first" {
		t.Fatalf("matched %v, want first", el)
	}
}

func TestMatchExact_SkipsElementsWithoutCenter(t *testing.T) {
	elements := []models.Hittable{
		{ID: "no-center", Name: "Delete", Role: "button", HitState: models.HitStateHittable},
		hittableAt("clickable", "Delete", "button", 100, 100),
	}
	el := matchExact(elements, []string{"Delete"}, nil)
	if el == nil || el.ID != "clickable" {
		t.Fatalf("matched %v, want clickable", el)
	}
}

func TestMatchExact_NoHintsNoMatch(t *testing.T) {
	elements := []models.Hittable{hittableAt("a", "Save", "button", 100, 100)}
	if el := matchExact(elements, nil, nil); el != nil {
		t.Errorf("matched %s with no hints", el.ID)
	}
	if el := matchExact(elements, []string{"   "}, nil); el != nil {
		t.Errorf("matched %s with blank hint", el.ID)
	}
}

func TestHittableSubset(t *testing.T) {
	occluded := hittableAt("a", "x", "button", 1, 1)
	occluded.HitState = models.HitStateOccluded
	out := hittableSubset([]models.Hittable{occluded, hittableAt("b", "y", "button", 2, 2)})
	if len(out) != 1 || out[0].ID != "b" {
		t.Fatalf("subset = %v", out)
	}
}

func TestFilterByRole_IgnoresCase(t *testing.T) {
	elements := []models.Hittable{
		hittableAt("a", "x", "Button", 1, 1),
		hittableAt("b", "y", "link", 2, 2),
	}
	out := filterByRole(elements, []string{"button"})
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("role filter = %v", out)
	}
}

func TestRoleUnion(t *testing.T) {
	target := &models.Target{Role: "button", Hints: models.Hints{Roles: []string{"link", "tab"}}}
	roles := roleUnion(target)
	if len(roles) != 3 || roles[0] != "button" {
		t.Fatalf("roles = %v", roles)
	}
	if got := roleUnion(&models.Target{}); len(got) != 0 {
		t.Fatalf("empty target produced roles %v", got)
	}
}

func TestSameCandidates(t *testing.T) {
	a := []models.Hittable{hittableAt("1", "x", "button", 1, 1)}
	b := []models.Hittable{hittableAt("1", "x", "button", 9, 9)}
	if !sameCandidates(a, b) {
		t.Error("same id and name should compare equal")
	}
	if sameCandidates(a, append(b, hittableAt("2", "y", "link", 2, 2))) {
		t.Error("different lengths should compare unequal")
	}
}
