package resolver

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

const (
	// DefaultClickRadius is the CSS-pixel radius around target.center a
	// candidate must fall in when the Critic gives no radius of its own.
	DefaultClickRadius = 120.0

	// nearestFallback is how many candidates survive when nothing lands
	// inside the radius.
	nearestFallback = 20

	// noCenterCap bounds the pool when the Critic gave no center at all.
	noCenterCap = 200
)

// Dedupe collapses duplicate hittables. The key prefers the collector id,
// then position+role+name, then name+role; the first occurrence wins, so
// DOM order is preserved.
func Dedupe(elements []models.Hittable) []models.Hittable {
	seen := make(map[string]struct{}, len(elements))
	out := make([]models.Hittable, 0, len(elements))
	for _, el := range elements {
		key := dedupeKey(el)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, el)
	}
	return out
}

func dedupeKey(el models.Hittable) string {
	if el.ID != "" {
		return "id:" + el.ID
	}
	if len(el.Center) == 2 {
		return fmt.Sprintf("pos:%.0f:%.0f:%s:%s", el.Center[0], el.Center[1], el.Role, el.Name)
	}
	return "name:" + el.Name + ":" + el.Role
}

// FilterByRadius keeps elements whose center or bounding box lies within
// radius of center. When nothing qualifies it falls back to the 20 nearest
// by the same distance; a missing center keeps the first 200 instead.
func FilterByRadius(elements []models.Hittable, center []float64, radius float64) []models.Hittable {
	if len(center) != 2 {
		if len(elements) > noCenterCap {
			return append([]models.Hittable(nil), elements[:noCenterCap]...)
		}
		return elements
	}
	cx, cy := center[0], center[1]

	kept := make([]models.Hittable, 0, len(elements))
	for _, el := range elements {
		if targetDistance(el, cx, cy) <= radius {
			kept = append(kept, el)
		}
	}
	if len(kept) > 0 {
		return kept
	}

	ranked := append([]models.Hittable(nil), elements...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return targetDistance(ranked[i], cx, cy) < targetDistance(ranked[j], cx, cy)
	})
	if len(ranked) > nearestFallback {
		ranked = ranked[:nearestFallback]
	}
	return ranked
}

// targetDistance measures from (cx, cy) to the element: the lesser of the
// center distance and the box-to-point distance, which is zero inside the
// rect.
func targetDistance(el models.Hittable, cx, cy float64) float64 {
	d := math.Inf(1)
	if len(el.Center) == 2 {
		d = math.Hypot(el.Center[0]-cx, el.Center[1]-cy)
	}
	if len(el.Rect) == 4 {
		if bd := boxDistance(el.Rect, cx, cy); bd < d {
			d = bd
		}
	}
	return d
}

func boxDistance(rect []float64, cx, cy float64) float64 {
	left, top, width, height := rect[0], rect[1], rect[2], rect[3]
	dx := math.Max(math.Max(left-cx, 0), cx-(left+width))
	dy := math.Max(math.Max(top-cy, 0), cy-(top+height))
	return math.Hypot(dx, dy)
}

// hittableSubset keeps only strictly hittable candidates.
func hittableSubset(elements []models.Hittable) []models.Hittable {
	out := make([]models.Hittable, 0, len(elements))
	for _, el := range elements {
		if el.HitState == models.HitStateHittable {
			out = append(out, el)
		}
	}
	return out
}

// roleUnion joins target.role with hints.roles.
func roleUnion(target *models.Target) []string {
	roles := make([]string, 0, len(target.Hints.Roles)+1)
	if target.Role != "" {
		roles = append(roles, target.Role)
	}
	roles = append(roles, target.Hints.Roles...)
	return roles
}

// filterByRole keeps candidates matching any of the roles, ignoring case.
func filterByRole(elements []models.Hittable, roles []string) []models.Hittable {
	out := make([]models.Hittable, 0, len(elements))
	for _, el := range elements {
		for _, role := range roles {
			if strings.EqualFold(el.Role, role) {
				out = append(out, el)
				break
			}
		}
	}
	return out
}

// matchExact returns the candidate whose normalized name equals one of the
// text_exact hints. Several matches resolve to the one nearest center, or
// the first in pool order when no center was given.
func matchExact(elements []models.Hittable, exact []string, center []float64) *models.Hittable {
	wanted := make(map[string]struct{}, len(exact))
	for _, text := range exact {
		if key := models.NormalizeText(text); key != "" {
			wanted[key] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	var best *models.Hittable
	bestDist := math.Inf(1)
	for i := range elements {
		el := &elements[i]
		if len(el.Center) != 2 {
			continue
		}
		if _, ok := wanted[models.NormalizeText(el.Name)]; !ok {
			continue
		}
		if len(center) != 2 {
			return el
		}
		d := math.Hypot(el.Center[0]-center[0], el.Center[1]-center[1])
		if d < bestDist {
			bestDist = d
			best = el
		}
	}
	return best
}

func capCandidates(elements []models.Hittable, limit int) []models.Hittable {
	if len(elements) > limit {
		return elements[:limit]
	}
	return elements
}

func findCandidate(elements []models.Hittable, id string) *models.Hittable {
	for i := range elements {
		if elements[i].ID == id {
			return &elements[i]
		}
	}
	return nil
}

func sameCandidates(a, b []models.Hittable) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}
