package service

import (
	"sort"
	"strings"

	"github.com/noah-isme/classroom-roster/internal/models"
)

// BuildView derives the visible roster from the canonical list. It applies the
// session scope, then every non-empty filter criterion, then a stable sort. The
// input slice is never modified.
func BuildView(students []models.Student, scope models.Scope, filter models.StudentFilter, spec models.SortSpec) []models.Student {
	out := make([]models.Student, 0, len(students))
	query := strings.ToLower(strings.TrimSpace(filter.Search))
	for _, s := range students {
		if !inScope(s, scope) {
			continue
		}
		if query != "" && !matchesSearch(s, query) {
			continue
		}
		if !matches(s.ClassStandard, filter.ClassStandard) ||
			!matches(s.Division, filter.Division) ||
			!matches(s.Gender, filter.Gender) ||
			!matches(s.CasteCategory, filter.CasteCategory) ||
			!matches(s.BloodGroup, filter.BloodGroup) ||
			!matches(s.AcademicYear, filter.AcademicYear) {
			continue
		}
		out = append(out, s)
	}

	less := comparator(spec.Field)
	desc := spec.Direction == models.SortDesc
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}

func inScope(s models.Student, scope models.Scope) bool {
	if scope.AcademicYear != "" && s.AcademicYear != scope.AcademicYear {
		return false
	}
	if !scope.ByClass {
		return true
	}
	if scope.ClassStandard != "" && s.ClassStandard != scope.ClassStandard {
		return false
	}
	if scope.Division != "" && s.Division != scope.Division {
		return false
	}
	return true
}

func matchesSearch(s models.Student, query string) bool {
	for _, field := range []string{s.FullName, s.RollNo, s.SaralID, s.AadhaarNo} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func matches(value, want string) bool {
	want = strings.TrimSpace(want)
	return want == "" || value == want
}

func comparator(field string) func(a, b models.Student) bool {
	switch field {
	case models.SortRollNo:
		return func(a, b models.Student) bool { return strings.ToLower(a.RollNo) < strings.ToLower(b.RollNo) }
	case models.SortAge:
		return func(a, b models.Student) bool { return a.Age < b.Age }
	case models.SortClassStandard:
		return func(a, b models.Student) bool {
			return strings.ToLower(a.ClassStandard) < strings.ToLower(b.ClassStandard)
		}
	default:
		return func(a, b models.Student) bool { return strings.ToLower(a.FullName) < strings.ToLower(b.FullName) }
	}
}

// Stats summarises the students inside scope.
func Stats(students []models.Student, scope models.Scope, recent int) models.RosterStats {
	stats := models.RosterStats{ByClass: map[string]int{}, ByGender: map[string]int{}}
	scoped := make([]models.Student, 0, len(students))
	for _, s := range students {
		if !inScope(s, scope) {
			continue
		}
		scoped = append(scoped, s)
		stats.Total++
		stats.ByClass[s.ClassStandard]++
		stats.ByGender[s.Gender]++
	}
	sort.SliceStable(scoped, func(i, j int) bool { return scoped[i].CreatedAt.After(scoped[j].CreatedAt) })
	if recent >= 0 && len(scoped) > recent {
		scoped = scoped[:recent]
	}
	stats.Recent = scoped
	return stats
}
