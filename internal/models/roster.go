package models

// Sortable student fields.
const (
	SortFullName      = "fullName"
	SortRollNo        = "rollNo"
	SortAge           = "age"
	SortClassStandard = "classStandard"
)

// Sort directions.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// StudentFilter holds the optional, AND-combined roster criteria.
type StudentFilter struct {
	Search        string `json:"search" form:"search"`
	ClassStandard string `json:"classStandard" form:"classStandard"`
	Division      string `json:"division" form:"division"`
	Gender        string `json:"gender" form:"gender"`
	CasteCategory string `json:"casteCategory" form:"casteCategory"`
	BloodGroup    string `json:"bloodGroup" form:"bloodGroup"`
	AcademicYear  string `json:"academicYear" form:"academicYear"`
}

// SortSpec orders the visible roster.
type SortSpec struct {
	Field     string `json:"field" form:"field" validate:"required,oneof=fullName rollNo age classStandard"`
	Direction string `json:"direction" form:"direction" validate:"required,oneof=asc desc"`
}

// DefaultSort orders students by name, A to Z.
func DefaultSort() SortSpec {
	return SortSpec{Field: SortFullName, Direction: SortAsc}
}

// Scope restricts which students a session may see.
type Scope struct {
	OwnerID       string `json:"ownerId"`
	AcademicYear  string `json:"academicYear"`
	ClassStandard string `json:"classStandard,omitempty"`
	Division      string `json:"division,omitempty"`
	ByClass       bool   `json:"byClass"`
}

// RosterStats summarises the students inside the session scope.
type RosterStats struct {
	Total    int            `json:"total"`
	ByClass  map[string]int `json:"byClass"`
	ByGender map[string]int `json:"byGender"`
	// Recent lists the most recently added students, newest first.
	Recent []Student `json:"recent"`
}

// RosterSnapshot is what consumers of the roster observe.
type RosterSnapshot struct {
	Active     bool          `json:"active"`
	Loading    bool          `json:"loading"`
	Scope      Scope         `json:"scope"`
	Filter     StudentFilter `json:"filter"`
	Sort       SortSpec      `json:"sort"`
	Total      int           `json:"total"`
	Visible    []Student     `json:"visible"`
	SyncError  string        `json:"syncError,omitempty"`
	Generation uint64        `json:"generation"`
}
