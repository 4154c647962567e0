package models

import "time"

// Gender values accepted for a student.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// Student is one enrolled learner on a teacher's roster.
type Student struct {
	ID      string `db:"id" json:"id"`
	OwnerID string `db:"owner_id" json:"ownerId"`

	AcademicYear  string `db:"academic_year" json:"academicYear"`
	ClassStandard string `db:"class_standard" json:"classStandard"`
	Division      string `db:"division" json:"division"`

	RollNo       string `db:"roll_no" json:"rollNo"`
	RegisterName string `db:"register_name" json:"registerName"`
	FullName     string `db:"full_name" json:"fullName"`
	SaralID      string `db:"saral_id" json:"saralId"`
	AparID       string `db:"apar_id" json:"aparId"`
	PenNo        string `db:"pen_no" json:"penNo"`
	AadhaarNo    string `db:"aadhaar_no" json:"aadhaarNo"`

	HeightCm string `db:"height_cm" json:"heightCm"`
	WeightKg string `db:"weight_kg" json:"weightKg"`

	Gender     string `db:"gender" json:"gender"`
	BirthDate  string `db:"birth_date" json:"birthDate"`
	Age        int    `db:"age" json:"age"`
	BloodGroup string `db:"blood_group" json:"bloodGroup"`

	FatherName   string `db:"father_name" json:"fatherName"`
	MotherName   string `db:"mother_name" json:"motherName"`
	FatherMobile string `db:"father_mobile" json:"fatherMobile"`
	MotherMobile string `db:"mother_mobile" json:"motherMobile"`

	MotherTongue  string `db:"mother_tongue" json:"motherTongue"`
	Religion      string `db:"religion" json:"religion"`
	Caste         string `db:"caste" json:"caste"`
	CasteCategory string `db:"caste_category" json:"casteCategory"`

	Address       string `db:"address" json:"address"`
	BankAccountNo string `db:"bank_account_no" json:"bankAccountNo,omitempty"`
	Notes         string `db:"notes" json:"notes,omitempty"`
	PhotoRef      string `db:"photo_ref" json:"photoRef,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// CreateStudentInput carries every caller-supplied field of a new student.
// Identity, owner, age and timestamps are assigned by the roster controller.
type CreateStudentInput struct {
	AcademicYear  string `json:"academicYear" validate:"required,academicyear"`
	ClassStandard string `json:"classStandard" validate:"required"`
	Division      string `json:"division" validate:"required"`

	RollNo       string `json:"rollNo" validate:"required"`
	RegisterName string `json:"registerName" validate:"required"`
	FullName     string `json:"fullName" validate:"required,min=2"`
	SaralID      string `json:"saralId" validate:"required"`
	AparID       string `json:"aparId" validate:"required"`
	PenNo        string `json:"penNo" validate:"required"`
	AadhaarNo    string `json:"aadhaarNo" validate:"required,len=12,numeric"`

	HeightCm string `json:"heightCm" validate:"required"`
	WeightKg string `json:"weightKg" validate:"required"`

	Gender     string `json:"gender" validate:"required,oneof=male female other"`
	BirthDate  string `json:"birthDate" validate:"required,datetime=2006-01-02"`
	BloodGroup string `json:"bloodGroup" validate:"required,oneof=A+ A- B+ B- AB+ AB- O+ O-"`

	FatherName   string `json:"fatherName" validate:"required,min=2"`
	MotherName   string `json:"motherName" validate:"required,min=2"`
	FatherMobile string `json:"fatherMobile" validate:"required,len=10,numeric"`
	MotherMobile string `json:"motherMobile" validate:"required,len=10,numeric"`

	MotherTongue  string `json:"motherTongue" validate:"required"`
	Religion      string `json:"religion" validate:"required"`
	Caste         string `json:"caste" validate:"required"`
	CasteCategory string `json:"casteCategory" validate:"required,oneof=General OBC SC ST EWS Other"`

	Address       string `json:"address" validate:"required,min=5"`
	BankAccountNo string `json:"bankAccountNo"`
	Notes         string `json:"notes"`
	PhotoRef      string `json:"photoRef"`
}

// StudentPatch lists the fields an update may change. Nil fields are left
// untouched. Age and UpdatedAt are filled in by the controller.
type StudentPatch struct {
	AcademicYear  *string `json:"academicYear,omitempty" validate:"omitempty,academicyear"`
	ClassStandard *string `json:"classStandard,omitempty" validate:"omitempty,min=1"`
	Division      *string `json:"division,omitempty" validate:"omitempty,min=1"`

	RollNo       *string `json:"rollNo,omitempty" validate:"omitempty,min=1"`
	RegisterName *string `json:"registerName,omitempty" validate:"omitempty,min=1"`
	FullName     *string `json:"fullName,omitempty" validate:"omitempty,min=2"`
	SaralID      *string `json:"saralId,omitempty" validate:"omitempty,min=1"`
	AparID       *string `json:"aparId,omitempty" validate:"omitempty,min=1"`
	PenNo        *string `json:"penNo,omitempty" validate:"omitempty,min=1"`
	AadhaarNo    *string `json:"aadhaarNo,omitempty" validate:"omitempty,len=12,numeric"`

	HeightCm *string `json:"heightCm,omitempty" validate:"omitempty,min=1"`
	WeightKg *string `json:"weightKg,omitempty" validate:"omitempty,min=1"`

	Gender     *string `json:"gender,omitempty" validate:"omitempty,oneof=male female other"`
	BirthDate  *string `json:"birthDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	BloodGroup *string `json:"bloodGroup,omitempty" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`

	FatherName   *string `json:"fatherName,omitempty" validate:"omitempty,min=2"`
	MotherName   *string `json:"motherName,omitempty" validate:"omitempty,min=2"`
	FatherMobile *string `json:"fatherMobile,omitempty" validate:"omitempty,len=10,numeric"`
	MotherMobile *string `json:"motherMobile,omitempty" validate:"omitempty,len=10,numeric"`

	MotherTongue  *string `json:"motherTongue,omitempty" validate:"omitempty,min=1"`
	Religion      *string `json:"religion,omitempty" validate:"omitempty,min=1"`
	Caste         *string `json:"caste,omitempty" validate:"omitempty,min=1"`
	CasteCategory *string `json:"casteCategory,omitempty" validate:"omitempty,oneof=General OBC SC ST EWS Other"`

	Address       *string `json:"address,omitempty" validate:"omitempty,min=5"`
	BankAccountNo *string `json:"bankAccountNo,omitempty"`
	Notes         *string `json:"notes,omitempty"`
	PhotoRef      *string `json:"photoRef,omitempty"`

	Age       *int      `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// UpdateStudentInput identifies the student to change and the patch to apply.
type UpdateStudentInput struct {
	ID string `json:"id" validate:"required"`
	StudentPatch
}

// ToStudent copies the input into a record without identity or timestamps.
func (in CreateStudentInput) ToStudent() Student {
	return Student{
		AcademicYear:  in.AcademicYear,
		ClassStandard: in.ClassStandard,
		Division:      in.Division,
		RollNo:        in.RollNo,
		RegisterName:  in.RegisterName,
		FullName:      in.FullName,
		SaralID:       in.SaralID,
		AparID:        in.AparID,
		PenNo:         in.PenNo,
		AadhaarNo:     in.AadhaarNo,
		HeightCm:      in.HeightCm,
		WeightKg:      in.WeightKg,
		Gender:        in.Gender,
		BirthDate:     in.BirthDate,
		BloodGroup:    in.BloodGroup,
		FatherName:    in.FatherName,
		MotherName:    in.MotherName,
		FatherMobile:  in.FatherMobile,
		MotherMobile:  in.MotherMobile,
		MotherTongue:  in.MotherTongue,
		Religion:      in.Religion,
		Caste:         in.Caste,
		CasteCategory: in.CasteCategory,
		Address:       in.Address,
		BankAccountNo: in.BankAccountNo,
		Notes:         in.Notes,
		PhotoRef:      in.PhotoRef,
	}
}

// Apply merges the non-nil patch fields into s. ID, OwnerID and CreatedAt are
// never touched.
func (p StudentPatch) Apply(s *Student) {
	for _, field := range p.stringFields(s) {
		if field.value != nil {
			*field.target = *field.value
		}
	}
	if p.Age != nil {
		s.Age = *p.Age
	}
	if !p.UpdatedAt.IsZero() {
		s.UpdatedAt = p.UpdatedAt
	}
}

// Columns returns the database columns the patch sets, keyed by column name.
func (p StudentPatch) Columns() map[string]interface{} {
	var scratch Student
	cols := make(map[string]interface{})
	for column, field := range p.stringFields(&scratch) {
		if field.value != nil {
			cols[column] = *field.value
		}
	}
	if p.Age != nil {
		cols["age"] = *p.Age
	}
	if !p.UpdatedAt.IsZero() {
		cols["updated_at"] = p.UpdatedAt
	}
	return cols
}

// IsEmpty reports whether the patch carries no caller-supplied field.
func (p StudentPatch) IsEmpty() bool {
	var scratch Student
	for _, field := range p.stringFields(&scratch) {
		if field.value != nil {
			return false
		}
	}
	return true
}

type patchField struct {
	value  *string
	target *string
}

func (p StudentPatch) stringFields(s *Student) map[string]patchField {
	return map[string]patchField{
		"academic_year":   {p.AcademicYear, &s.AcademicYear},
		"class_standard":  {p.ClassStandard, &s.ClassStandard},
		"division":        {p.Division, &s.Division},
		"roll_no":         {p.RollNo, &s.RollNo},
		"register_name":   {p.RegisterName, &s.RegisterName},
		"full_name":       {p.FullName, &s.FullName},
		"saral_id":        {p.SaralID, &s.SaralID},
		"apar_id":         {p.AparID, &s.AparID},
		"pen_no":          {p.PenNo, &s.PenNo},
		"aadhaar_no":      {p.AadhaarNo, &s.AadhaarNo},
		"height_cm":       {p.HeightCm, &s.HeightCm},
		"weight_kg":       {p.WeightKg, &s.WeightKg},
		"gender":          {p.Gender, &s.Gender},
		"birth_date":      {p.BirthDate, &s.BirthDate},
		"blood_group":     {p.BloodGroup, &s.BloodGroup},
		"father_name":     {p.FatherName, &s.FatherName},
		"mother_name":     {p.MotherName, &s.MotherName},
		"father_mobile":   {p.FatherMobile, &s.FatherMobile},
		"mother_mobile":   {p.MotherMobile, &s.MotherMobile},
		"mother_tongue":   {p.MotherTongue, &s.MotherTongue},
		"religion":        {p.Religion, &s.Religion},
		"caste":           {p.Caste, &s.Caste},
		"caste_category":  {p.CasteCategory, &s.CasteCategory},
		"address":         {p.Address, &s.Address},
		"bank_account_no": {p.BankAccountNo, &s.BankAccountNo},
		"notes":           {p.Notes, &s.Notes},
		"photo_ref":       {p.PhotoRef, &s.PhotoRef},
	}
}

// BirthDateLayout is the calendar date format used for birth dates.
const BirthDateLayout = "2006-01-02"

// ParseBirthDate parses a YYYY-MM-DD birth date.
func ParseBirthDate(raw string) (time.Time, error) {
	return time.Parse(BirthDateLayout, raw)
}

// AgeOn returns the completed calendar years between birth and at.
func AgeOn(birth, at time.Time) int {
	age := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		age--
	}
	return age
}
