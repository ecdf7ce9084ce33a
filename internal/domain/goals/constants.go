package goals

const (
	TypeIndividual   = "individual"
	TypeTeam         = "team"
	TypeDepartment   = "department"
	TypeCompany      = "company"
	TypeOKRObjective = "okr_objective"
	TypeOKRKeyResult = "okr_key_result"
)

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

var ValidTypes = map[string]bool{
	TypeIndividual:   true,
	TypeTeam:         true,
	TypeDepartment:   true,
	TypeCompany:      true,
	TypeOKRObjective: true,
	TypeOKRKeyResult: true,
}
