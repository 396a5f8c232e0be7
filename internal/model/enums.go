package model

// Plan tiers
type Plan string

const (
	PlanFree  Plan = "free"
	PlanStart Plan = "start"
	PlanPro   Plan = "pro"
)

var ValidPlans = []Plan{PlanFree, PlanStart, PlanPro}

// Subject gender
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderUnisex Gender = "unisex"
)

// Task status
type TaskStatus string

const (
	TaskStatusQueued  TaskStatus = "queued"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusError   TaskStatus = "error"
)

// Photo section — the logical bucket an output image belongs to
type Section string

const (
	SectionUploaded   Section = "uploaded"
	SectionBeautified Section = "beautified"
	SectionFree       Section = "free"
	SectionStart      Section = "start"
	SectionPro        Section = "pro"
)

// SectionForPlan maps a plan tier to the section its styled outputs live in.
func SectionForPlan(p Plan) Section {
	switch p {
	case PlanFree:
		return SectionFree
	case PlanStart:
		return SectionStart
	case PlanPro:
		return SectionPro
	}
	return SectionFree
}

// Prompt catalog source
type CatalogSource string

const (
	CatalogPrimary   CatalogSource = "primary"
	CatalogSecondary CatalogSource = "secondary"
)

// Task error codes, surfaced only on terminal error
const (
	ErrCodeUploadMissing   = "UPLOAD_MISSING"
	ErrCodeBeautifyFailed  = "BEAUTIFY_FAILED"
	ErrCodePromptsFailed   = "PROMPTS_FAILED"
	ErrCodePersistFailed   = "PERSIST_FAILED"
	ErrCodeInvalidPayload  = "INVALID_PAYLOAD"
	ErrCodeWorkerStalled   = "WORKER_STALLED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)
