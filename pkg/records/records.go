package records

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	dateLayout       = "2006-01-02"
)

var (
	validStatuses  = []string{"stable", "monitoring", "urgent", "discharged"}
	validUrgencies = []string{"low", "medium", "high"}
)

type Patient struct {
	ID          int64     `gorm:"primaryKey;column:id" json:"id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	DateOfBirth string    `gorm:"column:date_of_birth;not null" json:"date_of_birth"`
	Status      string    `gorm:"column:status;not null;index:idx_patients_status" json:"status"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Patient) TableName() string { return "patients" }

type Case struct {
	ID        int64     `gorm:"primaryKey;column:id" json:"id"`
	PatientID int64     `gorm:"column:patient_id;not null;index:idx_cases_patient" json:"patient_id"`
	Complaint string    `gorm:"column:complaint;not null" json:"complaint"`
	Urgency   string    `gorm:"column:urgency;not null" json:"urgency"`
	Status    string    `gorm:"column:status;not null;default:open" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Case) TableName() string { return "cases" }

type Encounter struct {
	ID        int64     `gorm:"primaryKey;column:id" json:"id"`
	PatientID int64     `gorm:"column:patient_id;not null;index:idx_encounters_patient" json:"patient_id"`
	Channel   string    `gorm:"column:channel;not null" json:"channel"`
	Notes     string    `gorm:"column:notes;not null" json:"notes"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Encounter) TableName() string { return "encounters" }

// Changes holds the patient fields an update may touch. Empty fields are
// left alone.
type Changes struct {
	Name        string `json:"name,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Status      string `json:"status,omitempty"`
}

func (c Changes) empty() bool {
	return c.Name == "" && c.DateOfBirth == "" && c.Status == ""
}

func (c Changes) validate() error {
	if c.DateOfBirth != "" {
		if _, err := time.Parse(dateLayout, c.DateOfBirth); err != nil {
			return fmt.Errorf("date_of_birth %q is not YYYY-MM-DD: %w", c.DateOfBirth, ErrInvalidInput)
		}
	}
	if c.Status != "" && !slices.Contains(validStatuses, c.Status) {
		return fmt.Errorf("status %q must be one of %s: %w", c.Status, strings.Join(validStatuses, ", "), ErrInvalidInput)
	}
	return nil
}

// Repository reads and writes patients, cases and encounters.
type Repository struct {
	db *gorm.DB
}

// New migrates the record tables and seeds them when empty.
func New(ctx context.Context, db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&Patient{}, &Case{}, &Encounter{}); err != nil {
		return nil, fmt.Errorf("records: running migrations: %w", err)
	}
	r := &Repository{db: db}
	if err := r.seed(ctx); err != nil {
		return nil, fmt.Errorf("records: seeding: %w", err)
	}
	return r, nil
}

func (r *Repository) seed(ctx context.Context) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Patient{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	patients := []Patient{
		{ID: 1, Name: "Ana Rivera", DateOfBirth: "1987-05-14", Status: "stable", CreatedAt: now},
		{ID: 2, Name: "Brian Lee", DateOfBirth: "1974-11-02", Status: "monitoring", CreatedAt: now},
		{ID: 3, Name: "Cara Singh", DateOfBirth: "1992-08-30", Status: "urgent", CreatedAt: now},
	}
	encounters := []Encounter{
		{PatientID: 1, Channel: "phone", Notes: "Reported dizziness and mild headache", CreatedAt: now.Add(-72 * time.Hour)},
		{PatientID: 1, Channel: "chat", Notes: "Shared blood pressure readings", CreatedAt: now.Add(-24 * time.Hour)},
		{PatientID: 2, Channel: "phone", Notes: "Medication refill request", CreatedAt: now.Add(-48 * time.Hour)},
		{PatientID: 3, Channel: "email", Notes: "Reported chest tightness after exercise", CreatedAt: now.Add(-12 * time.Hour)},
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&patients).Error; err != nil {
			return err
		}
		return tx.Create(&encounters).Error
	})
}

func (r *Repository) GetPatient(ctx context.Context, id int64) (Patient, error) {
	if id <= 0 {
		return Patient{}, fmt.Errorf("patient_id must be positive: %w", ErrInvalidInput)
	}
	var p Patient
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Patient{}, fmt.Errorf("patient %d does not exist: %w", id, ErrNotFound)
	}
	return p, err
}

func (r *Repository) ListPatients(ctx context.Context, status string, limit int) ([]Patient, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	q := r.db.WithContext(ctx).Order("id ASC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []Patient
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) UpdatePatient(ctx context.Context, id int64, c Changes) (Patient, error) {
	if err := c.validate(); err != nil {
		return Patient{}, err
	}
	p, err := r.GetPatient(ctx, id)
	if err != nil || c.empty() {
		return p, err
	}

	updates := map[string]any{}
	if c.Name != "" {
		updates["name"] = c.Name
	}
	if c.DateOfBirth != "" {
		updates["date_of_birth"] = c.DateOfBirth
	}
	if c.Status != "" {
		updates["status"] = c.Status
	}
	if err := r.db.WithContext(ctx).Model(&Patient{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return Patient{}, err
	}
	return r.GetPatient(ctx, id)
}

func (r *Repository) CreateCase(ctx context.Context, patientID int64, complaint, urgency string) (Case, error) {
	complaint = strings.TrimSpace(complaint)
	if complaint == "" {
		return Case{}, fmt.Errorf("complaint is required: %w", ErrInvalidInput)
	}
	if !slices.Contains(validUrgencies, urgency) {
		return Case{}, fmt.Errorf("urgency %q must be one of %s: %w", urgency, strings.Join(validUrgencies, ", "), ErrInvalidInput)
	}
	if _, err := r.GetPatient(ctx, patientID); err != nil {
		return Case{}, err
	}

	c := Case{
		PatientID: patientID,
		Complaint: complaint,
		Urgency:   urgency,
		Status:    "open",
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&c).Error; err != nil {
		return Case{}, err
	}
	return c, nil
}

// History returns a patient's encounters, newest first.
func (r *Repository) History(ctx context.Context, patientID int64) ([]Encounter, error) {
	if _, err := r.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	var out []Encounter
	err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}
