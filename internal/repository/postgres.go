package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/medminder/medminder/internal/config"
	"github.com/medminder/medminder/internal/domain"
	"github.com/medminder/medminder/internal/logger"
)

// watchPollInterval is how often the SQL backend re-reads the medication set
// to emulate the document store's live subscription.
const watchPollInterval = 30 * time.Second

// PostgresRepository is the self-hosted alternative to Firestore, kept behind
// the same repository interface.
type PostgresRepository struct {
	db *gorm.DB
}

type userModel struct {
	ID         string `gorm:"primaryKey"`
	TelegramID int64  `gorm:"uniqueIndex"`
	Username   string
	FirstName  string
	LastName   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (userModel) TableName() string { return "users" }

type medicationModel struct {
	ID             string `gorm:"primaryKey"`
	UserID         string `gorm:"index"`
	Name           string
	Presentation   string
	Condition      string
	Notes          string
	Color          string
	DosesPerDay    int
	FirstDoseTime  string // Format: "HH:MM"
	DoseTimes      string // comma-joined, derived field
	StockInitial   int
	StockCurrent   int
	TreatmentDays  int
	DaysRemaining  int
	TreatmentStart *time.Time
	ExpiresAt      *time.Time
	Active         bool
	Paused         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (medicationModel) TableName() string { return "medications" }

type doseRecordModel struct {
	ID             string `gorm:"primaryKey"`
	UserID         string `gorm:"index"`
	MedicationID   string `gorm:"index"`
	MedicationName string
	ScheduledAt    time.Time
	TakenAt        *time.Time
	Outcome        string
	Notes          string
	CreatedAt      time.Time
}

func (doseRecordModel) TableName() string { return "dose_records" }

// NewPostgresRepository connects and migrates the schema.
func NewPostgresRepository(cfg config.DBConfig) (*PostgresRepository, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newGormRepository(db)
}

// NewGormRepository wraps an existing GORM connection. Used by tests with an
// in-memory database.
func NewGormRepository(db *gorm.DB) (*PostgresRepository, error) {
	return newGormRepository(db)
}

func newGormRepository(db *gorm.DB) (*PostgresRepository, error) {
	if err := db.AutoMigrate(&userModel{}, &medicationModel{}, &doseRecordModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) GetOrCreateUser(ctx context.Context, telegramID int64, username, firstName, lastName string) (*domain.User, error) {
	var model userModel
	result := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&model)
	if result.Error == nil {
		return userFromModel(model), nil
	}
	if result.Error != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to get user: %w", result.Error)
	}

	model = userModel{
		ID:         uuid.NewString(),
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
		LastName:   lastName,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return userFromModel(model), nil
}

func (r *PostgresRepository) ListMedications(ctx context.Context, userID string) ([]domain.Medication, error) {
	var models []medicationModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("name ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list medications: %w", err)
	}
	return medicationsFromModels(models), nil
}

func (r *PostgresRepository) ListActiveMedications(ctx context.Context, userID string) ([]domain.Medication, error) {
	var models []medicationModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ? AND paused = ?", userID, true, false).
		Order("name ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list active medications: %w", err)
	}
	return medicationsFromModels(models), nil
}

func (r *PostgresRepository) SaveMedication(ctx context.Context, med *domain.Medication) error {
	if med.ID == "" {
		med.ID = uuid.NewString()
	}
	model := medicationToModel(med)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to save medication: %w", err)
	}
	med.CreatedAt = model.CreatedAt
	med.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *PostgresRepository) UpdateMedication(ctx context.Context, med *domain.Medication) error {
	if med.ID == "" {
		return fmt.Errorf("medication has no id")
	}
	model := medicationToModel(med)
	result := r.db.WithContext(ctx).Model(&medicationModel{}).Where("id = ?", med.ID).
		Select("*").Omit("id", "created_at").Updates(&model)
	if result.Error != nil {
		return fmt.Errorf("failed to update medication: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("medication not found")
	}
	return nil
}

func (r *PostgresRepository) DeleteMedication(ctx context.Context, medicationID string) error {
	if medicationID == "" {
		return fmt.Errorf("medication has no id")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("medication_id = ?", medicationID).Delete(&doseRecordModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete dose records: %w", err)
		}
		if err := tx.Where("id = ?", medicationID).Delete(&medicationModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete medication: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) SaveDoseRecord(ctx context.Context, record *domain.DoseRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	model := doseRecordToModel(record)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return "", fmt.Errorf("failed to save dose record: %w", err)
	}
	record.CreatedAt = model.CreatedAt
	return record.ID, nil
}

func (r *PostgresRepository) ListDoseRecords(ctx context.Context, userID string) ([]domain.DoseRecord, error) {
	var models []doseRecordModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("scheduled_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list dose records: %w", err)
	}
	return doseRecordsFromModels(models), nil
}

func (r *PostgresRepository) ListDoseRecordsForMedication(ctx context.Context, medicationID string) ([]domain.DoseRecord, error) {
	var models []doseRecordModel
	if err := r.db.WithContext(ctx).
		Where("medication_id = ?", medicationID).
		Order("scheduled_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list dose records: %w", err)
	}
	return doseRecordsFromModels(models), nil
}

// WatchMedications polls the table and emits the full set each interval.
func (r *PostgresRepository) WatchMedications(ctx context.Context, userID string) (<-chan []domain.Medication, error) {
	out := make(chan []domain.Medication)
	go func() {
		defer close(out)
		ticker := time.NewTicker(watchPollInterval)
		defer ticker.Stop()

		for {
			meds, err := r.ListMedications(ctx, userID)
			if err != nil {
				logger.Error("Medication watch poll failed", "error", err)
			} else {
				select {
				case out <- meds:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *PostgresRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func userFromModel(model userModel) *domain.User {
	return &domain.User{
		ID:         model.ID,
		TelegramID: model.TelegramID,
		Username:   model.Username,
		FirstName:  model.FirstName,
		LastName:   model.LastName,
		CreatedAt:  model.CreatedAt,
		UpdatedAt:  model.UpdatedAt,
	}
}

func medicationToModel(med *domain.Medication) medicationModel {
	return medicationModel{
		ID:             med.ID,
		UserID:         med.UserID,
		Name:           med.Name,
		Presentation:   med.Presentation,
		Condition:      med.Condition,
		Notes:          med.Notes,
		Color:          med.Color,
		DosesPerDay:    med.DosesPerDay,
		FirstDoseTime:  med.FirstDoseTime,
		DoseTimes:      strings.Join(med.DoseTimes, ","),
		StockInitial:   med.StockInitial,
		StockCurrent:   med.StockCurrent,
		TreatmentDays:  med.TreatmentDays,
		DaysRemaining:  med.DaysRemaining,
		TreatmentStart: med.TreatmentStart,
		ExpiresAt:      med.ExpiresAt,
		Active:         med.Active,
		Paused:         med.Paused,
		CreatedAt:      med.CreatedAt,
		UpdatedAt:      med.UpdatedAt,
	}
}

func medicationFromModel(model medicationModel) domain.Medication {
	var doseTimes []string
	if model.DoseTimes != "" {
		doseTimes = strings.Split(model.DoseTimes, ",")
	}
	return domain.Medication{
		ID:             model.ID,
		UserID:         model.UserID,
		Name:           model.Name,
		Presentation:   model.Presentation,
		Condition:      model.Condition,
		Notes:          model.Notes,
		Color:          model.Color,
		DosesPerDay:    model.DosesPerDay,
		FirstDoseTime:  model.FirstDoseTime,
		DoseTimes:      doseTimes,
		StockInitial:   model.StockInitial,
		StockCurrent:   model.StockCurrent,
		TreatmentDays:  model.TreatmentDays,
		DaysRemaining:  model.DaysRemaining,
		TreatmentStart: model.TreatmentStart,
		ExpiresAt:      model.ExpiresAt,
		Active:         model.Active,
		Paused:         model.Paused,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
}

func medicationsFromModels(models []medicationModel) []domain.Medication {
	meds := make([]domain.Medication, 0, len(models))
	for _, model := range models {
		meds = append(meds, medicationFromModel(model))
	}
	return meds
}

func doseRecordToModel(record *domain.DoseRecord) doseRecordModel {
	return doseRecordModel{
		ID:             record.ID,
		UserID:         record.UserID,
		MedicationID:   record.MedicationID,
		MedicationName: record.MedicationName,
		ScheduledAt:    record.ScheduledAt,
		TakenAt:        record.TakenAt,
		Outcome:        string(record.Outcome),
		Notes:          record.Notes,
		CreatedAt:      record.CreatedAt,
	}
}

func doseRecordsFromModels(models []doseRecordModel) []domain.DoseRecord {
	records := make([]domain.DoseRecord, 0, len(models))
	for _, model := range models {
		records = append(records, domain.DoseRecord{
			ID:             model.ID,
			UserID:         model.UserID,
			MedicationID:   model.MedicationID,
			MedicationName: model.MedicationName,
			ScheduledAt:    model.ScheduledAt,
			TakenAt:        model.TakenAt,
			Outcome:        domain.DoseOutcome(model.Outcome),
			Notes:          model.Notes,
			CreatedAt:      model.CreatedAt,
		})
	}
	return records
}
