package repository

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/medminder/medminder/internal/domain"
	"github.com/medminder/medminder/internal/logger"
)

const (
	usersCollection       = "users"
	medicationsCollection = "medications"
	doseRecordsCollection = "dose_records"
)

// FirestoreRepository stores medications and dose records in Firestore, the
// remote document store backing the tracker.
type FirestoreRepository struct {
	client *firestore.Client
}

// NewFirestoreRepository initializes the Firebase app and its Firestore client.
func NewFirestoreRepository(ctx context.Context, credentialsPath, projectID string) (*FirestoreRepository, error) {
	opts := []option.ClientOption{option.WithCredentialsFile(credentialsPath)}

	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firestore client: %w", err)
	}

	return &FirestoreRepository{client: client}, nil
}

type userDoc struct {
	TelegramID int64     `firestore:"telegram_id"`
	Username   string    `firestore:"username"`
	FirstName  string    `firestore:"first_name"`
	LastName   string    `firestore:"last_name"`
	CreatedAt  time.Time `firestore:"created_at"`
	UpdatedAt  time.Time `firestore:"updated_at"`
}

type medicationDoc struct {
	UserID         string     `firestore:"user_id"`
	Name           string     `firestore:"name"`
	Presentation   string     `firestore:"presentation"`
	Condition      string     `firestore:"condition"`
	Notes          string     `firestore:"notes"`
	Color          string     `firestore:"color"`
	DosesPerDay    int        `firestore:"doses_per_day"`
	FirstDoseTime  string     `firestore:"first_dose_time"`
	DoseTimes      []string   `firestore:"dose_times"`
	StockInitial   int        `firestore:"stock_initial"`
	StockCurrent   int        `firestore:"stock_current"`
	TreatmentDays  int        `firestore:"treatment_days"`
	DaysRemaining  int        `firestore:"days_remaining"`
	TreatmentStart *time.Time `firestore:"treatment_start"`
	ExpiresAt      *time.Time `firestore:"expires_at"`
	Active         bool       `firestore:"active"`
	Paused         bool       `firestore:"paused"`
	CreatedAt      time.Time  `firestore:"created_at"`
	UpdatedAt      time.Time  `firestore:"updated_at"`
}

type doseRecordDoc struct {
	UserID         string     `firestore:"user_id"`
	MedicationID   string     `firestore:"medication_id"`
	MedicationName string     `firestore:"medication_name"`
	ScheduledAt    time.Time  `firestore:"scheduled_at"`
	TakenAt        *time.Time `firestore:"taken_at"`
	Outcome        string     `firestore:"outcome"`
	Notes          string     `firestore:"notes"`
	CreatedAt      time.Time  `firestore:"created_at"`
}

func (r *FirestoreRepository) GetOrCreateUser(ctx context.Context, telegramID int64, username, firstName, lastName string) (*domain.User, error) {
	iter := r.client.Collection(usersCollection).
		Where("telegram_id", "==", telegramID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == nil {
		var doc userDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		return userFromDoc(snap.Ref.ID, doc), nil
	}
	if err != iterator.Done {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	now := time.Now()
	doc := userDoc{
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
		LastName:   lastName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	ref, _, err := r.client.Collection(usersCollection).Add(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return userFromDoc(ref.ID, doc), nil
}

func (r *FirestoreRepository) ListMedications(ctx context.Context, userID string) ([]domain.Medication, error) {
	return r.queryMedications(ctx, r.client.Collection(medicationsCollection).
		Where("user_id", "==", userID))
}

func (r *FirestoreRepository) ListActiveMedications(ctx context.Context, userID string) ([]domain.Medication, error) {
	return r.queryMedications(ctx, r.client.Collection(medicationsCollection).
		Where("user_id", "==", userID).
		Where("active", "==", true).
		Where("paused", "==", false))
}

func (r *FirestoreRepository) SaveMedication(ctx context.Context, med *domain.Medication) error {
	now := time.Now()
	med.CreatedAt = now
	med.UpdatedAt = now

	ref, _, err := r.client.Collection(medicationsCollection).Add(ctx, medicationToDoc(med))
	if err != nil {
		return fmt.Errorf("failed to save medication: %w", err)
	}
	med.ID = ref.ID
	return nil
}

func (r *FirestoreRepository) UpdateMedication(ctx context.Context, med *domain.Medication) error {
	if med.ID == "" {
		return fmt.Errorf("medication has no id")
	}
	med.UpdatedAt = time.Now()

	_, err := r.client.Collection(medicationsCollection).Doc(med.ID).Set(ctx, medicationToDoc(med))
	if err != nil {
		return fmt.Errorf("failed to update medication: %w", err)
	}
	return nil
}

// DeleteMedication removes the medication and all of its dose records.
func (r *FirestoreRepository) DeleteMedication(ctx context.Context, medicationID string) error {
	if medicationID == "" {
		return fmt.Errorf("medication has no id")
	}

	iter := r.client.Collection(doseRecordsCollection).
		Where("medication_id", "==", medicationID).
		Documents(ctx)
	defer iter.Stop()

	bulk := r.client.BulkWriter(ctx)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list dose records for deletion: %w", err)
		}
		if _, err := bulk.Delete(snap.Ref); err != nil {
			return fmt.Errorf("failed to enqueue dose record deletion: %w", err)
		}
	}
	if _, err := bulk.Delete(r.client.Collection(medicationsCollection).Doc(medicationID)); err != nil {
		return fmt.Errorf("failed to enqueue medication deletion: %w", err)
	}
	bulk.End()
	return nil
}

func (r *FirestoreRepository) SaveDoseRecord(ctx context.Context, record *domain.DoseRecord) (string, error) {
	record.CreatedAt = time.Now()

	ref, _, err := r.client.Collection(doseRecordsCollection).Add(ctx, doseRecordToDoc(record))
	if err != nil {
		return "", fmt.Errorf("failed to save dose record: %w", err)
	}
	record.ID = ref.ID
	return ref.ID, nil
}

func (r *FirestoreRepository) ListDoseRecords(ctx context.Context, userID string) ([]domain.DoseRecord, error) {
	return r.queryDoseRecords(ctx, r.client.Collection(doseRecordsCollection).
		Where("user_id", "==", userID))
}

func (r *FirestoreRepository) ListDoseRecordsForMedication(ctx context.Context, medicationID string) ([]domain.DoseRecord, error) {
	return r.queryDoseRecords(ctx, r.client.Collection(doseRecordsCollection).
		Where("medication_id", "==", medicationID))
}

// WatchMedications streams the full medication set on every snapshot change
// until the context is canceled.
func (r *FirestoreRepository) WatchMedications(ctx context.Context, userID string) (<-chan []domain.Medication, error) {
	snapshots := r.client.Collection(medicationsCollection).
		Where("user_id", "==", userID).
		Snapshots(ctx)

	out := make(chan []domain.Medication)
	go func() {
		defer close(out)
		defer snapshots.Stop()

		for {
			snap, err := snapshots.Next()
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("Medication watch stopped", "error", err)
				}
				return
			}

			meds, err := decodeMedicationSnapshots(snap.Documents)
			if err != nil {
				logger.Error("Failed to decode medication snapshot", "error", err)
				continue
			}

			select {
			case out <- meds:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *FirestoreRepository) Close() error {
	return r.client.Close()
}

func (r *FirestoreRepository) queryMedications(ctx context.Context, q firestore.Query) ([]domain.Medication, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()
	return decodeMedicationSnapshots(iter)
}

func (r *FirestoreRepository) queryDoseRecords(ctx context.Context, q firestore.Query) ([]domain.DoseRecord, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var records []domain.DoseRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list dose records: %w", err)
		}

		var doc doseRecordDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode dose record: %w", err)
		}
		records = append(records, doseRecordFromDoc(snap.Ref.ID, doc))
	}
	return records, nil
}

func decodeMedicationSnapshots(iter *firestore.DocumentIterator) ([]domain.Medication, error) {
	var meds []domain.Medication
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list medications: %w", err)
		}

		var doc medicationDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode medication: %w", err)
		}
		meds = append(meds, medicationFromDoc(snap.Ref.ID, doc))
	}
	return meds, nil
}

func userFromDoc(id string, doc userDoc) *domain.User {
	return &domain.User{
		ID:         id,
		TelegramID: doc.TelegramID,
		Username:   doc.Username,
		FirstName:  doc.FirstName,
		LastName:   doc.LastName,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

func medicationToDoc(med *domain.Medication) medicationDoc {
	return medicationDoc{
		UserID:         med.UserID,
		Name:           med.Name,
		Presentation:   med.Presentation,
		Condition:      med.Condition,
		Notes:          med.Notes,
		Color:          med.Color,
		DosesPerDay:    med.DosesPerDay,
		FirstDoseTime:  med.FirstDoseTime,
		DoseTimes:      med.DoseTimes,
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

func medicationFromDoc(id string, doc medicationDoc) domain.Medication {
	return domain.Medication{
		ID:             id,
		UserID:         doc.UserID,
		Name:           doc.Name,
		Presentation:   doc.Presentation,
		Condition:      doc.Condition,
		Notes:          doc.Notes,
		Color:          doc.Color,
		DosesPerDay:    doc.DosesPerDay,
		FirstDoseTime:  doc.FirstDoseTime,
		DoseTimes:      doc.DoseTimes,
		StockInitial:   doc.StockInitial,
		StockCurrent:   doc.StockCurrent,
		TreatmentDays:  doc.TreatmentDays,
		DaysRemaining:  doc.DaysRemaining,
		TreatmentStart: doc.TreatmentStart,
		ExpiresAt:      doc.ExpiresAt,
		Active:         doc.Active,
		Paused:         doc.Paused,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

func doseRecordToDoc(record *domain.DoseRecord) doseRecordDoc {
	return doseRecordDoc{
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

func doseRecordFromDoc(id string, doc doseRecordDoc) domain.DoseRecord {
	return domain.DoseRecord{
		ID:             id,
		UserID:         doc.UserID,
		MedicationID:   doc.MedicationID,
		MedicationName: doc.MedicationName,
		ScheduledAt:    doc.ScheduledAt,
		TakenAt:        doc.TakenAt,
		Outcome:        domain.DoseOutcome(doc.Outcome),
		Notes:          doc.Notes,
		CreatedAt:      doc.CreatedAt,
	}
}
