package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the repository needs. It exists so tests
// can substitute a pgxmock pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool DB
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// NewPgRepositoryWithDB allows injecting a mock pool in tests.
func NewPgRepositoryWithDB(db DB) *PgRepository {
	return &PgRepository{pool: db}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string
	var days []int32

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.ConsultationDuration,
		&days,
		&d.DayStart,
		&d.DayEnd,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	d.WorkingDays = make([]time.Weekday, 0, len(days))
	for _, n := range days {
		d.WorkingDays = append(d.WorkingDays, time.Weekday(n))
	}
	return &d, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.MaxCapacity,
		&s.CurrentCount,
		&s.EmergencyCount,
		&s.IsFull,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	var slotID *uuid.UUID
	var resolvedAt *time.Time

	err := row.Scan(
		&t.ID,
		&t.TokenID,
		&t.PatientName,
		&t.Category,
		&t.DoctorID,
		&slotID,
		&t.AppointmentDate,
		&t.ScheduledTime,
		&t.BasePriority,
		&t.FinalPriority,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
		&resolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	t.SlotID = slotID
	t.ResolvedAt = resolvedAt
	return &t, nil
}

func weekdayInts(days []time.Weekday) []int32 {
	out := make([]int32, 0, len(days))
	for _, d := range days {
		out = append(out, int32(d))
	}
	return out
}

const doctorColumns = `id, name, specialty, consultation_duration, working_days, day_start, day_end, created_at, updated_at`
const slotColumns = `id, doctor_id, start_time, end_time, max_capacity, current_count, emergency_count, is_full, created_at, updated_at`
const tokenColumns = `id, token_id, patient_name, category, doctor_id, slot_id, appointment_date, scheduled_time, base_priority, final_priority, status, created_at, updated_at, resolved_at`

// Doctors

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateDoctor(ctx context.Context, d *Doctor) (*Doctor, error) {
	id := d.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctors (id, name, specialty, consultation_duration, working_days, day_start, day_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+doctorColumns+`
	`, id, d.Name, d.Specialty, d.ConsultationDuration, weekdayInts(d.WorkingDays), d.DayStart, d.DayEnd)

	return scanDoctor(row)
}

// Slots

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) FindSlotsForDay(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Slot, error) {
	start, end := dayBounds(day)

	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) FindSlotAt(ctx context.Context, doctorID uuid.UUID, at time.Time) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1
		  AND start_time <= $2
		  AND end_time > $2
	`, doctorID, at)
	return scanSlot(row)
}

func (r *PgRepository) FindNextSlot(ctx context.Context, doctorID uuid.UUID, after time.Time, includeFull bool) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1
		  AND start_time > $2
		  AND ($3 OR NOT is_full)
		ORDER BY start_time
		LIMIT 1
	`, doctorID, after, includeFull)
	return scanSlot(row)
}

func (r *PgRepository) CreateSlots(ctx context.Context, slots []Slot) ([]Slot, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	created := make([]Slot, 0, len(slots))
	for _, s := range slots {
		id := s.ID
		if id == uuid.Nil {
			id = uuid.New()
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO slots (id, doctor_id, start_time, end_time, max_capacity, current_count, emergency_count, is_full, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 0, 0, false, now(), now())
			RETURNING `+slotColumns+`
		`, id, s.DoctorID, s.StartTime, s.EndTime, s.MaxCapacity)

		out, err := scanSlot(row)
		if err != nil {
			return nil, err
		}
		created = append(created, *out)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) ReleaseSeat(ctx context.Context, slotID uuid.UUID, emergency bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET current_count = GREATEST(current_count - 1, 0),
		    emergency_count = CASE WHEN $2 THEN GREATEST(emergency_count - 1, 0) ELSE emergency_count END,
		    is_full = (GREATEST(current_count - 1, 0) >= max_capacity),
		    updated_at = now()
		WHERE id = $1
	`, slotID, emergency)
	if err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}

// Tokens

func (r *PgRepository) GetTokenByID(ctx context.Context, id uuid.UUID) (*Token, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE id = $1
	`, id)
	return scanToken(row)
}

func (r *PgRepository) GetTokenByPublicID(ctx context.Context, tokenID string) (*Token, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE token_id = $1
	`, tokenID)
	return scanToken(row)
}

func (r *PgRepository) FindTokensForDay(ctx context.Context, doctorID uuid.UUID, day time.Time, statuses []TokenStatus) ([]Token, error) {
	start, end := dayBounds(day)

	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE doctor_id = $1
		  AND appointment_date >= $2
		  AND appointment_date < $3
		  AND status = ANY($4)
		ORDER BY scheduled_time, created_at
	`, doctorID, start, end, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (r *PgRepository) CountTokensForDay(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	start, end := dayBounds(day)

	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tokens
		WHERE doctor_id = $1
		  AND appointment_date >= $2
		  AND appointment_date < $3
	`, doctorID, start, end).Scan(&count)
	return count, err
}

func (r *PgRepository) HasBookingAt(ctx context.Context, doctorID uuid.UUID, day time.Time, scheduled string) (bool, error) {
	start, end := dayBounds(day)

	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM tokens
			WHERE doctor_id = $1
			  AND appointment_date >= $2
			  AND appointment_date < $3
			  AND scheduled_time = $4
			  AND status IN ('Pending', 'Active')
		)
	`, doctorID, start, end, scheduled).Scan(&exists)
	return exists, err
}

func (r *PgRepository) CountEmergenciesAt(ctx context.Context, doctorID uuid.UUID, day time.Time, scheduled string) (int, error) {
	start, end := dayBounds(day)

	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tokens
		WHERE doctor_id = $1
		  AND appointment_date >= $2
		  AND appointment_date < $3
		  AND scheduled_time = $4
		  AND category = 'Emergency'
		  AND status IN ('Pending', 'Active')
	`, doctorID, start, end, scheduled).Scan(&count)
	return count, err
}

func (r *PgRepository) IssueToken(ctx context.Context, tok *Token, slotID *uuid.UUID, emergency bool, allowance int) (*Token, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if slotID != nil {
		// The seat reservation is a single conditional increment so two
		// concurrent admissions can never both pass the same last seat.
		var ct pgconn.CommandTag
		if emergency {
			ct, err = tx.Exec(ctx, `
				UPDATE slots
				SET current_count = current_count + 1,
				    emergency_count = emergency_count + 1,
				    is_full = (current_count + 1 >= max_capacity),
				    updated_at = now()
				WHERE id = $1
				  AND emergency_count < $2
			`, *slotID, allowance)
		} else {
			ct, err = tx.Exec(ctx, `
				UPDATE slots
				SET current_count = current_count + 1,
				    is_full = (current_count + 1 >= max_capacity),
				    updated_at = now()
				WHERE id = $1
				  AND current_count < max_capacity
			`, *slotID)
		}
		if err != nil {
			return nil, fmt.Errorf("reserve seat: %w", err)
		}
		if ct.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM slots WHERE id = $1)`, *slotID).Scan(&exists); err != nil {
				return nil, fmt.Errorf("check slot: %w", err)
			}
			if !exists {
				return nil, ErrSlotNotFound
			}
			if emergency {
				return nil, ErrOverflowExhausted
			}
			return nil, ErrSlotFull
		}
	}

	id := tok.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO tokens (id, token_id, patient_name, category, doctor_id, slot_id, appointment_date, scheduled_time, base_priority, final_priority, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'Pending', now(), now())
		RETURNING `+tokenColumns+`
	`, id, tok.TokenID, tok.PatientName, tok.Category, tok.DoctorID, slotID, tok.AppointmentDate, tok.ScheduledTime, tok.BasePriority, tok.FinalPriority)

	created, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to TokenStatus, resolvedAt *time.Time) (*Token, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE tokens
		SET status = $2,
		    resolved_at = COALESCE($4, resolved_at),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+tokenColumns+`
	`, id, to, from, resolvedAt)

	return scanToken(row)
}

func (r *PgRepository) ForceTokenStatus(ctx context.Context, id uuid.UUID, to TokenStatus, resolvedAt *time.Time) (*Token, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE tokens
		SET status = $2,
		    resolved_at = COALESCE($3, resolved_at),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+tokenColumns+`
	`, id, to, resolvedAt)

	return scanToken(row)
}

func (r *PgRepository) FindOverdueScheduled(ctx context.Context, cutoff time.Time) ([]Token, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE status = 'Pending'
		  AND appointment_date::date + scheduled_time::time < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, token_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.TokenID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// dayBounds normalizes an instant to its local calendar day window.
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
