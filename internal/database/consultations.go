package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mobidoc/pkg/types"
)

const consultationColumns = `id, patient_id, doctor_id, specialization, status, created_at, updated_at`

// CreateConsultation inserts a new consultation.
func (m *Manager) CreateConsultation(ctx context.Context, c *types.Consultation) error {
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO consultations (`+consultationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.PatientID, c.DoctorID, c.Specialization, string(c.Status),
			c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
		)
		return err
	})
	if err != nil {
		return types.StoreError("create consultation", err)
	}
	return nil
}

// GetConsultation reads a consultation by id.
func (m *Manager) GetConsultation(ctx context.Context, id string) (*types.Consultation, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+consultationColumns+` FROM consultations WHERE id = ?`, id)
	c, err := scanConsultation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrConsultationNotFound
	}
	if err != nil {
		return nil, types.StoreError("get consultation", err)
	}
	return c, nil
}

// errStatusMoved marks a compare-and-set that found a different status.
var errStatusMoved = errors.New("status moved")

// UpdateConsultationStatus persists a new status if the row still holds from,
// and returns the updated row.
func (m *Manager) UpdateConsultationStatus(ctx context.Context, id string, from, to types.ConsultationStatus) (*types.Consultation, error) {
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE consultations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(to), time.Now().UTC(), id, string(from),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		// Writes are serialized, so this read sees the state the update saw.
		var one int
		err = db.QueryRowContext(ctx, `SELECT 1 FROM consultations WHERE id = ?`, id).Scan(&one)
		if err != nil {
			return err
		}
		return errStatusMoved
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, types.ErrConsultationNotFound
	case errors.Is(err, errStatusMoved):
		return nil, fmt.Errorf("%w: expected %s", types.ErrStatusConflict, from)
	case err != nil:
		return nil, types.StoreError("update consultation status", err)
	}
	return m.GetConsultation(ctx, id)
}

// ListConsultationsByPatient returns a patient's consultations, newest first.
func (m *Manager) ListConsultationsByPatient(ctx context.Context, patientID string) ([]*types.Consultation, error) {
	return m.listConsultations(ctx, "patient_id", patientID)
}

// ListConsultationsByDoctor returns a doctor's consultations, newest first.
func (m *Manager) ListConsultationsByDoctor(ctx context.Context, doctorID string) ([]*types.Consultation, error) {
	return m.listConsultations(ctx, "doctor_id", doctorID)
}

// column is one of two constants, never user input.
func (m *Manager) listConsultations(ctx context.Context, column, userID string) ([]*types.Consultation, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+consultationColumns+` FROM consultations
		WHERE `+column+` = ?
		ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, types.StoreError("list consultations", err)
	}
	defer func() { _ = rows.Close() }()

	consultations := []*types.Consultation{}
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, types.StoreError("scan consultation", err)
		}
		consultations = append(consultations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.StoreError("list consultations", err)
	}
	return consultations, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConsultation(s scanner) (*types.Consultation, error) {
	var c types.Consultation
	var status string
	if err := s.Scan(&c.ID, &c.PatientID, &c.DoctorID, &c.Specialization, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = types.ConsultationStatus(status)
	return &c, nil
}
