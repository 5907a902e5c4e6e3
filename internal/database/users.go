package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mobidoc/pkg/types"
)

// UpsertUser inserts or replaces a user together with its specialties.
func (m *Manager) UpsertUser(ctx context.Context, u *types.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.KYCStatus == "" {
		u.KYCStatus = types.KYCPending
	}

	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (id, name, email, phone, role, kyc_status, license_number, available, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				email = excluded.email,
				phone = excluded.phone,
				kyc_status = excluded.kyc_status,
				license_number = excluded.license_number,
				available = excluded.available`,
			u.ID, u.Name, u.Email, u.Phone, string(u.Role), string(u.KYCStatus),
			u.LicenseNumber, u.Available, u.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM doctor_specialties WHERE user_id = ?`, u.ID); err != nil {
			return err
		}
		for _, specialty := range u.Specialties {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO doctor_specialties (user_id, specialty) VALUES (?, ?)`,
				u.ID, specialty,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return types.StoreError("upsert user", err)
	}
	return nil
}

// GetUser reads a user and its specialties.
func (m *Manager) GetUser(ctx context.Context, id string) (*types.User, error) {
	var u types.User
	var role, kyc string
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, role, kyc_status, license_number, available, created_at
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &role, &kyc, &u.LicenseNumber, &u.Available, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrUserNotFound
	}
	if err != nil {
		return nil, types.StoreError("get user", err)
	}
	u.Role = types.Role(role)
	u.KYCStatus = types.KYCStatus(kyc)

	rows, err := m.db.QueryContext(ctx,
		`SELECT specialty FROM doctor_specialties WHERE user_id = ? ORDER BY specialty`, id)
	if err != nil {
		return nil, types.StoreError("get user specialties", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, types.StoreError("scan specialty", err)
		}
		u.Specialties = append(u.Specialties, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.StoreError("get user specialties", err)
	}
	return &u, nil
}

// FindAvailableDoctor picks the lowest-id approved, available doctor listing
// the specialization.
func (m *Manager) FindAvailableDoctor(ctx context.Context, specialization string) (*types.User, error) {
	var id string
	err := m.db.QueryRowContext(ctx, `
		SELECT u.id
		FROM users u
		JOIN doctor_specialties s ON s.user_id = u.id
		WHERE u.role = 'doctor'
		  AND u.kyc_status = 'approved'
		  AND u.available = 1
		  AND s.specialty = ?
		ORDER BY u.id ASC
		LIMIT 1`, specialization,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNoDoctorAvailable
	}
	if err != nil {
		return nil, types.StoreError("find available doctor", err)
	}
	return m.GetUser(ctx, id)
}
