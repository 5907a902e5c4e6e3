package database

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaValidator checks a migrated database has what the store queries need.
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = []string{
	"users",
	"doctor_specialties",
	"consultations",
	"messages",
	"schema_migrations",
}

var requiredIndexes = []string{
	"idx_doctor_specialties_specialty",
	"idx_consultations_patient",
	"idx_consultations_doctor",
	"idx_consultations_status",
	"idx_messages_consultation_time",
}

// Validate verifies tables, indexes and that foreign keys are enforced on
// this connection pool.
func (v *SchemaValidator) Validate(ctx context.Context) error {
	for _, table := range requiredTables {
		if err := v.expect(ctx, "table", table); err != nil {
			return err
		}
	}
	for _, index := range requiredIndexes {
		if err := v.expect(ctx, "index", index); err != nil {
			return err
		}
	}

	var fk int
	if err := v.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		return fmt.Errorf("error reading foreign_keys pragma: %w", err)
	}
	if fk != 1 {
		return fmt.Errorf("foreign key enforcement is disabled")
	}
	return nil
}

func (v *SchemaValidator) expect(ctx context.Context, kind, name string) error {
	var count int
	err := v.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("error checking %s %s: %w", kind, name, err)
	}
	if count == 0 {
		return fmt.Errorf("required %s %s does not exist", kind, name)
	}
	return nil
}
