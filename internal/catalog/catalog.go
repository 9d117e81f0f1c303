// Package catalog reads the templates and students that documents are
// generated from. The engine never writes to either table.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/database"
	"github.com/nikhilbhutani/docissue/internal/models"
)

type Store struct {
	db database.DB
}

func NewStore(db database.DB) *Store {
	return &Store{db: db}
}

const templateColumns = `id, tenant_id, name, title_pattern, type, content, background_ref,
	field_mappings, qr_enabled, qr_position, created_at`

func (s *Store) GetTemplate(ctx context.Context, tenantID, id uuid.UUID) (*models.Template, error) {
	var t models.Template
	err := s.db.QueryRow(ctx,
		"SELECT "+templateColumns+" FROM templates WHERE id = $1 AND tenant_id = $2", id, tenantID,
	).Scan(&t.ID, &t.TenantID, &t.Name, &t.TitlePattern, &t.Type, &t.Content, &t.BackgroundRef,
		&t.FieldMappings, &t.QREnabled, &t.QRPosition, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(fmt.Sprintf("template %s", id))
	}
	if err != nil {
		return nil, apperr.Persistence("get template", err)
	}
	return &t, nil
}

const studentColumns = `id, tenant_id, roll_no, name, registration_no, father_name, mother_name,
	dob, email, mobile, custom_fields, created_at`

func scanStudent(row pgx.Row) (*models.Student, error) {
	var st models.Student
	err := row.Scan(&st.ID, &st.TenantID, &st.RollNo, &st.Name, &st.RegistrationNo, &st.FatherName,
		&st.MotherName, &st.DOB, &st.Email, &st.Mobile, &st.CustomFields, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) GetStudent(ctx context.Context, tenantID, id uuid.UUID) (*models.Student, error) {
	st, err := scanStudent(s.db.QueryRow(ctx,
		"SELECT "+studentColumns+" FROM students WHERE id = $1 AND tenant_id = $2", id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(fmt.Sprintf("student %s", id))
	}
	if err != nil {
		return nil, apperr.Persistence("get student", err)
	}
	return st, nil
}

// ListStudentIDs returns every student of the tenant ordered by roll number.
func (s *Store) ListStudentIDs(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id FROM students WHERE tenant_id = $1 ORDER BY roll_no", tenantID)
	if err != nil {
		return nil, apperr.Persistence("list students", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, apperr.Persistence("scan student ids", err)
	}
	return ids, nil
}
