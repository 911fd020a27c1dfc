package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/makkenzo/license-issuer-api/internal/domain/license"
	"go.uber.org/zap"
)

const (
	uniqueViolation     = "23505"
	orderLineConstraint = "licenses_order_line_key"
)

const licenseColumns = `
            id, license_key, order_id, line_index, customer_id, customer_email,
            product_sku, product_name, category, edition, term, features, deliverable_kind,
            status, issued_at, expires_at,
            activated_at, last_accessed_at, access_count, max_users, current_users,
            ip_addresses, user_agents, delivered_at, created_at, updated_at`

var sortColumns = map[string]string{
	"created_at": "created_at",
	"issued_at":  "issued_at",
	"expires_at": "expires_at",
}

type LicenseRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewLicenseRepository(db *pgxpool.Pool, logger *zap.Logger) *LicenseRepository {
	return &LicenseRepository{
		db:     db,
		logger: logger.Named("LicenseRepository"),
	}
}

var _ license.Repository = (*LicenseRepository)(nil)

func (r *LicenseRepository) Create(ctx context.Context, lic *license.License) (uuid.UUID, error) {
	query := `
        INSERT INTO licenses (
            license_key, order_id, line_index, customer_id, customer_email,
            product_sku, product_name, category, edition, term, features, deliverable_kind,
            status, issued_at, expires_at, access_count, max_users, current_users,
            ip_addresses, user_agents
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
        ) RETURNING id
    `
	var insertedID uuid.UUID

	err := r.db.QueryRow(ctx, query,
		lic.LicenseKey,
		lic.OrderID,
		lic.LineIndex,
		lic.CustomerID,
		lic.CustomerEmail,
		lic.ProductSKU,
		lic.ProductName,
		lic.Category,
		lic.Edition,
		lic.Term,
		nonNil(lic.Features),
		lic.DeliverableKind,
		lic.Status,
		lic.IssuedAt,
		lic.ExpiresAt,
		lic.AccessCount,
		lic.MaxUsers,
		lic.CurrentUsers,
		nonNil(lic.IPAddresses),
		nonNil(lic.UserAgents),
	).Scan(&insertedID)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == orderLineConstraint {
			r.logger.Info("Order line already has a license",
				zap.String("order_id", lic.OrderID),
				zap.Int("line_index", lic.LineIndex),
			)
			return uuid.Nil, fmt.Errorf("%w: order %s line %d", license.ErrLineAlreadyIssued, lic.OrderID, lic.LineIndex)
		}
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			r.logger.Warn("Attempted to create license with duplicate key",
				zap.String("license_key", lic.LicenseKey),
				zap.String("constraint", pgErr.ConstraintName),
			)
			return uuid.Nil, fmt.Errorf("%w: %s", license.ErrDuplicateKey, lic.LicenseKey)
		}

		r.logger.Error("Failed to create license in database", zap.Error(err))
		return uuid.Nil, fmt.Errorf("database error on create license: %w", err)
	}

	r.logger.Info("License created successfully", zap.String("id", insertedID.String()))
	return insertedID, nil
}

func (r *LicenseRepository) FindByID(ctx context.Context, id uuid.UUID) (*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = $1`
	return r.scanLicense(r.db.QueryRow(ctx, query, id))
}

func (r *LicenseRepository) FindByKey(ctx context.Context, key string) (*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE license_key = $1`
	return r.scanLicense(r.db.QueryRow(ctx, query, key))
}

func (r *LicenseRepository) FindByOrderLine(ctx context.Context, orderID string, lineIndex int) (*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE order_id = $1 AND line_index = $2`
	return r.scanLicense(r.db.QueryRow(ctx, query, orderID, lineIndex))
}

func (r *LicenseRepository) List(ctx context.Context, params license.ListParams) ([]*license.License, int64, error) {
	where, args := buildFilter(params)

	var total int64
	countQuery := `SELECT COUNT(*) FROM licenses` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count licenses", zap.Error(err))
		return nil, 0, fmt.Errorf("database error on count licenses: %w", err)
	}

	sortColumn, ok := sortColumns[params.SortBy]
	if !ok {
		sortColumn = "created_at"
	}
	sortOrder := "DESC"
	if params.SortOrder == "ASC" {
		sortOrder = "ASC"
	}

	query := `SELECT ` + licenseColumns + ` FROM licenses` + where +
		fmt.Sprintf(" ORDER BY %s %s, license_key ASC", sortColumn, sortOrder)
	if params.Limit > 0 {
		args = append(args, params.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if params.Offset > 0 {
		args = append(args, params.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query list of licenses", zap.Error(err))
		return nil, 0, fmt.Errorf("database error on list licenses: %w", err)
	}
	defer rows.Close()

	licenses := make([]*license.License, 0)
	for rows.Next() {
		lic, err := scanInto(rows)
		if err != nil {
			r.logger.Error("Failed to scan license row during list", zap.Error(err))
			return nil, 0, fmt.Errorf("database scan error during list: %w", err)
		}
		licenses = append(licenses, lic)
	}

	if err = rows.Err(); err != nil {
		r.logger.Error("Error iterating license rows", zap.Error(err))
		return nil, 0, fmt.Errorf("database iteration error on list licenses: %w", err)
	}

	return licenses, total, nil
}

// UpdateUsage locks the row with SELECT ... FOR UPDATE so concurrent activations
// of the same key run their read-modify-write one at a time.
func (r *LicenseRepository) UpdateUsage(ctx context.Context, key string, fn license.UsageMutator) (*license.License, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin usage transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE license_key = $1 FOR UPDATE`
	lic, err := r.scanLicense(tx.QueryRow(ctx, query, key))
	if err != nil {
		return nil, err
	}

	if err := fn(lic); err != nil {
		return nil, err
	}

	update := `
        UPDATE licenses SET
            activated_at = $1,
            last_accessed_at = $2,
            access_count = $3,
            current_users = $4,
            ip_addresses = $5,
            user_agents = $6,
            updated_at = NOW()
        WHERE id = $7
        RETURNING updated_at
    `
	err = tx.QueryRow(ctx, update,
		lic.ActivatedAt,
		lic.LastAccessedAt,
		lic.AccessCount,
		lic.CurrentUsers,
		nonNil(lic.IPAddresses),
		nonNil(lic.UserAgents),
		lic.ID,
	).Scan(&lic.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to update license usage", zap.String("id", lic.ID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", license.ErrUpdateFailed, err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("Failed to commit license usage update", zap.String("id", lic.ID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: commit: %v", license.ErrUpdateFailed, err)
	}

	return lic, nil
}

func (r *LicenseRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status license.LicenseStatus) error {
	query := `UPDATE licenses SET status = $1, updated_at = NOW() WHERE id = $2`

	cmdTag, err := r.db.Exec(ctx, query, status, id)
	if err != nil {
		r.logger.Error("Failed to update license status", zap.String("id", id.String()), zap.Error(err))
		return fmt.Errorf("%w: %v", license.ErrUpdateFailed, err)
	}

	if cmdTag.RowsAffected() == 0 {
		r.logger.Warn("Attempted to update license status, but no rows were affected", zap.String("id", id.String()))
		return license.ErrNotFound
	}

	r.logger.Info("License status updated", zap.String("id", id.String()), zap.String("status", string(status)))
	return nil
}

func (r *LicenseRepository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE licenses SET delivered_at = $1, updated_at = NOW() WHERE id = $2`

	cmdTag, err := r.db.Exec(ctx, query, at, id)
	if err != nil {
		r.logger.Error("Failed to mark license delivered", zap.String("id", id.String()), zap.Error(err))
		return fmt.Errorf("%w: %v", license.ErrUpdateFailed, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return license.ErrNotFound
	}
	return nil
}

func (r *LicenseRepository) scanLicense(row pgx.Row) (*license.License, error) {
	lic, err := scanInto(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, license.ErrNotFound
		}

		r.logger.Error("Failed to scan license row", zap.Error(err))
		return nil, fmt.Errorf("database scan error: %w", err)
	}
	return lic, nil
}

func scanInto(row pgx.Row) (*license.License, error) {
	var lic license.License
	err := row.Scan(
		&lic.ID,
		&lic.LicenseKey,
		&lic.OrderID,
		&lic.LineIndex,
		&lic.CustomerID,
		&lic.CustomerEmail,
		&lic.ProductSKU,
		&lic.ProductName,
		&lic.Category,
		&lic.Edition,
		&lic.Term,
		&lic.Features,
		&lic.DeliverableKind,
		&lic.Status,
		&lic.IssuedAt,
		&lic.ExpiresAt,
		&lic.ActivatedAt,
		&lic.LastAccessedAt,
		&lic.AccessCount,
		&lic.MaxUsers,
		&lic.CurrentUsers,
		&lic.IPAddresses,
		&lic.UserAgents,
		&lic.DeliveredAt,
		&lic.CreatedAt,
		&lic.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lic, nil
}

func buildFilter(params license.ListParams) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Status != nil {
		add("status", *params.Status)
	}
	if params.CustomerEmail != nil {
		add("customer_email", *params.CustomerEmail)
	}
	if params.ProductSKU != nil {
		add("product_sku", *params.ProductSKU)
	}
	if params.OrderID != nil {
		add("order_id", *params.OrderID)
	}
	if params.Undelivered {
		clauses = append(clauses, "delivered_at IS NULL")
	}

	if len(clauses) == 0 {
		return "", args
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
