package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/privaudit/internal/types"
)

// DefaultHistoryLimit bounds report history queries without an explicit limit
const DefaultHistoryLimit = 20

// ArchivedReport is one row of the audit_reports table
type ArchivedReport struct {
	ID               string            `json:"id"`
	DAOAddress       string            `json:"daoAddress"`
	DataSource       types.DataSource  `json:"dataSource"`
	ProofScheme      types.ProofScheme `json:"proofScheme"`
	Commitment       string            `json:"commitment"`
	ProofHash        string            `json:"proofHash"`
	ProofValid       bool              `json:"proofValid"`
	IsSolvent        bool              `json:"isSolvent"`
	TotalAssets      decimal.Decimal   `json:"totalAssets"`
	TotalLiabilities decimal.Decimal   `json:"totalLiabilities"`
	RiskAssessment   string            `json:"riskAssessment"`
	Report           *types.ReportData `json:"report"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// ReportRepository archives generated reports in Postgres
type ReportRepository struct {
	pool *pgxpool.Pool
}

// NewReportRepository creates a new report repository
func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

// Save inserts a report. Saving the same id twice is a no-op.
func (r *ReportRepository) Save(ctx context.Context, rep *ArchivedReport) error {
	reportJSON, err := json.Marshal(rep.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_reports (
			id,
			dao_address,
			data_source,
			proof_scheme,
			commitment,
			proof_hash,
			proof_valid,
			is_solvent,
			total_assets,
			total_liabilities,
			risk_assessment,
			report,
			created_at
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.pool.Exec(
		ctx,
		query,
		rep.ID,
		strings.ToLower(rep.DAOAddress),
		string(rep.DataSource),
		string(rep.ProofScheme),
		rep.Commitment,
		rep.ProofHash,
		rep.ProofValid,
		rep.IsSolvent,
		rep.TotalAssets.StringFixed(2),
		rep.TotalLiabilities.StringFixed(2),
		rep.RiskAssessment,
		reportJSON,
		rep.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

// ListByDAO returns the most recent reports, newest first. An empty
// address lists reports for every DAO.
func (r *ReportRepository) ListByDAO(ctx context.Context, daoAddress string, limit int) ([]*ArchivedReport, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `
		SELECT
			id::text,
			dao_address,
			data_source,
			proof_scheme,
			commitment,
			proof_hash,
			proof_valid,
			is_solvent,
			total_assets::text,
			total_liabilities::text,
			risk_assessment,
			report,
			created_at
		FROM audit_reports
		WHERE ($1 = '' OR dao_address = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, strings.ToLower(daoAddress), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []*ArchivedReport
	for rows.Next() {
		var (
			rep                    ArchivedReport
			dataSource, scheme     string
			totalAssets, totalLiab string
			reportJSON             []byte
		)
		if err := rows.Scan(
			&rep.ID,
			&rep.DAOAddress,
			&dataSource,
			&scheme,
			&rep.Commitment,
			&rep.ProofHash,
			&rep.ProofValid,
			&rep.IsSolvent,
			&totalAssets,
			&totalLiab,
			&rep.RiskAssessment,
			&reportJSON,
			&rep.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}

		rep.DataSource = types.DataSource(dataSource)
		rep.ProofScheme = types.ProofScheme(scheme)
		if rep.TotalAssets, err = decimal.NewFromString(totalAssets); err != nil {
			return nil, fmt.Errorf("invalid total_assets %q: %w", totalAssets, err)
		}
		if rep.TotalLiabilities, err = decimal.NewFromString(totalLiab); err != nil {
			return nil, fmt.Errorf("invalid total_liabilities %q: %w", totalLiab, err)
		}
		if err := json.Unmarshal(reportJSON, &rep.Report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report: %w", err)
		}
		reports = append(reports, &rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}

	return reports, nil
}
