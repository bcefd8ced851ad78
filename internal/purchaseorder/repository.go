package purchaseorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medimart-erp/medimart-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence. Embedded documents
// (addresses, product lines, charges) live in JSONB columns; workflow
// history rows are append-only in their own table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const poColumns = `id, po_number, principal_id, bill_to, ship_to, products,
additional_discount, tax_type, gst_rate, shipping_charges,
sub_total, discount_amount, taxable_amount, tax_amount, shipping_amount, grand_total,
current_stage, status, remarks, approved_by, approved_date, revision,
created_by, created_at, updated_at`

// GetPO returns the purchase order with its history populated in insertion
// order.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id)
	po, err := scanPO(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT entry_id, stage_code, action, action_by, action_date, remarks, changes
FROM purchase_order_history WHERE po_id = $1 ORDER BY id ASC`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var entry HistoryEntry
		var action string
		var changes []byte
		if err := rows.Scan(&entry.ID, &entry.StageCode, &action, &entry.ActionBy, &entry.ActionDate, &entry.Remarks, &changes); err != nil {
			return PurchaseOrder{}, err
		}
		entry.Action = HistoryAction(action)
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &entry.Changes); err != nil {
				return PurchaseOrder{}, fmt.Errorf("purchaseorder: decode history changes: %w", err)
			}
		}
		po.History = append(po.History, entry)
	}
	return po, rows.Err()
}

// CountCreatedBetween counts orders created in [start, end), used by the
// fallback serial source of the number generator.
func (r *Repository) CountCreatedBetween(ctx context.Context, start, end time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE created_at >= $1 AND created_at < $2`, start, end).Scan(&count)
	return count, err
}

// ListPOs returns listing rows with the principal name joined in.
func (r *Repository) ListPOs(ctx context.Context, limit, offset int, filters ListFilters) ([]ListItem, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Status != "" {
		where += ` AND p.status = $` + strconv.Itoa(argNum)
		args = append(args, filters.Status)
		argNum++
	}
	if filters.PrincipalID > 0 {
		where += ` AND p.principal_id = $` + strconv.Itoa(argNum)
		args = append(args, filters.PrincipalID)
		argNum++
	}
	if filters.Search != "" {
		where += ` AND p.po_number ILIKE $` + strconv.Itoa(argNum)
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders p`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT p.id, p.po_number, p.principal_id, COALESCE(pr.name, '') AS principal_name,
	p.current_stage, p.status, p.grand_total, p.created_at
FROM purchase_orders p
LEFT JOIN principals pr ON pr.id = p.principal_id` + where +
		` ORDER BY ` + sortOrder(filters.SortBy, filters.SortDir) +
		` LIMIT $` + strconv.Itoa(argNum) + ` OFFSET $` + strconv.Itoa(argNum+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []ListItem
	for rows.Next() {
		var item ListItem
		var status string
		if err := rows.Scan(&item.ID, &item.PONumber, &item.PrincipalID, &item.PrincipalName,
			&item.CurrentStage, &status, &item.GrandTotal, &item.CreatedAt); err != nil {
			return nil, 0, err
		}
		item.Status = Status(status)
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func sortOrder(sortBy, sortDir string) string {
	dir := "DESC"
	if sortDir == "asc" {
		dir = "ASC"
	}
	switch sortBy {
	case "po_number":
		return "p.po_number " + dir
	case "principal":
		return "principal_name " + dir
	case "grand_total":
		return "p.grand_total " + dir
	case "status":
		return "p.status " + dir
	default:
		return "p.created_at DESC"
	}
}

func (t *txRepo) InsertPO(ctx context.Context, po PurchaseOrder) (int64, error) {
	billTo, shipTo, products, discount, shipping, err := marshalDocs(po)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO purchase_orders
(po_number, principal_id, bill_to, ship_to, products,
 additional_discount, tax_type, gst_rate, shipping_charges,
 sub_total, discount_amount, taxable_amount, tax_amount, shipping_amount, grand_total,
 current_stage, status, remarks, revision, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
RETURNING id`,
		po.PONumber, po.PrincipalID, billTo, shipTo, products,
		discount, string(po.TaxType), po.GSTRate, shipping,
		po.SubTotal, po.DiscountAmount, po.TaxableAmount, po.TaxAmount, po.ShippingAmount, po.GrandTotal,
		po.CurrentStage, string(po.Status), po.Remarks, po.Revision, po.CreatedBy).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: po number %s already exists", ErrConflict, po.PONumber)
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) UpdatePO(ctx context.Context, po PurchaseOrder) error {
	billTo, shipTo, products, discount, shipping, err := marshalDocs(po)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET
 bill_to=$1, ship_to=$2, products=$3,
 additional_discount=$4, tax_type=$5, gst_rate=$6, shipping_charges=$7,
 sub_total=$8, discount_amount=$9, taxable_amount=$10, tax_amount=$11, shipping_amount=$12, grand_total=$13,
 current_stage=$14, status=$15, remarks=$16, approved_by=NULLIF($17, 0), approved_date=$18,
 revision=revision+1, updated_at=NOW()
WHERE id=$19 AND revision=$20`,
		billTo, shipTo, products,
		discount, string(po.TaxType), po.GSTRate, shipping,
		po.SubTotal, po.DiscountAmount, po.TaxableAmount, po.TaxAmount, po.ShippingAmount, po.GrandTotal,
		po.CurrentStage, string(po.Status), po.Remarks, po.ApprovedBy, po.ApprovedDate,
		po.ID, po.Revision)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: purchase order %d was modified concurrently", ErrConflict, po.ID)
	}
	return nil
}

func (t *txRepo) DeletePO(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) AppendHistory(ctx context.Context, poID int64, entry HistoryEntry) error {
	var changes []byte
	if len(entry.Changes) > 0 {
		data, err := json.Marshal(entry.Changes)
		if err != nil {
			return fmt.Errorf("purchaseorder: encode history changes: %w", err)
		}
		changes = data
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO purchase_order_history
(entry_id, po_id, stage_code, action, action_by, action_date, remarks, changes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, poID, entry.StageCode, string(entry.Action), entry.ActionBy, entry.ActionDate, entry.Remarks, changes)
	return err
}

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var billTo, shipTo, products, discount, shipping []byte
	var taxType, status string
	var approvedBy *int64
	if err := row.Scan(&po.ID, &po.PONumber, &po.PrincipalID, &billTo, &shipTo, &products,
		&discount, &taxType, &po.GSTRate, &shipping,
		&po.SubTotal, &po.DiscountAmount, &po.TaxableAmount, &po.TaxAmount, &po.ShippingAmount, &po.GrandTotal,
		&po.CurrentStage, &status, &po.Remarks, &approvedBy, &po.ApprovedDate, &po.Revision,
		&po.CreatedBy, &po.CreatedAt, &po.UpdatedAt); err != nil {
		return PurchaseOrder{}, err
	}
	po.TaxType = TaxType(taxType)
	po.Status = Status(status)
	if approvedBy != nil {
		po.ApprovedBy = *approvedBy
	}
	for _, doc := range []struct {
		data []byte
		dst  any
	}{
		{billTo, &po.BillTo},
		{shipTo, &po.ShipTo},
		{products, &po.Products},
		{discount, &po.AdditionalDiscount},
		{shipping, &po.ShippingCharges},
	} {
		if len(doc.data) == 0 {
			continue
		}
		if err := json.Unmarshal(doc.data, doc.dst); err != nil {
			return PurchaseOrder{}, fmt.Errorf("purchaseorder: decode document: %w", err)
		}
	}
	return po, nil
}

func marshalDocs(po PurchaseOrder) (billTo, shipTo, products, discount, shipping []byte, err error) {
	if billTo, err = json.Marshal(po.BillTo); err != nil {
		return
	}
	if shipTo, err = json.Marshal(po.ShipTo); err != nil {
		return
	}
	if products, err = json.Marshal(po.Products); err != nil {
		return
	}
	if discount, err = json.Marshal(po.AdditionalDiscount); err != nil {
		return
	}
	shipping, err = json.Marshal(po.ShippingCharges)
	return
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
