package repo

import (
	"context"
	"database/sql"
	"errors"

	"steward/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// execer lets one query body serve both pooled and transactional callers.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ListPage bounds list queries. Cursor pagination keys on (created_at, id).
type ListPage struct {
	Limit  int
	Cursor string
}

func (p ListPage) limit() int {
	if p.Limit <= 0 || p.Limit > 200 {
		return 50
	}
	return p.Limit
}

// --- Properties ---

const propertyCols = `id,org_id,name,COALESCE(address,''),COALESCE(city,''),COALESCE(country,''),kind,status,created_at,updated_at`

func scanProperty(row interface{ Scan(...any) error }) (domain.Property, error) {
	var p domain.Property
	err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.Address, &p.City, &p.Country, &p.Kind, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProperty(ctx context.Context, p domain.Property) error {
	return insertProperty(ctx, r.DB, p)
}

func (r Repo) InsertPropertyTx(ctx context.Context, tx *sql.Tx, p domain.Property) error {
	return insertProperty(ctx, tx, p)
}

func insertProperty(ctx context.Context, db execer, p domain.Property) error {
	_, err := db.ExecContext(ctx, `INSERT INTO properties(id,org_id,name,address,city,country,kind,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.Name, nullable(p.Address), nullable(p.City), nullable(p.Country), p.Kind, p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProperty(ctx context.Context, orgID, id string) (domain.Property, error) {
	return scanProperty(r.DB.QueryRowContext(ctx, `SELECT `+propertyCols+` FROM properties WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) GetPropertyTx(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.Property, error) {
	return scanProperty(tx.QueryRowContext(ctx, `SELECT `+propertyCols+` FROM properties WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) ListProperties(ctx context.Context, orgID string, page ListPage) ([]domain.Property, error) {
	query := `SELECT ` + propertyCols + ` FROM properties WHERE org_id=?`
	args := []any{orgID}
	if page.Cursor != "" {
		query += ` AND (created_at,id) < (SELECT created_at,id FROM properties WHERE id=?)`
		args = append(args, page.Cursor)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, page.limit())
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- Assets ---

const assetCols = `id,org_id,property_id,name,COALESCE(category,''),COALESCE(manufacturer,''),COALESCE(model,''),COALESCE(serial_number,''),installed_at,created_at,updated_at`

func scanAsset(row interface{ Scan(...any) error }) (domain.Asset, error) {
	var a domain.Asset
	var installed sql.NullString
	err := row.Scan(&a.ID, &a.OrgID, &a.PropertyID, &a.Name, &a.Category, &a.Manufacturer, &a.Model, &a.SerialNumber, &installed, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.InstalledAt = strPtr(installed)
	return a, err
}

func (r Repo) InsertAssetTx(ctx context.Context, tx *sql.Tx, a domain.Asset) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assets(id,org_id,property_id,name,category,manufacturer,model,serial_number,installed_at,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OrgID, a.PropertyID, a.Name, nullable(a.Category), nullable(a.Manufacturer), nullable(a.Model), nullable(a.SerialNumber), nullableStringPtr(a.InstalledAt), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAsset(ctx context.Context, orgID, id string) (domain.Asset, error) {
	return scanAsset(r.DB.QueryRowContext(ctx, `SELECT `+assetCols+` FROM assets WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) GetAssetTx(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.Asset, error) {
	return scanAsset(tx.QueryRowContext(ctx, `SELECT `+assetCols+` FROM assets WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) ListAssets(ctx context.Context, orgID, propertyID string, page ListPage) ([]domain.Asset, error) {
	query := `SELECT ` + assetCols + ` FROM assets WHERE org_id=?`
	args := []any{orgID}
	if propertyID != "" {
		query += ` AND property_id=?`
		args = append(args, propertyID)
	}
	if page.Cursor != "" {
		query += ` AND (created_at,id) < (SELECT created_at,id FROM assets WHERE id=?)`
		args = append(args, page.Cursor)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, page.limit())
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- Vendors ---

const vendorCols = `id,org_id,name,COALESCE(trade,''),COALESCE(email,''),COALESCE(phone,''),created_at`

func scanVendor(row interface{ Scan(...any) error }) (domain.Vendor, error) {
	var v domain.Vendor
	err := row.Scan(&v.ID, &v.OrgID, &v.Name, &v.Trade, &v.Email, &v.Phone, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	return v, err
}

func (r Repo) InsertVendor(ctx context.Context, v domain.Vendor) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO vendors(id,org_id,name,trade,email,phone,created_at) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.OrgID, v.Name, nullable(v.Trade), nullable(v.Email), nullable(v.Phone), v.CreatedAt)
	return err
}

func (r Repo) GetVendor(ctx context.Context, orgID, id string) (domain.Vendor, error) {
	return scanVendor(r.DB.QueryRowContext(ctx, `SELECT `+vendorCols+` FROM vendors WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) GetVendorTx(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.Vendor, error) {
	return scanVendor(tx.QueryRowContext(ctx, `SELECT `+vendorCols+` FROM vendors WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) ListVendors(ctx context.Context, orgID string, page ListPage) ([]domain.Vendor, error) {
	query := `SELECT ` + vendorCols + ` FROM vendors WHERE org_id=?`
	args := []any{orgID}
	if page.Cursor != "" {
		query += ` AND (created_at,id) < (SELECT created_at,id FROM vendors WHERE id=?)`
		args = append(args, page.Cursor)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, page.limit())
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// --- Leases ---

const leaseCols = `id,org_id,property_id,tenant_name,starts_on,ends_on,rent_amount,currency,status,created_at,updated_at`

func scanLease(row interface{ Scan(...any) error }) (domain.Lease, error) {
	var l domain.Lease
	var ends sql.NullString
	err := row.Scan(&l.ID, &l.OrgID, &l.PropertyID, &l.TenantName, &l.StartsOn, &ends, &l.RentAmount, &l.Currency, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	l.EndsOn = strPtr(ends)
	return l, err
}

func (r Repo) InsertLeaseTx(ctx context.Context, tx *sql.Tx, l domain.Lease) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO leases(id,org_id,property_id,tenant_name,starts_on,ends_on,rent_amount,currency,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.OrgID, l.PropertyID, l.TenantName, l.StartsOn, nullableStringPtr(l.EndsOn), l.RentAmount, l.Currency, l.Status, l.CreatedAt, l.UpdatedAt)
	return err
}

func (r Repo) GetLease(ctx context.Context, orgID, id string) (domain.Lease, error) {
	return scanLease(r.DB.QueryRowContext(ctx, `SELECT `+leaseCols+` FROM leases WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) GetLeaseTx(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.Lease, error) {
	return scanLease(tx.QueryRowContext(ctx, `SELECT `+leaseCols+` FROM leases WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) ListLeases(ctx context.Context, orgID, propertyID string, page ListPage) ([]domain.Lease, error) {
	query := `SELECT ` + leaseCols + ` FROM leases WHERE org_id=?`
	args := []any{orgID}
	if propertyID != "" {
		query += ` AND property_id=?`
		args = append(args, propertyID)
	}
	if page.Cursor != "" {
		query += ` AND (created_at,id) < (SELECT created_at,id FROM leases WHERE id=?)`
		args = append(args, page.Cursor)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, page.limit())
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// --- Maintenance events ---

const maintenanceCols = `id,org_id,property_id,asset_id,vendor_id,title,COALESCE(description,''),status,COALESCE(priority,''),scheduled_at,completed_at,cost,created_at,updated_at`

func scanMaintenance(row interface{ Scan(...any) error }) (domain.MaintenanceEvent, error) {
	var m domain.MaintenanceEvent
	var assetID, vendorID, scheduled, completed sql.NullString
	var cost sql.NullFloat64
	err := row.Scan(&m.ID, &m.OrgID, &m.PropertyID, &assetID, &vendorID, &m.Title, &m.Description, &m.Status, &m.Priority, &scheduled, &completed, &cost, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	m.AssetID = strPtr(assetID)
	m.VendorID = strPtr(vendorID)
	m.ScheduledAt = strPtr(scheduled)
	m.CompletedAt = strPtr(completed)
	m.Cost = floatPtr(cost)
	return m, err
}

func (r Repo) InsertMaintenanceTx(ctx context.Context, tx *sql.Tx, m domain.MaintenanceEvent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO maintenance_events(id,org_id,property_id,asset_id,vendor_id,title,description,status,priority,scheduled_at,completed_at,cost,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.OrgID, m.PropertyID, nullableStringPtr(m.AssetID), nullableStringPtr(m.VendorID), m.Title, nullable(m.Description), m.Status, nullable(m.Priority), nullableStringPtr(m.ScheduledAt), nullableStringPtr(m.CompletedAt), nullableFloatPtr(m.Cost), m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) UpdateMaintenanceTx(ctx context.Context, tx *sql.Tx, m domain.MaintenanceEvent) error {
	res, err := tx.ExecContext(ctx, `UPDATE maintenance_events SET asset_id=?,vendor_id=?,title=?,description=?,status=?,priority=?,scheduled_at=?,completed_at=?,cost=?,updated_at=? WHERE org_id=? AND id=?`,
		nullableStringPtr(m.AssetID), nullableStringPtr(m.VendorID), m.Title, nullable(m.Description), m.Status, nullable(m.Priority), nullableStringPtr(m.ScheduledAt), nullableStringPtr(m.CompletedAt), nullableFloatPtr(m.Cost), m.UpdatedAt, m.OrgID, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetMaintenance(ctx context.Context, orgID, id string) (domain.MaintenanceEvent, error) {
	return scanMaintenance(r.DB.QueryRowContext(ctx, `SELECT `+maintenanceCols+` FROM maintenance_events WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) GetMaintenanceTx(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.MaintenanceEvent, error) {
	return scanMaintenance(tx.QueryRowContext(ctx, `SELECT `+maintenanceCols+` FROM maintenance_events WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) ListMaintenance(ctx context.Context, orgID, propertyID, status string, page ListPage) ([]domain.MaintenanceEvent, error) {
	query := `SELECT ` + maintenanceCols + ` FROM maintenance_events WHERE org_id=?`
	args := []any{orgID}
	if propertyID != "" {
		query += ` AND property_id=?`
		args = append(args, propertyID)
	}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	if page.Cursor != "" {
		query += ` AND (created_at,id) < (SELECT created_at,id FROM maintenance_events WHERE id=?)`
		args = append(args, page.Cursor)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, page.limit())
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MaintenanceEvent
	for rows.Next() {
		m, err := scanMaintenance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- Documents ---

const documentCols = `id,org_id,property_id,title,COALESCE(kind,''),storage_key,COALESCE(content_type,''),created_at`

func scanDocument(row interface{ Scan(...any) error }) (domain.Document, error) {
	var d domain.Document
	var propertyID sql.NullString
	err := row.Scan(&d.ID, &d.OrgID, &propertyID, &d.Title, &d.Kind, &d.StorageKey, &d.ContentType, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	d.PropertyID = strPtr(propertyID)
	return d, err
}

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(id,org_id,property_id,title,kind,storage_key,content_type,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.OrgID, nullableStringPtr(d.PropertyID), d.Title, nullable(d.Kind), d.StorageKey, nullable(d.ContentType), d.CreatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, orgID, id string) (domain.Document, error) {
	return scanDocument(r.DB.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) ListDocuments(ctx context.Context, orgID, propertyID string, page ListPage) ([]domain.Document, error) {
	query := `SELECT ` + documentCols + ` FROM documents WHERE org_id=?`
	args := []any{orgID}
	if propertyID != "" {
		query += ` AND property_id=?`
		args = append(args, propertyID)
	}
	if page.Cursor != "" {
		query += ` AND (created_at,id) < (SELECT created_at,id FROM documents WHERE id=?)`
		args = append(args, page.Cursor)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, page.limit())
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// --- Finance entries ---

const financeCols = `id,org_id,property_id,lease_id,direction,category,amount,currency,occurred_on,COALESCE(memo,''),created_at`

func scanFinance(row interface{ Scan(...any) error }) (domain.FinanceEntry, error) {
	var f domain.FinanceEntry
	var propertyID, leaseID sql.NullString
	err := row.Scan(&f.ID, &f.OrgID, &propertyID, &leaseID, &f.Direction, &f.Category, &f.Amount, &f.Currency, &f.OccurredOn, &f.Memo, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	f.PropertyID = strPtr(propertyID)
	f.LeaseID = strPtr(leaseID)
	return f, err
}

func (r Repo) InsertFinanceTx(ctx context.Context, tx *sql.Tx, f domain.FinanceEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO finance_entries(id,org_id,property_id,lease_id,direction,category,amount,currency,occurred_on,memo,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.OrgID, nullableStringPtr(f.PropertyID), nullableStringPtr(f.LeaseID), f.Direction, f.Category, f.Amount, f.Currency, f.OccurredOn, nullable(f.Memo), f.CreatedAt)
	return err
}

func (r Repo) GetFinance(ctx context.Context, orgID, id string) (domain.FinanceEntry, error) {
	return scanFinance(r.DB.QueryRowContext(ctx, `SELECT `+financeCols+` FROM finance_entries WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) ListFinance(ctx context.Context, orgID, propertyID, direction string, page ListPage) ([]domain.FinanceEntry, error) {
	query := `SELECT ` + financeCols + ` FROM finance_entries WHERE org_id=?`
	args := []any{orgID}
	if propertyID != "" {
		query += ` AND property_id=?`
		args = append(args, propertyID)
	}
	if direction != "" {
		query += ` AND direction=?`
		args = append(args, direction)
	}
	if page.Cursor != "" {
		query += ` AND (created_at,id) < (SELECT created_at,id FROM finance_entries WHERE id=?)`
		args = append(args, page.Cursor)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, page.limit())
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FinanceEntry
	for rows.Next() {
		f, err := scanFinance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// --- Notes ---

func scanNote(row interface{ Scan(...any) error }) (domain.Note, error) {
	var n domain.Note
	var propertyID, actorID, actorLabel, actorTool, actorRun sql.NullString
	err := row.Scan(&n.ID, &n.OrgID, &propertyID, &n.Body, &n.Author.Kind, &actorID, &actorLabel, &actorTool, &actorRun, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	n.PropertyID = strPtr(propertyID)
	n.Author.ID = actorID.String
	n.Author.Label = actorLabel.String
	n.Author.Tool = actorTool.String
	n.Author.RunID = actorRun.String
	return n, err
}

func (r Repo) InsertNoteTx(ctx context.Context, tx *sql.Tx, n domain.Note) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notes(id,org_id,property_id,body,author_kind,author_id,author_label,author_tool,author_run,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.OrgID, nullableStringPtr(n.PropertyID), n.Body, n.Author.Kind, nullable(n.Author.ID), nullable(n.Author.Label), nullable(n.Author.Tool), nullable(n.Author.RunID), n.CreatedAt)
	return err
}

func (r Repo) ListNotes(ctx context.Context, orgID, propertyID string, page ListPage) ([]domain.Note, error) {
	query := `SELECT id,org_id,property_id,body,author_kind,author_id,author_label,author_tool,author_run,created_at FROM notes WHERE org_id=?`
	args := []any{orgID}
	if propertyID != "" {
		query += ` AND property_id=?`
		args = append(args, propertyID)
	}
	if page.Cursor != "" {
		query += ` AND (created_at,id) < (SELECT created_at,id FROM notes WHERE id=?)`
		args = append(args, page.Cursor)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, page.limit())
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
