package store

import (
	"context"
	"errors"

	"flowdelivery/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("duplicate row")
	ErrAlreadyAssigned = errors.New("order already has an assignment")
	ErrStatusConflict  = errors.New("assignment status changed concurrently")
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) CreateStore(ctx context.Context, st *models.Store) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO stores (store_id, name, email, password_hash, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
	`, st.StoreID, st.Name, st.Email, st.PasswordHash, st.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *Store) StoreByEmail(ctx context.Context, email string) (*models.Store, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT store_id, name, email, password_hash, created_at, updated_at
		FROM stores WHERE email=$1
	`, email)

	var st models.Store
	err := row.Scan(&st.StoreID, &st.Name, &st.Email, &st.PasswordHash, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) CreateDriver(ctx context.Context, d *models.Driver) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO delivery_drivers (
			driver_id, store_id, name, phone, status, is_active, access_token,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
	`, d.DriverID, d.StoreID, d.Name, d.Phone, d.Status, d.IsActive, d.AccessToken, d.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

const driverColumns = `driver_id, store_id, name, phone, status, is_active, access_token, created_at, updated_at`

func scanDriver(row pgx.Row) (*models.Driver, error) {
	var d models.Driver
	err := row.Scan(&d.DriverID, &d.StoreID, &d.Name, &d.Phone, &d.Status,
		&d.IsActive, &d.AccessToken, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) DriverByID(ctx context.Context, storeID, driverID string) (*models.Driver, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+driverColumns+` FROM delivery_drivers WHERE driver_id=$1 AND store_id=$2`,
		driverID, storeID)
	return scanDriver(row)
}

func (s *Store) DriverByToken(ctx context.Context, token string) (*models.Driver, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+driverColumns+` FROM delivery_drivers WHERE access_token=$1`,
		token)
	return scanDriver(row)
}

func (s *Store) ListDrivers(ctx context.Context, storeID string) ([]*models.Driver, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+driverColumns+` FROM delivery_drivers WHERE store_id=$1 ORDER BY created_at`,
		storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []*models.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}

func (s *Store) SetDriverActive(ctx context.Context, storeID, driverID string, active bool) error {
	res, err := s.Pool.Exec(ctx, `
		UPDATE delivery_drivers SET is_active=$3, updated_at=now()
		WHERE driver_id=$1 AND store_id=$2
	`, driverID, storeID, active)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO orders (
			order_id, store_id, customer_name, delivery_address, total_cents,
			payment_method, payment_status, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
	`, o.OrderID, o.StoreID, o.CustomerName, o.DeliveryAddress, o.TotalCents,
		o.PaymentMethod, o.PaymentStatus, o.Status, o.CreatedAt)
	return err
}

const orderColumns = `order_id, store_id, customer_name, delivery_address, total_cents, payment_method, payment_status, status, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.OrderID, &o.StoreID, &o.CustomerName, &o.DeliveryAddress,
		&o.TotalCents, &o.PaymentMethod, &o.PaymentStatus, &o.Status,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) OrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id=$1`, orderID)
	return scanOrder(row)
}

func (s *Store) ListOrders(ctx context.Context, storeID string) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE store_id=$1 ORDER BY created_at DESC`,
		storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

const assignmentColumns = `assignment_id, order_id, driver_id, store_id, status,
	pickup_address, estimated_delivery_time, actual_delivery_time,
	cod_amount_cents, cod_collected, fee_cents, proof_of_delivery, notes,
	created_at, updated_at`

func scanAssignment(row pgx.Row) (*models.Assignment, error) {
	var a models.Assignment
	err := row.Scan(&a.AssignmentID, &a.OrderID, &a.DriverID, &a.StoreID, &a.Status,
		&a.PickupAddress, &a.EstimatedDeliveryTime, &a.ActualDeliveryTime,
		&a.CODAmountCents, &a.CODCollected, &a.FeeCents, &a.ProofOfDelivery, &a.Notes,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) AssignmentByOrder(ctx context.Context, orderID string) (*models.Assignment, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM delivery_assignments WHERE order_id=$1`,
		orderID)
	return scanAssignment(row)
}

// CreateAssignment inserts the assignment and flips the driver to busy in one
// transaction. The unique index on order_id is the backstop behind the
// service-level existence check.
func (s *Store) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO delivery_assignments (
			assignment_id, order_id, driver_id, store_id, status,
			pickup_address, estimated_delivery_time, actual_delivery_time,
			cod_amount_cents, cod_collected, fee_cents, proof_of_delivery, notes,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
	`, a.AssignmentID, a.OrderID, a.DriverID, a.StoreID, a.Status,
		a.PickupAddress, a.EstimatedDeliveryTime, a.ActualDeliveryTime,
		a.CODAmountCents, a.CODCollected, a.FeeCents, a.ProofOfDelivery, a.Notes,
		a.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyAssigned
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE delivery_drivers SET status=$2, updated_at=now() WHERE driver_id=$1
	`, a.DriverID, models.DriverBusy)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ApplyTransition commits one status change and its side effects atomically.
// The row is locked first, then the UPDATE is guarded on the expected status,
// so a racing request either waits for the lock or fails the guard; it can
// never interleave a partial write.
func (s *Store) ApplyTransition(ctx context.Context, m models.AssignmentMutation) (*models.Assignment, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM delivery_assignments WHERE order_id=$1 FOR UPDATE`,
		m.OrderID)
	a, err := scanAssignment(row)
	if err != nil {
		return nil, err
	}
	if a.Status != m.ExpectedStatus {
		return nil, ErrStatusConflict
	}

	res, err := tx.Exec(ctx, `
		UPDATE delivery_assignments
		SET status=$2,
			notes=COALESCE($3, notes),
			proof_of_delivery=COALESCE($4, proof_of_delivery),
			cod_collected=COALESCE($5, cod_collected),
			actual_delivery_time=COALESCE($6, actual_delivery_time),
			updated_at=now()
		WHERE order_id=$1 AND status=$7
	`, m.OrderID, m.NewStatus, m.Notes, m.ProofOfDelivery, m.CODCollected,
		m.ActualDeliveryTime, m.ExpectedStatus)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected() == 0 {
		return nil, ErrStatusConflict
	}

	if m.OrderDelivered {
		if m.MarkOrderPaid {
			_, err = tx.Exec(ctx, `
				UPDATE orders SET status=$2, payment_status=$3, updated_at=now()
				WHERE order_id=$1
			`, m.OrderID, models.OrderDelivered, models.PaymentPaid)
		} else {
			_, err = tx.Exec(ctx, `
				UPDATE orders SET status=$2, updated_at=now() WHERE order_id=$1
			`, m.OrderID, models.OrderDelivered)
		}
		if err != nil {
			return nil, err
		}
	}

	if m.Collection != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO cod_collections (collection_id, assignment_id, driver_id, amount_cents, collected_at)
			VALUES ($1,$2,$3,$4,$5)
		`, m.Collection.CollectionID, m.Collection.AssignmentID,
			m.Collection.DriverID, m.Collection.AmountCents, m.Collection.CollectedAt)
		if err != nil {
			return nil, err
		}
	}

	if m.ReleaseDriver {
		_, err = tx.Exec(ctx, `
			UPDATE delivery_drivers SET status=$2, updated_at=now() WHERE driver_id=$1
		`, a.DriverID, models.DriverAvailable)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	a.Status = m.NewStatus
	if m.Notes != nil {
		a.Notes = m.Notes
	}
	if m.ProofOfDelivery != nil {
		a.ProofOfDelivery = m.ProofOfDelivery
	}
	if m.CODCollected != nil {
		a.CODCollected = *m.CODCollected
	}
	if m.ActualDeliveryTime != nil {
		a.ActualDeliveryTime = m.ActualDeliveryTime
	}
	return a, nil
}
