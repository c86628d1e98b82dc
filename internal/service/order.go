package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bimflow/internal/lifecycle"
	"bimflow/internal/metrics"
	"bimflow/internal/model"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrConflict        = errors.New("order changed concurrently")
	ErrSheetCountRange = errors.New("sheet count out of range")
	ErrUnknownStatus   = errors.New("unknown status value")
)

const orderColumns = `id, user_id, sheet_count, total_price_sar, status, checkout_session_id, payment_ref, notes, created_at, updated_at, paid_at, uploaded_at, completed_at`

// OrderService is the single mutation point for order rows. Status moves
// only through ApplyTransition (conditional writes guarded by the
// lifecycle engine) or the explicit admin override.
type OrderService struct {
	db      *sql.DB
	logger  *zap.SugaredLogger
	metrics *metrics.Registry
}

func NewOrderService(db *sql.DB, logger *zap.SugaredLogger, reg *metrics.Registry) *OrderService {
	return &OrderService{db: db, logger: logger, metrics: reg}
}

func (s *OrderService) Create(ctx context.Context, userID string, sheetCount int, notes string) (*model.Order, error) {
	if sheetCount < 1 || sheetCount > model.MaxSheetCount {
		return nil, ErrSheetCountRange
	}

	var notesVal sql.NullString
	if notes != "" {
		notesVal = sql.NullString{String: notes, Valid: true}
	}

	total := int64(sheetCount) * model.UnitPriceSar
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO orders (id, user_id, sheet_count, total_price_sar, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+orderColumns,
		uuid.NewString(), userID, sheetCount, total, model.StatusPending, notesVal,
	)

	order, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	s.logger.Infow("order created", "order", order.ID, "user", userID, "sheets", sheetCount, "total_sar", total)
	return order, nil
}

func (s *OrderService) GetByID(ctx context.Context, id string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (s *OrderService) ListByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return orders, nil
}

// ListAll returns every order with a summary of the owning user. Admin
// listing only.
func (s *OrderService) ListAll(ctx context.Context) ([]model.OrderWithUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.user_id, o.sheet_count, o.total_price_sar, o.status,
		       o.checkout_session_id, o.payment_ref, o.notes,
		       o.created_at, o.updated_at, o.paid_at, o.uploaded_at, o.completed_at,
		       u.email, u.name
		FROM orders o
		JOIN users u ON u.id = o.user_id
		ORDER BY o.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query all orders: %w", err)
	}
	defer rows.Close()

	var orders []model.OrderWithUser
	for rows.Next() {
		var (
			o        model.OrderWithUser
			session  sql.NullString
			ref      sql.NullString
			notes    sql.NullString
			paid     sql.NullTime
			uploaded sql.NullTime
			complete sql.NullTime
		)
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.SheetCount, &o.TotalPriceSar, &o.Status,
			&session, &ref, &notes,
			&o.CreatedAt, &o.UpdatedAt, &paid, &uploaded, &complete,
			&o.UserEmail, &o.UserName,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.CheckoutSessionID = nullStr(session)
		o.PaymentRef = nullStr(ref)
		o.Notes = nullStr(notes)
		o.PaidAt = nullTime(paid)
		o.UploadedAt = nullTime(uploaded)
		o.CompletedAt = nullTime(complete)
		orders = append(orders, o)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return orders, nil
}

func (s *OrderService) SetCheckoutSession(ctx context.Context, orderID, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET checkout_session_id = $1, updated_at = NOW() WHERE id = $2`,
		sessionID, orderID,
	)
	if err != nil {
		return fmt.Errorf("set checkout session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyTransition authorizes, validates and persists a lifecycle move as
// one conditional row update. The WHERE clause re-checks the expected
// prior status, so a late writer whose precondition no longer holds gets
// ErrConflict instead of overwriting.
func (s *OrderService) ApplyTransition(ctx context.Context, order *model.Order, event lifecycle.Event, actor lifecycle.Actor) (*model.Order, error) {
	if err := lifecycle.Authorize(event, actor, order.UserID); err != nil {
		s.metrics.Transitions.WithLabelValues(string(event), "forbidden").Inc()
		return nil, err
	}

	if event == lifecycle.EventMarkedComplete {
		outputs, err := s.countFiles(ctx, order.ID, model.RoleOutput)
		if err != nil {
			return nil, err
		}
		if err := lifecycle.Check(event, outputs); err != nil {
			s.metrics.Transitions.WithLabelValues(string(event), "precondition_unmet").Inc()
			return nil, err
		}
	}

	next, err := lifecycle.Next(order.Status, event)
	if err != nil {
		s.metrics.Transitions.WithLabelValues(string(event), "rejected").Inc()
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, transitionQuery(next), next, order.ID, order.Status)
	updated, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		s.metrics.Transitions.WithLabelValues(string(event), "conflict").Inc()
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	s.metrics.Transitions.WithLabelValues(string(event), "applied").Inc()
	s.logger.Infow("order transitioned", "order", order.ID, "event", event, "from", order.Status, "to", next)
	return updated, nil
}

// RecordPayment applies the webhook's pending→paid move and stores the
// payment reference. Redelivery of the same event is a no-op: the bool
// result reports whether this call advanced the order.
func (s *OrderService) RecordPayment(ctx context.Context, orderID, paymentRef string) (*model.Order, bool, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}

	if _, err := lifecycle.Next(order.Status, lifecycle.EventPaymentConfirmed); err != nil {
		// Already paid or further along: the gateway retried.
		s.metrics.Transitions.WithLabelValues(string(lifecycle.EventPaymentConfirmed), "noop").Inc()
		return order, false, nil
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $1, payment_ref = $2, updated_at = NOW(), paid_at = COALESCE(paid_at, NOW())
		WHERE id = $3 AND status = $4
		RETURNING `+orderColumns,
		model.StatusPaid, paymentRef, orderID, model.StatusPending,
	)
	updated, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race to a concurrent delivery; read back whatever won.
		current, err := s.GetByID(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		s.metrics.Transitions.WithLabelValues(string(lifecycle.EventPaymentConfirmed), "noop").Inc()
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("record payment: %w", err)
	}

	s.metrics.Transitions.WithLabelValues(string(lifecycle.EventPaymentConfirmed), "applied").Inc()
	s.logger.Infow("order paid", "order", orderID, "payment_ref", paymentRef)
	return updated, true, nil
}

// OverrideStatus is the admin escape hatch: it writes any valid status
// outside the transition table. Normal flows never route through it.
func (s *OrderService) OverrideStatus(ctx context.Context, orderID string, status model.Status) (*model.Order, error) {
	if !status.Valid() {
		return nil, ErrUnknownStatus
	}

	row := s.db.QueryRowContext(ctx, overrideQuery(status), status, orderID)
	updated, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("override status: %w", err)
	}

	s.metrics.Transitions.WithLabelValues("override", "applied").Inc()
	s.logger.Warnw("order status overridden", "order", orderID, "status", status)
	return updated, nil
}

func (s *OrderService) countFiles(ctx context.Context, orderID string, role model.FileRole) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE order_id = $1 AND role = $2`,
		orderID, role,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s files: %w", role, err)
	}
	return n, nil
}

// transitionQuery sets the milestone timestamp for the target status on
// first arrival only; COALESCE keeps an already-set milestone fixed.
func transitionQuery(next model.Status) string {
	switch lifecycle.Milestone(next) {
	case "paid_at":
		return `UPDATE orders SET status = $1, updated_at = NOW(), paid_at = COALESCE(paid_at, NOW()) WHERE id = $2 AND status = $3 RETURNING ` + orderColumns
	case "uploaded_at":
		return `UPDATE orders SET status = $1, updated_at = NOW(), uploaded_at = COALESCE(uploaded_at, NOW()) WHERE id = $2 AND status = $3 RETURNING ` + orderColumns
	case "completed_at":
		return `UPDATE orders SET status = $1, updated_at = NOW(), completed_at = COALESCE(completed_at, NOW()) WHERE id = $2 AND status = $3 RETURNING ` + orderColumns
	default:
		return `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3 RETURNING ` + orderColumns
	}
}

func overrideQuery(status model.Status) string {
	switch lifecycle.Milestone(status) {
	case "paid_at":
		return `UPDATE orders SET status = $1, updated_at = NOW(), paid_at = COALESCE(paid_at, NOW()) WHERE id = $2 RETURNING ` + orderColumns
	case "uploaded_at":
		return `UPDATE orders SET status = $1, updated_at = NOW(), uploaded_at = COALESCE(uploaded_at, NOW()) WHERE id = $2 RETURNING ` + orderColumns
	case "completed_at":
		return `UPDATE orders SET status = $1, updated_at = NOW(), completed_at = COALESCE(completed_at, NOW()) WHERE id = $2 RETURNING ` + orderColumns
	default:
		return `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING ` + orderColumns
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o        model.Order
		session  sql.NullString
		ref      sql.NullString
		notes    sql.NullString
		paid     sql.NullTime
		uploaded sql.NullTime
		complete sql.NullTime
	)
	if err := row.Scan(
		&o.ID, &o.UserID, &o.SheetCount, &o.TotalPriceSar, &o.Status,
		&session, &ref, &notes,
		&o.CreatedAt, &o.UpdatedAt, &paid, &uploaded, &complete,
	); err != nil {
		return nil, err
	}
	o.CheckoutSessionID = nullStr(session)
	o.PaymentRef = nullStr(ref)
	o.Notes = nullStr(notes)
	o.PaidAt = nullTime(paid)
	o.UploadedAt = nullTime(uploaded)
	o.CompletedAt = nullTime(complete)
	return &o, nil
}

func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}
