package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/parkwise/pkg/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintPaymentReservation = "uniq_payments_reservation"
	pgUniqueViolationCode        = "23505"
	pgSerializationFailureCode   = "40001"
	pgDeadlockDetectedCode       = "40P01"
	maxTransactionAttempts       = 3
	transactionRetryBackoff      = 10 * time.Millisecond
	errorSubjectFloor            = "floor"
	errorSubjectBlock            = "block"
	errorSubjectSpot             = "spot"
	errorSubjectReservation      = "reservation"
	errorSubjectPayment          = "payment"
	errorSubjectTransaction      = "transaction"
	errorCodeBegin               = "begin"
	errorCodeCommit              = "commit"
	errorCodeCount               = "count"
	errorCodeCreate              = "create"
	errorCodeDuplicate           = "duplicate"
	errorCodeEnsure              = "ensure"
	errorCodeGet                 = "get"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeLock                = "lock"
	errorCodeUpdate              = "update"
	errorCodeUpdateFlag          = "update_flag"

	sqlSpotColumns = `
		s.spot_id::text, s.block_id::text, s.name, s.flag, b.name, f.name, f.number
		from spots s
		join blocks b on b.block_id = s.block_id
		join floors f on f.floor_id = b.floor_id
	`

	sqlLockSpot = `
		select spot_id::text, block_id::text, name, flag
		from spots
		where spot_id = $1
		for update
	`

	sqlUpdateSpotFlag = `
		update spots set flag = $2, updated_at = now()
		where spot_id = $1
	`

	sqlListSpots = `select ` + sqlSpotColumns + `
		where ($1 = 0 or f.number = $1) and ($2 = '' or b.name = $2)
		order by f.number, b.name, length(s.name), s.name
	`

	sqlSpotLocation = `select ` + sqlSpotColumns + `
		where s.spot_id = $1
	`

	sqlReservationColumns = `
		reservation_id, spot_id::text, status, customer_id, start_at, end_at, vehicle_id, vehicle_type,
		base_hours, base_rate_cents, hourly_rate_cents, duration_seconds, amount_cents,
		coalesce(payment_id, ''), created_at, updated_at
	`

	sqlInsertReservation = `
		insert into reservations(
			reservation_id, spot_id, status, customer_id, start_at, end_at, vehicle_id, vehicle_type,
			base_hours, base_rate_cents, hourly_rate_cents, duration_seconds, amount_cents,
			payment_id, created_at, updated_at
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, nullif($14, ''), $15, $16)
	`

	sqlSelectReservation = `select ` + sqlReservationColumns + `
		from reservations
		where reservation_id = $1
		for update
	`

	sqlUpdateReservation = `
		update reservations
		set status = $3, start_at = $4, end_at = $5, duration_seconds = $6, amount_cents = $7,
			payment_id = nullif($8, ''), updated_at = $9
		where reservation_id = $1 and status = $2
	`

	sqlListActiveReservations = `select ` + sqlReservationColumns + `
		from reservations
		where status = 'active'
		and (cardinality($1::text[]) = 0 or spot_id::text = any($1::text[]))
		and ($2::timestamptz is null or end_at > $2)
		order by start_at
	`

	sqlListReservations = `select ` + sqlReservationColumns + `
		from reservations
		where customer_id = $1
		and ($2::timestamptz is null or start_at >= $2)
		and ($3::timestamptz is null or start_at < $3 or ($6::text <> '' and start_at = $3 and reservation_id < $6::text))
		and (cardinality($4::text[]) = 0 or status = any($4::text[]))
		order by start_at desc, reservation_id desc
		limit $5
	`

	sqlCountReservationsStarting = `
		select count(*) from reservations where start_at >= $1 and start_at < $2
	`

	sqlCountActiveReservations = `
		select count(*) from reservations where status = 'active'
	`

	sqlInsertPayment = `
		insert into payments(
			payment_id, reservation_id, amount_cents, original_amount_cents, discount_amount_cents,
			discount, method, status, details, paid_at
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
	`

	sqlSelectPayment = `
		select payment_id, reservation_id, amount_cents, original_amount_cents, discount_amount_cents,
			discount, method, status, coalesce(details::text, '{}'), paid_at
		from payments
		where payment_id = $1
	`

	sqlEnsureFloor = `
		insert into floors(floor_id, number, name, created_at) values (gen_random_uuid(), $1, $2, now())
		on conflict (number) do nothing
	`

	sqlSelectFloor = `select floor_id::text, number, name from floors where number = $1`

	sqlEnsureBlock = `
		insert into blocks(block_id, floor_id, name, capacity, created_at) values (gen_random_uuid(), $1, $2, $3, now())
		on conflict (floor_id, name) do nothing
	`

	sqlSelectBlock = `select block_id::text, name, capacity from blocks where floor_id = $1 and name = $2`

	sqlEnsureSpot = `
		insert into spots(spot_id, block_id, name, flag, created_at, updated_at) values (gen_random_uuid(), $1, $2, $3, now(), now())
		on conflict (block_id, name) do nothing
	`

	sqlSelectSpot = `select spot_id::text, block_id::text, name, flag from spots where block_id = $1 and name = $2`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries holds the statements shared by Store and TxStore.
type queries struct {
	db querier
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool. The schema is the one
// gormstore.AutoMigrate creates.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// WithTx runs fn in a transaction, retrying serialization failures and deadlocks.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	var err error
	for attempt := 1; attempt <= maxTransactionAttempts; attempt++ {
		err = store.runTx(ctx, fn)
		if err == nil || !isRetryable(err) || attempt == maxTransactionAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * transactionRetryBackoff):
		}
	}
	return err
}

func (store *Store) runTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// WithTx reuses the active transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (q queries) LockSpot(ctx context.Context, spotID ledger.SpotID) (ledger.Spot, error) {
	if !isUUID(spotID.String()) {
		return ledger.Spot{}, wrapStoreError(errorSubjectSpot, errorCodeLock, ledger.ErrSpotNotFound)
	}
	var spotIDValue, blockIDValue, name, flagValue string
	err := q.db.QueryRow(ctx, sqlLockSpot, spotID.String()).Scan(&spotIDValue, &blockIDValue, &name, &flagValue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Spot{}, wrapStoreError(errorSubjectSpot, errorCodeLock, ledger.ErrSpotNotFound)
		}
		return ledger.Spot{}, wrapStoreError(errorSubjectSpot, errorCodeLock, err)
	}
	spot, err := buildSpot(spotIDValue, blockIDValue, name, flagValue)
	if err != nil {
		return ledger.Spot{}, wrapStoreError(errorSubjectSpot, errorCodeInvalid, err)
	}
	return spot, nil
}

func (q queries) SetSpotFlag(ctx context.Context, spotID ledger.SpotID, flag ledger.SpotFlag) error {
	if !isUUID(spotID.String()) {
		return wrapStoreError(errorSubjectSpot, errorCodeUpdateFlag, ledger.ErrSpotNotFound)
	}
	tag, err := q.db.Exec(ctx, sqlUpdateSpotFlag, spotID.String(), flag.String())
	if err != nil {
		return wrapStoreError(errorSubjectSpot, errorCodeUpdateFlag, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectSpot, errorCodeUpdateFlag, ledger.ErrSpotNotFound)
	}
	return nil
}

func (q queries) ListSpots(ctx context.Context, query ledger.SpotQuery) ([]ledger.SpotView, error) {
	rows, err := q.db.Query(ctx, sqlListSpots, query.FloorNumber, query.BlockName)
	if err != nil {
		return nil, wrapStoreError(errorSubjectSpot, errorCodeList, err)
	}
	defer rows.Close()
	var views []ledger.SpotView
	for rows.Next() {
		view, err := scanSpotView(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSpot, errorCodeInvalid, err)
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectSpot, errorCodeList, err)
	}
	return views, nil
}

func (q queries) GetSpotLocation(ctx context.Context, spotID ledger.SpotID) (ledger.SpotLocation, error) {
	if !isUUID(spotID.String()) {
		return ledger.SpotLocation{}, wrapStoreError(errorSubjectSpot, errorCodeGet, ledger.ErrSpotNotFound)
	}
	view, err := scanSpotView(q.db.QueryRow(ctx, sqlSpotLocation, spotID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.SpotLocation{}, wrapStoreError(errorSubjectSpot, errorCodeGet, ledger.ErrSpotNotFound)
		}
		return ledger.SpotLocation{}, wrapStoreError(errorSubjectSpot, errorCodeGet, err)
	}
	return view.Location, nil
}

func (q queries) CreateReservation(ctx context.Context, reservation ledger.Reservation) error {
	_, err := q.db.Exec(ctx, sqlInsertReservation,
		reservation.ID.String(),
		reservation.SpotID.String(),
		reservation.Status.String(),
		reservation.CustomerID.String(),
		reservation.Window.Start.UTC(),
		reservation.Window.End.UTC(),
		reservation.VehicleID.String(),
		reservation.VehicleType.String(),
		reservation.Plan.BaseHours,
		reservation.Plan.BaseRate.Int64(),
		reservation.Plan.HourlyRate.Int64(),
		int64(reservation.Duration/time.Second),
		reservation.Amount.Int64(),
		reservation.PaymentID.String(),
		reservation.CreatedAt.UTC(),
		reservation.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err, "") {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, err)
	}
	return nil
}

func (q queries) GetReservation(ctx context.Context, reservationID ledger.ReservationID) (ledger.Reservation, error) {
	reservation, err := scanReservation(q.db.QueryRow(ctx, sqlSelectReservation, reservationID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, ledger.ErrReservationNotFound)
		}
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, err)
	}
	return reservation, nil
}

func (q queries) UpdateReservation(ctx context.Context, reservation ledger.Reservation, expected ledger.ReservationStatus) error {
	tag, err := q.db.Exec(ctx, sqlUpdateReservation,
		reservation.ID.String(),
		expected.String(),
		reservation.Status.String(),
		reservation.Window.Start.UTC(),
		reservation.Window.End.UTC(),
		int64(reservation.Duration/time.Second),
		reservation.Amount.Int64(),
		reservation.PaymentID.String(),
		reservation.UpdatedAt.UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, ledger.ErrAlreadyFinalized)
	}
	return nil
}

func (q queries) ListActiveReservations(ctx context.Context, spotIDs []ledger.SpotID, endingAfter time.Time) ([]ledger.Reservation, error) {
	values := make([]string, 0, len(spotIDs))
	for _, spotID := range spotIDs {
		if isUUID(spotID.String()) {
			values = append(values, spotID.String())
		}
	}
	if len(spotIDs) > 0 && len(values) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, sqlListActiveReservations, values, optionalTime(endingAfter))
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return collectReservations(rows)
}

func (q queries) ListReservations(ctx context.Context, criteria ledger.ReservationCriteria) ([]ledger.Reservation, error) {
	statuses := make([]string, 0, len(criteria.Statuses))
	for _, status := range criteria.Statuses {
		statuses = append(statuses, status.String())
	}
	var limit any
	if criteria.Limit > 0 {
		limit = criteria.Limit
	}
	rows, err := q.db.Query(ctx, sqlListReservations,
		criteria.CustomerID.String(),
		optionalTime(criteria.StartsFrom),
		optionalTime(criteria.Before),
		statuses,
		limit,
		criteria.BeforeID.String(),
	)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return collectReservations(rows)
}

func (q queries) CountReservationsStarting(ctx context.Context, from time.Time, to time.Time) (int64, error) {
	var count int64
	if err := q.db.QueryRow(ctx, sqlCountReservationsStarting, from.UTC(), to.UTC()).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectReservation, errorCodeCount, err)
	}
	return count, nil
}

func (q queries) CountActiveReservations(ctx context.Context) (int64, error) {
	var count int64
	if err := q.db.QueryRow(ctx, sqlCountActiveReservations).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectReservation, errorCodeCount, err)
	}
	return count, nil
}

func (q queries) CreatePayment(ctx context.Context, payment ledger.Payment) error {
	details, err := json.Marshal(paymentDetails{ContactEmail: payment.ContactEmail})
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	_, err = q.db.Exec(ctx, sqlInsertPayment,
		payment.ID.String(),
		payment.ReservationID.String(),
		payment.Amount.Int64(),
		payment.OriginalAmount.Int64(),
		payment.DiscountAmount.Int64(),
		payment.Discount.String(),
		payment.Method.String(),
		payment.Status.String(),
		string(details),
		payment.PaidAt.UTC(),
	)
	if isUniqueViolation(err, constraintPaymentReservation) {
		return wrapStoreError(errorSubjectPayment, errorCodeDuplicate, ledger.ErrAlreadyPaid)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeCreate, err)
	}
	return nil
}

func (q queries) GetPayment(ctx context.Context, paymentID ledger.PaymentID) (ledger.Payment, error) {
	var (
		paymentIDValue, reservationIDValue      string
		amount, originalAmount, discountAmount  int64
		discountValue, methodValue, statusValue string
		detailsValue                            string
		paidAt                                  time.Time
	)
	err := q.db.QueryRow(ctx, sqlSelectPayment, paymentID.String()).Scan(
		&paymentIDValue, &reservationIDValue, &amount, &originalAmount, &discountAmount,
		&discountValue, &methodValue, &statusValue, &detailsValue, &paidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, ledger.ErrPaymentNotFound)
		}
		return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	payment, err := buildPayment(paymentIDValue, reservationIDValue, amount, originalAmount, discountAmount, discountValue, methodValue, statusValue, detailsValue, paidAt)
	if err != nil {
		return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	return payment, nil
}

func (q queries) EnsureFloor(ctx context.Context, floor ledger.Floor) (ledger.Floor, error) {
	if _, err := q.db.Exec(ctx, sqlEnsureFloor, floor.Number, floor.Name); err != nil {
		return ledger.Floor{}, wrapStoreError(errorSubjectFloor, errorCodeEnsure, err)
	}
	var (
		floorIDValue string
		stored       ledger.Floor
	)
	if err := q.db.QueryRow(ctx, sqlSelectFloor, floor.Number).Scan(&floorIDValue, &stored.Number, &stored.Name); err != nil {
		return ledger.Floor{}, wrapStoreError(errorSubjectFloor, errorCodeGet, err)
	}
	floorID, err := ledger.NewFloorID(floorIDValue)
	if err != nil {
		return ledger.Floor{}, wrapStoreError(errorSubjectFloor, errorCodeInvalid, err)
	}
	stored.ID = floorID
	return stored, nil
}

func (q queries) EnsureBlock(ctx context.Context, block ledger.Block) (ledger.Block, error) {
	if _, err := q.db.Exec(ctx, sqlEnsureBlock, block.FloorID.String(), block.Name, block.Capacity); err != nil {
		return ledger.Block{}, wrapStoreError(errorSubjectBlock, errorCodeEnsure, err)
	}
	var blockIDValue string
	stored := ledger.Block{FloorID: block.FloorID}
	if err := q.db.QueryRow(ctx, sqlSelectBlock, block.FloorID.String(), block.Name).Scan(&blockIDValue, &stored.Name, &stored.Capacity); err != nil {
		return ledger.Block{}, wrapStoreError(errorSubjectBlock, errorCodeGet, err)
	}
	blockID, err := ledger.NewBlockID(blockIDValue)
	if err != nil {
		return ledger.Block{}, wrapStoreError(errorSubjectBlock, errorCodeInvalid, err)
	}
	stored.ID = blockID
	return stored, nil
}

func (q queries) EnsureSpot(ctx context.Context, spot ledger.Spot) (ledger.Spot, error) {
	flag := spot.Flag
	if flag == "" {
		flag = ledger.SpotFlagAvailable
	}
	if _, err := q.db.Exec(ctx, sqlEnsureSpot, spot.BlockID.String(), spot.Name, flag.String()); err != nil {
		return ledger.Spot{}, wrapStoreError(errorSubjectSpot, errorCodeEnsure, err)
	}
	var spotIDValue, blockIDValue, name, flagValue string
	if err := q.db.QueryRow(ctx, sqlSelectSpot, spot.BlockID.String(), spot.Name).Scan(&spotIDValue, &blockIDValue, &name, &flagValue); err != nil {
		return ledger.Spot{}, wrapStoreError(errorSubjectSpot, errorCodeGet, err)
	}
	stored, err := buildSpot(spotIDValue, blockIDValue, name, flagValue)
	if err != nil {
		return ledger.Spot{}, wrapStoreError(errorSubjectSpot, errorCodeInvalid, err)
	}
	return stored, nil
}

type paymentDetails struct {
	ContactEmail string `json:"contact_email,omitempty"`
}

func scanSpotView(row pgx.Row) (ledger.SpotView, error) {
	var (
		spotIDValue, blockIDValue, spotName, flagValue, blockName, floorName string
		floorNumber                                                          int
	)
	if err := row.Scan(&spotIDValue, &blockIDValue, &spotName, &flagValue, &blockName, &floorName, &floorNumber); err != nil {
		return ledger.SpotView{}, err
	}
	spot, err := buildSpot(spotIDValue, blockIDValue, spotName, flagValue)
	if err != nil {
		return ledger.SpotView{}, err
	}
	return ledger.SpotView{
		Spot: spot,
		Location: ledger.SpotLocation{
			SpotName:    spotName,
			BlockName:   blockName,
			FloorName:   floorName,
			FloorNumber: floorNumber,
		},
	}, nil
}

func buildSpot(spotIDValue string, blockIDValue string, name string, flagValue string) (ledger.Spot, error) {
	spotID, err := ledger.NewSpotID(spotIDValue)
	if err != nil {
		return ledger.Spot{}, err
	}
	blockID, err := ledger.NewBlockID(blockIDValue)
	if err != nil {
		return ledger.Spot{}, err
	}
	flag, err := ledger.ParseSpotFlag(flagValue)
	if err != nil {
		return ledger.Spot{}, err
	}
	return ledger.Spot{ID: spotID, BlockID: blockID, Name: name, Flag: flag}, nil
}

func collectReservations(rows pgx.Rows) ([]ledger.Reservation, error) {
	defer rows.Close()
	var reservations []ledger.Reservation
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return reservations, nil
}

func scanReservation(row pgx.Row) (ledger.Reservation, error) {
	var (
		reservationIDValue, spotIDValue, statusValue, customerIDValue string
		vehicleIDValue, vehicleTypeValue, paymentIDValue             string
		startAt, endAt, createdAt, updatedAt                         time.Time
		baseHours                                                    int
		baseRate, hourlyRate, durationSeconds, amount                int64
	)
	err := row.Scan(
		&reservationIDValue, &spotIDValue, &statusValue, &customerIDValue, &startAt, &endAt, &vehicleIDValue, &vehicleTypeValue,
		&baseHours, &baseRate, &hourlyRate, &durationSeconds, &amount,
		&paymentIDValue, &createdAt, &updatedAt,
	)
	if err != nil {
		return ledger.Reservation{}, err
	}
	reservationID, err := ledger.NewReservationID(reservationIDValue)
	if err != nil {
		return ledger.Reservation{}, err
	}
	spotID, err := ledger.NewSpotID(spotIDValue)
	if err != nil {
		return ledger.Reservation{}, err
	}
	customerID, err := ledger.NewCustomerID(customerIDValue)
	if err != nil {
		return ledger.Reservation{}, err
	}
	vehicleID, err := ledger.NewVehicleID(vehicleIDValue)
	if err != nil {
		return ledger.Reservation{}, err
	}
	vehicleType, err := ledger.ParseVehicleType(vehicleTypeValue)
	if err != nil {
		return ledger.Reservation{}, err
	}
	status, err := ledger.ParseReservationStatus(statusValue)
	if err != nil {
		return ledger.Reservation{}, err
	}
	reservation := ledger.Reservation{
		ID:          reservationID,
		SpotID:      spotID,
		CustomerID:  customerID,
		VehicleID:   vehicleID,
		VehicleType: vehicleType,
		Window:      ledger.NewWindow(startAt, endAt),
		Status:      status,
		Plan: ledger.RatePlan{
			BaseHours:  baseHours,
			BaseRate:   ledger.AmountCents(baseRate),
			HourlyRate: ledger.AmountCents(hourlyRate),
		},
		Duration:  time.Duration(durationSeconds) * time.Second,
		Amount:    ledger.AmountCents(amount),
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
	if paymentIDValue != "" {
		paymentID, err := ledger.NewPaymentID(paymentIDValue)
		if err != nil {
			return ledger.Reservation{}, err
		}
		reservation.PaymentID = paymentID
	}
	return reservation, nil
}

func buildPayment(paymentIDValue string, reservationIDValue string, amount int64, originalAmount int64, discountAmount int64, discountValue string, methodValue string, statusValue string, detailsValue string, paidAt time.Time) (ledger.Payment, error) {
	paymentID, err := ledger.NewPaymentID(paymentIDValue)
	if err != nil {
		return ledger.Payment{}, err
	}
	reservationID, err := ledger.NewReservationID(reservationIDValue)
	if err != nil {
		return ledger.Payment{}, err
	}
	discount, err := ledger.ParseDiscountType(discountValue)
	if err != nil {
		return ledger.Payment{}, err
	}
	method, err := ledger.ParsePaymentMethod(methodValue)
	if err != nil {
		return ledger.Payment{}, err
	}
	status, err := ledger.ParsePaymentStatus(statusValue)
	if err != nil {
		return ledger.Payment{}, err
	}
	var details paymentDetails
	if strings.TrimSpace(detailsValue) != "" {
		if err := json.Unmarshal([]byte(detailsValue), &details); err != nil {
			return ledger.Payment{}, err
		}
	}
	return ledger.Payment{
		ID:             paymentID,
		ReservationID:  reservationID,
		Amount:         ledger.AmountCents(amount),
		OriginalAmount: ledger.AmountCents(originalAmount),
		DiscountAmount: ledger.AmountCents(discountAmount),
		Discount:       discount,
		Method:         method,
		Status:         status,
		ContactEmail:   details.ContactEmail,
		PaidAt:         paidAt.UTC(),
	}, nil
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func isUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(ledger.OperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	return false
}
