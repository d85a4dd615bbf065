package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/parkwise/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintPaymentReservation = "uniq_payments_reservation"
	defaultDetailsJSON           = "{}"
	pgUniqueViolationCode        = "23505"
	pgSerializationFailureCode   = "40001"
	pgDeadlockDetectedCode       = "40P01"
	sqliteConstraintCode         = 19
	sqliteBusyCode               = 5
	sqliteLockedCode             = 6
	maxTransactionAttempts       = 3
	transactionRetryBackoff      = 10 * time.Millisecond
	errorSubjectFloor            = "floor"
	errorSubjectBlock            = "block"
	errorSubjectSpot             = "spot"
	errorSubjectReservation      = "reservation"
	errorSubjectPayment          = "payment"
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
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates every table the store needs.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction. Serialization failures and
// deadlocks are retried with a fresh transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	var err error
	for attempt := 1; attempt <= maxTransactionAttempts; attempt++ {
		err = store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
			return fn(ctx, &Store{db: transaction})
		})
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

// LockSpot reads the spot with SELECT ... FOR UPDATE. SQLite has no row
// locks; there the single-connection pool serializes transactions instead.
func (store *Store) LockSpot(ctx context.Context, spotID ledger.SpotID) (ledger.Spot, error) {
	var model Spot
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("spot_id = ?", spotID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Spot{}, wrapStoreError(errorSubjectSpot, errorCodeLock, ledger.ErrSpotNotFound)
		}
		return ledger.Spot{}, wrapStoreError(errorSubjectSpot, errorCodeLock, err)
	}
	spot, err := mapSpot(model)
	if err != nil {
		return ledger.Spot{}, wrapStoreError(errorSubjectSpot, errorCodeInvalid, err)
	}
	return spot, nil
}

func (store *Store) SetSpotFlag(ctx context.Context, spotID ledger.SpotID, flag ledger.SpotFlag) error {
	result := store.db.WithContext(ctx).
		Model(&Spot{}).
		Where("spot_id = ?", spotID.String()).
		Updates(map[string]interface{}{"flag": flag.String(), "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapStoreError(errorSubjectSpot, errorCodeUpdateFlag, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectSpot, errorCodeUpdateFlag, ledger.ErrSpotNotFound)
	}
	return nil
}

type spotRow struct {
	SpotID      string
	BlockID     string
	SpotName    string
	Flag        string
	BlockName   string
	FloorName   string
	FloorNumber int
}

func (store *Store) spotRows(ctx context.Context) *gorm.DB {
	return store.db.WithContext(ctx).
		Table("spots").
		Select("spots.spot_id, spots.block_id, spots.name AS spot_name, spots.flag, blocks.name AS block_name, floors.name AS floor_name, floors.number AS floor_number").
		Joins("JOIN blocks ON blocks.block_id = spots.block_id").
		Joins("JOIN floors ON floors.floor_id = blocks.floor_id")
}

func (store *Store) ListSpots(ctx context.Context, query ledger.SpotQuery) ([]ledger.SpotView, error) {
	statement := store.spotRows(ctx)
	if query.FloorNumber != 0 {
		statement = statement.Where("floors.number = ?", query.FloorNumber)
	}
	if query.BlockName != "" {
		statement = statement.Where("blocks.name = ?", query.BlockName)
	}
	var rows []spotRow
	err := statement.
		Order("floors.number ASC").
		Order("blocks.name ASC").
		Order("length(spots.name) ASC").
		Order("spots.name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSpot, errorCodeList, err)
	}
	views := make([]ledger.SpotView, 0, len(rows))
	for _, row := range rows {
		view, err := mapSpotRow(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSpot, errorCodeInvalid, err)
		}
		views = append(views, view)
	}
	return views, nil
}

func (store *Store) GetSpotLocation(ctx context.Context, spotID ledger.SpotID) (ledger.SpotLocation, error) {
	var rows []spotRow
	err := store.spotRows(ctx).Where("spots.spot_id = ?", spotID.String()).Limit(1).Scan(&rows).Error
	if err != nil {
		return ledger.SpotLocation{}, wrapStoreError(errorSubjectSpot, errorCodeGet, err)
	}
	if len(rows) == 0 {
		return ledger.SpotLocation{}, wrapStoreError(errorSubjectSpot, errorCodeGet, ledger.ErrSpotNotFound)
	}
	view, err := mapSpotRow(rows[0])
	if err != nil {
		return ledger.SpotLocation{}, wrapStoreError(errorSubjectSpot, errorCodeInvalid, err)
	}
	return view.Location, nil
}

func (store *Store) CreateReservation(ctx context.Context, reservation ledger.Reservation) error {
	model := reservationModel(reservation)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, "") {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetReservation(ctx context.Context, reservationID ledger.ReservationID) (ledger.Reservation, error) {
	var model Reservation
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reservation_id = ?", reservationID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, ledger.ErrReservationNotFound)
		}
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, err)
	}
	reservation, err := mapReservation(model)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

// UpdateReservation rewrites the mutable columns of a reservation that is
// still in the expected status.
func (store *Store) UpdateReservation(ctx context.Context, reservation ledger.Reservation, expected ledger.ReservationStatus) error {
	model := reservationModel(reservation)
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("reservation_id = ? AND status = ?", model.ReservationID, expected.String()).
		Updates(map[string]interface{}{
			"status":           model.Status,
			"start_at":         model.StartAt,
			"end_at":           model.EndAt,
			"duration_seconds": model.DurationSeconds,
			"amount_cents":     model.AmountCents,
			"payment_id":       model.PaymentID,
			"updated_at":       model.UpdatedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, ledger.ErrAlreadyFinalized)
	}
	return nil
}

func (store *Store) ListActiveReservations(ctx context.Context, spotIDs []ledger.SpotID, endingAfter time.Time) ([]ledger.Reservation, error) {
	statement := store.db.WithContext(ctx).Where("status = ?", ledger.ReservationStatusActive.String())
	if len(spotIDs) > 0 {
		values := make([]string, 0, len(spotIDs))
		for _, spotID := range spotIDs {
			values = append(values, spotID.String())
		}
		statement = statement.Where("spot_id IN ?", values)
	}
	if !endingAfter.IsZero() {
		statement = statement.Where("end_at > ?", endingAfter.UTC())
	}
	var rows []Reservation
	if err := statement.Order("start_at ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return mapReservations(rows)
}

func (store *Store) ListReservations(ctx context.Context, criteria ledger.ReservationCriteria) ([]ledger.Reservation, error) {
	statement := store.db.WithContext(ctx).Where("customer_id = ?", criteria.CustomerID.String())
	if !criteria.StartsFrom.IsZero() {
		statement = statement.Where("start_at >= ?", criteria.StartsFrom.UTC())
	}
	if !criteria.Before.IsZero() {
		before := criteria.Before.UTC()
		if criteria.BeforeID.String() == "" {
			statement = statement.Where("start_at < ?", before)
		} else {
			statement = statement.Where("(start_at < ? OR (start_at = ? AND reservation_id < ?))", before, before, criteria.BeforeID.String())
		}
	}
	if len(criteria.Statuses) > 0 {
		statuses := make([]string, 0, len(criteria.Statuses))
		for _, status := range criteria.Statuses {
			statuses = append(statuses, status.String())
		}
		statement = statement.Where("status IN ?", statuses)
	}
	if criteria.Limit > 0 {
		statement = statement.Limit(criteria.Limit)
	}
	var rows []Reservation
	if err := statement.Order("start_at DESC").Order("reservation_id DESC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return mapReservations(rows)
}

func (store *Store) CountReservationsStarting(ctx context.Context, from time.Time, to time.Time) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("start_at >= ? AND start_at < ?", from.UTC(), to.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectReservation, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) CountActiveReservations(ctx context.Context) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("status = ?", ledger.ReservationStatusActive.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectReservation, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) CreatePayment(ctx context.Context, payment ledger.Payment) error {
	details, err := json.Marshal(paymentDetails{ContactEmail: payment.ContactEmail})
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	model := Payment{
		PaymentID:           payment.ID.String(),
		ReservationID:       payment.ReservationID.String(),
		AmountCents:         payment.Amount.Int64(),
		OriginalAmountCents: payment.OriginalAmount.Int64(),
		DiscountAmountCents: payment.DiscountAmount.Int64(),
		Discount:            payment.Discount.String(),
		Method:              payment.Method.String(),
		Status:              payment.Status.String(),
		Details:             datatypesJSON(details),
		PaidAt:              payment.PaidAt.UTC(),
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintPaymentReservation) {
		return wrapStoreError(errorSubjectPayment, errorCodeDuplicate, ledger.ErrAlreadyPaid)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPayment(ctx context.Context, paymentID ledger.PaymentID) (ledger.Payment, error) {
	var model Payment
	err := store.db.WithContext(ctx).Where("payment_id = ?", paymentID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, ledger.ErrPaymentNotFound)
		}
		return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	payment, err := mapPayment(model)
	if err != nil {
		return ledger.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	return payment, nil
}

// EnsureFloor inserts the floor unless one with the same number exists, then
// returns the stored row.
func (store *Store) EnsureFloor(ctx context.Context, floor ledger.Floor) (ledger.Floor, error) {
	model := Floor{Number: floor.Number, Name: floor.Name, CreatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "number"}}, DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return ledger.Floor{}, wrapStoreError(errorSubjectFloor, errorCodeEnsure, err)
	}
	var stored Floor
	if err := store.db.WithContext(ctx).Where("number = ?", floor.Number).Take(&stored).Error; err != nil {
		return ledger.Floor{}, wrapStoreError(errorSubjectFloor, errorCodeGet, err)
	}
	floorID, err := ledger.NewFloorID(stored.FloorID)
	if err != nil {
		return ledger.Floor{}, wrapStoreError(errorSubjectFloor, errorCodeInvalid, err)
	}
	return ledger.Floor{ID: floorID, Number: stored.Number, Name: stored.Name}, nil
}

func (store *Store) EnsureBlock(ctx context.Context, block ledger.Block) (ledger.Block, error) {
	model := Block{FloorID: block.FloorID.String(), Name: block.Name, Capacity: block.Capacity, CreatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "floor_id"}, {Name: "name"}}, DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return ledger.Block{}, wrapStoreError(errorSubjectBlock, errorCodeEnsure, err)
	}
	var stored Block
	if err := store.db.WithContext(ctx).Where("floor_id = ? AND name = ?", block.FloorID.String(), block.Name).Take(&stored).Error; err != nil {
		return ledger.Block{}, wrapStoreError(errorSubjectBlock, errorCodeGet, err)
	}
	blockID, err := ledger.NewBlockID(stored.BlockID)
	if err != nil {
		return ledger.Block{}, wrapStoreError(errorSubjectBlock, errorCodeInvalid, err)
	}
	return ledger.Block{ID: blockID, FloorID: block.FloorID, Name: stored.Name, Capacity: stored.Capacity}, nil
}

func (store *Store) EnsureSpot(ctx context.Context, spot ledger.Spot) (ledger.Spot, error) {
	now := time.Now().UTC()
	model := Spot{BlockID: spot.BlockID.String(), Name: spot.Name, Flag: spot.Flag.String(), CreatedAt: now, UpdatedAt: now}
	if model.Flag == "" {
		model.Flag = ledger.SpotFlagAvailable.String()
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "block_id"}, {Name: "name"}}, DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return ledger.Spot{}, wrapStoreError(errorSubjectSpot, errorCodeEnsure, err)
	}
	var stored Spot
	if err := store.db.WithContext(ctx).Where("block_id = ? AND name = ?", spot.BlockID.String(), spot.Name).Take(&stored).Error; err != nil {
		return ledger.Spot{}, wrapStoreError(errorSubjectSpot, errorCodeGet, err)
	}
	mapped, err := mapSpot(stored)
	if err != nil {
		return ledger.Spot{}, wrapStoreError(errorSubjectSpot, errorCodeInvalid, err)
	}
	return mapped, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(ledger.OperationStore, subject, code, err)
}

type paymentDetails struct {
	ContactEmail string `json:"contact_email,omitempty"`
}

func reservationModel(reservation ledger.Reservation) Reservation {
	var paymentID *string
	if reservation.HasPayment() {
		value := reservation.PaymentID.String()
		paymentID = &value
	}
	return Reservation{
		ReservationID:   reservation.ID.String(),
		SpotID:          reservation.SpotID.String(),
		Status:          reservation.Status.String(),
		CustomerID:      reservation.CustomerID.String(),
		StartAt:         reservation.Window.Start.UTC(),
		EndAt:           reservation.Window.End.UTC(),
		VehicleID:       reservation.VehicleID.String(),
		VehicleType:     reservation.VehicleType.String(),
		BaseHours:       reservation.Plan.BaseHours,
		BaseRateCents:   reservation.Plan.BaseRate.Int64(),
		HourlyRateCents: reservation.Plan.HourlyRate.Int64(),
		DurationSeconds: int64(reservation.Duration / time.Second),
		AmountCents:     reservation.Amount.Int64(),
		PaymentID:       paymentID,
		CreatedAt:       reservation.CreatedAt.UTC(),
		UpdatedAt:       reservation.UpdatedAt.UTC(),
	}
}

func mapSpot(model Spot) (ledger.Spot, error) {
	spotID, err := ledger.NewSpotID(model.SpotID)
	if err != nil {
		return ledger.Spot{}, err
	}
	blockID, err := ledger.NewBlockID(model.BlockID)
	if err != nil {
		return ledger.Spot{}, err
	}
	flag, err := ledger.ParseSpotFlag(model.Flag)
	if err != nil {
		return ledger.Spot{}, err
	}
	return ledger.Spot{ID: spotID, BlockID: blockID, Name: model.Name, Flag: flag}, nil
}

func mapSpotRow(row spotRow) (ledger.SpotView, error) {
	spot, err := mapSpot(Spot{SpotID: row.SpotID, BlockID: row.BlockID, Name: row.SpotName, Flag: row.Flag})
	if err != nil {
		return ledger.SpotView{}, err
	}
	return ledger.SpotView{
		Spot: spot,
		Location: ledger.SpotLocation{
			SpotName:    row.SpotName,
			BlockName:   row.BlockName,
			FloorName:   row.FloorName,
			FloorNumber: row.FloorNumber,
		},
	}, nil
}

func mapReservations(rows []Reservation) ([]ledger.Reservation, error) {
	reservations := make([]ledger.Reservation, 0, len(rows))
	for _, row := range rows {
		reservation, err := mapReservation(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

func mapReservation(model Reservation) (ledger.Reservation, error) {
	reservationID, err := ledger.NewReservationID(model.ReservationID)
	if err != nil {
		return ledger.Reservation{}, err
	}
	spotID, err := ledger.NewSpotID(model.SpotID)
	if err != nil {
		return ledger.Reservation{}, err
	}
	customerID, err := ledger.NewCustomerID(model.CustomerID)
	if err != nil {
		return ledger.Reservation{}, err
	}
	vehicleID, err := ledger.NewVehicleID(model.VehicleID)
	if err != nil {
		return ledger.Reservation{}, err
	}
	vehicleType, err := ledger.ParseVehicleType(model.VehicleType)
	if err != nil {
		return ledger.Reservation{}, err
	}
	status, err := ledger.ParseReservationStatus(model.Status)
	if err != nil {
		return ledger.Reservation{}, err
	}
	reservation := ledger.Reservation{
		ID:          reservationID,
		SpotID:      spotID,
		CustomerID:  customerID,
		VehicleID:   vehicleID,
		VehicleType: vehicleType,
		Window:      ledger.NewWindow(model.StartAt, model.EndAt),
		Status:      status,
		Plan: ledger.RatePlan{
			BaseHours:  model.BaseHours,
			BaseRate:   ledger.AmountCents(model.BaseRateCents),
			HourlyRate: ledger.AmountCents(model.HourlyRateCents),
		},
		Duration:  time.Duration(model.DurationSeconds) * time.Second,
		Amount:    ledger.AmountCents(model.AmountCents),
		CreatedAt: model.CreatedAt.UTC(),
		UpdatedAt: model.UpdatedAt.UTC(),
	}
	if model.PaymentID != nil {
		paymentID, err := ledger.NewPaymentID(*model.PaymentID)
		if err != nil {
			return ledger.Reservation{}, err
		}
		reservation.PaymentID = paymentID
	}
	return reservation, nil
}

func mapPayment(model Payment) (ledger.Payment, error) {
	paymentID, err := ledger.NewPaymentID(model.PaymentID)
	if err != nil {
		return ledger.Payment{}, err
	}
	reservationID, err := ledger.NewReservationID(model.ReservationID)
	if err != nil {
		return ledger.Payment{}, err
	}
	method, err := ledger.ParsePaymentMethod(model.Method)
	if err != nil {
		return ledger.Payment{}, err
	}
	discount, err := ledger.ParseDiscountType(model.Discount)
	if err != nil {
		return ledger.Payment{}, err
	}
	status, err := ledger.ParsePaymentStatus(model.Status)
	if err != nil {
		return ledger.Payment{}, err
	}
	var details paymentDetails
	if len(model.Details) > 0 {
		if err := json.Unmarshal(model.Details, &details); err != nil {
			return ledger.Payment{}, err
		}
	}
	return ledger.Payment{
		ID:             paymentID,
		ReservationID:  reservationID,
		Amount:         ledger.AmountCents(model.AmountCents),
		OriginalAmount: ledger.AmountCents(model.OriginalAmountCents),
		DiscountAmount: ledger.AmountCents(model.DiscountAmountCents),
		Discount:       discount,
		Method:         method,
		Status:         status,
		ContactEmail:   details.ContactEmail,
		PaidAt:         model.PaidAt.UTC(),
	}, nil
}

func datatypesJSON(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON([]byte(defaultDetailsJSON))
	}
	return datatypes.JSON(raw)
}

// isUniqueViolation matches unique-key failures; a non-empty constraint
// narrows the PostgreSQL match to that index.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xFF
		return code == sqliteBusyCode || code == sqliteLockedCode
	}
	return false
}
