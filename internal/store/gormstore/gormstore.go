package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/drops/pkg/drops"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectLocation    = "location"
	errorSubjectDrop        = "drop"
	errorSubjectDropProduct = "drop_product"
	errorSubjectReservation = "reservation"
	errorSubjectClient      = "client"
	errorSubjectOrder       = "order"
	errorCodeCreate         = "create"
	errorCodeDelete         = "delete"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeRebind         = "rebind"
	errorCodeReserve        = "reserve"
	errorCodeRelease        = "release"
	errorCodeCommit         = "commit"
	errorCodeSetStock       = "set_stock"
	errorCodeUpdateStatus   = "update_status"
	errorCodeCount          = "count"
)

// Store implements drops.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore drops.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetLocation(ctx context.Context, locationID drops.LocationID) (drops.Location, error) {
	var model Location
	err := store.db.WithContext(ctx).
		Where("location_id = ?", locationID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return drops.Location{}, wrapStoreError(errorSubjectLocation, errorCodeGet, drops.ErrUnknownLocation)
		}
		return drops.Location{}, wrapStoreError(errorSubjectLocation, errorCodeGet, err)
	}
	return mapLocation(model)
}

func (store *Store) CreateDrop(ctx context.Context, drop drops.Drop) error {
	model := Drop{
		DropID:         drop.DropID.String(),
		LocationID:     drop.LocationID.String(),
		DropDate:       drop.Date.UTC(),
		Status:         drop.Status.String(),
		PickupDeadline: drop.PickupDeadline,
		Notes:          drop.Notes,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectDrop, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetDrop(ctx context.Context, dropID drops.DropID) (drops.Drop, error) {
	var model Drop
	err := store.db.WithContext(ctx).
		Where("drop_id = ?", dropID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return drops.Drop{}, wrapStoreError(errorSubjectDrop, errorCodeGet, drops.ErrUnknownDrop)
		}
		return drops.Drop{}, wrapStoreError(errorSubjectDrop, errorCodeGet, err)
	}
	return mapDrop(model)
}

func (store *Store) ListDrops(ctx context.Context, limit int) ([]drops.Drop, error) {
	var rows []Drop
	query := store.db.WithContext(ctx).Order("drop_date DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectDrop, errorCodeList, err)
	}
	return mapDrops(rows)
}

func (store *Store) ListDropsByStatus(ctx context.Context, status drops.DropStatus) ([]drops.Drop, error) {
	var rows []Drop
	err := store.db.WithContext(ctx).
		Where("status = ?", status.String()).
		Order("pickup_deadline ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDrop, errorCodeList, err)
	}
	return mapDrops(rows)
}

func (store *Store) UpdateDropStatus(ctx context.Context, dropID drops.DropID, from drops.DropStatus, to drops.DropStatus, frozenDeadline *time.Time) error {
	updates := map[string]interface{}{"status": to.String()}
	if frozenDeadline != nil {
		value := frozenDeadline.UTC()
		updates["pickup_deadline"] = &value
	}
	result := store.db.WithContext(ctx).
		Model(&Drop{}).
		Where("drop_id = ? AND status = ?", dropID.String(), from.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectDrop, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		if exists, err := store.dropExists(ctx, dropID); err != nil {
			return err
		} else if !exists {
			return wrapStoreError(errorSubjectDrop, errorCodeUpdateStatus, drops.ErrUnknownDrop)
		}
		return wrapStoreError(errorSubjectDrop, errorCodeUpdateStatus, drops.ErrInvalidTransition)
	}
	return nil
}

func (store *Store) DeleteDrop(ctx context.Context, dropID drops.DropID) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		err := transaction.
			Where("drop_product_id IN (?)", transaction.Model(&DropProduct{}).Select("drop_product_id").Where("drop_id = ?", dropID.String())).
			Delete(&StockReservation{}).Error
		if err != nil {
			return wrapStoreError(errorSubjectReservation, errorCodeDelete, err)
		}
		if err := transaction.Where("drop_id = ?", dropID.String()).Delete(&DropProduct{}).Error; err != nil {
			return wrapStoreError(errorSubjectDropProduct, errorCodeDelete, err)
		}
		result := transaction.Where("drop_id = ?", dropID.String()).Delete(&Drop{})
		if result.Error != nil {
			return wrapStoreError(errorSubjectDrop, errorCodeDelete, result.Error)
		}
		if result.RowsAffected == 0 {
			return wrapStoreError(errorSubjectDrop, errorCodeDelete, drops.ErrUnknownDrop)
		}
		return nil
	})
}

func (store *Store) CreateDropProduct(ctx context.Context, dropProduct drops.DropProduct) error {
	model := DropProduct{
		DropProductID:     dropProduct.DropProductID.String(),
		DropID:            dropProduct.DropID.String(),
		ProductID:         dropProduct.ProductID.String(),
		StockQuantity:     dropProduct.StockQuantity,
		ReservedQuantity:  dropProduct.ReservedQuantity,
		SellingPriceCents: dropProduct.SellingPriceCents.Int64(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectDropProduct, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectDropProduct, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetDropProduct(ctx context.Context, dropProductID drops.DropProductID) (drops.DropProduct, error) {
	var model DropProduct
	err := store.db.WithContext(ctx).
		Where("drop_product_id = ?", dropProductID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return drops.DropProduct{}, wrapStoreError(errorSubjectDropProduct, errorCodeGet, drops.ErrUnknownDropProduct)
		}
		return drops.DropProduct{}, wrapStoreError(errorSubjectDropProduct, errorCodeGet, err)
	}
	return mapDropProduct(model)
}

func (store *Store) ListDropProducts(ctx context.Context, dropID drops.DropID) ([]drops.DropProduct, error) {
	var rows []DropProduct
	err := store.db.WithContext(ctx).
		Where("drop_id = ?", dropID.String()).
		Order("product_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDropProduct, errorCodeList, err)
	}
	mapped := make([]drops.DropProduct, 0, len(rows))
	for _, row := range rows {
		dropProduct, err := mapDropProduct(row)
		if err != nil {
			return nil, err
		}
		mapped = append(mapped, dropProduct)
	}
	return mapped, nil
}

func (store *Store) SetStockQuantity(ctx context.Context, dropProductID drops.DropProductID, stock int64) error {
	result := store.db.WithContext(ctx).
		Model(&DropProduct{}).
		Where("drop_product_id = ? AND reserved_quantity <= ?", dropProductID.String(), stock).
		Update("stock_quantity", stock)
	if result.Error != nil {
		return wrapStoreError(errorSubjectDropProduct, errorCodeSetStock, result.Error)
	}
	if result.RowsAffected == 0 {
		if exists, err := store.dropProductExists(ctx, dropProductID); err != nil {
			return err
		} else if !exists {
			return wrapStoreError(errorSubjectDropProduct, errorCodeSetStock, drops.ErrUnknownDropProduct)
		}
		return wrapStoreError(errorSubjectDropProduct, errorCodeSetStock, drops.ErrStockBelowReserved)
	}
	return nil
}

// ReserveStock is the single conditional update the whole no-oversell
// guarantee rests on: the increment only applies while enough unreserved
// stock remains, so concurrent reservations of the last unit cannot both
// succeed.
func (store *Store) ReserveStock(ctx context.Context, dropProductID drops.DropProductID, quantity drops.Quantity) error {
	result := store.db.WithContext(ctx).
		Model(&DropProduct{}).
		Where("drop_product_id = ? AND stock_quantity - reserved_quantity >= ?", dropProductID.String(), quantity.Int64()).
		Update("reserved_quantity", gorm.Expr("reserved_quantity + ?", quantity.Int64()))
	if result.Error != nil {
		return wrapStoreError(errorSubjectDropProduct, errorCodeReserve, result.Error)
	}
	if result.RowsAffected == 0 {
		if exists, err := store.dropProductExists(ctx, dropProductID); err != nil {
			return err
		} else if !exists {
			return wrapStoreError(errorSubjectDropProduct, errorCodeReserve, drops.ErrUnknownDropProduct)
		}
		return wrapStoreError(errorSubjectDropProduct, errorCodeReserve, drops.ErrInsufficientStock)
	}
	return nil
}

func (store *Store) ReleaseStock(ctx context.Context, dropProductID drops.DropProductID, quantity drops.Quantity) error {
	result := store.db.WithContext(ctx).
		Model(&DropProduct{}).
		Where("drop_product_id = ? AND reserved_quantity >= ?", dropProductID.String(), quantity.Int64()).
		Update("reserved_quantity", gorm.Expr("reserved_quantity - ?", quantity.Int64()))
	if result.Error != nil {
		return wrapStoreError(errorSubjectDropProduct, errorCodeRelease, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectDropProduct, errorCodeRelease, drops.ErrStockInconsistent)
	}
	return nil
}

func (store *Store) CommitStock(ctx context.Context, dropProductID drops.DropProductID, quantity drops.Quantity) error {
	result := store.db.WithContext(ctx).
		Model(&DropProduct{}).
		Where("drop_product_id = ? AND reserved_quantity >= ?", dropProductID.String(), quantity.Int64()).
		Updates(map[string]interface{}{
			"stock_quantity":    gorm.Expr("stock_quantity - ?", quantity.Int64()),
			"reserved_quantity": gorm.Expr("reserved_quantity - ?", quantity.Int64()),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectDropProduct, errorCodeCommit, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectDropProduct, errorCodeCommit, drops.ErrStockInconsistent)
	}
	return nil
}

func (store *Store) CreateStockReservation(ctx context.Context, reservation drops.StockReservation) error {
	model := StockReservation{
		IntentID:      reservation.IntentID.String(),
		DropProductID: reservation.DropProductID.String(),
		Quantity:      reservation.Quantity.Int64(),
		Status:        reservation.Status.String(),
		CreatedAt:     time.Unix(reservation.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, drops.ErrReservationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) ListReservationsByIntent(ctx context.Context, intentID drops.IntentID) ([]drops.StockReservation, error) {
	var rows []StockReservation
	err := store.db.WithContext(ctx).
		Where("intent_id = ?", intentID.String()).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return mapReservations(rows)
}

func (store *Store) ListActiveReservationsByDrop(ctx context.Context, dropID drops.DropID) ([]drops.StockReservation, error) {
	var rows []StockReservation
	err := store.db.WithContext(ctx).
		Model(&StockReservation{}).
		Select("stock_reservations.*").
		Joins("JOIN drop_products ON drop_products.drop_product_id = stock_reservations.drop_product_id").
		Where("drop_products.drop_id = ? AND stock_reservations.status = ?", dropID.String(), drops.ReservationStatusActive.String()).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return mapReservations(rows)
}

func (store *Store) ListStaleActiveReservations(ctx context.Context, beforeUnixUTC int64) ([]drops.StockReservation, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	var rows []StockReservation
	err := store.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", drops.ReservationStatusActive.String(), before).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	return mapReservations(rows)
}

func (store *Store) UpdateReservationStatus(ctx context.Context, intentID drops.IntentID, dropProductID drops.DropProductID, from drops.ReservationStatus, to drops.ReservationStatus) error {
	result := store.db.WithContext(ctx).
		Model(&StockReservation{}).
		Where("intent_id = ? AND drop_product_id = ? AND status = ?", intentID.String(), dropProductID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, drops.ErrReservationClosed)
	}
	return nil
}

func (store *Store) RebindReservationIntent(ctx context.Context, from drops.IntentID, to drops.IntentID) error {
	result := store.db.WithContext(ctx).
		Model(&StockReservation{}).
		Where("intent_id = ?", from.String()).
		Update("intent_id", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeRebind, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeRebind, drops.ErrUnknownIntent)
	}
	return nil
}

func (store *Store) GetOrCreateClientID(ctx context.Context, customer drops.CustomerInfo) (drops.ClientID, error) {
	var client Client
	err := store.db.WithContext(ctx).
		Where(Client{Email: customer.Email}).
		Attrs(Client{Name: customer.Name, Phone: customer.Phone}).
		FirstOrCreate(&client).Error
	if err != nil {
		return drops.ClientID{}, wrapStoreError(errorSubjectClient, errorCodeLookup, err)
	}
	clientID, err := drops.NewClientID(client.ClientID)
	if err != nil {
		return drops.ClientID{}, wrapStoreError(errorSubjectClient, errorCodeInvalid, err)
	}
	return clientID, nil
}

func (store *Store) CreateOrder(ctx context.Context, order drops.Order, lines []drops.OrderProduct) error {
	model := Order{
		OrderID:    order.OrderID.String(),
		IntentID:   order.IntentID.String(),
		DropID:     order.DropID.String(),
		ClientID:   order.ClientID.String(),
		Status:     order.Status.String(),
		TotalCents: order.TotalCents.Int64(),
		PickupAt:   order.PickupAt.UTC(),
		Snapshot:   datatypesJSON(order.SnapshotJSON),
		CreatedAt:  time.Unix(order.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, drops.ErrOrderExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	for _, line := range lines {
		lineModel := OrderProduct{
			OrderID:        line.OrderID.String(),
			DropProductID:  line.DropProductID.String(),
			Quantity:       line.Quantity.Int64(),
			UnitPriceCents: line.UnitPriceCents.Int64(),
		}
		if err := store.db.WithContext(ctx).Create(&lineModel).Error; err != nil {
			return wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
		}
	}
	return nil
}

func (store *Store) FindOrderByIntent(ctx context.Context, intentID drops.IntentID) (drops.Order, error) {
	var model Order
	err := store.db.WithContext(ctx).
		Where("intent_id = ?", intentID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return drops.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, drops.ErrOrderNotFound)
		}
		return drops.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	return mapOrder(model)
}

func (store *Store) CountOrdersByDrop(ctx context.Context, dropID drops.DropID) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("drop_id = ?", dropID.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectOrder, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) dropExists(ctx context.Context, dropID drops.DropID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Drop{}).
		Where("drop_id = ?", dropID.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectDrop, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *Store) dropProductExists(ctx context.Context, dropProductID drops.DropProductID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&DropProduct{}).
		Where("drop_product_id = ?", dropProductID.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectDropProduct, errorCodeLookup, err)
	}
	return count > 0, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return drops.WrapError(errorOperationStore, subject, code, err)
}

func mapLocation(model Location) (drops.Location, error) {
	locationID, err := drops.NewLocationID(model.LocationID)
	if err != nil {
		return drops.Location{}, wrapStoreError(errorSubjectLocation, errorCodeInvalid, err)
	}
	return drops.Location{
		LocationID:         locationID,
		Name:               model.Name,
		PickupStartMinutes: model.PickupStartMinutes,
		PickupEndMinutes:   model.PickupEndMinutes,
		Timezone:           model.Timezone,
	}, nil
}

func mapDrop(model Drop) (drops.Drop, error) {
	dropID, err := drops.NewDropID(model.DropID)
	if err != nil {
		return drops.Drop{}, wrapStoreError(errorSubjectDrop, errorCodeInvalid, err)
	}
	locationID, err := drops.NewLocationID(model.LocationID)
	if err != nil {
		return drops.Drop{}, wrapStoreError(errorSubjectDrop, errorCodeInvalid, err)
	}
	status, err := drops.ParseDropStatus(model.Status)
	if err != nil {
		return drops.Drop{}, wrapStoreError(errorSubjectDrop, errorCodeInvalid, err)
	}
	return drops.Drop{
		DropID:         dropID,
		LocationID:     locationID,
		Date:           model.DropDate,
		Status:         status,
		PickupDeadline: model.PickupDeadline,
		Notes:          model.Notes,
	}, nil
}

func mapDrops(rows []Drop) ([]drops.Drop, error) {
	mapped := make([]drops.Drop, 0, len(rows))
	for _, row := range rows {
		drop, err := mapDrop(row)
		if err != nil {
			return nil, err
		}
		mapped = append(mapped, drop)
	}
	return mapped, nil
}

func mapDropProduct(model DropProduct) (drops.DropProduct, error) {
	dropProductID, err := drops.NewDropProductID(model.DropProductID)
	if err != nil {
		return drops.DropProduct{}, wrapStoreError(errorSubjectDropProduct, errorCodeInvalid, err)
	}
	dropID, err := drops.NewDropID(model.DropID)
	if err != nil {
		return drops.DropProduct{}, wrapStoreError(errorSubjectDropProduct, errorCodeInvalid, err)
	}
	productID, err := drops.NewProductID(model.ProductID)
	if err != nil {
		return drops.DropProduct{}, wrapStoreError(errorSubjectDropProduct, errorCodeInvalid, err)
	}
	return drops.DropProduct{
		DropProductID:     dropProductID,
		DropID:            dropID,
		ProductID:         productID,
		StockQuantity:     model.StockQuantity,
		ReservedQuantity:  model.ReservedQuantity,
		SellingPriceCents: drops.PriceCents(model.SellingPriceCents),
	}, nil
}

func mapReservations(rows []StockReservation) ([]drops.StockReservation, error) {
	mapped := make([]drops.StockReservation, 0, len(rows))
	for _, row := range rows {
		reservation, err := mapReservation(row)
		if err != nil {
			return nil, err
		}
		mapped = append(mapped, reservation)
	}
	return mapped, nil
}

func mapReservation(model StockReservation) (drops.StockReservation, error) {
	intentID, err := drops.NewIntentID(model.IntentID)
	if err != nil {
		return drops.StockReservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	dropProductID, err := drops.NewDropProductID(model.DropProductID)
	if err != nil {
		return drops.StockReservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	quantity, err := drops.NewQuantity(model.Quantity)
	if err != nil {
		return drops.StockReservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	status, err := drops.ParseReservationStatus(model.Status)
	if err != nil {
		return drops.StockReservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return drops.StockReservation{
		IntentID:       intentID,
		DropProductID:  dropProductID,
		Quantity:       quantity,
		Status:         status,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func mapOrder(model Order) (drops.Order, error) {
	orderID, err := drops.NewOrderID(model.OrderID)
	if err != nil {
		return drops.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	intentID, err := drops.NewIntentID(model.IntentID)
	if err != nil {
		return drops.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	dropID, err := drops.NewDropID(model.DropID)
	if err != nil {
		return drops.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	clientID, err := drops.NewClientID(model.ClientID)
	if err != nil {
		return drops.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	status, err := drops.ParseOrderStatus(model.Status)
	if err != nil {
		return drops.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	totalCents, err := drops.NewPriceCents(model.TotalCents)
	if err != nil {
		return drops.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return drops.Order{
		OrderID:        orderID,
		IntentID:       intentID,
		DropID:         dropID,
		ClientID:       clientID,
		Status:         status,
		TotalCents:     totalCents,
		PickupAt:       model.PickupAt,
		SnapshotJSON:   string(model.Snapshot),
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
