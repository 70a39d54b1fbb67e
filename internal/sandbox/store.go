package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/dropclaim/internal/database"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	entryTypeIncome        = "income"
	entryTypeWithdraw      = "withdraw"
	withdrawalPending      = "pending"
	orderStatusPending     = 0
	orderStatusClaimed     = 1
	orderStatusExpired     = 2
	defaultMetadataJSON    = "{}"
	errorOperationStore    = "store"
	errorSubjectUser       = "user"
	errorSubjectDevice     = "device"
	errorSubjectOrder      = "order"
	errorSubjectEntry      = "entry"
	errorSubjectBalance    = "balance"
	errorSubjectWithdrawal = "withdrawal"
	errorCodeCreate        = "create"
	errorCodeDuplicate     = "duplicate"
	errorCodeGet           = "get"
	errorCodeList          = "list"
	errorCodeLookup        = "lookup"
	errorCodeUpdate        = "update"
	errorCodeSumTotal      = "sum_total"
	errorCodeSumHolds      = "sum_holds"
	errorCodeSumDaily      = "sum_daily"
)

// Store errors.
var (
	ErrNotFound                = errors.New("not found")
	ErrOrderClaimed            = errors.New("order already claimed")
	ErrOrderExpired            = errors.New("order expired")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrDailyLimitExceeded      = errors.New("daily withdrawal limit exceeded")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// Store persists sandbox state using GORM.
type Store struct {
	db *gorm.DB
}

// NewStore returns a Store backed by db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates every sandbox table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore *Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// LoginUser returns the user bound to openID, creating it on first sight.
func (store *Store) LoginUser(ctx context.Context, openID string) (User, bool, error) {
	user, err := store.userByOpenID(ctx, openID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, false, err
	}
	user = User{OpenID: openID, Nickname: defaultNickname(openID)}
	createErr := store.db.WithContext(ctx).Create(&user).Error
	if database.IsUniqueViolation(createErr) {
		user, err = store.userByOpenID(ctx, openID)
		return user, false, err
	}
	if createErr != nil {
		return User{}, false, wrapStoreError(errorSubjectUser, errorCodeCreate, createErr)
	}
	return user, true, nil
}

func (store *Store) userByOpenID(ctx context.Context, openID string) (User, error) {
	var user User
	err := store.db.WithContext(ctx).Where("open_id = ?", openID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return user, nil
}

// User fetches a user by id.
func (store *Store) User(ctx context.Context, userID string) (User, error) {
	var user User
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	return user, nil
}

// UpdateProfile changes the non-empty editable fields of a user.
func (store *Store) UpdateProfile(ctx context.Context, userID string, nickname string, avatarURL string) (User, error) {
	updates := map[string]any{}
	if nickname != "" {
		updates["nickname"] = nickname
	}
	if avatarURL != "" {
		updates["avatar_url"] = avatarURL
	}
	if len(updates) > 0 {
		err := store.db.WithContext(ctx).Model(&User{}).Where("user_id = ?", userID).Updates(updates).Error
		if err != nil {
			return User{}, wrapStoreError(errorSubjectUser, errorCodeUpdate, err)
		}
	}
	return store.User(ctx, userID)
}

// VerifyUser records a real-name verification. Only the last four characters
// of the id card are kept.
func (store *Store) VerifyUser(ctx context.Context, userID string, realName string, idCard string) error {
	suffix := idCard
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	err := store.db.WithContext(ctx).Model(&User{}).Where("user_id = ?", userID).Updates(map[string]any{
		"real_name":      realName,
		"id_card_suffix": suffix,
		"is_verified":    true,
	}).Error
	return wrapStoreError(errorSubjectUser, errorCodeUpdate, err)
}

// UpsertDevice creates or replaces a device row.
func (store *Store) UpsertDevice(ctx context.Context, device Device) error {
	err := store.db.WithContext(ctx).Save(&device).Error
	return wrapStoreError(errorSubjectDevice, errorCodeCreate, err)
}

// Device fetches a device by id.
func (store *Store) Device(ctx context.Context, deviceID string) (Device, error) {
	var device Device
	err := store.db.WithContext(ctx).Where("device_id = ?", deviceID).Take(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, wrapStoreError(errorSubjectDevice, errorCodeGet, err)
	}
	return device, nil
}

// ActiveDevices lists devices with status 1.
func (store *Store) ActiveDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	err := store.db.WithContext(ctx).Where("status = ?", 1).Find(&devices).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDevice, errorCodeList, err)
	}
	return devices, nil
}

// SearchDevices matches keyword against device names and addresses.
func (store *Store) SearchDevices(ctx context.Context, keyword string, limit int) ([]Device, error) {
	pattern := "%" + strings.ToLower(keyword) + "%"
	var devices []Device
	err := store.db.WithContext(ctx).
		Where("lower(name) LIKE ? OR lower(address) LIKE ?", pattern, pattern).
		Order("device_id").
		Limit(limit).
		Find(&devices).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDevice, errorCodeList, err)
	}
	return devices, nil
}

// OrderByVoucher fetches the order created for a voucher.
func (store *Store) OrderByVoucher(ctx context.Context, voucherID string) (Order, error) {
	var order Order
	err := store.db.WithContext(ctx).Where("voucher_id = ?", voucherID).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, wrapStoreError(errorSubjectOrder, errorCodeLookup, err)
	}
	return order, nil
}

// CreateOrder inserts order. A concurrent insert for the same voucher
// returns the row that won.
func (store *Store) CreateOrder(ctx context.Context, order Order) (Order, error) {
	if order.OrderID == "" {
		order.OrderID = newOrderID(time.Now().UTC())
	}
	err := store.db.WithContext(ctx).Create(&order).Error
	if database.IsUniqueViolation(err) {
		return store.OrderByVoucher(ctx, order.VoucherID)
	}
	if err != nil {
		return Order{}, wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	return order, nil
}

// Order fetches an order by id.
func (store *Store) Order(ctx context.Context, orderID string) (Order, error) {
	var order Order
	err := store.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	return order, nil
}

// UserOrder fetches an order owned by userID.
func (store *Store) UserOrder(ctx context.Context, userID string, orderID string) (Order, error) {
	var order Order
	err := store.db.WithContext(ctx).Where("order_id = ? AND user_id = ?", orderID, userID).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	return order, nil
}

// ListOrders pages through a user's orders, newest first.
func (store *Store) ListOrders(ctx context.Context, userID string, status *int, page int, pageSize int) ([]Order, int64, error) {
	scoped := func() *gorm.DB {
		query := store.db.WithContext(ctx).Model(&Order{}).Where("user_id = ?", userID)
		if status != nil {
			query = query.Where("status = ?", *status)
		}
		return query
	}
	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	var orders []Order
	err := scoped().Order("created_at desc").Order("order_id desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	return orders, total, nil
}

// ClaimResult describes a settled claim.
type ClaimResult struct {
	Order  Order
	Device Device
	User   User
}

// ClaimOrder binds a pending order to userID and posts its amount to the
// user's ledger. An order found past its expiry is marked expired and
// ErrOrderExpired is returned.
func (store *Store) ClaimOrder(ctx context.Context, userID string, orderID string, now time.Time) (ClaimResult, error) {
	var result ClaimResult
	expired := false
	err := store.WithTx(ctx, func(ctx context.Context, txStore *Store) error {
		order, err := txStore.Order(ctx, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case orderStatusClaimed:
			return ErrOrderClaimed
		case orderStatusExpired:
			return ErrOrderExpired
		}
		if now.After(order.ExpiresAt) {
			expired = true
			return txStore.setOrderStatus(ctx, orderID, orderStatusPending, orderStatusExpired)
		}
		claimedAt := now.UTC()
		update := txStore.db.WithContext(ctx).Model(&Order{}).
			Where("order_id = ? AND status = ?", orderID, orderStatusPending).
			Updates(map[string]any{"status": orderStatusClaimed, "user_id": userID, "claimed_at": claimedAt})
		if update.Error != nil {
			return wrapStoreError(errorSubjectOrder, errorCodeUpdate, update.Error)
		}
		if update.RowsAffected == 0 {
			return ErrOrderClaimed
		}
		err = txStore.db.WithContext(ctx).Model(&User{}).Where("user_id = ?", userID).Updates(map[string]any{
			"points":          gorm.Expr("points + ?", order.Points),
			"total_weight_kg": gorm.Expr("total_weight_kg + ?", order.WeightKg),
			"total_carbon_kg": gorm.Expr("total_carbon_kg + ?", order.CarbonKg),
			"total_count":     gorm.Expr("total_count + ?", 1),
		}).Error
		if err != nil {
			return wrapStoreError(errorSubjectUser, errorCodeUpdate, err)
		}
		device, err := txStore.Device(ctx, order.DeviceID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		err = txStore.InsertEntry(ctx, LedgerEntry{
			UserID:         userID,
			Type:           entryTypeIncome,
			AmountCents:    order.AmountCents,
			IdempotencyKey: "claim:" + orderID,
			Remark:         "recycling income-" + device.Name,
			Metadata:       datatypes.JSON(fmt.Sprintf(`{"order_id":%q}`, orderID)),
			CreatedAt:      claimedAt,
		})
		if err != nil {
			return err
		}
		user, err := txStore.User(ctx, userID)
		if err != nil {
			return err
		}
		order.Status = orderStatusClaimed
		order.UserID = &userID
		order.ClaimedAt = &claimedAt
		result = ClaimResult{Order: order, Device: device, User: user}
		return nil
	})
	if err != nil {
		return ClaimResult{}, err
	}
	if expired {
		return ClaimResult{}, ErrOrderExpired
	}
	return result, nil
}

func (store *Store) setOrderStatus(ctx context.Context, orderID string, from int, to int) error {
	err := store.db.WithContext(ctx).Model(&Order{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Update("status", to).Error
	return wrapStoreError(errorSubjectOrder, errorCodeUpdate, err)
}

// InsertEntry appends a ledger entry. Reusing an idempotency key fails with
// ErrDuplicateIdempotencyKey.
func (store *Store) InsertEntry(ctx context.Context, entry LedgerEntry) error {
	if len(entry.Metadata) == 0 {
		entry.Metadata = datatypes.JSON(defaultMetadataJSON)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&entry).Error
	if database.IsUniqueViolation(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ErrDuplicateIdempotencyKey)
	}
	return wrapStoreError(errorSubjectEntry, errorCodeCreate, err)
}

// Balance is a user's wallet position in cents.
type Balance struct {
	TotalCents  int64
	FrozenCents int64
}

// AvailableCents is the balance not held by pending withdrawals.
func (balance Balance) AvailableCents() int64 {
	available := balance.TotalCents - balance.FrozenCents
	if available < 0 {
		return 0
	}
	return available
}

// Balance sums income entries and pending withdrawal holds.
func (store *Store) Balance(ctx context.Context, userID string) (Balance, error) {
	var total sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("user_id = ? AND type = ?", userID, entryTypeIncome).
		Scan(&total).Error
	if err != nil {
		return Balance{}, wrapStoreError(errorSubjectBalance, errorCodeSumTotal, err)
	}
	var frozen sqlSum
	err = store.db.WithContext(ctx).
		Model(&Withdrawal{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("user_id = ? AND status = ?", userID, withdrawalPending).
		Scan(&frozen).Error
	if err != nil {
		return Balance{}, wrapStoreError(errorSubjectBalance, errorCodeSumHolds, err)
	}
	return Balance{TotalCents: total.Total, FrozenCents: frozen.Total}, nil
}

// ListEntries pages through a user's ledger, newest first.
func (store *Store) ListEntries(ctx context.Context, userID string, page int, pageSize int) ([]LedgerEntry, int64, error) {
	scoped := func() *gorm.DB {
		return store.db.WithContext(ctx).Model(&LedgerEntry{}).Where("user_id = ?", userID)
	}
	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	var entries []LedgerEntry
	err := scoped().Order("created_at desc").Order("entry_id desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, total, nil
}

// WithdrawalRequest describes a withdrawal to hold against a balance.
type WithdrawalRequest struct {
	UserID      string
	AmountCents int64
	Channel     string
	DailyLimit  int64
	Now         time.Time
}

// Withdraw freezes the requested amount as a pending withdrawal.
func (store *Store) Withdraw(ctx context.Context, request WithdrawalRequest) (Withdrawal, error) {
	var withdrawal Withdrawal
	err := store.WithTx(ctx, func(ctx context.Context, txStore *Store) error {
		balance, err := txStore.Balance(ctx, request.UserID)
		if err != nil {
			return err
		}
		if request.AmountCents > balance.AvailableCents() {
			return ErrInsufficientFunds
		}
		dayStart := request.Now.UTC().Truncate(24 * time.Hour)
		var daily sqlSum
		err = txStore.db.WithContext(ctx).
			Model(&Withdrawal{}).
			Select("coalesce(sum(amount_cents),0) as total").
			Where("user_id = ? AND created_at >= ?", request.UserID, dayStart).
			Scan(&daily).Error
		if err != nil {
			return wrapStoreError(errorSubjectWithdrawal, errorCodeSumDaily, err)
		}
		if request.DailyLimit > 0 && daily.Total+request.AmountCents > request.DailyLimit {
			return ErrDailyLimitExceeded
		}
		withdrawal = Withdrawal{
			WithdrawalID: uuid.NewString(),
			UserID:       request.UserID,
			AmountCents:  request.AmountCents,
			Channel:      request.Channel,
			Status:       withdrawalPending,
			CreatedAt:    request.Now.UTC(),
		}
		if err := txStore.db.WithContext(ctx).Create(&withdrawal).Error; err != nil {
			return wrapStoreError(errorSubjectWithdrawal, errorCodeCreate, err)
		}
		return txStore.InsertEntry(ctx, LedgerEntry{
			UserID:         request.UserID,
			Type:           entryTypeWithdraw,
			AmountCents:    request.AmountCents,
			WithdrawalID:   &withdrawal.WithdrawalID,
			IdempotencyKey: "withdraw:" + withdrawal.WithdrawalID,
			Remark:         "withdrawal-" + request.Channel,
			CreatedAt:      request.Now.UTC(),
		})
	})
	if err != nil {
		return Withdrawal{}, err
	}
	return withdrawal, nil
}

type sqlSum struct {
	Total int64
}

func newOrderID(now time.Time) string {
	return "ORD" + now.Format("20060102150405") + shortHex(6)
}

func shortHex(length int) string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:length]
}

func defaultNickname(openID string) string {
	suffix := openID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "user-" + suffix
}

func wrapStoreError(subject string, code string, err error) error {
	return gateway.WrapError(errorOperationStore, subject, code, err)
}
