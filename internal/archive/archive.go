package archive

import (
	"context"
	"time"

	"github.com/yanun0323/logs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"main/internal/om"
	"main/internal/schema"
)

// OrderRecord is the archived row for an order that reached a terminal
// state. The archive is write-behind: losing a row never affects the
// session's live state.
type OrderRecord struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"index;size:64"`
	OrderID     uint64 `gorm:"index"`
	IntentID    uint64
	StrategyID  uint32
	Symbol      string `gorm:"size:32"`
	Side        int16
	Type        int16
	Price       int64
	Qty         int64
	FilledQty   int64
	State       string `gorm:"size:16"`
	CreatedTs   int64
	UpdatedTs   int64
	ArchivedAt  time.Time
}

// TableName keeps the table name stable across gorm naming strategies.
func (OrderRecord) TableName() string {
	return "order_records"
}

// Config controls the archive writer.
type Config struct {
	DSN       string
	SessionID string
	QueueSize int
}

// Archive persists terminal orders to PostgreSQL off the event loop.
type Archive struct {
	cfg      Config
	db       *gorm.DB
	registry *schema.Registry
	queue    chan OrderRecord
	done     chan struct{}
}

// New opens the database, migrates the schema, and starts the writer.
func New(cfg Config, reg *schema.Registry) (*Archive, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&OrderRecord{}); err != nil {
		return nil, err
	}
	a := &Archive{
		cfg:      cfg,
		db:       db,
		registry: reg,
		queue:    make(chan OrderRecord, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	go a.run()
	return a, nil
}

// OrderClosed enqueues a terminal order without blocking the caller.
func (a *Archive) OrderClosed(order om.Order) {
	record := OrderRecord{
		SessionID:  a.cfg.SessionID,
		OrderID:    order.ID,
		IntentID:   order.IntentID,
		StrategyID: order.StrategyID,
		Side:       int16(order.Side),
		Type:       int16(order.Type),
		Price:      int64(order.Price),
		Qty:        int64(order.Qty),
		FilledQty:  int64(order.FilledQty),
		State:      order.State.String(),
		CreatedTs:  order.CreatedTs,
		UpdatedTs:  order.UpdatedTs,
		ArchivedAt: time.Now().UTC(),
	}
	if sym, ok := a.registry.Symbol(schema.SymbolID(order.SymbolID)); ok {
		record.Symbol = sym.Name
	}
	select {
	case a.queue <- record:
	default:
		logs.Errorf("archive queue full, dropping order %d", order.ID)
	}
}

// Close drains the queue and closes the connection.
func (a *Archive) Close() error {
	close(a.queue)
	<-a.done

	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SessionOrders returns archived orders for a session, newest first.
func (a *Archive) SessionOrders(ctx context.Context, sessionID string, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []OrderRecord
	err := a.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("updated_ts DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (a *Archive) run() {
	defer close(a.done)
	for record := range a.queue {
		if err := a.db.Create(&record).Error; err != nil {
			logs.Errorf("archive order %d: %+v", record.OrderID, err)
		}
	}
}
