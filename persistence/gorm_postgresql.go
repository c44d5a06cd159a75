// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	applog "github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
// Every write is followed by pg_notify so listeners in any process refetch.
type GormPostgreSQL struct {
	db       *gorm.DB
	hub      *watchHub
	channel  string
	listener *PostgresListener
}

// DSN builds the key/value connection string shared by gorm and lib/pq.
func DSN(host string, port int, user, password, dbname string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname, channel string) (*GormPostgreSQL, error) {
	dsn := DSN(host, port, user, password, dbname)

	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold: time.Second,   // 慢SQL阈值
			LogLevel:      logger.Silent, // 日志级别
			Colorful:      false,         // 禁用彩色打印
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	store := &GormPostgreSQL{db: db, hub: newWatchHub(), channel: channel}

	listener, err := NewPostgresListener(dsn, channel, store.hub)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("listen on %s: %w", channel, err)
	}
	store.listener = listener

	return store, nil
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormRoom{},
		&models.GormParticipant{},
		&models.GormMessage{},
		&models.GormEvent{},
	)
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}

// notify publishes a change; a failed notify only delays other listeners until the next write.
func (p *GormPostgreSQL) notify(ctx context.Context, code, collection string) {
	payload := watchKey(code, collection)
	if err := p.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", p.channel, payload).Error; err != nil {
		applog.Log.Warnf("pg_notify %s failed: %v", payload, err)
		p.hub.poke(code, collection)
	}
}

func (p *GormPostgreSQL) CreateRoom(ctx context.Context, room *models.Room) error {
	row := models.GormRoom{
		Code:            room.Code,
		HypnotistUID:    room.HypnotistUID,
		SubjectsCanDraw: room.SubjectsCanDraw,
		Ending:          room.Ending,
		DeckIndex:       room.DeckIndex,
		Deck:            room.Deck,
		LastCard:        room.LastCard,
		LastActivityAt:  time.Now(),
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyExists
		}
		return err
	}
	p.notify(ctx, room.Code, topicRoom)
	return nil
}

func (p *GormPostgreSQL) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	var row models.GormRoom
	if err := p.db.WithContext(ctx).Where("code = ?", code).First(&row).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return row.ToRoom(), nil
}

func (p *GormPostgreSQL) UpdateRoom(ctx context.Context, code string, update RoomUpdate) error {
	fields := map[string]any{}
	if update.Ending != nil {
		fields["ending"] = *update.Ending
	}
	if update.SubjectsCanDraw != nil {
		fields["subjects_can_draw"] = *update.SubjectsCanDraw
	}
	if update.LastActivityAt != nil {
		fields["last_activity_at"] = *update.LastActivityAt
	}
	if len(fields) == 0 {
		return nil
	}

	result := p.db.WithContext(ctx).Model(&models.GormRoom{}).Where("code = ?", code).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	p.notify(ctx, code, topicRoom)
	return nil
}

// RunRoomTransaction locks the room row (SELECT ... FOR UPDATE) for the duration of fn.
func (p *GormPostgreSQL) RunRoomTransaction(ctx context.Context, code string, fn func(room *models.Room) error) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.GormRoom
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("code = ?", code).First(&row).Error; err != nil {
			return mapNotFound(err)
		}

		room := row.ToRoom()
		if err := fn(room); err != nil {
			return err
		}

		row.SubjectsCanDraw = room.SubjectsCanDraw
		row.Ending = room.Ending
		row.DeckIndex = room.DeckIndex
		row.Deck = room.Deck
		row.LastCard = room.LastCard
		row.LastActivityAt = room.LastActivityAt
		return tx.Save(&row).Error
	})
	if err != nil {
		return err
	}
	p.notify(ctx, code, topicRoom)
	return nil
}

func (p *GormPostgreSQL) DeleteRoom(ctx context.Context, code string) error {
	result := p.db.WithContext(ctx).Unscoped().Where("code = ?", code).Delete(&models.GormRoom{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	p.notify(ctx, code, topicRoom)
	return nil
}

func (p *GormPostgreSQL) UpsertParticipant(ctx context.Context, code string, participant models.Participant) error {
	if participant.LastActiveAt.IsZero() {
		participant.LastActiveAt = time.Now()
	}
	row := models.GormParticipant{
		RoomCode:     code,
		UID:          participant.UID,
		Role:         string(participant.Role),
		DisplayName:  participant.DisplayName,
		LastActiveAt: participant.LastActiveAt,
		IsTyping:     participant.IsTyping,
	}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_code"}, {Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "display_name", "last_active_at", "is_typing"}),
	}).Create(&row).Error
	if err != nil {
		return err
	}
	p.notify(ctx, code, models.CollectionParticipants)
	return nil
}

func (p *GormPostgreSQL) UpdateParticipant(ctx context.Context, code, uid string, update ParticipantUpdate) error {
	fields := map[string]any{}
	if update.LastActiveAt != nil {
		fields["last_active_at"] = *update.LastActiveAt
	}
	if update.IsTyping != nil {
		fields["is_typing"] = *update.IsTyping
	}
	if len(fields) == 0 {
		return nil
	}

	result := p.db.WithContext(ctx).Model(&models.GormParticipant{}).
		Where("room_code = ? AND uid = ?", code, uid).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	p.notify(ctx, code, models.CollectionParticipants)
	return nil
}

func (p *GormPostgreSQL) ListParticipants(ctx context.Context, code string) ([]models.Participant, error) {
	var rows []models.GormParticipant
	if err := p.db.WithContext(ctx).Where("room_code = ?", code).Order("created_at asc, uid asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Participant, len(rows))
	for i := range rows {
		out[i] = rows[i].ToParticipant()
	}
	return out, nil
}

// AppendEvent stamps the event with the database clock.
func (p *GormPostgreSQL) AppendEvent(ctx context.Context, code string, evt models.Event) (models.Event, error) {
	row := models.GormEvent{
		ID:       evt.ID,
		RoomCode: code,
		Action:   string(evt.Action),
		Payload:  evt.Payload,
		UID:      evt.UID,
	}
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	err := p.db.WithContext(ctx).Raw("SELECT clock_timestamp()").Scan(&row.CreatedAt).Error
	if err != nil {
		return models.Event{}, err
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Event{}, err
	}
	p.notify(ctx, code, models.CollectionEvents)
	return row.ToEvent(), nil
}

func (p *GormPostgreSQL) ListEvents(ctx context.Context, code string) ([]models.Event, error) {
	var rows []models.GormEvent
	if err := p.db.WithContext(ctx).Where("room_code = ?", code).Order("created_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Event, len(rows))
	for i := range rows {
		out[i] = rows[i].ToEvent()
	}
	return out, nil
}

func (p *GormPostgreSQL) AppendMessage(ctx context.Context, code string, msg models.Message) (models.Message, error) {
	row := models.GormMessage{
		ID:       msg.ID,
		RoomCode: code,
		UID:      msg.UID,
		Type:     string(msg.Type),
		Text:     msg.Text,
		Payload:  msg.Payload,
	}
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	err := p.db.WithContext(ctx).Raw("SELECT clock_timestamp()").Scan(&row.CreatedAt).Error
	if err != nil {
		return models.Message{}, err
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Message{}, err
	}
	p.notify(ctx, code, models.CollectionMessages)
	return row.ToMessage(), nil
}

func (p *GormPostgreSQL) ListMessages(ctx context.Context, code string) ([]models.Message, error) {
	var rows []models.GormMessage
	if err := p.db.WithContext(ctx).Where("room_code = ?", code).Order("created_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Message, len(rows))
	for i := range rows {
		out[i] = rows[i].ToMessage()
	}
	return out, nil
}

// collectionModel maps a sub-collection to its table model and id column.
func collectionModel(collection string) (any, string, error) {
	switch collection {
	case models.CollectionParticipants:
		return &models.GormParticipant{}, "uid", nil
	case models.CollectionMessages:
		return &models.GormMessage{}, "id", nil
	case models.CollectionEvents:
		return &models.GormEvent{}, "id", nil
	}
	return nil, "", ErrUnknownCollection
}

func (p *GormPostgreSQL) ListPage(ctx context.Context, code, collection string, limit int) ([]string, error) {
	model, idColumn, err := collectionModel(collection)
	if err != nil {
		return nil, err
	}
	var ids []string
	err = p.db.WithContext(ctx).Model(model).
		Where("room_code = ?", code).
		Order("created_at asc, " + idColumn + " asc").
		Limit(limit).
		Pluck(idColumn, &ids).Error
	return ids, err
}

func (p *GormPostgreSQL) DeleteDocs(ctx context.Context, code, collection string, ids []string) error {
	model, idColumn, err := collectionModel(collection)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	err = p.db.WithContext(ctx).
		Where("room_code = ? AND "+idColumn+" IN ?", code, ids).
		Delete(model).Error
	if err != nil {
		return err
	}
	p.notify(ctx, code, collection)
	return nil
}

func (p *GormPostgreSQL) SubscribeEvents(ctx context.Context, code string, fn func([]models.Event)) (Subscription, error) {
	return p.hub.add(code, models.CollectionEvents, func() {
		events, err := p.ListEvents(ctx, code)
		if err != nil {
			applog.Log.Warnf("Refetch events of %s failed: %v", code, err)
			return
		}
		fn(events)
	}), nil
}

func (p *GormPostgreSQL) SubscribeMessages(ctx context.Context, code string, fn func([]models.Message)) (Subscription, error) {
	return p.hub.add(code, models.CollectionMessages, func() {
		messages, err := p.ListMessages(ctx, code)
		if err != nil {
			applog.Log.Warnf("Refetch messages of %s failed: %v", code, err)
			return
		}
		fn(messages)
	}), nil
}

func (p *GormPostgreSQL) SubscribeParticipants(ctx context.Context, code string, fn func([]models.Participant)) (Subscription, error) {
	return p.hub.add(code, models.CollectionParticipants, func() {
		participants, err := p.ListParticipants(ctx, code)
		if err != nil {
			applog.Log.Warnf("Refetch participants of %s failed: %v", code, err)
			return
		}
		fn(participants)
	}), nil
}

func (p *GormPostgreSQL) SubscribeRoom(ctx context.Context, code string, fn func(*models.Room)) (Subscription, error) {
	return p.hub.add(code, topicRoom, func() {
		room, err := p.GetRoom(ctx, code)
		if errors.Is(err, ErrRecordNotFound) {
			fn(nil)
			return
		}
		if err != nil {
			applog.Log.Warnf("Refetch room %s failed: %v", code, err)
			return
		}
		fn(room)
	}), nil
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	p.hub.closeAll()
	if p.listener != nil {
		p.listener.Close()
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
