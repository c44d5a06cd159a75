package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/models"
)

const roomsCollection = "rooms"

type fsRoom struct {
	HypnotistUID    string    `firestore:"hypnotistUid"`
	SubjectsCanDraw bool      `firestore:"subjectsCanDraw"`
	Ending          bool      `firestore:"ending"`
	DeckIndex       int       `firestore:"deckIndex"`
	Deck            []string  `firestore:"deck,omitempty"`
	LastCard        string    `firestore:"lastCard,omitempty"`
	CreatedAt       time.Time `firestore:"createdAt,serverTimestamp"`
	LastActivityAt  time.Time `firestore:"lastActivityAt,serverTimestamp"`
}

type fsParticipant struct {
	UID          string    `firestore:"uid"`
	Role         string    `firestore:"role"`
	DisplayName  string    `firestore:"displayName"`
	LastActiveAt time.Time `firestore:"lastActiveAt"`
	IsTyping     bool      `firestore:"isTyping"`
}

type fsMessage struct {
	UID       string         `firestore:"uid"`
	Type      string         `firestore:"type"`
	Text      string         `firestore:"text"`
	Payload   map[string]any `firestore:"payload,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

type fsEvent struct {
	UID       string         `firestore:"uid"`
	Action    string         `firestore:"action"`
	Payload   map[string]any `firestore:"payload"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

// FirestoreStore keeps rooms in Cloud Firestore using the layout
// rooms/{code}/{participants,messages,events}/{id}.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(ctx context.Context, projectID, credentialsFile string) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (f *FirestoreStore) roomRef(code string) *firestore.DocumentRef {
	return f.client.Collection(roomsCollection).Doc(code)
}

func (f *FirestoreStore) sub(code, collection string) *firestore.CollectionRef {
	return f.roomRef(code).Collection(collection)
}

// mapStatus translates gRPC status codes into store errors.
func mapStatus(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return ErrRecordNotFound
	case codes.AlreadyExists:
		return ErrAlreadyExists
	}
	return err
}

func roomFromSnapshot(code string, snap *firestore.DocumentSnapshot) (*models.Room, error) {
	var doc fsRoom
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.toRoom(code), nil
}

func (d fsRoom) toRoom(code string) *models.Room {
	return &models.Room{
		Code:            code,
		HypnotistUID:    d.HypnotistUID,
		SubjectsCanDraw: d.SubjectsCanDraw,
		Ending:          d.Ending,
		DeckIndex:       d.DeckIndex,
		Deck:            d.Deck,
		LastCard:        d.LastCard,
		CreatedAt:       d.CreatedAt,
		LastActivityAt:  d.LastActivityAt,
	}
}

// toParticipant falls back to the document id for rows written without a uid field.
func (d fsParticipant) toParticipant(id string) models.Participant {
	uid := d.UID
	if uid == "" {
		uid = id
	}
	return models.Participant{
		UID:          uid,
		Role:         models.Role(d.Role),
		DisplayName:  d.DisplayName,
		LastActiveAt: d.LastActiveAt,
		IsTyping:     d.IsTyping,
	}
}

func (d fsEvent) toEvent(id string) models.Event {
	return models.Event{
		ID:        id,
		Action:    models.Action(d.Action),
		Payload:   d.Payload,
		UID:       d.UID,
		CreatedAt: d.CreatedAt,
	}
}

func (d fsMessage) toMessage(id string) models.Message {
	return models.Message{
		ID:        id,
		UID:       d.UID,
		Type:      models.MessageType(d.Type),
		Text:      d.Text,
		Payload:   d.Payload,
		CreatedAt: d.CreatedAt,
	}
}

func (f *FirestoreStore) CreateRoom(ctx context.Context, room *models.Room) error {
	_, err := f.roomRef(room.Code).Create(ctx, fsRoom{
		HypnotistUID:    room.HypnotistUID,
		SubjectsCanDraw: room.SubjectsCanDraw,
		Ending:          room.Ending,
		DeckIndex:       room.DeckIndex,
		Deck:            room.Deck,
		LastCard:        room.LastCard,
	})
	return mapStatus(err)
}

func (f *FirestoreStore) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	snap, err := f.roomRef(code).Get(ctx)
	if err != nil {
		return nil, mapStatus(err)
	}
	return roomFromSnapshot(code, snap)
}

func (f *FirestoreStore) UpdateRoom(ctx context.Context, code string, update RoomUpdate) error {
	var updates []firestore.Update
	if update.Ending != nil {
		updates = append(updates, firestore.Update{Path: "ending", Value: *update.Ending})
	}
	if update.SubjectsCanDraw != nil {
		updates = append(updates, firestore.Update{Path: "subjectsCanDraw", Value: *update.SubjectsCanDraw})
	}
	if update.LastActivityAt != nil {
		updates = append(updates, firestore.Update{Path: "lastActivityAt", Value: firestore.ServerTimestamp})
	}
	if len(updates) == 0 {
		return nil
	}
	_, err := f.roomRef(code).Update(ctx, updates)
	return mapStatus(err)
}

// RunRoomTransaction may call fn more than once when Firestore retries on contention.
func (f *FirestoreStore) RunRoomTransaction(ctx context.Context, code string, fn func(room *models.Room) error) error {
	ref := f.roomRef(code)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return mapStatus(err)
		}
		room, err := roomFromSnapshot(code, snap)
		if err != nil {
			return err
		}
		if err := fn(room); err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "subjectsCanDraw", Value: room.SubjectsCanDraw},
			{Path: "ending", Value: room.Ending},
			{Path: "deckIndex", Value: room.DeckIndex},
			{Path: "deck", Value: room.Deck},
			{Path: "lastCard", Value: room.LastCard},
		})
	})
	return mapStatus(err)
}

func (f *FirestoreStore) DeleteRoom(ctx context.Context, code string) error {
	_, err := f.roomRef(code).Delete(ctx, firestore.Exists)
	return mapStatus(err)
}

func (f *FirestoreStore) UpsertParticipant(ctx context.Context, code string, p models.Participant) error {
	_, err := f.sub(code, models.CollectionParticipants).Doc(p.UID).Set(ctx, map[string]any{
		"uid":          p.UID,
		"role":         string(p.Role),
		"displayName":  p.DisplayName,
		"lastActiveAt": firestore.ServerTimestamp,
		"isTyping":     p.IsTyping,
	}, firestore.MergeAll)
	return mapStatus(err)
}

func (f *FirestoreStore) UpdateParticipant(ctx context.Context, code, uid string, update ParticipantUpdate) error {
	var updates []firestore.Update
	if update.LastActiveAt != nil {
		updates = append(updates, firestore.Update{Path: "lastActiveAt", Value: firestore.ServerTimestamp})
	}
	if update.IsTyping != nil {
		updates = append(updates, firestore.Update{Path: "isTyping", Value: *update.IsTyping})
	}
	if len(updates) == 0 {
		return nil
	}
	_, err := f.sub(code, models.CollectionParticipants).Doc(uid).Update(ctx, updates)
	return mapStatus(err)
}

func participantsFrom(docs []*firestore.DocumentSnapshot) []models.Participant {
	out := make([]models.Participant, 0, len(docs))
	for _, snap := range docs {
		var doc fsParticipant
		if err := snap.DataTo(&doc); err != nil {
			logger.Log.Warnf("Skipping participant %s: %v", snap.Ref.ID, err)
			continue
		}
		out = append(out, doc.toParticipant(snap.Ref.ID))
	}
	return out
}

func (f *FirestoreStore) ListParticipants(ctx context.Context, code string) ([]models.Participant, error) {
	docs, err := f.sub(code, models.CollectionParticipants).Documents(ctx).GetAll()
	if err != nil {
		return nil, mapStatus(err)
	}
	return participantsFrom(docs), nil
}

func (f *FirestoreStore) AppendEvent(ctx context.Context, code string, evt models.Event) (models.Event, error) {
	coll := f.sub(code, models.CollectionEvents)
	ref := coll.NewDoc()
	if evt.ID != "" {
		ref = coll.Doc(evt.ID)
	}
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := ref.Create(ctx, map[string]any{
		"uid":       evt.UID,
		"action":    string(evt.Action),
		"payload":   payload,
		"createdAt": firestore.ServerTimestamp,
	})
	if err != nil {
		return models.Event{}, mapStatus(err)
	}
	evt.ID = ref.ID
	evt.CreatedAt = time.Now().UTC()
	return evt, nil
}

func eventsFrom(docs []*firestore.DocumentSnapshot) []models.Event {
	out := make([]models.Event, 0, len(docs))
	for _, snap := range docs {
		var doc fsEvent
		if err := snap.DataTo(&doc); err != nil {
			// One bad record must not hide the rest of the log.
			logger.Log.Warnf("Skipping event %s: %v", snap.Ref.ID, err)
			continue
		}
		out = append(out, doc.toEvent(snap.Ref.ID))
	}
	return out
}

func (f *FirestoreStore) eventsQuery(code string) firestore.Query {
	return f.sub(code, models.CollectionEvents).OrderBy("createdAt", firestore.Asc)
}

func (f *FirestoreStore) ListEvents(ctx context.Context, code string) ([]models.Event, error) {
	docs, err := f.eventsQuery(code).Documents(ctx).GetAll()
	if err != nil {
		return nil, mapStatus(err)
	}
	return eventsFrom(docs), nil
}

func (f *FirestoreStore) AppendMessage(ctx context.Context, code string, msg models.Message) (models.Message, error) {
	coll := f.sub(code, models.CollectionMessages)
	ref := coll.NewDoc()
	if msg.ID != "" {
		ref = coll.Doc(msg.ID)
	}
	data := map[string]any{
		"uid":       msg.UID,
		"type":      string(msg.Type),
		"text":      msg.Text,
		"createdAt": firestore.ServerTimestamp,
	}
	if msg.Payload != nil {
		data["payload"] = msg.Payload
	}
	if _, err := ref.Create(ctx, data); err != nil {
		return models.Message{}, mapStatus(err)
	}
	msg.ID = ref.ID
	msg.CreatedAt = time.Now().UTC()
	return msg, nil
}

func messagesFrom(docs []*firestore.DocumentSnapshot) []models.Message {
	out := make([]models.Message, 0, len(docs))
	for _, snap := range docs {
		var doc fsMessage
		if err := snap.DataTo(&doc); err != nil {
			logger.Log.Warnf("Skipping message %s: %v", snap.Ref.ID, err)
			continue
		}
		out = append(out, doc.toMessage(snap.Ref.ID))
	}
	return out
}

func (f *FirestoreStore) messagesQuery(code string) firestore.Query {
	return f.sub(code, models.CollectionMessages).OrderBy("createdAt", firestore.Asc)
}

func (f *FirestoreStore) ListMessages(ctx context.Context, code string) ([]models.Message, error) {
	docs, err := f.messagesQuery(code).Documents(ctx).GetAll()
	if err != nil {
		return nil, mapStatus(err)
	}
	return messagesFrom(docs), nil
}

func (f *FirestoreStore) ListPage(ctx context.Context, code, collection string, limit int) ([]string, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	docs, err := f.sub(code, collection).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, mapStatus(err)
	}
	ids := make([]string, len(docs))
	for i, snap := range docs {
		ids[i] = snap.Ref.ID
	}
	return ids, nil
}

// DeleteDocs deletes through a BulkWriter and reports the first failed job.
func (f *FirestoreStore) DeleteDocs(ctx context.Context, code, collection string, ids []string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	coll := f.sub(code, collection)
	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(ids))
	for _, id := range ids {
		job, err := bw.Delete(coll.Doc(id))
		if err != nil {
			bw.End()
			return err
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// listen runs a snapshot iterator until the subscription is closed.
func listen(ctx context.Context, name string, next func() error) {
	for {
		err := next()
		if err == nil {
			continue
		}
		if errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled || ctx.Err() != nil {
			return
		}
		logger.Log.Warnf("Listener %s stopped: %v", name, err)
		return
	}
}

func (f *FirestoreStore) SubscribeEvents(ctx context.Context, code string, fn func([]models.Event)) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := f.eventsQuery(code).Snapshots(ctx)
	go listen(ctx, code+"/events", func() error {
		snap, err := it.Next()
		if err != nil {
			return err
		}
		docs, err := snap.Documents.GetAll()
		if err != nil {
			return err
		}
		fn(eventsFrom(docs))
		return nil
	})
	return SubscriptionFunc(func() { cancel(); it.Stop() }), nil
}

func (f *FirestoreStore) SubscribeMessages(ctx context.Context, code string, fn func([]models.Message)) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := f.messagesQuery(code).Snapshots(ctx)
	go listen(ctx, code+"/messages", func() error {
		snap, err := it.Next()
		if err != nil {
			return err
		}
		docs, err := snap.Documents.GetAll()
		if err != nil {
			return err
		}
		fn(messagesFrom(docs))
		return nil
	})
	return SubscriptionFunc(func() { cancel(); it.Stop() }), nil
}

func (f *FirestoreStore) SubscribeParticipants(ctx context.Context, code string, fn func([]models.Participant)) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := f.sub(code, models.CollectionParticipants).Snapshots(ctx)
	go listen(ctx, code+"/participants", func() error {
		snap, err := it.Next()
		if err != nil {
			return err
		}
		docs, err := snap.Documents.GetAll()
		if err != nil {
			return err
		}
		fn(participantsFrom(docs))
		return nil
	})
	return SubscriptionFunc(func() { cancel(); it.Stop() }), nil
}

func (f *FirestoreStore) SubscribeRoom(ctx context.Context, code string, fn func(*models.Room)) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := f.roomRef(code).Snapshots(ctx)
	go listen(ctx, code, func() error {
		snap, err := it.Next()
		if err != nil {
			return err
		}
		if !snap.Exists() {
			fn(nil)
			return nil
		}
		room, err := roomFromSnapshot(code, snap)
		if err != nil {
			return err
		}
		fn(room)
		return nil
	})
	return SubscriptionFunc(func() { cancel(); it.Stop() }), nil
}

func (f *FirestoreStore) Close() error {
	return f.client.Close()
}
