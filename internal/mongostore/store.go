// Package mongostore implements the persistence contracts on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"mobidoc/pkg/interfaces"
	"mobidoc/pkg/types"
)

var _ interfaces.Store = (*Store)(nil)

// Config selects the deployment and database.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Store keeps users, consultations and messages in three collections.
// Message insertion order comes from a counter document since Mongo dates
// only carry millisecond precision.
type Store struct {
	client        *mongo.Client
	db            *mongo.Database
	users         *mongo.Collection
	consultations *mongo.Collection
	messages      *mongo.Collection
	counters      *mongo.Collection
	logger        zerolog.Logger
}

// New connects, pings the primary and ensures indexes exist.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:        client,
		db:            db,
		users:         db.Collection("users"),
		consultations: db.Collection("consultations"),
		messages:      db.Collection("messages"),
		counters:      db.Collection("counters"),
		logger:        logger.With().Str("component", "mongostore").Str("database", cfg.Database).Logger(),
	}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "role", Value: 1}, {Key: "kyc_status", Value: 1}, {Key: "specialties", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create users indexes: %w", err)
	}

	if _, err := s.consultations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "patient_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "doctor_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("failed to create consultations indexes: %w", err)
	}

	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "consultation_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "seq", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create messages index: %w", err)
	}
	return nil
}

type userDoc struct {
	ID            string    `bson:"_id"`
	Name          string    `bson:"name"`
	Email         string    `bson:"email"`
	Phone         string    `bson:"phone,omitempty"`
	Role          string    `bson:"role"`
	KYCStatus     string    `bson:"kyc_status"`
	Specialties   []string  `bson:"specialties"`
	LicenseNumber string    `bson:"license_number,omitempty"`
	Available     bool      `bson:"available"`
	CreatedAt     time.Time `bson:"created_at"`
}

type consultationDoc struct {
	ID             string    `bson:"_id"`
	PatientID      string    `bson:"patient_id"`
	DoctorID       string    `bson:"doctor_id"`
	Specialization string    `bson:"specialization"`
	Status         string    `bson:"status"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

type messageDoc struct {
	ID             string    `bson:"_id"`
	Seq            int64     `bson:"seq"`
	ConsultationID string    `bson:"consultation_id"`
	FromUserID     string    `bson:"from_user_id"`
	ToUserID       *string   `bson:"to_user_id"`
	Text           string    `bson:"text"`
	CreatedAt      time.Time `bson:"created_at"`
}

func (d *userDoc) toUser() *types.User {
	return &types.User{
		ID: d.ID, Name: d.Name, Email: d.Email, Phone: d.Phone,
		Role: types.Role(d.Role), KYCStatus: types.KYCStatus(d.KYCStatus),
		Specialties: d.Specialties, LicenseNumber: d.LicenseNumber,
		Available: d.Available, CreatedAt: d.CreatedAt,
	}
}

func (d *consultationDoc) toConsultation() *types.Consultation {
	return &types.Consultation{
		ID: d.ID, PatientID: d.PatientID, DoctorID: d.DoctorID,
		Specialization: d.Specialization, Status: types.ConsultationStatus(d.Status),
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

// UpsertUser replaces the user document, keeping the original role.
func (s *Store) UpsertUser(ctx context.Context, u *types.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.KYCStatus == "" {
		u.KYCStatus = types.KYCPending
	}

	role := u.Role
	var existing userDoc
	err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: u.ID}}).Decode(&existing)
	switch {
	case err == nil:
		role = types.Role(existing.Role)
	case !errors.Is(err, mongo.ErrNoDocuments):
		return types.StoreError("upsert user", err)
	}

	specialties := u.Specialties
	if specialties == nil {
		specialties = []string{}
	}
	doc := userDoc{
		ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone,
		Role: string(role), KYCStatus: string(u.KYCStatus),
		Specialties: specialties, LicenseNumber: u.LicenseNumber,
		Available: u.Available, CreatedAt: u.CreatedAt.UTC(),
	}
	_, err = s.users.ReplaceOne(ctx, bson.D{{Key: "_id", Value: u.ID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return types.StoreError("upsert user", err)
	}
	return nil
}

// GetUser reads one user.
func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.ErrUserNotFound
	}
	if err != nil {
		return nil, types.StoreError("get user", err)
	}
	return doc.toUser(), nil
}

// FindAvailableDoctor applies the matcher filter, lowest _id first.
func (s *Store) FindAvailableDoctor(ctx context.Context, specialization string) (*types.User, error) {
	filter := bson.D{
		{Key: "role", Value: string(types.RoleDoctor)},
		{Key: "kyc_status", Value: string(types.KYCApproved)},
		{Key: "available", Value: true},
		{Key: "specialties", Value: specialization},
	}
	var doc userDoc
	err := s.users.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.ErrNoDoctorAvailable
	}
	if err != nil {
		return nil, types.StoreError("find available doctor", err)
	}
	return doc.toUser(), nil
}

// CreateConsultation inserts a consultation after checking both parties exist.
func (s *Store) CreateConsultation(ctx context.Context, c *types.Consultation) error {
	for _, id := range []string{c.PatientID, c.DoctorID} {
		n, err := s.users.CountDocuments(ctx, bson.D{{Key: "_id", Value: id}})
		if err != nil {
			return types.StoreError("create consultation", err)
		}
		if n == 0 {
			return types.StoreError("create consultation", fmt.Errorf("unknown user %q", id))
		}
	}

	doc := consultationDoc{
		ID: c.ID, PatientID: c.PatientID, DoctorID: c.DoctorID,
		Specialization: c.Specialization, Status: string(c.Status),
		CreatedAt: c.CreatedAt.UTC(), UpdatedAt: c.UpdatedAt.UTC(),
	}
	if _, err := s.consultations.InsertOne(ctx, doc); err != nil {
		return types.StoreError("create consultation", err)
	}
	return nil
}

// GetConsultation reads one consultation.
func (s *Store) GetConsultation(ctx context.Context, id string) (*types.Consultation, error) {
	var doc consultationDoc
	err := s.consultations.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.ErrConsultationNotFound
	}
	if err != nil {
		return nil, types.StoreError("get consultation", err)
	}
	return doc.toConsultation(), nil
}

// UpdateConsultationStatus sets the status if the document still holds from,
// and returns the updated document.
func (s *Store) UpdateConsultationStatus(ctx context.Context, id string, from, to types.ConsultationStatus) (*types.Consultation, error) {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: string(to)},
		{Key: "updated_at", Value: time.Now().UTC()},
	}}}

	var doc consultationDoc
	err := s.consultations.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "status", Value: string(from)}},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, countErr := s.consultations.CountDocuments(ctx, bson.D{{Key: "_id", Value: id}})
		if countErr != nil {
			return nil, types.StoreError("update consultation status", countErr)
		}
		if n == 0 {
			return nil, types.ErrConsultationNotFound
		}
		return nil, fmt.Errorf("%w: expected %s", types.ErrStatusConflict, from)
	}
	if err != nil {
		return nil, types.StoreError("update consultation status", err)
	}
	return doc.toConsultation(), nil
}

// ListConsultationsByPatient returns newest first.
func (s *Store) ListConsultationsByPatient(ctx context.Context, patientID string) ([]*types.Consultation, error) {
	return s.listConsultations(ctx, bson.D{{Key: "patient_id", Value: patientID}})
}

// ListConsultationsByDoctor returns newest first.
func (s *Store) ListConsultationsByDoctor(ctx context.Context, doctorID string) ([]*types.Consultation, error) {
	return s.listConsultations(ctx, bson.D{{Key: "doctor_id", Value: doctorID}})
}

func (s *Store) listConsultations(ctx context.Context, filter bson.D) ([]*types.Consultation, error) {
	cursor, err := s.consultations.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, types.StoreError("list consultations", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []consultationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, types.StoreError("list consultations", err)
	}

	out := make([]*types.Consultation, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toConsultation())
	}
	return out, nil
}

// AppendMessage stores a message with the next insertion sequence number.
func (s *Store) AppendMessage(ctx context.Context, m *types.Message) error {
	seq, err := s.nextSeq(ctx, "messages")
	if err != nil {
		return types.StoreError("append message", err)
	}

	doc := messageDoc{
		ID: m.ID, Seq: seq, ConsultationID: m.ConsultationID,
		FromUserID: m.FromUserID, Text: m.Text, CreatedAt: m.CreatedAt.UTC(),
	}
	if m.ToUserID != "" {
		to := m.ToUserID
		doc.ToUserID = &to
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return types.StoreError("append message", err)
	}
	return nil
}

// ListMessages returns messages oldest first.
func (s *Store) ListMessages(ctx context.Context, consultationID string) ([]*types.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}})
	cursor, err := s.messages.Find(ctx, bson.D{{Key: "consultation_id", Value: consultationID}}, opts)
	if err != nil {
		return nil, types.StoreError("list messages", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, types.StoreError("list messages", err)
	}

	out := make([]*types.Message, 0, len(docs))
	for _, d := range docs {
		msg := &types.Message{
			ID: d.ID, ConsultationID: d.ConsultationID, FromUserID: d.FromUserID,
			Text: d.Text, CreatedAt: d.CreatedAt,
		}
		if d.ToUserID != nil {
			msg.ToUserID = *d.ToUserID
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *Store) nextSeq(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: name}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	return counter.Seq, err
}

// HealthCheck pings the primary.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return types.StoreError("health check", err)
	}
	return nil
}

// Drop removes the database. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Debug().Msg("disconnecting")
	return s.client.Disconnect(ctx)
}
