package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	col *mongo.Collection
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if _, err := r.col.InsertOne(ctx, toSessionDoc(session)); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()}, nil)
}

func (r *SessionRepository) GetByCode(ctx context.Context, code string) (*domain.Session, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "is_active", Value: -1}, {Key: "created_at", Value: -1}})
	return r.findOne(ctx, bson.M{"session_code": strings.ToUpper(code)}, opts)
}

func (r *SessionRepository) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*domain.Session, error) {
	var doc sessionDoc
	var err error
	if opts != nil {
		err = r.col.FindOne(ctx, filter, opts).Decode(&doc)
	} else {
		err = r.col.FindOne(ctx, filter).Decode(&doc)
	}
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return doc.toDomain()
}

func (r *SessionRepository) ListActive(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error) {
	query := bson.M{"is_active": true}
	if filter.ChallengeID != "" {
		query["challenge_id"] = filter.ChallengeID
	}

	cur, err := r.col.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cur.Close(ctx)

	var docs []sessionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}

	sessions := make([]domain.Session, 0, len(docs))
	for _, doc := range docs {
		s, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

func (r *SessionRepository) SetParticipantCount(ctx context.Context, id uuid.UUID, count int) error {
	res, err := r.col.UpdateByID(ctx, id.String(), bson.M{"$set": bson.M{"current_participants": count}})
	if err != nil {
		return fmt.Errorf("failed to update participant count: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) End(ctx context.Context, id uuid.UUID, endedAt time.Time, reason domain.EndReason, finalCode string) error {
	update := bson.M{"$set": bson.M{
		"is_active":            false,
		"current_participants": 0,
		"ended_at":             endedAt,
		"end_reason":           string(reason),
		"final_code":           finalCode,
	}}
	res, err := r.col.UpdateByID(ctx, id.String(), update)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// ParticipantRepository implements domain.ParticipantRepository
type ParticipantRepository struct {
	col *mongo.Collection
}

func (r *ParticipantRepository) Create(ctx context.Context, p *domain.Participant) error {
	if _, err := r.col.InsertOne(ctx, toParticipantDoc(p)); err != nil {
		return fmt.Errorf("failed to create participant: %w", err)
	}
	return nil
}

func (r *ParticipantRepository) GetActive(ctx context.Context, sessionID uuid.UUID, userID string) (*domain.Participant, error) {
	var doc participantDoc
	filter := bson.M{"session_id": sessionID.String(), "user_id": userID, "is_active": true}
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return doc.toDomain()
}

func (r *ParticipantRepository) ListActive(ctx context.Context, sessionID uuid.UUID) ([]domain.Participant, error) {
	filter := bson.M{"session_id": sessionID.String(), "is_active": true}
	cur, err := r.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer cur.Close(ctx)

	var docs []participantDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode participants: %w", err)
	}

	participants := make([]domain.Participant, 0, len(docs))
	for _, doc := range docs {
		p, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		participants = append(participants, *p)
	}
	return participants, nil
}

func (r *ParticipantRepository) Deactivate(ctx context.Context, id uuid.UUID, leftAt time.Time) error {
	filter := bson.M{"_id": id.String(), "is_active": true}
	update := bson.M{"$set": bson.M{"is_active": false, "left_at": leftAt}}
	if _, err := r.col.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to deactivate participant: %w", err)
	}
	return nil
}

func (r *ParticipantRepository) DeactivateAll(ctx context.Context, sessionID uuid.UUID, leftAt time.Time) error {
	filter := bson.M{"session_id": sessionID.String(), "is_active": true}
	update := bson.M{"$set": bson.M{"is_active": false, "left_at": leftAt}}
	if _, err := r.col.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to deactivate participants: %w", err)
	}
	return nil
}

func (r *ParticipantRepository) Touch(ctx context.Context, id uuid.UUID, seenAt time.Time, cursor *domain.CursorPosition) error {
	set := bson.M{"last_seen_at": seenAt}
	if cursor != nil {
		set["cursor_line"] = cursor.Line
		set["cursor_column"] = cursor.Column
	}
	if _, err := r.col.UpdateByID(ctx, id.String(), bson.M{"$set": set}); err != nil {
		return fmt.Errorf("failed to touch participant: %w", err)
	}
	return nil
}

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	col *mongo.Collection
}

func (r *MessageRepository) Create(ctx context.Context, message *domain.ChatMessage) error {
	if _, err := r.col.InsertOne(ctx, toMessageDoc(message)); err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.ChatMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.col.Find(ctx, bson.M{"session_id": sessionID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	messages := make([]domain.ChatMessage, len(docs))
	for i, doc := range docs {
		m, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		// newest first from the query, stored oldest first
		messages[len(docs)-1-i] = *m
	}
	return messages, nil
}
