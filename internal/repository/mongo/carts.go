// Package mongo stores carts as one document per user.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "carts"

type cartDocument struct {
	ID        string         `bson:"_id"`
	UserID    string         `bson:"user_id"`
	Lines     []lineDocument `bson:"lines"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

type lineDocument struct {
	ID        string    `bson:"id"`
	ProductID string    `bson:"product_id"`
	Quantity  int       `bson:"quantity"`
	AddedAt   time.Time `bson:"added_at"`
}

func (d *cartDocument) toDomain() *domain.Cart {
	c := &domain.Cart{
		ID:        d.ID,
		UserID:    d.UserID,
		Lines:     make([]domain.CartLine, 0, len(d.Lines)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, l := range d.Lines {
		c.Lines = append(c.Lines, domain.CartLine{
			ID:        l.ID,
			CartID:    d.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			AddedAt:   l.AddedAt,
		})
	}
	return c
}

type Carts struct {
	collection *mongo.Collection
}

func NewCarts(db *mongo.Database) *Carts {
	return &Carts{collection: db.Collection(collectionName)}
}

func (m *Carts) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *Carts) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var doc cartDocument
	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.NotFound("cart", userID)
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return doc.toDomain(), nil
}

func (m *Carts) GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	now := time.Now().UTC()
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":        uuid.NewString(),
			"lines":      bson.A{},
			"created_at": now,
			"updated_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc cartDocument
	err := m.collection.FindOneAndUpdate(ctx, bson.M{"user_id": userID}, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// lost the insert race; the winner's cart is there now
		return m.GetCart(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get or create cart: %w", err)
	}
	return doc.toDomain(), nil
}

// AddLine increments an existing line in place, or pushes a new one. Both
// paths are single atomic document updates; a push that loses to a concurrent
// push of the same product falls back to the increment.
func (m *Carts) AddLine(ctx context.Context, userID, productID string, qty int) (*domain.Cart, error) {
	for attempt := 0; attempt < 2; attempt++ {
		merged, err := m.incLine(ctx, userID, productID, qty)
		if err != nil {
			return nil, err
		}
		if merged {
			return m.GetCart(ctx, userID)
		}

		if _, err := m.GetOrCreateCart(ctx, userID); err != nil {
			return nil, err
		}
		pushed, err := m.pushLine(ctx, userID, productID, qty)
		if err != nil {
			return nil, err
		}
		if pushed {
			return m.GetCart(ctx, userID)
		}
	}
	return nil, domain.Conflict("cart line", productID)
}

func (m *Carts) incLine(ctx context.Context, userID, productID string, qty int) (bool, error) {
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"user_id": userID, "lines.product_id": productID},
		bson.M{
			"$inc": bson.M{"lines.$[elem].quantity": qty},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"elem.product_id": productID}},
		}),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update existing line: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (m *Carts) pushLine(ctx context.Context, userID, productID string, qty int) (bool, error) {
	now := time.Now().UTC()
	line := lineDocument{ID: uuid.NewString(), ProductID: productID, Quantity: qty, AddedAt: now}
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"user_id": userID, "lines.product_id": bson.M{"$ne": productID}},
		bson.M{
			"$push": bson.M{"lines": line},
			"$set":  bson.M{"updated_at": now},
		},
	)
	if err != nil {
		return false, fmt.Errorf("failed to add new line: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (m *Carts) UpdateLine(ctx context.Context, userID, lineID string, qty int) error {
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"user_id": userID, "lines.id": lineID},
		bson.M{"$set": bson.M{
			"lines.$[elem].quantity": qty,
			"updated_at":             time.Now().UTC(),
		}},
		options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"elem.id": lineID}},
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to update line quantity: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.NotFound("cart line", lineID)
	}
	return nil
}

func (m *Carts) RemoveLine(ctx context.Context, userID, lineID string) error {
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"user_id": userID, "lines.id": lineID},
		bson.M{
			"$pull": bson.M{"lines": bson.M{"id": lineID}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to remove line: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.NotFound("cart line", lineID)
	}
	return nil
}

func (m *Carts) ClearCart(ctx context.Context, userID string) error {
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{"lines": bson.A{}, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}
