package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/techTenzen/Cricket/internal/domain"
)

// cartTTL drops carts nobody touched for 90 days.
const cartTTL = 90 * 24 * time.Hour

type itemDocument struct {
	ProductID string               `bson:"product_id"`
	Size      string               `bson:"size,omitempty"`
	Quantity  int                  `bson:"quantity"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	AddedAt   time.Time            `bson:"added_at"`
}

type cartDocument struct {
	CartID      string               `bson:"cart_id"`
	UserID      string               `bson:"user_id"`
	Items       []itemDocument       `bson:"items"`
	TotalAmount primitive.Decimal128 `bson:"total_amount"`
	Version     int64                `bson:"version"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var doc cartDocument
	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: user %s", domain.ErrCartNotFound, userID)
		}
		return nil, domain.Unavailable("get cart", err)
	}
	return fromDocument(&doc)
}

func (m *MongoRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	doc, err := toDocument(cart)
	if err != nil {
		return err
	}
	doc.Version = cart.Version + 1

	if cart.Version == 0 {
		_, err := m.collection.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: cart of user %s already exists", domain.ErrConflict, cart.UserID)
		}
		if err != nil {
			return domain.Unavailable("insert cart", err)
		}
		cart.Version = doc.Version
		return nil
	}

	filter := bson.M{"user_id": cart.UserID, "version": cart.Version}
	update := bson.M{
		"$set": bson.M{
			"cart_id":      doc.CartID,
			"items":        doc.Items,
			"total_amount": doc.TotalAmount,
			"version":      doc.Version,
			"updated_at":   doc.UpdatedAt,
		},
	}
	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return domain.Unavailable("update cart", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: cart of user %s moved past version %d", domain.ErrConflict, cart.UserID, cart.Version)
	}
	cart.Version = doc.Version
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(cartTTL.Seconds())),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func toDocument(c *domain.Cart) (*cartDocument, error) {
	total, err := toDecimal128(c.TotalAmount)
	if err != nil {
		return nil, err
	}
	doc := &cartDocument{
		CartID:      c.ID,
		UserID:      c.UserID,
		Items:       make([]itemDocument, 0, len(c.Items)),
		TotalAmount: total,
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	for _, item := range c.Items {
		price, err := toDecimal128(item.UnitPrice)
		if err != nil {
			return nil, err
		}
		doc.Items = append(doc.Items, itemDocument{
			ProductID: item.ProductID,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: price,
			AddedAt:   item.AddedAt,
		})
	}
	return doc, nil
}

func fromDocument(doc *cartDocument) (*domain.Cart, error) {
	total, err := decimal.NewFromString(doc.TotalAmount.String())
	if err != nil {
		return nil, fmt.Errorf("decode cart total: %w", err)
	}
	c := &domain.Cart{
		ID:          doc.CartID,
		UserID:      doc.UserID,
		Items:       make([]domain.CartItem, 0, len(doc.Items)),
		TotalAmount: total,
		Version:     doc.Version,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	for _, item := range doc.Items {
		price, err := decimal.NewFromString(item.UnitPrice.String())
		if err != nil {
			return nil, fmt.Errorf("decode unit price of %s: %w", item.ProductID, err)
		}
		c.Items = append(c.Items, domain.CartItem{
			ProductID: item.ProductID,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: price,
			AddedAt:   item.AddedAt,
		})
	}
	return c, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encode %s as decimal128: %w", d, err)
	}
	return v, nil
}
