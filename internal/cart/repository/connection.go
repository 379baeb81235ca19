package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/techTenzen/Cricket/internal/domain"
)

// MongoOptions locate the carts database. Zero values fall back to the
// driver defaults, except ConnectTimeout which defaults to 10s.
type MongoOptions struct {
	URI            string
	Database       string
	MaxPoolSize    uint64
	ConnectTimeout time.Duration
}

// ConnectMongoDB returns the carts database once a primary answers a ping.
// ConnectTimeout bounds both dialing and server selection.
func ConnectMongoDB(ctx context.Context, o MongoOptions) (*mongo.Database, error) {
	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	clientOpts := options.Client().
		ApplyURI(o.URI).
		SetAppName("storefront-carts").
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	if o.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(o.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, domain.Unavailable("connect mongodb", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		disconnectCtx, cancelDisconnect := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancelDisconnect()
		_ = client.Disconnect(disconnectCtx)
		return nil, domain.Unavailable("ping mongodb", err)
	}

	return client.Database(o.Database), nil
}

