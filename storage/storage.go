package storage

import "context"

// Keys the storefront keeps in durable local storage.
const (
	KeyCart         = "cart"
	KeyAuthToken    = "authToken"
	KeyAuthUser     = "authUser"
	KeyLegacyUserID = "userId"
)

// Storage is the durable key/value store backing the client session.
// Writes are best-effort; there is no transactional guarantee across keys.
type Storage interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}
