package persistence

import "fmt"

// NewStore creates a Store from configuration. Returns (nil, nil) when
// persistence is disabled (empty store type).
func NewStore(cfg StoreConfig) (Store, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		return NewRedisStore(cfg.Redis)
	case StoreTypeDatabase:
		return NewDatabaseStore(cfg.Database)
	case StoreTypeMongo:
		return NewMongoStore(cfg.Mongo)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
