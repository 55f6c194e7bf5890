package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/locomotiv/locomotiv_core/internal/markers"
	"github.com/locomotiv/locomotiv_core/internal/models"
	"github.com/redis/go-redis/v9"
)

var (
	client     *redis.Client
	clientOnce sync.Once
	clientErr  error
)

// MarkerChannel is the Pub/Sub channel carrying marker changes
const MarkerChannel = "train-markers"

// DispatchLockKey guards dispatch runs across API replicas
const DispatchLockKey = "lock:dispatch"

// ErrLockHeld is returned when another owner holds the lock
var ErrLockHeld = errors.New("lock held by another owner")

// Config holds Redis configuration
type Config struct {
	Host      string
	Port      int
	Password  string
	DB        int
	TLS       bool
	MarkerTTL time.Duration
	LockTTL   time.Duration
}

// LoadConfigFromEnv loads Redis configuration from environment variables
func LoadConfigFromEnv() *Config {
	port, _ := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	db, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	markerTTL, _ := time.ParseDuration(getEnv("MARKER_TTL", "5m"))
	lockTTL, _ := time.ParseDuration(getEnv("DISPATCH_LOCK_TTL", "30s"))

	return &Config{
		Host:      getEnv("REDIS_HOST", "localhost"),
		Port:      port,
		Password:  getEnv("REDIS_PASSWORD", ""),
		DB:        db,
		TLS:       getEnv("REDIS_TLS_ENABLED", "false") == "true",
		MarkerTTL: markerTTL,
		LockTTL:   lockTTL,
	}
}

// GetClient returns the global Redis client (singleton pattern)
func GetClient() (*redis.Client, error) {
	clientOnce.Do(func() {
		config := LoadConfigFromEnv()

		opts := &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
			Password:     config.Password,
			DB:           config.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
		}

		// Enable TLS if configured (required for Upstash)
		if config.TLS {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		client = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			clientErr = fmt.Errorf("failed to connect to Redis: %w", err)
			return
		}
	})

	return client, clientErr
}

// Close closes the Redis client
func Close() {
	if client != nil {
		client.Close()
	}
}

// MarkerKey returns the key holding a train's marker
func MarkerKey(trainID int64) string {
	return fmt.Sprintf("marker:train:%d", trainID)
}

// TrainIDFromMarkerKey parses a key built by MarkerKey
func TrainIDFromMarkerKey(key string) (int64, bool) {
	raw, ok := strings.CutPrefix(key, "marker:train:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// MarkerStore mirrors train markers into Redis and announces each change on
// MarkerChannel. Writes are best effort: failures are logged.
type MarkerStore struct {
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewMarkerStore creates a marker store; a ttl <= 0 keeps markers until removed
func NewMarkerStore(rdb *redis.Client, ttl time.Duration) *MarkerStore {
	return &MarkerStore{
		rdb:     rdb,
		ttl:     ttl,
		timeout: 2 * time.Second,
		now:     time.Now,
	}
}

// UpsertMarker stores and publishes a train's marker
func (s *MarkerStore) UpsertMarker(trainID int64, at models.Positioned) {
	lat, lon := at.Coordinates()
	m := markers.Marker{TrainID: trainID, Lat: lat, Lon: lon, UpdatedAt: s.now()}

	data, err := json.Marshal(m)
	if err != nil {
		log.Printf("Warning: failed to marshal marker of train %d: %v", trainID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, MarkerKey(trainID), data, ttl).Err(); err != nil {
		log.Printf("Warning: failed to store marker of train %d: %v", trainID, err)
		return
	}
	s.publish(ctx, markers.Change{Type: markers.EventUpsert, Marker: m})
}

// RemoveMarker deletes and publishes removal of a train's marker
func (s *MarkerStore) RemoveMarker(trainID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.rdb.Del(ctx, MarkerKey(trainID)).Err(); err != nil {
		log.Printf("Warning: failed to delete marker of train %d: %v", trainID, err)
		return
	}
	s.publish(ctx, markers.Change{
		Type:   markers.EventRemove,
		Marker: markers.Marker{TrainID: trainID, UpdatedAt: s.now()},
	})
}

func (s *MarkerStore) publish(ctx context.Context, c markers.Change) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, MarkerChannel, data).Err(); err != nil {
		log.Printf("Warning: failed to publish marker change: %v", err)
	}
}

// List returns every stored marker ordered by train id
func (s *MarkerStore) List(ctx context.Context) ([]markers.Marker, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, "marker:train:*", 100).Iterator()
	for iter.Next(ctx) {
		if _, ok := TrainIDFromMarkerKey(iter.Val()); ok {
			keys = append(keys, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan markers: %w", err)
	}
	if len(keys) == 0 {
		return []markers.Marker{}, nil
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read markers: %w", err)
	}

	list := make([]markers.Marker, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var m markers.Marker
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			log.Printf("Warning: skipping corrupt marker %s: %v", keys[i], err)
			continue
		}
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].TrainID < list[j].TrainID })
	return list, nil
}

// Lock is a distributed lock owned by a random token
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
}

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock takes key for ttl. It returns ErrLockHeld if someone else holds it.
func AcquireLock(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()

	ok, err := rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{rdb: rdb, key: key, token: token}, nil
}

// Release frees the lock if it has not expired and been taken over
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

// HealthCheck performs a health check on the Redis connection
func HealthCheck(ctx context.Context) error {
	client, err := GetClient()
	if err != nil {
		return fmt.Errorf("Redis client not initialized: %w", err)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis ping failed: %w", err)
	}

	return nil
}

// Stats returns Redis connection pool stats
func Stats() map[string]interface{} {
	if client == nil {
		return map[string]interface{}{"connected": false}
	}

	poolStats := client.PoolStats()
	return map[string]interface{}{
		"connected":   clientErr == nil,
		"hits":        poolStats.Hits,
		"misses":      poolStats.Misses,
		"timeouts":    poolStats.Timeouts,
		"total_conns": poolStats.TotalConns,
		"idle_conns":  poolStats.IdleConns,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
