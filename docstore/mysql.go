package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"

	"map-engine/config"
)

// Consecutive poll failures tolerated before a subscription fails terminally.
const maxPollFailures = 3

var collectionName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// MySQLStore serves collections from MySQL. Change detection polls a cheap
// count/max-timestamp probe; only when the probe moves does it fetch the full
// collection and fan it out.
type MySQLStore struct {
	db           *sql.DB
	pollInterval time.Duration
	notifier     *Notifier
}

// NewMySQLStore opens the connection pool and verifies connectivity. The
// database may still be coming up when the service starts, so the initial
// ping retries with backoff until cfg.DBPingTimeout.
func NewMySQLStore(cfg *config.Config) (*MySQLStore, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := awaitPing(db, cfg.DBPingTimeout); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Infof("document store connected to %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)

	return &MySQLStore{db: db, pollInterval: cfg.PollInterval}, nil
}

func awaitPing(db *sql.DB, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	waitInterval := time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		pingErr := db.PingContext(ctx)
		cancel()
		if pingErr == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database ping timeout after %v: %w", maxWait, pingErr)
		}
		log.Warnf("database connection failed, retrying in %v: %v", waitInterval, pingErr)
		time.Sleep(waitInterval)
		waitInterval *= 2
		if waitInterval > 30*time.Second {
			waitInterval = 30 * time.Second
		}
	}
}

// SetNotifier attaches a change notifier. Notifications are best-effort and
// never interfere with snapshot delivery.
func (s *MySQLStore) SetNotifier(n *Notifier) {
	s.notifier = n
}

// Close closes the connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// EnsureCollection creates the collection table if it doesn't exist.
// Latitude, longitude and created_at are nullable: client apps have shipped
// records without them, and the engine excludes such records at render time
// rather than rejecting the rows.
func (s *MySQLStore) EnsureCollection(ctx context.Context, collection string) error {
	if !collectionName.MatchString(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			category VARCHAR(64) NOT NULL DEFAULT 'Other',
			description TEXT,
			photo_url VARCHAR(2048),
			latitude DOUBLE NULL,
			longitude DOUBLE NULL,
			address VARCHAR(512),
			status VARCHAR(32) NOT NULL DEFAULT 'pending',
			reporter_name VARCHAR(256),
			created_at TIMESTAMP NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_updated_at (updated_at)
		)
	`, collection)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}
	return nil
}

// Snapshot fetches the complete current contents of a collection.
func (s *MySQLStore) Snapshot(ctx context.Context, collection string) ([]Document, error) {
	if !collectionName.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY id ASC", collection))
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// Subscribe starts a polling subscription delivering the current contents
// immediately and a fresh snapshot after every detected change.
func (s *MySQLStore) Subscribe(ctx context.Context, collection string) (Subscription, error) {
	if !collectionName.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}

	sub := &mysqlSub{
		snapshots: make(chan []Document, 1),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
	}
	go s.pollLoop(ctx, collection, sub)
	return sub, nil
}

type probeResult struct {
	count   int
	lastMod time.Time
}

func (s *MySQLStore) probe(ctx context.Context, collection string) (probeResult, error) {
	var p probeResult
	query := fmt.Sprintf("SELECT COUNT(*), COALESCE(MAX(updated_at), FROM_UNIXTIME(0)) FROM %s", collection)
	err := s.db.QueryRowContext(ctx, query).Scan(&p.count, &p.lastMod)
	if err != nil {
		return p, fmt.Errorf("failed to probe collection %s: %w", collection, err)
	}
	return p, nil
}

func (s *MySQLStore) pollLoop(ctx context.Context, collection string, sub *mysqlSub) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var last probeResult
	failures := 0

	// Deliver the current contents right away so subscribers render without
	// waiting out a poll interval.
	if p, err := s.probe(ctx, collection); err != nil {
		failures++
		log.Warnf("initial probe of %s failed: %v", collection, err)
	} else if docs, err := s.Snapshot(ctx, collection); err != nil {
		failures++
		log.Warnf("initial snapshot of %s failed: %v", collection, err)
	} else {
		last = p
		sub.push(docs)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-ticker.C:
			p, err := s.probe(ctx, collection)
			if err != nil {
				failures++
				if failures >= maxPollFailures {
					sub.fail(fmt.Errorf("subscription to %s lost: %w", collection, err))
					return
				}
				continue
			}
			if p == last {
				failures = 0
				continue
			}
			docs, err := s.Snapshot(ctx, collection)
			if err != nil {
				failures++
				if failures >= maxPollFailures {
					sub.fail(fmt.Errorf("subscription to %s lost: %w", collection, err))
					return
				}
				continue
			}
			failures = 0
			last = p
			sub.push(docs)
			s.notifyChange(collection, len(docs))
		}
	}
}

func (s *MySQLStore) notifyChange(collection string, count int) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyChange(collection, count); err != nil {
		log.Warnf("change notification for %s failed: %v", collection, err)
	}
}

type mysqlSub struct {
	snapshots chan []Document
	errs      chan error
	done      chan struct{}
	once      sync.Once
}

func (sub *mysqlSub) Snapshots() <-chan []Document { return sub.snapshots }

func (sub *mysqlSub) Err() <-chan error { return sub.errs }

func (sub *mysqlSub) Cancel() {
	sub.once.Do(func() { close(sub.done) })
}

// push hands a snapshot to the consumer. A consumer that hasn't drained the
// previous snapshot only needs the newest one, so the stale value is dropped
// rather than blocking the poll loop.
func (sub *mysqlSub) push(docs []Document) {
	select {
	case sub.snapshots <- docs:
		return
	default:
	}
	select {
	case <-sub.snapshots:
	default:
	}
	select {
	case sub.snapshots <- docs:
	default:
	}
}

func (sub *mysqlSub) fail(err error) {
	select {
	case sub.errs <- err:
	default:
	}
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var docs []Document
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		doc := make(Document, len(cols))
		for i, col := range cols {
			doc[col] = normalizeValue(values[i])
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return docs, nil
}

// normalizeValue keeps documents JSON-friendly: the MySQL driver returns
// text columns as byte slices.
func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
