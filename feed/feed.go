// Package feed turns raw document-store snapshots into validated issue
// records. Records missing a coordinate or creation timestamp are dropped
// silently; consecutive identical snapshots are suppressed so downstream
// renders don't flicker.
package feed

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/apex/log"

	"map-engine/docstore"
	"map-engine/models"
)

// Feed is a live subscription to the issues collection. On a subscription
// error it emits one terminal failure and stops; resubscription is the
// caller's decision.
type Feed struct {
	records chan []models.IssueRecord
	errs    chan error

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Subscribe starts the feed. The returned Feed must be cancelled on teardown
// or the store subscription leaks.
func Subscribe(ctx context.Context, store docstore.Store, collection string) (*Feed, error) {
	sub, err := store.Subscribe(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", collection, err)
	}

	f := &Feed{
		records: make(chan []models.IssueRecord),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	f.wg.Add(1)
	go f.run(sub)
	return f, nil
}

// Snapshots delivers validated full snapshots, ordered by issue id.
func (f *Feed) Snapshots() <-chan []models.IssueRecord {
	return f.records
}

// Err delivers at most one terminal subscription failure.
func (f *Feed) Err() <-chan error {
	return f.errs
}

// Cancel tears the subscription down and waits until nothing more can be
// emitted. Safe to call repeatedly.
func (f *Feed) Cancel() {
	f.once.Do(func() { close(f.done) })
	f.wg.Wait()
}

func (f *Feed) run(sub docstore.Subscription) {
	defer f.wg.Done()
	defer sub.Cancel()

	var last []models.IssueRecord
	delivered := false

	for {
		select {
		case <-f.done:
			return

		case docs := <-sub.Snapshots():
			records := Normalize(docs)
			if delivered && reflect.DeepEqual(last, records) {
				continue
			}
			select {
			case f.records <- records:
			case <-f.done:
				return
			}
			last = records
			delivered = true

		case err := <-sub.Err():
			select {
			case f.errs <- err:
			case <-f.done:
			}
			return
		}
	}
}

// Normalize shape-validates raw documents into issue records. A record needs
// an id, both coordinates and a creation timestamp to render; anything else
// is optional. Unknown categories and statuses normalize to their defaults.
// The result is ordered by issue id regardless of store order.
func Normalize(docs []docstore.Document) []models.IssueRecord {
	records := make([]models.IssueRecord, 0, len(docs))
	for _, doc := range docs {
		id, ok := stringField(doc, "id")
		if !ok || id == "" {
			log.Debugf("dropping record without id: %v", doc)
			continue
		}
		lat, ok := floatField(doc, "latitude")
		if !ok {
			log.Debugf("dropping record %s without latitude", id)
			continue
		}
		lng, ok := floatField(doc, "longitude")
		if !ok {
			log.Debugf("dropping record %s without longitude", id)
			continue
		}
		created, ok := timeField(doc, "created_at")
		if !ok {
			log.Debugf("dropping record %s without creation timestamp", id)
			continue
		}

		category, _ := stringField(doc, "category")
		status, _ := stringField(doc, "status")
		description, _ := stringField(doc, "description")
		photoURL, _ := stringField(doc, "photo_url")
		address, _ := stringField(doc, "address")
		reporter, _ := stringField(doc, "reporter_name")

		records = append(records, models.IssueRecord{
			ID:          id,
			Category:    models.ParseCategory(category),
			Description: description,
			PhotoURL:    photoURL,
			Location: models.Location{
				Latitude:  lat,
				Longitude: lng,
				Address:   address,
			},
			Status:       models.ParseStatus(status),
			ReporterName: reporter,
			CreatedAt:    created,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	return records
}

func stringField(doc docstore.Document, key string) (string, bool) {
	s, ok := doc[key].(string)
	return s, ok
}

func floatField(doc docstore.Document, key string) (float64, bool) {
	switch v := doc[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		// The MySQL text protocol hands numeric columns back as strings.
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func timeField(doc docstore.Document, key string) (time.Time, bool) {
	switch v := doc[key].(type) {
	case time.Time:
		return v.UTC(), true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC(), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
