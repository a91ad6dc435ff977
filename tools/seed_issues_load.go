// Seed/load tool: bulk-inserts randomized issue records straight into the
// document store so the clustering path can be exercised without the
// reporting apps. Roughly a tenth of the records get NULL coordinates on
// purpose; the engine must drop those from rendering.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"map-engine/common"
	"map-engine/models"
)

var statuses = []string{"pending", "acknowledged", "in-progress", "resolved"}

func main() {
	dsn := flag.String("dsn", os.Getenv("SEED_DSN"), "MySQL DSN (use -dsn or SEED_DSN env)")
	total := flag.Int("total", 10000, "number of fake issues to insert")
	batchSize := flag.Int("batch", 500, "rows per insert statement")
	centerLat := flag.Float64("center-lat", 40.7128, "latitude the issues scatter around")
	centerLng := flag.Float64("center-lng", -74.006, "longitude the issues scatter around")
	spread := flag.Float64("spread", 0.5, "max degrees of scatter in each direction")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("dsn required (use -dsn or SEED_DSN env)")
	}

	db, err := sql.Open("mysql", *dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	categories := models.Categories()
	batches := (*total + *batchSize - 1) / *batchSize

	var inserted int64
	start := time.Now()

	var wg sync.WaitGroup
	for b := 0; b < batches; b++ {
		wg.Add(1)
		go func(batch int) {
			defer wg.Done()
			offset := batch * (*batchSize)
			size := *batchSize
			if offset+size > *total {
				size = *total - offset
			}
			if size <= 0 {
				return
			}

			placeholders := make([]string, 0, size)
			args := make([]interface{}, 0, size*10)
			for i := 0; i < size; i++ {
				id := offset + i
				category := categories[id%len(categories)]

				var latitude, longitude interface{}
				if id%10 != 9 {
					latitude = *centerLat + rand.Float64()*2*(*spread) - *spread
					longitude = *centerLng + rand.Float64()*2*(*spread) - *spread
				}

				placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
				args = append(args,
					fmt.Sprintf("seed-%d", id),
					string(category),
					fmt.Sprintf("Seeded %s %d", category, id),
					"https://example.com/photo.jpg",
					latitude,
					longitude,
					fmt.Sprintf("%d Example St", id),
					statuses[id%len(statuses)],
					"Load Tester",
					time.Now().UTC().Add(-time.Duration(id)*time.Minute),
				)
			}

			query := "INSERT INTO issues (id, category, description, photo_url, latitude, longitude, address, status, reporter_name, created_at) VALUES " +
				strings.Join(placeholders, ", ") +
				" ON DUPLICATE KEY UPDATE status = VALUES(status)"

			r, err := db.Exec(query, args...)
			common.LogResult(fmt.Sprintf("batch %d", batch), r, err, false)
			if err == nil {
				atomic.AddInt64(&inserted, int64(size))
			}
		}(b)
	}

	wg.Wait()
	duration := time.Since(start).Seconds()
	if duration == 0 {
		duration = 1
	}

	fmt.Printf("Inserted ~%d issues in %.2fs (%.0f inserts/s)\n", inserted, duration, float64(inserted)/duration)
}
