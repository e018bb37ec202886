// Package audit owns the append-only access log. Writes are a side channel:
// they run after the access decision is finalized and their failures are
// alerted internally, never surfaced to the request that produced them.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sdko-org/libproxy/internal/store"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 2 * time.Second

type Recorder struct {
	logs     store.AccessLogStore
	log      *logrus.Entry
	failures atomic.Int64
	wg       sync.WaitGroup
}

func NewRecorder(logger *logrus.Logger, logs store.AccessLogStore) *Recorder {
	return &Recorder{
		logs: logs,
		log:  logger.WithField("component", "audit"),
	}
}

// Record persists the entry asynchronously. The caller's context is not
// used: an aborted request must still leave its trace, and a slow insert
// must not stall the response.
func (r *Recorder) Record(entry models.AccessLog) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.RequestID == "" {
		entry.RequestID = uuid.NewString()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := r.logs.Insert(ctx, &entry); err != nil {
			r.failures.Add(1)
			r.log.WithError(err).WithFields(logrus.Fields{
				"journal_id": entry.JournalID,
				"ip":         entry.IPAddress,
			}).Error("Failed to save access log entry")
		}
	}()
}

// Flush blocks until all in-flight writes have settled.
func (r *Recorder) Flush() {
	r.wg.Wait()
}

// Failures reports how many writes have been dropped since startup; exposed
// through the status endpoint so operators notice a dying log store.
func (r *Recorder) Failures() int64 {
	return r.failures.Load()
}

func (r *Recorder) Query(ctx context.Context, f store.LogFilter, p store.Page) ([]models.AccessLog, store.Pagination, error) {
	return r.logs.Query(ctx, f, p)
}
