package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

var exportHeader = []string{
	"timestamp", "user_id", "journal_id", "ip_address", "request_method",
	"request_path", "response_status", "response_time", "auth_failure_reason",
	"denial_reason", "session_id",
}

// ExportCSV renders every access log entry in the range as CSV, header
// included. The caller decides what to do with the bytes; see the archive
// package for the S3 path.
func (s *Service) ExportCSV(ctx context.Context, r Range) ([]byte, error) {
	entries, err := s.entries(ctx, r)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for i := range entries {
		e := &entries[i]
		userID := ""
		if e.UserID != nil {
			userID = strconv.FormatUint(uint64(*e.UserID), 10)
		}
		record := []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			userID,
			strconv.FormatUint(uint64(e.JournalID), 10),
			e.IPAddress,
			e.RequestMethod,
			e.RequestPath,
			strconv.Itoa(e.ResponseStatus),
			strconv.FormatFloat(e.ResponseTime, 'f', 3, 64),
			e.AuthFailureReason,
			e.DenialReason,
			e.SessionID,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	s.log.WithField("rows", len(entries)).Info("Exported access logs")
	return buf.Bytes(), nil
}

// ExportName builds a timestamped object name for an export snapshot.
func ExportName(r Range) string {
	return fmt.Sprintf("access-logs_%s_%s.csv",
		r.From.UTC().Format("20060102"), r.To.UTC().Format("20060102"))
}
