// Package loader moves scraped batch records into the raw warehouse layer.
// Loading is idempotent: re-running the same batch inserts nothing new and
// never mutates rows already present.
package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tena-analytics/warehouse-cli/internal/db"
	"github.com/tena-analytics/warehouse-cli/internal/model"
)

var rawMessageColumns = []string{
	"message_id",
	"channel_name",
	"message_ts",
	"message_text",
	"has_media",
	"view_count",
	"forward_count",
	"image_path",
}

// Loader writes raw channel posts into raw.telegram_messages.
type Loader struct {
	pool db.Pool
	log  *zap.Logger
}

// New creates a Loader backed by the given connection pool.
func New(pool db.Pool) *Loader {
	return &Loader{
		pool: pool,
		log:  zap.L().With(zap.String("component", "loader")),
	}
}

// Load validates and inserts a batch of raw messages. Invalid records are
// skipped with a recorded reason; valid records whose (message_id,
// channel_name) key already exists are silently ignored and counted as
// skipped. InsertedIDs carries the message ids of rows actually written,
// which downstream incremental transforms consume.
func (l *Loader) Load(ctx context.Context, msgs []model.RawMessage) (model.LoadResult, error) {
	var res model.LoadResult

	rows := make([][]any, 0, len(msgs))
	for i, m := range msgs {
		if reason := validate(m); reason != "" {
			res.Skipped++
			res.Reasons = append(res.Reasons, model.SkipReason{Index: i, Reason: reason})
			continue
		}
		rows = append(rows, []any{
			m.MessageID,
			m.ChannelName,
			m.MessageTS,
			m.Text,
			m.HasMedia,
			m.ViewCount,
			m.ForwardCount,
			m.ImagePath,
		})
	}

	if len(rows) == 0 {
		l.log.Info("nothing to load", zap.Int("received", len(msgs)), zap.Int("skipped", res.Skipped))
		return res, nil
	}

	inserted, returned, err := db.BulkInsertIgnore(ctx, l.pool, db.InsertIgnoreConfig{
		Table:        "raw.telegram_messages",
		Columns:      rawMessageColumns,
		ConflictKeys: []string{"message_id", "channel_name"},
		Returning:    []string{"message_id"},
	}, rows)
	if err != nil {
		return res, eris.Wrap(err, "loader: insert raw messages")
	}

	res.Inserted = int(inserted)
	res.Skipped += len(rows) - int(inserted)
	for _, row := range returned {
		id, err := toInt64(row[0])
		if err != nil {
			return res, eris.Wrap(err, "loader: returned message id")
		}
		res.InsertedIDs = append(res.InsertedIDs, id)
	}

	l.log.Info("batch loaded",
		zap.Int("received", len(msgs)),
		zap.Int("inserted", res.Inserted),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// validate checks the natural key a record must carry to enter the raw
// layer. Channel names are stored verbatim; normalization happens in the
// transform step.
func validate(m model.RawMessage) string {
	if m.MessageID <= 0 {
		return "missing or non-positive message_id"
	}
	if strings.TrimSpace(m.ChannelName) == "" {
		return "blank channel_name"
	}
	return ""
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected id type %T", v)
	}
}
