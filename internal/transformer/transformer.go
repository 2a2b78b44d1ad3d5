// Package transformer derives the marts layer (dimensions and facts) from
// the raw layer. A pass runs in FULL mode, rebuilding facts for every raw
// row, or in INCREMENTAL mode, rebuilding only the rows a preceding load
// actually inserted. Dimensions always pick up newly observed values in
// either mode.
package transformer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tena-analytics/warehouse-cli/internal/db"
	"github.com/tena-analytics/warehouse-cli/internal/model"
)

// Channel names are normalized (trimmed, identity on the case-folded form)
// on the way into the dimension; the raw layer keeps them verbatim.
// DISTINCT ON keeps the casing of the earliest observation per folded name.
const upsertChannelsSQL = `
	INSERT INTO marts.dim_channels (channel_name)
	SELECT DISTINCT ON (lower(trim(channel_name))) trim(channel_name)
	FROM raw.telegram_messages
	WHERE trim(channel_name) <> ''
	ORDER BY lower(trim(channel_name)), message_ts NULLS LAST, message_id
	ON CONFLICT (lower(channel_name)) DO NOTHING`

const upsertDatesSQL = `
	INSERT INTO marts.dim_dates (calendar_date)
	SELECT DISTINCT (message_ts AT TIME ZONE 'UTC')::date
	FROM raw.telegram_messages
	WHERE message_ts IS NOT NULL
	ON CONFLICT (calendar_date) DO NOTHING`

const upsertFactsFullSQL = `
	INSERT INTO marts.fct_messages
		(message_id, channel_key, date_key, message_ts, message_text,
		 has_image, view_count, forward_count)
	SELECT DISTINCT ON (r.message_id)
		r.message_id,
		c.channel_key,
		d.date_key,
		r.message_ts,
		r.message_text,
		r.image_path IS NOT NULL AND trim(r.image_path) <> '',
		r.view_count,
		r.forward_count
	FROM raw.telegram_messages r
	JOIN marts.dim_channels c ON lower(c.channel_name) = lower(trim(r.channel_name))
	JOIN marts.dim_dates d ON d.calendar_date = (r.message_ts AT TIME ZONE 'UTC')::date
	WHERE r.message_ts IS NOT NULL
	ORDER BY r.message_id, r.loaded_at DESC
	ON CONFLICT (message_id) DO UPDATE SET
		channel_key = EXCLUDED.channel_key,
		date_key = EXCLUDED.date_key,
		message_ts = EXCLUDED.message_ts,
		message_text = EXCLUDED.message_text,
		has_image = EXCLUDED.has_image,
		view_count = EXCLUDED.view_count,
		forward_count = EXCLUDED.forward_count`

const upsertFactsIncrementalSQL = `
	INSERT INTO marts.fct_messages
		(message_id, channel_key, date_key, message_ts, message_text,
		 has_image, view_count, forward_count)
	SELECT DISTINCT ON (r.message_id)
		r.message_id,
		c.channel_key,
		d.date_key,
		r.message_ts,
		r.message_text,
		r.image_path IS NOT NULL AND trim(r.image_path) <> '',
		r.view_count,
		r.forward_count
	FROM raw.telegram_messages r
	JOIN marts.dim_channels c ON lower(c.channel_name) = lower(trim(r.channel_name))
	JOIN marts.dim_dates d ON d.calendar_date = (r.message_ts AT TIME ZONE 'UTC')::date
	WHERE r.message_ts IS NOT NULL AND r.message_id = ANY($1)
	ORDER BY r.message_id, r.loaded_at DESC
	ON CONFLICT (message_id) DO UPDATE SET
		channel_key = EXCLUDED.channel_key,
		date_key = EXCLUDED.date_key,
		message_ts = EXCLUDED.message_ts,
		message_text = EXCLUDED.message_text,
		has_image = EXCLUDED.has_image,
		view_count = EXCLUDED.view_count,
		forward_count = EXCLUDED.forward_count`

const countSkippedFullSQL = `
	SELECT count(*) FROM raw.telegram_messages WHERE message_ts IS NULL`

const countSkippedIncrementalSQL = `
	SELECT count(*) FROM raw.telegram_messages
	WHERE message_ts IS NULL AND message_id = ANY($1)`

// Transformer rebuilds marts.dim_channels, marts.dim_dates and
// marts.fct_messages from the raw layer.
type Transformer struct {
	pool db.Pool
	log  *zap.Logger
}

// New creates a Transformer backed by the given connection pool.
func New(pool db.Pool) *Transformer {
	return &Transformer{
		pool: pool,
		log:  zap.L().With(zap.String("component", "transformer")),
	}
}

// Transform runs one derivation pass over the given scope. Raw rows with a
// NULL timestamp cannot be placed on the date dimension; they are counted
// as skipped and never produce facts. An incremental scope with no message
// ids is a no-op.
func (t *Transformer) Transform(ctx context.Context, scope model.TransformScope) (model.TransformResult, error) {
	var res model.TransformResult

	if !scope.Full && len(scope.MessageIDs) == 0 {
		t.log.Info("incremental scope empty, nothing to transform")
		return res, nil
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "transformer: begin tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, upsertChannelsSQL)
	if err != nil {
		return res, eris.Wrap(err, "transformer: upsert channels")
	}
	res.ChannelsUpserted = tag.RowsAffected()

	tag, err = tx.Exec(ctx, upsertDatesSQL)
	if err != nil {
		return res, eris.Wrap(err, "transformer: upsert dates")
	}
	res.DatesUpserted = tag.RowsAffected()

	if scope.Full {
		tag, err = tx.Exec(ctx, upsertFactsFullSQL)
	} else {
		tag, err = tx.Exec(ctx, upsertFactsIncrementalSQL, scope.MessageIDs)
	}
	if err != nil {
		return res, eris.Wrap(err, "transformer: rebuild facts")
	}
	res.FactsRebuilt = tag.RowsAffected()

	var skipped int64
	if scope.Full {
		err = tx.QueryRow(ctx, countSkippedFullSQL).Scan(&skipped)
	} else {
		err = tx.QueryRow(ctx, countSkippedIncrementalSQL, scope.MessageIDs).Scan(&skipped)
	}
	if err != nil {
		return res, eris.Wrap(err, "transformer: count skipped records")
	}
	res.SkippedRecords = skipped
	if skipped > 0 {
		t.log.Warn("raw rows without a timestamp excluded from facts",
			zap.Int64("skipped_records", skipped))
	}

	if err := tx.Commit(ctx); err != nil {
		return res, eris.Wrap(err, "transformer: commit tx")
	}

	t.log.Info("transform complete",
		zap.Bool("full", scope.Full),
		zap.Int64("channels_upserted", res.ChannelsUpserted),
		zap.Int64("dates_upserted", res.DatesUpserted),
		zap.Int64("facts_rebuilt", res.FactsRebuilt),
		zap.Int64("skipped_records", res.SkippedRecords),
	)
	return res, nil
}

// FactCount reports how many fact rows exist. The orchestrator uses a zero
// count to detect a cold warehouse and force a full transform.
func (t *Transformer) FactCount(ctx context.Context) (int64, error) {
	var n int64
	if err := t.pool.QueryRow(ctx, `SELECT count(*) FROM marts.fct_messages`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "transformer: count facts")
	}
	return n, nil
}
