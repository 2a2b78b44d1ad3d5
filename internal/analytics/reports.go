// Package analytics serves read-only reports over the marts layer.
package analytics

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tena-analytics/warehouse-cli/internal/db"
)

// TopTerm is one frequently mentioned term across all channels.
type TopTerm struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ChannelActivity is one day of posting activity for a channel.
type ChannelActivity struct {
	Date     time.Time `json:"date"`
	Posts    int64     `json:"posts"`
	AvgViews *float64  `json:"avg_views,omitempty"`
}

// VisualStats summarizes image usage for one channel.
type VisualStats struct {
	ChannelName         string   `json:"channel_name"`
	TotalImages         int64    `json:"total_images"`
	PromotionalCount    int64    `json:"promotional_count"`
	ProductDisplayCount int64    `json:"product_display_count"`
	AvgViewsWithImage   *float64 `json:"avg_views_with_image,omitempty"`
}

// SearchHit is one message matching a text search.
type SearchHit struct {
	MessageID   int64     `json:"message_id"`
	ChannelName string    `json:"channel_name"`
	MessageTS   time.Time `json:"message_ts"`
	MessageText *string   `json:"message_text"`
	ViewCount   *int      `json:"view_count,omitempty"`
}

const topTermsSQL = `
	SELECT term, count(*) AS count
	FROM (
		SELECT unnest(regexp_split_to_array(lower(message_text), '\W+')) AS term
		FROM marts.fct_messages
		WHERE message_text IS NOT NULL
	) words
	WHERE length(term) > 3
	GROUP BY term
	ORDER BY count DESC, term
	LIMIT $1`

const channelActivitySQL = `
	SELECT dd.calendar_date, count(*) AS posts, avg(f.view_count) AS avg_views
	FROM marts.fct_messages f
	JOIN marts.dim_channels c ON c.channel_key = f.channel_key
	JOIN marts.dim_dates dd ON dd.date_key = f.date_key
	WHERE lower(c.channel_name) = lower(trim($1))
	GROUP BY dd.calendar_date
	ORDER BY dd.calendar_date`

const visualStatsSQL = `
	SELECT c.channel_name,
	       count(*) FILTER (WHERE f.has_image) AS total_images,
	       count(*) FILTER (WHERE d.image_category = 'promotional') AS promotional_count,
	       count(*) FILTER (WHERE d.image_category = 'product_display') AS product_display_count,
	       avg(f.view_count) FILTER (WHERE f.has_image) AS avg_views_with_image
	FROM marts.fct_messages f
	JOIN marts.dim_channels c ON c.channel_key = f.channel_key
	LEFT JOIN (
		SELECT DISTINCT message_id, image_category FROM marts.image_detections
	) d ON d.message_id = f.message_id
	GROUP BY c.channel_name
	HAVING count(*) FILTER (WHERE f.has_image) > 0
	ORDER BY total_images DESC`

const searchMessagesSQL = `
	SELECT f.message_id, c.channel_name, f.message_ts, f.message_text, f.view_count
	FROM marts.fct_messages f
	JOIN marts.dim_channels c ON c.channel_key = f.channel_key
	WHERE f.message_text ILIKE '%' || $1 || '%'
	ORDER BY f.message_ts DESC
	LIMIT $2`

// Reports runs analytical queries against the marts.
type Reports struct {
	pool db.Pool
}

// NewReports creates a Reports backed by the given connection pool.
func NewReports(pool db.Pool) *Reports {
	return &Reports{pool: pool}
}

// TopTerms returns the most mentioned terms across all channels. Limit is
// clamped to [1, 50].
func (r *Reports) TopTerms(ctx context.Context, limit int) ([]TopTerm, error) {
	if limit < 1 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, topTermsSQL, limit)
	if err != nil {
		return nil, eris.Wrap(err, "analytics: top terms")
	}
	defer rows.Close()

	var out []TopTerm
	for rows.Next() {
		var t TopTerm
		if err := rows.Scan(&t.Term, &t.Count); err != nil {
			return nil, eris.Wrap(err, "analytics: scan top term")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ChannelActivity returns daily post counts and average views for one
// channel. The lookup is case-insensitive.
func (r *Reports) ChannelActivity(ctx context.Context, channel string) ([]ChannelActivity, error) {
	rows, err := r.pool.Query(ctx, channelActivitySQL, channel)
	if err != nil {
		return nil, eris.Wrapf(err, "analytics: activity for %s", channel)
	}
	defer rows.Close()

	var out []ChannelActivity
	for rows.Next() {
		var a ChannelActivity
		if err := rows.Scan(&a.Date, &a.Posts, &a.AvgViews); err != nil {
			return nil, eris.Wrap(err, "analytics: scan activity row")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// VisualStats returns per-channel image statistics by category.
func (r *Reports) VisualStats(ctx context.Context) ([]VisualStats, error) {
	rows, err := r.pool.Query(ctx, visualStatsSQL)
	if err != nil {
		return nil, eris.Wrap(err, "analytics: visual stats")
	}
	defer rows.Close()

	var out []VisualStats
	for rows.Next() {
		var v VisualStats
		if err := rows.Scan(&v.ChannelName, &v.TotalImages, &v.PromotionalCount,
			&v.ProductDisplayCount, &v.AvgViewsWithImage); err != nil {
			return nil, eris.Wrap(err, "analytics: scan visual stats row")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SearchMessages returns messages whose text contains the query, newest
// first. Limit is clamped to [1, 100].
func (r *Reports) SearchMessages(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, searchMessagesSQL, query, limit)
	if err != nil {
		return nil, eris.Wrap(err, "analytics: search messages")
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.MessageID, &h.ChannelName, &h.MessageTS, &h.MessageText, &h.ViewCount); err != nil {
			return nil, eris.Wrap(err, "analytics: scan search hit")
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
