package model

import (
	"strings"
	"time"
)

// RawMessage is one scraped channel post as it arrives from the scraping
// collaborator. The natural key is (MessageID, ChannelName). Optional fields
// are pointers so absent values survive the trip from batch JSON into the
// raw layer as NULLs.
type RawMessage struct {
	MessageID    int64      `json:"message_id"`
	ChannelName  string     `json:"channel_name"`
	MessageTS    *time.Time `json:"message_date"`
	Text         *string    `json:"message_text"`
	HasMedia     bool       `json:"has_media"`
	ViewCount    *int       `json:"views"`
	ForwardCount *int       `json:"forwards"`
	ImagePath    *string    `json:"image_path"`
}

// HasImage reports whether the record references a downloaded image.
func (m RawMessage) HasImage() bool {
	return m.ImagePath != nil && strings.TrimSpace(*m.ImagePath) != ""
}

// SkipReason records why one record in a batch was rejected at the loader
// boundary.
type SkipReason struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// LoadResult summarizes one loader pass over a raw batch. Skipped counts
// both invalid records and records whose key was already present.
type LoadResult struct {
	Inserted    int          `json:"inserted"`
	Skipped     int          `json:"skipped"`
	InsertedIDs []int64      `json:"inserted_ids,omitempty"`
	Reasons     []SkipReason `json:"reasons,omitempty"`
}

// TransformScope selects how much of the raw layer a transform pass covers.
type TransformScope struct {
	Full       bool    `json:"full"`
	MessageIDs []int64 `json:"message_ids,omitempty"`
}

// FullScope recomputes all dimensions and facts from the entire raw layer.
func FullScope() TransformScope {
	return TransformScope{Full: true}
}

// IncrementalScope rebuilds fact rows only for the given message ids and
// picks up any newly observed dimension values.
func IncrementalScope(ids []int64) TransformScope {
	return TransformScope{MessageIDs: ids}
}

// TransformResult summarizes one transformer pass.
type TransformResult struct {
	ChannelsUpserted int64 `json:"channels_upserted"`
	DatesUpserted    int64 `json:"dates_upserted"`
	FactsRebuilt     int64 `json:"facts_rebuilt"`
	SkippedRecords   int64 `json:"skipped_records"`
}

// ImageTarget identifies one loaded message whose image awaits enrichment.
type ImageTarget struct {
	MessageID   int64  `json:"message_id"`
	ChannelName string `json:"channel_name"`
	ImagePath   string `json:"image_path"`
}

// ImageCategory is the deterministic classification assigned to an enriched
// image from its detection set.
type ImageCategory string

const (
	CategoryPromotional    ImageCategory = "promotional"
	CategoryProductDisplay ImageCategory = "product_display"
	CategoryLifestyle      ImageCategory = "lifestyle"
	CategoryOther          ImageCategory = "other"
)

// EnrichResult summarizes one enricher pass over an image batch.
type EnrichResult struct {
	Processed            int     `json:"processed"`
	DetectionRowsWritten int     `json:"detection_rows_written"`
	UnreadableImages     int     `json:"unreadable_images"`
	ConsistencyFailures  int     `json:"consistency_failures"`
	AffectedIDs          []int64 `json:"affected_ids,omitempty"`
}
