package enricher

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tena-analytics/warehouse-cli/internal/model"
	"github.com/tena-analytics/warehouse-cli/pkg/vision"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

func testSets() ClassSets {
	return NewClassSets([]string{"person"}, []string{"bottle", "cup"})
}

type fakeDetector struct {
	byPath map[string][]vision.Detection
	errs   map[string]error
}

func (f *fakeDetector) Detect(_ context.Context, path string) ([]vision.Detection, error) {
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	return f.byPath[path], nil
}

func TestCategorize(t *testing.T) {
	sets := testSets()
	tests := []struct {
		name    string
		classes []string
		want    model.ImageCategory
	}{
		{"person and product", []string{"person", "bottle"}, model.CategoryPromotional},
		{"product only", []string{"cup"}, model.CategoryProductDisplay},
		{"person only", []string{"person"}, model.CategoryLifestyle},
		{"unrelated classes", []string{"dog", "car"}, model.CategoryOther},
		{"no detections", nil, model.CategoryOther},
		{"order independent", []string{"bottle", "person"}, model.CategoryPromotional},
		{"duplicates", []string{"cup", "cup", "bottle"}, model.CategoryProductDisplay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.classes, sets))
		})
	}
}

func expectTargets(mock pgxmock.PgxPoolIface, targets ...model.ImageTarget) {
	rows := pgxmock.NewRows([]string{"message_id", "channel_name", "image_path"})
	for _, tg := range targets {
		rows.AddRow(tg.MessageID, tg.ChannelName, tg.ImagePath)
	}
	mock.ExpectQuery(`SELECT f\.message_id`).WillReturnRows(rows)
}

func expectReplacement(mock pgxmock.PgxPoolIface, messageID int64, detections int) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(messageID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`DELETE FROM marts\.image_detections`).
		WithArgs(messageID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	for i := 0; i < detections; i++ {
		mock.ExpectExec(`INSERT INTO marts\.image_detections`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()
}

func TestEnrich_DetectsCategorizesAndReplaces(t *testing.T) {
	mock := newMockPool(t)
	target := model.ImageTarget{
		MessageID:   100,
		ChannelName: "lobelia4cosmetics",
		ImagePath:   "data/raw/images/lobelia4cosmetics/100.jpg",
	}
	expectTargets(mock, target)
	expectReplacement(mock, 100, 2)

	det := &fakeDetector{byPath: map[string][]vision.Detection{
		target.ImagePath: {
			{Class: "person", Confidence: 0.9},
			{Class: "bottle", Confidence: 0.5},
		},
	}}

	res, err := New(mock, det, testSets()).Enrich(context.Background(), Options{Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, res.DetectionRowsWritten)
	assert.Equal(t, []int64{100}, res.AffectedIDs)
	assert.Zero(t, res.UnreadableImages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrich_UnreadableImageContained(t *testing.T) {
	mock := newMockPool(t)
	good := model.ImageTarget{MessageID: 100, ChannelName: "c", ImagePath: "img/100.jpg"}
	bad := model.ImageTarget{MessageID: 101, ChannelName: "c", ImagePath: "img/101.jpg"}
	expectTargets(mock, good, bad)
	expectReplacement(mock, 100, 1)

	det := &fakeDetector{
		byPath: map[string][]vision.Detection{good.ImagePath: {{Class: "cup", Confidence: 0.7}}},
		errs:   map[string]error{bad.ImagePath: vision.ErrUnreadable},
	}

	res, err := New(mock, det, testSets()).Enrich(context.Background(), Options{Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.UnreadableImages)
	assert.Equal(t, []int64{100}, res.AffectedIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrich_ZeroDetectionsStillReplaces(t *testing.T) {
	mock := newMockPool(t)
	target := model.ImageTarget{MessageID: 100, ChannelName: "c", ImagePath: "img/100.jpg"}
	expectTargets(mock, target)
	expectReplacement(mock, 100, 0)

	det := &fakeDetector{byPath: map[string][]vision.Detection{target.ImagePath: nil}}

	res, err := New(mock, det, testSets()).Enrich(context.Background(), Options{Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.DetectionRowsWritten)
	assert.Equal(t, []int64{100}, res.AffectedIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrich_MissingFactCountedAsConsistencyFailure(t *testing.T) {
	mock := newMockPool(t)
	target := model.ImageTarget{MessageID: 100, ChannelName: "c", ImagePath: "img/100.jpg"}
	expectTargets(mock, target)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(100)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	det := &fakeDetector{byPath: map[string][]vision.Detection{target.ImagePath: {{Class: "cup", Confidence: 0.7}}}}

	res, err := New(mock, det, testSets()).Enrich(context.Background(), Options{Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.ConsistencyFailures)
	assert.Empty(t, res.AffectedIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrich_StoreErrorAbortsPass(t *testing.T) {
	mock := newMockPool(t)
	target := model.ImageTarget{MessageID: 100, ChannelName: "c", ImagePath: "img/100.jpg"}
	expectTargets(mock, target)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(100)).
		WillReturnError(errors.New("connection refused"))
	mock.ExpectRollback()

	det := &fakeDetector{byPath: map[string][]vision.Detection{target.ImagePath: {{Class: "cup", Confidence: 0.7}}}}

	_, err := New(mock, det, testSets()).Enrich(context.Background(), Options{Workers: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check fact row")
}

func TestEnrich_NoTargets(t *testing.T) {
	mock := newMockPool(t)
	expectTargets(mock)

	res, err := New(mock, &fakeDetector{}, testSets()).Enrich(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, model.EnrichResult{}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}
