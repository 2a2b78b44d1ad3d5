package rawstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBatchFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const channelJSON = `[
	{
		"message_id": 101,
		"channel_name": "lobelia4cosmetics",
		"message_date": "2026-08-29T10:15:00+00:00",
		"message_text": "New stock available",
		"has_media": true,
		"views": 1200,
		"forwards": 14,
		"image_path": "data/raw/images/lobelia4cosmetics/101.jpg"
	},
	{
		"message_id": 102,
		"channel_name": "lobelia4cosmetics",
		"message_date": "2026-08-29T11:02:00+00:00",
		"message_text": null,
		"has_media": false,
		"views": null,
		"forwards": null,
		"image_path": null
	}
]`

func TestListBatches_MissingRoot(t *testing.T) {
	batches, err := ListBatches(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.Nil(t, batches)
}

func TestListBatches_Sorted(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"2026-08-30", "2026-08-28", "2026-08-29"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))
	}
	// Stray file at root level is ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	batches, err := ListBatches(root)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, "2026-08-28", batches[0].Name)
	assert.Equal(t, "2026-08-30", batches[2].Name)
}

func TestReadBatch_DecodesRecords(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "2026-08-29")
	writeBatchFile(t, dir, "lobelia4cosmetics.json", channelJSON)

	msgs, bad, err := ReadBatch(dir)
	require.NoError(t, err)
	assert.Empty(t, bad)
	require.Len(t, msgs, 2)

	first := msgs[0]
	assert.Equal(t, int64(101), first.MessageID)
	assert.Equal(t, "lobelia4cosmetics", first.ChannelName)
	require.NotNil(t, first.MessageTS)
	assert.True(t, first.HasMedia)
	require.NotNil(t, first.ViewCount)
	assert.Equal(t, 1200, *first.ViewCount)
	assert.True(t, first.HasImage())

	second := msgs[1]
	assert.Nil(t, second.Text)
	assert.Nil(t, second.ViewCount)
	assert.False(t, second.HasImage())
}

func TestReadBatch_MalformedFileSkipped(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "2026-08-29")
	writeBatchFile(t, dir, "good.json", channelJSON)
	writeBatchFile(t, dir, "broken.json", "{not json")
	writeBatchFile(t, dir, "ignored.txt", "not a channel file")

	msgs, bad, err := ReadBatch(dir)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	require.Len(t, bad, 1)
	assert.Contains(t, bad[0], "broken.json")
}

func TestReadAll_CombinesBatches(t *testing.T) {
	root := t.TempDir()
	writeBatchFile(t, filepath.Join(root, "2026-08-28"), "chan.json", channelJSON)
	writeBatchFile(t, filepath.Join(root, "2026-08-29"), "chan.json", channelJSON)

	msgs, bad, err := ReadAll(root)
	require.NoError(t, err)
	assert.Empty(t, bad)
	assert.Len(t, msgs, 4)
}
