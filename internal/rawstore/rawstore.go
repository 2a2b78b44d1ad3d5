// Package rawstore reads the landing zone written by the scraping
// collaborator: one directory per ingestion batch (named by scrape date),
// one JSON array file per channel, with downloaded images referenced by
// image_path inside each record.
package rawstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tena-analytics/warehouse-cli/internal/model"
)

// Batch is one ingestion partition of the landing zone.
type Batch struct {
	Name string // partition name, e.g. "2026-08-30"
	Dir  string
}

// ListBatches returns all batch partitions under root, sorted by name so a
// full collect replays them in scrape order. A missing root is not an error;
// it just means nothing has been scraped yet.
func ListBatches(root string) ([]Batch, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "rawstore: read batch root %s", root)
	}

	var batches []Batch
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		batches = append(batches, Batch{
			Name: e.Name(),
			Dir:  filepath.Join(root, e.Name()),
		})
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].Name < batches[j].Name })
	return batches, nil
}

// ReadBatch decodes every channel file in one batch directory. A file that
// cannot be read or decoded is reported in badFiles and skipped; it never
// fails the batch.
func ReadBatch(dir string) (msgs []model.RawMessage, badFiles []string, err error) {
	log := zap.L().With(zap.String("component", "rawstore"), zap.String("batch", dir))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "rawstore: read batch dir %s", dir)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			log.Warn("unreadable channel file", zap.String("file", e.Name()), zap.Error(readErr))
			badFiles = append(badFiles, path)
			continue
		}

		var fileMsgs []model.RawMessage
		if decodeErr := json.Unmarshal(data, &fileMsgs); decodeErr != nil {
			log.Warn("malformed channel file", zap.String("file", e.Name()), zap.Error(decodeErr))
			badFiles = append(badFiles, path)
			continue
		}

		msgs = append(msgs, fileMsgs...)
	}

	return msgs, badFiles, nil
}

// ReadAll reads every batch under root in partition order.
func ReadAll(root string) (msgs []model.RawMessage, badFiles []string, err error) {
	batches, err := ListBatches(root)
	if err != nil {
		return nil, nil, err
	}
	for _, b := range batches {
		bMsgs, bBad, readErr := ReadBatch(b.Dir)
		if readErr != nil {
			return nil, nil, readErr
		}
		msgs = append(msgs, bMsgs...)
		badFiles = append(badFiles, bBad...)
	}
	return msgs, badFiles, nil
}
