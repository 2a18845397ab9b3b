package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/archive"
)

type indexPage struct {
	Page    int `json:"page"`
	Threads []struct {
		No int64 `json:"no"`
	} `json:"threads"`
}

// decodeIndex returns the thread ids listed on pages accepted by keep, in
// index order.
func decodeIndex(payload []byte, keep func(page int) bool) ([]int64, error) {
	var pages []indexPage
	if err := json.NewDecoder(bytes.NewReader(payload)).Decode(&pages); err != nil {
		return nil, fmt.Errorf("decode index: %w: %w", archive.ErrMalformedPayload, err)
	}
	var ids []int64
	for _, p := range pages {
		if !keep(p.Page) {
			continue
		}
		for _, t := range p.Threads {
			if t.No > 0 {
				ids = append(ids, t.No)
			}
		}
	}
	return ids, nil
}

// Discover merges thread ids from the board index into the working set. The
// first successful call scans every page; later calls only the first
// DiscoveryPages. Known threads are left untouched. It returns how many
// threads were added.
func (o *Orchestrator) Discover(ctx context.Context) int {
	url := o.cfg.IndexURL()
	res := o.gateway.Fetch(ctx, url)
	switch res.Kind {
	case archive.FetchSuccess:
	case archive.FetchNotFound:
		o.logger.Warn("board index not found", zap.String("url", url))
		return 0
	default:
		return 0
	}

	full := !o.scanned
	ids, err := decodeIndex(res.Payload, func(page int) bool {
		return full || page <= o.cfg.DiscoveryPages
	})
	if err != nil {
		o.logger.Warn("unusable board index", zap.Error(err))
		return 0
	}
	o.scanned = true
	o.pruneDone(ids)

	added := 0
	for _, id := range ids {
		if _, known := o.threads[id]; known {
			continue
		}
		if _, archived := o.done[id]; archived {
			continue
		}
		o.threads[id] = archive.NewThread(o.cfg.Board, id, o.cfg.ThreadURL(id), archive.ThreadOptions{
			Backoff: o.cfg.Backoff,
			Text:    o.text,
			Logger:  o.threadLogger,
		})
		added++
	}
	if added > 0 {
		o.logger.Debug("threads discovered", zap.Int("added", added), zap.Bool("full_scan", full))
	}
	return added
}

// pruneDone forgets archived ids the index no longer lists. Closed threads
// cannot be bumped back onto the scanned pages.
func (o *Orchestrator) pruneDone(listed []int64) {
	if len(o.done) == 0 {
		return
	}
	seen := make(map[int64]struct{}, len(listed))
	for _, id := range listed {
		seen[id] = struct{}{}
	}
	for id := range o.done {
		if _, ok := seen[id]; !ok {
			delete(o.done, id)
		}
	}
}
