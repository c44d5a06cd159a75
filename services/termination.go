package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/models"
	"github.com/themindlocksyndicate/tmls-companion/persistence"
)

// PurgeResult is the outcome of emptying one sub-collection.
type PurgeResult struct {
	Collection string `json:"collection"`
	Deleted    int    `json:"deleted"`
	Pages      int    `json:"pages"`
	Err        error  `json:"-"`
}

// TerminationReport aggregates the sub-collection purges of an ended room.
type TerminationReport struct {
	RoomCode string        `json:"room_code"`
	Results  []PurgeResult `json:"results"`
}

// HasErrors reports whether any sub-collection was left partly behind.
func (r TerminationReport) HasErrors() bool {
	for _, res := range r.Results {
		if res.Err != nil {
			return true
		}
	}
	return false
}

// Summary is the single line shown to the host.
func (r TerminationReport) Summary() string {
	if r.HasErrors() {
		return "Room ended (cleanup completed with errors)"
	}
	return "Room ended (cleanup completed)"
}

// EndRoom 结束房间：标记 ending，发送系统消息，分页清理子集合，最后删除房间文档。
// Sub-collection failures only degrade the report; failing to delete the
// room document aborts and leaves it in place for a retry.
func (s *RoomService) EndRoom(ctx context.Context, code, uid string) (TerminationReport, error) {
	report := TerminationReport{RoomCode: code}

	isHost, err := s.IsHost(ctx, code, uid)
	if err != nil {
		return report, err
	}
	if !isHost {
		return report, ErrNotHost
	}

	ending := true
	if err := s.store.UpdateRoom(ctx, code, persistence.RoomUpdate{Ending: &ending}); err != nil {
		return report, fmt.Errorf("mark %s ending: %w", code, err)
	}

	_, err = s.store.AppendMessage(ctx, code, models.Message{UID: uid, Type: models.MessageSystem, Text: endedText})
	s.bestEffort("end_message", code, err)

	for _, collection := range purgeOrder {
		res := s.purge(ctx, code, collection)
		if res.Err != nil {
			logger.Log.Warnf("Room %s: purging %s stopped after %d docs: %v", code, collection, res.Deleted, res.Err)
		}
		report.Results = append(report.Results, res)
	}

	if err := s.store.DeleteRoom(ctx, code); err != nil && !errors.Is(err, persistence.ErrRecordNotFound) {
		return report, fmt.Errorf("delete room %s: %w", code, err)
	}

	logger.Log.Infof("Room %s ended by %s: %s", code, uid, report.Summary())
	return report, nil
}

// purge deletes a sub-collection page by page. Each page is deleted before
// the next is fetched; a short page means nothing is left.
func (s *RoomService) purge(ctx context.Context, code, collection string) PurgeResult {
	res := PurgeResult{Collection: collection}
	for {
		ids, err := s.store.ListPage(ctx, code, collection, s.pageSize)
		res.Pages++
		if err != nil {
			res.Err = err
			return res
		}
		if len(ids) > 0 {
			if err := s.store.DeleteDocs(ctx, code, collection, ids); err != nil {
				res.Err = err
				return res
			}
			res.Deleted += len(ids)
			s.monitor.AddPurged(collection, len(ids))
		}
		if len(ids) < s.pageSize {
			return res
		}
	}
}
