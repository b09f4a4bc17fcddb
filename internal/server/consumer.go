package server

import (
	"context"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/linking"
	"github.com/Ramsey-B/clover/pkg/metrics"
)

// DeletionHandler runs the delete cascade for every resource.deleted message. A resource that
// is already gone counts as handled so the message is committed.
func DeletionHandler(service *linking.Service, logger ectologger.Logger) kafka.MessageHandler {
	return func(ctx context.Context, msg *kafka.IncomingMessage) error {
		deletion := msg.Deletion
		if deletion == nil {
			metrics.RecordConsumedMessage("skipped")
			return nil
		}

		log := logger.WithContext(ctx).WithFields(map[string]any{
			"resource_id":   deletion.ResourceID,
			"resource_type": deletion.ResourceType,
		})

		result, err := service.DeleteSourceEntity(ctx, deletion.ResourceID)
		switch {
		case httperror.IsNotFound(err):
			metrics.RecordConsumedMessage("not_found")
			log.Debug("Deleted resource was already removed")
			return nil
		case err != nil:
			metrics.RecordConsumedMessage("error")
			return err
		}

		metrics.RecordConsumedMessage("processed")
		log.WithFields(map[string]any{
			"links_removed":          result.LinksRemoved,
			"golden_records_removed": len(result.GoldenRecordsRemoved),
		}).Info("Processed resource deletion")
		return nil
	}
}
