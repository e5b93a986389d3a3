package database

import (
	"context"
	"time"

	"github.com/docbridge/docbridge/model"
)

type IDataSource interface {
	passport
	queueItem
	supplier
}

type passport interface {
	RecordPassport(ctx context.Context, passport *model.Passport) (*model.Passport, error)
	GetPassport(ctx context.Context, passportID string) (*model.Passport, error)
	AppendPhaseHistory(ctx context.Context, passportID string, fromPhase string, entry model.PhaseHistoryEntry) error
	AppendBusinessEvent(ctx context.Context, passportID string, event model.BusinessEvent) error
	UpdatePassportConfidence(ctx context.Context, passportID string, score float64, factors map[string]float64) error
	GetConfidenceBreakdown(ctx context.Context, passportID string) (*model.ConfidenceBreakdown, error)
	LinkSupplier(ctx context.Context, passportID string, supplierID string) error
	UpdatePassportStatus(ctx context.Context, passportID string, status string) error
	GetPassportSummaries(ctx context.Context, limit, offset int) ([]model.PassportSummary, error)
	GetPassportStats(ctx context.Context) (*model.PassportStats, error)
}

type queueItem interface {
	RecordQueueItem(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error)
	GetQueueItem(ctx context.Context, itemID string) (*model.QueueItem, error)
	GetQueueItemsForPassport(ctx context.Context, passportID string, limit int) ([]model.QueueItem, error)
	ClaimNextQueueItem(ctx context.Context, stageName string) (*model.QueueItem, error)
	MarkQueueItemProcessing(ctx context.Context, itemID string) error
	RequeueQueueItem(ctx context.Context, itemID string) error
	MarkQueueItemDone(ctx context.Context, itemID string) error
	FailQueueItem(ctx context.Context, itemID string, errDetails string) (*model.QueueItem, bool, error)
	GetStuckQueueItems(ctx context.Context, threshold time.Duration, limit int) ([]*model.QueueItem, error)
	CountQueueDepths(ctx context.Context) (map[string]int64, error)
}

type supplier interface {
	RecordSupplier(ctx context.Context, s *model.Supplier) (*model.Supplier, error)
	GetSupplier(ctx context.Context, supplierID string) (*model.Supplier, error)
	GetEnabledSuppliers(ctx context.Context) ([]model.Supplier, error)
}
