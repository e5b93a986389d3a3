/*
Copyright 2024 Docbridge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package docbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docbridge/docbridge/config"
	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/internal/notification"
	redis_db "github.com/docbridge/docbridge/internal/redis-db"
	"github.com/docbridge/docbridge/model"
	"github.com/hibiken/asynq"
)

// Queue dispatches stage work to Redis-backed workers.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// StageItemPayload is the task body carried between the dispatcher and the
// stage workers. The durable queue item row stays authoritative; the task
// only names it.
type StageItemPayload struct {
	ItemID     string `json:"item_id"`
	PassportID string `json:"passport_id"`
	StageName  string `json:"stage_name"`
	RetryCount int    `json:"retry_count"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// StageQueueName returns the asynq queue a stage's tasks are routed to.
func StageQueueName(conf *config.Configuration, stageName string) string {
	return fmt.Sprintf("%s:%s", conf.Queue.StageQueuePrefix, stageName)
}

// DispatchDepths reports the live asynq backlog per stage: tasks waiting in
// Redis that no worker has picked up yet, including scheduled retry
// re-dispatches. Stages whose queue the inspector cannot read are omitted;
// the durable row counts stand on their own.
func (q *Queue) DispatchDepths(conf *config.Configuration) map[string]int64 {
	depths := map[string]int64{}
	for _, stage := range model.Stages {
		info, err := q.Inspector.GetQueueInfo(StageQueueName(conf, stage))
		if err != nil {
			continue
		}
		depths[stage] = int64(info.Pending + info.Scheduled + info.Retry)
	}
	return depths
}

// enqueueStageTask pushes a stage task for a queue item, optionally delayed.
// The task id includes the retry count so a re-dispatch of the same item is
// not deduplicated against its earlier attempt.
func (q *Queue) enqueueStageTask(ctx context.Context, item *model.QueueItem, delay time.Duration) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(StageItemPayload{
		ItemID:     item.ItemID,
		PassportID: item.PassportID,
		StageName:  item.StageName,
		RetryCount: item.RetryCount,
	})
	if err != nil {
		return err
	}

	queueName := StageQueueName(cfg, item.StageName)
	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("%s_%d", item.ItemID, item.RetryCount)),
		asynq.Queue(queueName),
		asynq.MaxRetry(0),
	}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}
	task := asynq.NewTask(queueName, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued %s stage for item: %s", item.StageName, item.ItemID)
	return nil
}

// EnqueueStage records a durable queue item for a passport and stage and
// dispatches it to the stage workers. At most one active item may exist per
// (passport, stage) pair; a duplicate enqueue fails with ErrConflict.
func (d *Docbridge) EnqueueStage(ctx context.Context, passportID, stageName string, processingContext map[string]interface{}, priority int) (*model.QueueItem, error) {
	ctx, span := tracer.Start(ctx, "Enqueuing Stage Item")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if priority <= 0 {
		priority = model.DefaultPriority
	}

	item := &model.QueueItem{
		ItemID:            model.GenerateUUIDWithSuffix("qitem"),
		PassportID:        passportID,
		StageName:         stageName,
		Status:            model.QueueStatusQueued,
		Priority:          priority,
		MaxRetries:        cfg.Pipeline.MaxRetries,
		ProcessingContext: processingContext,
		CreatedAt:         time.Now(),
	}
	item, err = d.datasource.RecordQueueItem(ctx, item)
	if err != nil {
		return nil, err
	}

	if err := d.queue.enqueueStageTask(ctx, item, 0); err != nil {
		return nil, logAndRecordError(span, "failed to dispatch stage task: ", err)
	}
	return item, nil
}

// ClaimStageItem flips a dispatched item to processing before its stage
// handler runs. A retrying item arriving after its backoff delay is first
// reset to queued, then claimed, so both paths go through the same
// compare-and-swap.
func (d *Docbridge) ClaimStageItem(ctx context.Context, itemID string) error {
	err := d.datasource.MarkQueueItemProcessing(ctx, itemID)
	if err == nil {
		return nil
	}
	if !apierror.HasCode(err, apierror.ErrConflict) {
		return err
	}
	if err := d.datasource.RequeueQueueItem(ctx, itemID); err != nil {
		return err
	}
	return d.datasource.MarkQueueItemProcessing(ctx, itemID)
}

// CompleteStageItem marks a processing item done.
func (d *Docbridge) CompleteStageItem(ctx context.Context, itemID string) error {
	return d.datasource.MarkQueueItemDone(ctx, itemID)
}

// FailStageItem records a stage failure and applies the retry policy. With
// retries remaining the item is re-dispatched after an exponential backoff
// delay. Once the budget is exhausted the store fails the item and its
// passport together and the failure is final.
func (d *Docbridge) FailStageItem(ctx context.Context, itemID string, errDetails string) (*model.QueueItem, error) {
	ctx, span := tracer.Start(ctx, "Failing Stage Item")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	item, exhausted, err := d.datasource.FailQueueItem(ctx, itemID, errDetails)
	if err != nil {
		return nil, err
	}

	event := model.BusinessEvent{
		Type:      model.EventProcessingError,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"stage":       item.StageName,
			"error":       errDetails,
			"retry_count": item.RetryCount,
			"max_retries": item.MaxRetries,
			"terminal":    exhausted,
		},
	}
	if err := d.datasource.AppendBusinessEvent(ctx, item.PassportID, event); err != nil {
		_ = logAndRecordError(span, "failed to log processing error event: ", err)
	}
	if err := SendWebhook(event, item.PassportID); err != nil {
		_ = logAndRecordError(span, "failed to queue webhook: ", err)
	}

	if exhausted {
		notification.NotifyError(fmt.Errorf("stage %s permanently failed for passport %s after %d attempts: %s", item.StageName, item.PassportID, item.RetryCount, errDetails))
		log.Printf(" [!] Stage %s permanently failed for passport %s after %d attempts", item.StageName, item.PassportID, item.RetryCount)
		return item, nil
	}

	delay := retryDelay(cfg, item.RetryCount)
	if err := d.queue.enqueueStageTask(ctx, item, delay); err != nil {
		return nil, logAndRecordError(span, "failed to schedule retry dispatch: ", err)
	}
	return item, nil
}

// retryDelay computes the wait before the nth retry re-dispatch. The
// schedule doubles from the configured base up to the configured cap, with
// jitter disabled so operators can predict timing.
func retryDelay(conf *config.Configuration, retryCount int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(conf.Pipeline.RetryBackoffBaseSec) * time.Second
	bo.MaxInterval = time.Duration(conf.Pipeline.RetryBackoffCapSec) * time.Second
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	delay := bo.NextBackOff()
	for i := 1; i < retryCount; i++ {
		delay = bo.NextBackOff()
	}
	if delay > bo.MaxInterval {
		delay = bo.MaxInterval
	}
	return delay
}
