// Package dispatch drains the pending message queue: each claimed message is
// matched to a rule, processed by the rule's platform, and the reply (if any)
// is sent back to the originating chat. Failed attempts are retried with
// exponential backoff up to a per-message cap.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/wxgate/wxgate/pkg/agent"
	"github.com/wxgate/wxgate/pkg/metrics"
	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/platform"
	"github.com/wxgate/wxgate/pkg/redact"
)

// ErrNoMessages signals an empty queue; the worker sleeps and re-polls.
var ErrNoMessages = errors.New("no messages available")

// MessageQueue is the slice of the message store the dispatcher needs.
type MessageQueue interface {
	ClaimNext(ctx context.Context, now time.Time) (*models.Message, error)
	MarkDelivered(ctx context.Context, messageID string, reply *string) error
	RequeueForRetry(ctx context.Context, messageID, lastError string, nextAttempt time.Time) error
	MarkFailed(ctx context.Context, messageID, lastError string) error
	Skip(ctx context.Context, messageID, reason string) error
}

// AttemptLedger records one row per delivery attempt.
type AttemptLedger interface {
	Record(ctx context.Context, a *models.DeliveryAttempt) error
}

// RuleMatcher resolves the rule for a message, or nil.
type RuleMatcher interface {
	Match(instanceID, chatName string, isAtMessage bool) *models.Rule
}

// PlatformResolver returns an initialized platform by id.
type PlatformResolver interface {
	Resolve(ctx context.Context, platformID string) (platform.Platform, error)
}

// ReplySender delivers platform replies back through the agent.
type ReplySender interface {
	SendText(ctx context.Context, instanceID, chat, text string, atList []string) error
	SendFile(ctx context.Context, instanceID, chat string, filePaths []string) error
}

// EventPublisher announces terminal delivery transitions.
type EventPublisher interface {
	PublishMessageStatus(msg *models.Message)
}

// Worker is one queue drainer.
type Worker struct {
	id        string
	queue     MessageQueue
	ledger    AttemptLedger
	rules     RuleMatcher
	platforms PlatformResolver
	sender    ReplySender
	publisher EventPublisher
	metrics   *metrics.Metrics
	cfg       Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newWorker(id string, p *Pool) *Worker {
	return &Worker{
		id:        id,
		queue:     p.queue,
		ledger:    p.ledger,
		rules:     p.rules,
		platforms: p.platforms,
		sender:    p.sender,
		publisher: p.publisher,
		metrics:   p.metrics,
		cfg:       p.cfg,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// message.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Dispatch worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Dispatch worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, dispatch worker shutting down")
			return
		default:
			if err := w.pollAndDeliver(ctx); err != nil {
				if errors.Is(err, ErrNoMessages) {
					w.sleep(w.cfg.jitteredPollInterval())
					continue
				}
				if ctx.Err() != nil {
					continue
				}
				log.Error("Error delivering message", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndDeliver claims one message and runs the delivery pipeline on it.
func (w *Worker) pollAndDeliver(ctx context.Context) error {
	msg, err := w.queue.ClaimNext(ctx, time.Now())
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrNoMessages
	}

	log := slog.With("worker_id", w.id, "message_id", msg.MessageID,
		"instance_id", msg.InstanceID, "chat", msg.ChatName,
		"attempt", msg.DeliveryAttempts)
	log.Info("Message claimed")

	if w.metrics != nil {
		w.metrics.DeliveryAttempts.Inc()
	}

	attempt := &models.DeliveryAttempt{
		AttemptID: "att-" + shortuuid.New(),
		MessageID: msg.MessageID,
		AttemptNo: msg.DeliveryAttempts,
		StartedAt: time.Now(),
	}

	rule := w.rules.Match(msg.InstanceID, msg.ChatName, msg.AtMe)
	if rule == nil {
		return w.finishSkipped(ctx, msg, attempt, "no_rule")
	}
	attempt.RuleID = rule.RuleID
	attempt.PlatformID = rule.PlatformID

	plat, err := w.platforms.Resolve(ctx, rule.PlatformID)
	if err != nil {
		return w.finishError(ctx, msg, attempt, err)
	}

	reply, err := w.process(ctx, plat, rule.PlatformID, msg)
	if err != nil {
		return w.finishError(ctx, msg, attempt, err)
	}

	if reply == nil || reply.NoReply || (reply.Content == "" && len(reply.Files) == 0) {
		return w.finishDelivered(ctx, msg, attempt, nil)
	}

	if err := w.sendReply(ctx, msg, reply); err != nil {
		return w.finishError(ctx, msg, attempt, err)
	}
	return w.finishDelivered(ctx, msg, attempt, &reply.Content)
}

// process runs the platform under the per-platform timeout and records
// latency.
func (w *Worker) process(ctx context.Context, plat platform.Platform, platformID string, msg *models.Message) (*platform.Reply, error) {
	env := &platform.Envelope{
		Content:      msg.Content,
		Sender:       msg.Sender,
		SenderRemark: msg.SenderRemark,
		ChatName:     msg.ChatName,
		InstanceID:   msg.InstanceID,
		MType:        msg.MType,
	}
	if msg.LocalFilePath != nil {
		env.Attachments = []string{*msg.LocalFilePath}
	}

	pctx, cancel := context.WithTimeout(ctx, w.cfg.PlatformTimeout)
	defer cancel()

	start := time.Now()
	reply, err := plat.ProcessMessage(pctx, env)
	if w.metrics != nil {
		w.metrics.PlatformLatency.WithLabelValues(platformID, string(plat.Kind())).
			Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// sendReply pushes the platform's answer back to the originating chat.
// Send failures are retryable: the agent may be mid-reconnect.
func (w *Worker) sendReply(ctx context.Context, msg *models.Message, reply *platform.Reply) error {
	if len(reply.Files) > 0 {
		if err := w.sender.SendFile(ctx, msg.InstanceID, msg.ChatName, reply.Files); err != nil {
			return err
		}
	}
	if reply.Content != "" {
		return w.sender.SendText(ctx, msg.InstanceID, msg.ChatName, reply.Content, reply.AtList)
	}
	return nil
}

func (w *Worker) finishDelivered(ctx context.Context, msg *models.Message, attempt *models.DeliveryAttempt, reply *string) error {
	if err := w.queue.MarkDelivered(ctx, msg.MessageID, reply); err != nil {
		return err
	}
	w.recordAttempt(ctx, attempt, models.AttemptOutcomeDelivered, "", false)

	msg.DeliveryStatus = models.DeliveryStatusDelivered
	msg.ReplyContent = reply
	msg.LastError = ""
	w.announce(msg)

	if w.metrics != nil && attempt.PlatformID != "" {
		w.metrics.MessagesDelivered.WithLabelValues(attempt.PlatformID).Inc()
	}
	return nil
}

func (w *Worker) finishSkipped(ctx context.Context, msg *models.Message, attempt *models.DeliveryAttempt, reason string) error {
	if err := w.queue.Skip(ctx, msg.MessageID, reason); err != nil {
		return err
	}
	w.recordAttempt(ctx, attempt, models.AttemptOutcomeSkipped, reason, false)

	msg.DeliveryStatus = models.DeliveryStatusSkipped
	msg.LastError = reason
	w.announce(msg)

	if w.metrics != nil {
		w.metrics.MessagesSkipped.WithLabelValues(reason).Inc()
	}
	return nil
}

// finishError routes a failed attempt: retryable errors under the attempt
// cap go back to PENDING with backoff, everything else is terminal FAILED.
func (w *Worker) finishError(ctx context.Context, msg *models.Message, attempt *models.DeliveryAttempt, cause error) error {
	errText := redact.Error(cause)
	retryable := agent.IsRetryable(cause) && msg.DeliveryAttempts < w.cfg.MaxAttempts

	if retryable {
		next := time.Now().Add(retryBackoff(msg.DeliveryAttempts))
		if err := w.queue.RequeueForRetry(ctx, msg.MessageID, errText, next); err != nil {
			return err
		}
		w.recordAttempt(ctx, attempt, models.AttemptOutcomeRetry, errText, true)
		slog.Warn("Delivery attempt failed, scheduled retry",
			"message_id", msg.MessageID, "attempt", msg.DeliveryAttempts,
			"next_attempt", next, "error", errText)
		return nil
	}

	if err := w.queue.MarkFailed(ctx, msg.MessageID, errText); err != nil {
		return err
	}
	w.recordAttempt(ctx, attempt, models.AttemptOutcomeFailed, errText, false)

	msg.DeliveryStatus = models.DeliveryStatusFailed
	msg.LastError = errText
	w.announce(msg)

	if w.metrics != nil && attempt.PlatformID != "" {
		w.metrics.MessagesFailed.WithLabelValues(attempt.PlatformID).Inc()
	}
	slog.Error("Message delivery failed terminally",
		"message_id", msg.MessageID, "attempts", msg.DeliveryAttempts, "error", errText)
	return nil
}

// recordAttempt writes the ledger row. Ledger failures never fail the
// delivery outcome; they are logged and dropped.
func (w *Worker) recordAttempt(ctx context.Context, attempt *models.DeliveryAttempt, outcome models.AttemptOutcome, errText string, retryable bool) {
	attempt.FinishedAt = time.Now()
	attempt.Outcome = outcome
	attempt.Error = errText
	attempt.Retryable = retryable
	if w.ledger == nil {
		return
	}
	if err := w.ledger.Record(ctx, attempt); err != nil {
		slog.Warn("Failed to record delivery attempt",
			"message_id", attempt.MessageID, "error", err)
	}
}

func (w *Worker) announce(msg *models.Message) {
	if w.publisher != nil {
		w.publisher.PublishMessageStatus(msg)
	}
}
