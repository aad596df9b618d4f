// Package delivery turns seen bank statements into booked expenses. Rules
// pair a statement regex with a template expense; the first matching rule in
// priority order instantiates the template against the seen transaction.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"moneta/internal/amqp"
	"moneta/internal/core"
	"moneta/internal/log"
	"moneta/internal/storage"
)

const toolDelivery = "delivery"

// EventPublisher mirrors the server-side fan-out. A nil publisher disables it.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, queue string, msg *amqp.ExpenseEventMessage) error
}

type Worker struct {
	repo       *storage.Repository
	publisher  EventPublisher
	eventQueue string
	logger     *log.Logger

	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

func NewWorker(repo *storage.Repository, publisher EventPublisher, eventQueue string, logger *log.Logger) *Worker {
	return &Worker{
		repo:       repo,
		publisher:  publisher,
		eventQueue: eventQueue,
		logger:     logger.WithComponent(log.ComponentDelivery),
		compiled:   make(map[string]*regexp.Regexp),
	}
}

// HandleStatement evaluates the rules in priority order against one seen
// statement. The first rule that matches wins; a statement matching no rule
// is acknowledged and dropped.
func (w *Worker) HandleStatement(ctx context.Context, msg *amqp.StatementMessage) error {
	rules, err := w.repo.DeliveryRules(ctx)
	if err != nil {
		return fmt.Errorf("load delivery rules: %w", err)
	}

	for _, rule := range rules {
		if !w.matches(rule, msg) {
			continue
		}
		if err := w.deliver(ctx, rule, msg); err != nil {
			return err
		}
		return nil
	}

	w.logger.DebugContext(ctx, "statement matched no rule",
		log.FieldAccountID, msg.AccountID, log.FieldAmount, msg.Amount)
	return nil
}

func (w *Worker) matches(rule core.DeliveryRule, msg *amqp.StatementMessage) bool {
	if rule.AccountID != nil && *rule.AccountID != msg.AccountID {
		return false
	}
	if rule.Amount != nil && *rule.Amount != msg.Amount {
		return false
	}
	re, err := w.pattern(rule.StatementRegex)
	if err != nil {
		w.logger.Warn("skipping rule with invalid statement regex",
			log.FieldRuleID, rule.ID, log.FieldError, err)
		return false
	}
	return re.MatchString(msg.Statement)
}

func (w *Worker) pattern(expr string) (*regexp.Regexp, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if re, ok := w.compiled[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	w.compiled[expr] = re
	return re, nil
}

func (w *Worker) deliver(ctx context.Context, rule core.DeliveryRule, msg *amqp.StatementMessage) error {
	template, err := w.repo.TemplateExpense(ctx, rule.TemplateID)
	if errors.Is(err, storage.ErrNotFound) {
		// Redelivery cannot restore a deleted template.
		return fmt.Errorf("%w: rule %d references missing template %d", amqp.ErrPermanent, rule.ID, rule.TemplateID)
	}
	if err != nil {
		return fmt.Errorf("load template %d for rule %d: %w", rule.TemplateID, rule.ID, err)
	}

	in := instantiate(template, msg)
	actor := storage.EventActor{UserID: &rule.UserID, Tool: toolDelivery, Automatic: true}

	id, err := w.repo.CreateExpense(ctx, actor, in)
	if err != nil {
		return fmt.Errorf("create expense from rule %d: %w", rule.ID, err)
	}
	if err := w.repo.TouchDeliveryRule(ctx, rule.ID, time.Now().UTC()); err != nil {
		w.logger.WarnContext(ctx, "update rule last match failed",
			log.FieldRuleID, rule.ID, log.FieldError, err)
	}

	w.logger.InfoContext(ctx, "statement delivered",
		log.FieldRuleID, rule.ID,
		log.FieldExpenseID, id,
		log.FieldAccountID, msg.AccountID,
		log.FieldAmount, msg.Amount)

	if w.publisher != nil {
		event := amqp.NewExpenseEventMessage(id, &rule.UserID, toolDelivery, core.EventCreate)
		if err := w.publisher.PublishExpenseEvent(ctx, w.eventQueue, event); err != nil {
			w.logger.WarnContext(ctx, "publish expense event failed",
				log.FieldExpenseID, id, log.FieldError, err)
		}
	}
	return nil
}

// instantiate turns a template into a concrete expense for one seen
// transaction: booking dates stamped from the statement date, the seen
// account carrying the fixed amount, and the template's fractional shares
// re-dated alongside it. Fixed-amount template transactions are discarded in
// favor of the seen one so the single-basis rule holds.
func instantiate(template storage.ExpenseInput, msg *amqp.StatementMessage) storage.ExpenseInput {
	day := msg.Date.UTC().Truncate(24 * time.Hour)

	in := storage.ExpenseInput{Info: template.Info}
	in.Info.ID = 0
	in.Info.Template = false
	in.Info.Preliminary = false
	in.Info.Unchecked = true
	in.Info.BookingStart = day
	in.Info.BookingEnd = day.Add(24 * time.Hour)

	amount := msg.Amount
	in.Transactions = []core.ExpenseTransaction{{
		AccountID: msg.AccountID,
		Date:      msg.Date,
		Amount:    &amount,
		Statement: msg.Statement,
	}}
	for _, t := range template.Transactions {
		if t.Fraction == nil {
			continue
		}
		fraction := *t.Fraction
		in.Transactions = append(in.Transactions, core.ExpenseTransaction{
			AccountID: t.AccountID,
			Date:      msg.Date,
			Fraction:  &fraction,
			Comments:  t.Comments,
		})
	}

	for _, c := range template.Categories {
		c.ExpenseID = 0
		in.Categories = append(in.Categories, c)
	}
	return in
}
