package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/pricewatch/internal/core/domain"
	"github.com/rl1809/pricewatch/internal/obs"
	"github.com/rl1809/pricewatch/internal/port"
)

const notifyKeyPrefix = "notify:"

type Dispatcher struct {
	mailer    port.MailTransport
	ledger    port.DispatchLedger
	dedupeTTL time.Duration
}

// NewDispatcher builds a dispatcher. ledger may be nil, in which case every
// qualifying event is sent.
func NewDispatcher(mailer port.MailTransport, ledger port.DispatchLedger, dedupeTTL time.Duration) *Dispatcher {
	return &Dispatcher{
		mailer:    mailer,
		ledger:    ledger,
		dedupeTTL: dedupeTTL,
	}
}

// Dispatch sends one message for event addressed to all recipients. A nil
// event or an empty recipient list is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, event *domain.NotificationEvent, recipients []string) (domain.Delivery, error) {
	if event == nil || len(recipients) == 0 {
		return domain.DeliverySkipped, nil
	}

	key := NotificationKey(*event)
	if d.ledger != nil {
		ok, err := d.ledger.Reserve(ctx, key, d.dedupeTTL)
		if err != nil {
			return domain.DeliverySkipped, fmt.Errorf("%w: reserve %s: %w", ErrDispatch, key, err)
		}
		if !ok {
			obs.Logger.Info("notification_duplicate", "identity", event.Identity, "kind", event.Kind)
			return domain.DeliveryDuplicate, nil
		}
	}

	msg := ComposeMessage(*event)
	if err := d.mailer.Send(ctx, recipients, msg); err != nil {
		// A send that may have gone out keeps its reservation.
		if d.ledger != nil && !errors.Is(err, port.ErrDeliveryUnknown) {
			if releaseErr := d.ledger.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
				obs.Logger.Error("notification_release_failed", "key", key, "error", releaseErr)
			}
		}
		return domain.DeliverySkipped, fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	obs.Logger.Info("notification_sent",
		"identity", event.Identity,
		"kind", event.Kind,
		"recipients", len(recipients),
	)
	return domain.DeliverySent, nil
}

// NotificationKey identifies one transition of one item. Replaying the same
// cycle yields the same key; a later transition with the same outcome does
// not, because its history position differs.
func NotificationKey(event domain.NotificationEvent) string {
	return fmt.Sprintf("%s%s:%d:%s:%s", notifyKeyPrefix, event.Identity, event.Sequence, event.Kind, event.NewPrice.String())
}

func ComposeMessage(event domain.NotificationEvent) port.Message {
	title := event.Title
	if title == "" {
		title = event.Identity
	}
	short := truncateTitle(title, 40)

	var subject, lead string
	switch event.Kind {
	case domain.EventBackInStock:
		subject = fmt.Sprintf("%s is back in stock!", short)
		lead = fmt.Sprintf("%s is available again at %s.", title, event.NewPrice.StringFixed(2))
	case domain.EventLowestEver:
		subject = fmt.Sprintf("Lowest price alert for %s", short)
		lead = fmt.Sprintf("%s just reached its lowest price ever: %s (was %s).",
			title, event.NewPrice.StringFixed(2), event.PriorPrice.StringFixed(2))
	case domain.EventThresholdCrossed:
		subject = fmt.Sprintf("Big discount on %s", short)
		lead = fmt.Sprintf("%s dropped from %s to %s.",
			title, event.PriorPrice.StringFixed(2), event.NewPrice.StringFixed(2))
	default:
		subject = fmt.Sprintf("Price drop for %s", short)
		lead = fmt.Sprintf("%s is now %s, down from %s.",
			title, event.NewPrice.StringFixed(2), event.PriorPrice.StringFixed(2))
	}

	var b strings.Builder
	b.WriteString(lead)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Lowest recorded price: %s\n", event.Lowest.StringFixed(2))
	fmt.Fprintf(&b, "Average price: %s\n", event.Average.StringFixed(2))
	fmt.Fprintf(&b, "\nView the product: %s\n", event.Identity)

	return port.Message{Subject: subject, Body: b.String()}
}

func truncateTitle(title string, limit int) string {
	r := []rune(title)
	if len(r) <= limit {
		return title
	}
	return string(r[:limit]) + "..."
}
