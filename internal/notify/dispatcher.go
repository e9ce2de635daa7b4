package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meghanarao/savoro/internal/metrics"
	"github.com/meghanarao/savoro/internal/template"
)

// Dispatcher orchestrates one notification fan-out: template lookup,
// rendering, preference resolution, and the concurrent channel sends.
type Dispatcher struct {
	registry *template.Registry
	prefs    PreferenceResolver
	feed     Sender            // in-app channel
	senders  map[Channel]Sender // external channels
	timeout  time.Duration
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. Any external channel missing from
// senders reports ErrNotConfigured at send time. timeout bounds each
// external send so a slow provider cannot stall the whole dispatch.
func NewDispatcher(
	registry *template.Registry,
	prefs PreferenceResolver,
	feed Sender,
	senders map[Channel]Sender,
	timeout time.Duration,
	logger *zap.Logger,
) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		prefs:    prefs,
		feed:     feed,
		senders:  senders,
		timeout:  timeout,
		logger:   logger,
	}
}

// Dispatch fans req out across its requested channels and aggregates the
// per-channel outcomes. The in-app write happens synchronously first;
// the external sends run concurrently and are joined before returning.
// Every channel failure is caught here and recorded as {success:false};
// nothing propagates to the caller as a fault.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	recipientID, role, ok := recipient(req)
	if !ok {
		return Result{Channels: map[Channel]ChannelResult{}}, ErrNoRecipient
	}

	entry := d.registry.Resolve(string(req.EventType))
	data := req.Data
	if data == nil {
		data = template.Data{}
	}
	if _, exists := data["type"]; !exists {
		data["type"] = template.String(string(req.EventType))
	}
	title := template.Render(entry.Title, data)
	message := template.Render(entry.Message, data)

	delivery := Delivery{
		RecipientID: recipientID,
		Role:        role,
		EventType:   req.EventType,
		Title:       title,
		Message:     message,
		Contact:     req.Contact,
		Priority:    priorityOrDefault(req.Priority),
		Data:        data,
	}

	result := Result{Channels: make(map[Channel]ChannelResult, len(req.Channels))}

	// In-app first: cheap, local, and its outcome gates nothing else.
	if requested(req.Channels, ChannelInApp) {
		result.Channels[ChannelInApp] = d.sendInApp(ctx, delivery)
	}

	external := externalRequested(req.Channels)
	if len(external) > 0 {
		prefs := d.resolvePreferences(ctx, recipientID, role, req.Contact)

		// Disabled channels are recorded before any sender goroutine is
		// spawned; once senders are running, every result map write goes
		// through mu.
		live := make([]Channel, 0, len(external))
		for _, ch := range external {
			if !enabled(prefs, ch) {
				// Deliberate short-circuit: disabled channels never reach
				// the provider.
				result.Channels[ch] = ChannelResult{Success: false, Error: "channel disabled by recipient preference"}
				metrics.RecordNotificationDispatched(string(ch), "skipped")
				continue
			}
			live = append(live, ch)
		}

		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for _, ch := range live {
			wg.Add(1)
			go func(ch Channel) {
				defer wg.Done()
				res := d.sendExternal(ctx, ch, delivery)
				mu.Lock()
				result.Channels[ch] = res
				mu.Unlock()
			}(ch)
		}
		wg.Wait()
	}

	for _, res := range result.Channels {
		if res.Success {
			result.Success = true
			break
		}
	}

	d.logger.Info("notification dispatched",
		zap.String("event_type", string(req.EventType)),
		zap.String("role", role),
		zap.Bool("success", result.Success),
		zap.Int("channels", len(result.Channels)),
	)

	return result, nil
}

// sendInApp writes the feed row. Guests have no feed; their in-app
// request records a failure without touching storage.
func (d *Dispatcher) sendInApp(ctx context.Context, delivery Delivery) ChannelResult {
	if delivery.RecipientID == uuid.Nil {
		return ChannelResult{Success: false, Error: "guest recipient has no in-app feed"}
	}
	if d.feed == nil {
		return ChannelResult{Success: false, Error: ErrNotConfigured.Error()}
	}

	outcome, err := d.feed.Send(ctx, delivery)
	if err != nil {
		d.logger.Warn("in-app feed write failed",
			zap.String("recipient_id", delivery.RecipientID.String()),
			zap.Error(err),
		)
		metrics.RecordNotificationDispatched(string(ChannelInApp), "failed")
		return ChannelResult{Success: false, Error: err.Error()}
	}
	metrics.RecordNotificationDispatched(string(ChannelInApp), "sent")
	return ChannelResult{Success: outcome.Success, ExternalID: outcome.ExternalID}
}

// sendExternal invokes one external channel sender under its own timeout
// and converts every failure mode (error, panic, timeout, missing
// provider) into a ChannelResult.
func (d *Dispatcher) sendExternal(ctx context.Context, ch Channel, delivery Delivery) (res ChannelResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("channel sender panicked",
				zap.String("channel", string(ch)),
				zap.Any("panic", r),
			)
			res = ChannelResult{Success: false, Error: fmt.Sprintf("sender panic: %v", r)}
		}
		status := "failed"
		if res.Success {
			status = "sent"
		}
		metrics.RecordNotificationDispatched(string(ch), status)
		metrics.RecordChannelSendLatency(string(ch), time.Since(start))
	}()

	sender, ok := d.senders[ch]
	if !ok {
		return ChannelResult{Success: false, Error: ErrNotConfigured.Error()}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	outcome, err := sender.Send(sendCtx, delivery)
	if err != nil {
		d.logger.Warn("channel send failed",
			zap.String("channel", string(ch)),
			zap.String("event_type", string(delivery.EventType)),
			zap.Error(err),
		)
		return ChannelResult{Success: false, Error: err.Error()}
	}
	return ChannelResult{Success: outcome.Success, ExternalID: outcome.ExternalID}
}

// resolvePreferences looks up opt-in flags for account recipients. Guest
// recipients derive theirs from the contact details present: an address
// is consent enough for an order they just placed. Chat addresses by
// phone number, so a guest phone enables both SMS and chat.
func (d *Dispatcher) resolvePreferences(ctx context.Context, recipientID uuid.UUID, role string, contact Contact) ChannelPrefs {
	if recipientID == uuid.Nil {
		return ChannelPrefs{Email: contact.Email != "", SMS: contact.Phone != "", Chat: contact.Phone != ""}
	}
	prefs, err := d.prefs.Resolve(ctx, recipientID, role)
	if err != nil {
		d.logger.Warn("preference lookup failed, external channels disabled",
			zap.String("recipient_id", recipientID.String()),
			zap.Error(err),
		)
		return ChannelPrefs{}
	}
	return ChannelPrefs{Email: prefs.Email, SMS: prefs.SMS, Chat: prefs.Chat}
}

// ChannelPrefs are the resolved opt-in flags used during one dispatch.
type ChannelPrefs struct {
	Email bool
	SMS   bool
	Chat  bool
}

func enabled(p ChannelPrefs, ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return p.Email
	case ChannelSMS:
		return p.SMS
	case ChannelChat:
		return p.Chat
	default:
		return false
	}
}

// recipient picks the primary recipient for a request: the customer when
// present, otherwise the merchant, otherwise a guest contact.
func recipient(req Request) (uuid.UUID, string, bool) {
	if req.CustomerID != nil {
		return *req.CustomerID, "customer", true
	}
	if req.MerchantID != nil {
		return *req.MerchantID, "merchant", true
	}
	if req.Contact.Email != "" || req.Contact.Phone != "" {
		return uuid.Nil, "customer", true
	}
	return uuid.Nil, "", false
}

func requested(channels []Channel, ch Channel) bool {
	for _, c := range channels {
		if c == ch {
			return true
		}
	}
	return false
}

func externalRequested(channels []Channel) []Channel {
	var out []Channel
	for _, c := range channels {
		if c != ChannelInApp {
			out = append(out, c)
		}
	}
	return out
}

func priorityOrDefault(p Priority) Priority {
	if p == "" {
		return PriorityNormal
	}
	return p
}
