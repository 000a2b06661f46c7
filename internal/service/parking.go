// Package service holds the ticket lifecycle engine: entry, queries, exit,
// parking status and delivery tracking.  The engine is stateless; every
// piece of mutable state lives in the TicketStore.
package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/parkqr/internal/model"
	"github.com/iliyamo/parkqr/internal/queue"
	"github.com/iliyamo/parkqr/internal/repository"
	"github.com/iliyamo/parkqr/internal/utils"
)

// TicketStore is the persistence the engine needs.  repository.TicketRepo
// satisfies it for MySQL and SQLite.
type TicketStore interface {
	Insert(ctx context.Context, t *model.Ticket) error
	FindByToken(ctx context.Context, token string) (*model.Ticket, error)
	FindByID(ctx context.Context, id string) (*model.Ticket, error)
	FindActiveByPlate(ctx context.Context, plate string) (*model.Ticket, error)
	UpdateExit(ctx context.Context, token string, exitTime time.Time, feeCents int64) (*model.Ticket, error)
	UpdateDelivery(ctx context.Context, token string, state model.DeliveryState, at time.Time) (*model.Ticket, error)
	ListActive(ctx context.Context) ([]model.Ticket, error)
	ListAll(ctx context.Context) ([]model.Ticket, error)
	AggregateSince(ctx context.Context, since time.Time) (model.Aggregate, error)
	Ping(ctx context.Context) error
}

// TokenMinter issues ticket tokens.
type TokenMinter interface {
	Mint() (string, error)
}

// Renderer produces the PNG artifacts handed to ticket holders.
type Renderer interface {
	QRCode(url string) ([]byte, error)
	TicketImage(t *model.Ticket, verifyURL string, ratePerHour int64) ([]byte, error)
}

// EventPublisher ships committed lifecycle changes to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.TicketEvent) error
}

// Observer is notified about lifecycle outcomes, typically to feed metrics.
type Observer interface {
	TicketCreated(class model.VehicleClass)
	TicketCompleted(class model.VehicleClass, minutes, feeCents int64)
	EntryRejected(reason string)
}

// Options configures a ParkingService.  Only Store is required.
type Options struct {
	Store        TicketStore
	Tokens       TokenMinter
	Renderer     Renderer
	Events       EventPublisher
	Observer     Observer
	Rates        Rates
	BaseURL      string
	Location     *time.Location
	StoreTimeout time.Duration
	Logger       *slog.Logger

	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string
}

const (
	defaultStoreTimeout = 5 * time.Second
	publishTimeout      = 2 * time.Second
	dataURLPrefix       = "data:image/png;base64,"
)

// ParkingService implements the ticket lifecycle.
type ParkingService struct {
	store    TicketStore
	tokens   TokenMinter
	renderer Renderer
	events   EventPublisher
	observer Observer
	rates    Rates
	baseURL  string
	loc      *time.Location
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewParkingService validates opts and fills defaults for everything but
// the store.
func NewParkingService(opts Options) (*ParkingService, error) {
	if opts.Store == nil {
		return nil, errors.New("service: nil ticket store")
	}
	s := &ParkingService{
		store:    opts.Store,
		tokens:   opts.Tokens,
		renderer: opts.Renderer,
		events:   opts.Events,
		observer: opts.Observer,
		rates:    opts.Rates,
		baseURL:  opts.BaseURL,
		loc:      opts.Location,
		timeout:  opts.StoreTimeout,
		log:      opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if s.tokens == nil {
		s.tokens = utils.TokenGenerator{}
	}
	if s.rates == nil {
		s.rates = DefaultRates()
	}
	if s.baseURL == "" {
		s.baseURL = "http://localhost:3000"
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.timeout <= 0 {
		s.timeout = defaultStoreTimeout
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

// Rates returns the tariff the engine bills with.
func (s *ParkingService) Rates() Rates { return s.rates }

// EntryResult is returned by CreateEntry.  QRCode is a PNG data URL of
// VerifyURL and is empty when no renderer is configured.
type EntryResult struct {
	Ticket    *model.Ticket
	VerifyURL string
	QRCode    string
}

// TicketView is a ticket together with its elapsed time and fee.  For an
// ACTIVE ticket both are projected to the current instant and nothing is
// persisted; for a COMPLETED ticket they are the settled values.
type TicketView struct {
	Ticket         *model.Ticket
	ElapsedMinutes int64
	FeeCents       int64
}

// ExitResult is returned by ProcessExit.
type ExitResult struct {
	Ticket       *model.Ticket
	TotalMinutes int64
	TotalHours   int64
}

// DailyStats aggregates the tickets that entered since Since.
type DailyStats struct {
	Since        time.Time
	Count        int64
	RevenueCents int64
}

// ParkingStatus is a snapshot of the lot.
type ParkingStatus struct {
	ActiveCount int
	ByClass     map[model.VehicleClass]int
	Active      []TicketView
	Today       DailyStats
}

func (s *ParkingService) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// storeCall runs fn under the store timeout.
func storeCall[T any](ctx context.Context, s *ParkingService, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}

// storeError converts an unexpected store failure to an engine error.
// Deadlines and dropped connections become Unavailable; anything else is
// Internal.  The client-facing message never carries driver detail.  A
// caller that went away gets its cancellation back unchanged.
func (s *ParkingService) storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		s.log.Warn("ticket store unavailable", "op", op, "err", err)
		return newError(KindUnavailable, "ticket store unavailable", err)
	}
	s.log.Error("ticket store failure", "op", op, "err", err)
	return newError(KindInternal, "internal error", err)
}

func (s *ParkingService) findByToken(ctx context.Context, op, token string) (*model.Ticket, error) {
	if token == "" {
		return nil, newError(KindValidation, "ticket token is required", nil)
	}
	t, err := storeCall(ctx, s, func(ctx context.Context) (*model.Ticket, error) {
		return s.store.FindByToken(ctx, token)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, "ticket not found", err)
		}
		return nil, s.storeError(op, err)
	}
	return t, nil
}

// CreateEntry opens a ticket for a vehicle.  The plate is normalized and
// validated first; a plate that already has an ACTIVE ticket is rejected
// with Conflict.  When a renderer is configured and the QR code cannot be
// produced, the committed result is returned together with a
// RenderingFailed error.
func (s *ParkingService) CreateEntry(ctx context.Context, rawPlate, rawClass string) (*EntryResult, error) {
	plate, err := model.NormalizePlate(rawPlate)
	if err != nil {
		return nil, newError(KindValidation, err.Error(), err)
	}
	class, err := model.ParseVehicleClass(rawClass)
	if err != nil {
		return nil, newError(KindValidation, err.Error(), err)
	}
	if _, err := s.rates.RatePerHour(class); err != nil {
		return nil, err
	}

	_, err = storeCall(ctx, s, func(ctx context.Context) (*model.Ticket, error) {
		return s.store.FindActiveByPlate(ctx, plate)
	})
	switch {
	case err == nil:
		s.entryRejected("active_ticket")
		return nil, newError(KindConflict, "vehicle already has an active ticket", nil)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, s.storeError("CreateEntry", err)
	}

	var ticket *model.Ticket
	for attempt := 0; attempt < 2 && ticket == nil; attempt++ {
		token, err := s.tokens.Mint()
		if err != nil {
			s.log.Error("mint ticket token", "err", err)
			return nil, newError(KindInternal, "internal error", err)
		}
		now := s.clock()
		t := &model.Ticket{
			ID:            s.newID(),
			Token:         token,
			Plate:         plate,
			VehicleClass:  class,
			EntryTime:     now,
			Status:        model.StatusActive,
			DeliveryState: model.DeliveryUnset,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		_, err = storeCall(ctx, s, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.store.Insert(ctx, t)
		})
		switch {
		case err == nil:
			ticket = t
		case errors.Is(err, repository.ErrActivePlateExists):
			s.entryRejected("active_ticket")
			return nil, newError(KindConflict, "vehicle already has an active ticket", err)
		case errors.Is(err, repository.ErrDuplicateToken):
			s.log.Warn("ticket token collision", "attempt", attempt+1)
		default:
			return nil, s.storeError("CreateEntry", err)
		}
	}
	if ticket == nil {
		s.entryRejected("token_collision")
		return nil, newError(KindConflict, "could not issue a unique ticket token", repository.ErrDuplicateToken)
	}

	if s.observer != nil {
		s.observer.TicketCreated(ticket.VehicleClass)
	}
	s.publish(ctx, queue.EventTicketCreated, ticket, 0)

	res := &EntryResult{Ticket: ticket, VerifyURL: utils.VerifyURL(s.baseURL, ticket.Token)}
	if s.renderer == nil {
		return res, nil
	}
	png, err := s.renderer.QRCode(res.VerifyURL)
	if err != nil {
		s.log.Warn("render entry qr code", "ticket_id", ticket.ID, "err", err)
		return res, newError(KindRenderingFailed, "could not render ticket qr code", err)
	}
	res.QRCode = DataURL(png)
	return res, nil
}

// GetTicket looks a ticket up by token and projects its fee.
func (s *ParkingService) GetTicket(ctx context.Context, token string) (*TicketView, error) {
	t, err := s.findByToken(ctx, "GetTicket", token)
	if err != nil {
		return nil, err
	}
	return s.view(t)
}

// GetTicketByID is GetTicket keyed by the internal id.
func (s *ParkingService) GetTicketByID(ctx context.Context, id string) (*TicketView, error) {
	if id == "" {
		return nil, newError(KindValidation, "ticket id is required", nil)
	}
	t, err := storeCall(ctx, s, func(ctx context.Context) (*model.Ticket, error) {
		return s.store.FindByID(ctx, id)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, "ticket not found", err)
		}
		return nil, s.storeError("GetTicketByID", err)
	}
	return s.view(t)
}

// ListTickets returns every ticket, newest entry first.
func (s *ParkingService) ListTickets(ctx context.Context) ([]TicketView, error) {
	tickets, err := storeCall(ctx, s, func(ctx context.Context) ([]model.Ticket, error) {
		return s.store.ListAll(ctx)
	})
	if err != nil {
		return nil, s.storeError("ListTickets", err)
	}
	return s.views(tickets)
}

func (s *ParkingService) view(t *model.Ticket) (*TicketView, error) {
	if !t.IsActive() {
		end := t.EntryTime
		if t.ExitTime != nil {
			end = *t.ExitTime
		}
		return &TicketView{Ticket: t, ElapsedMinutes: ElapsedMinutes(t.EntryTime, end), FeeCents: t.Fee()}, nil
	}
	minutes := ElapsedMinutes(t.EntryTime, s.clock())
	fee, err := s.rates.ComputeFee(t.VehicleClass, minutes)
	if err != nil {
		s.log.Error("project ticket fee", "ticket_id", t.ID, "class", t.VehicleClass, "err", err)
		return nil, newError(KindInternal, "internal error", err)
	}
	return &TicketView{Ticket: t, ElapsedMinutes: minutes, FeeCents: fee}, nil
}

func (s *ParkingService) views(tickets []model.Ticket) ([]TicketView, error) {
	out := make([]TicketView, 0, len(tickets))
	for i := range tickets {
		v, err := s.view(&tickets[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// ProcessExit settles an ACTIVE ticket.  Elapsed time is floored to whole
// minutes and billed per started hour.  Concurrent exits for the same token
// settle it once; the others see InvalidState.
func (s *ParkingService) ProcessExit(ctx context.Context, token string) (*ExitResult, error) {
	t, err := s.findByToken(ctx, "ProcessExit", token)
	if err != nil {
		return nil, err
	}
	if !t.IsActive() {
		return nil, newError(KindInvalidState, "ticket already processed", nil)
	}

	exitTime := s.clock()
	minutes := ElapsedMinutes(t.EntryTime, exitTime)
	fee, err := s.rates.ComputeFee(t.VehicleClass, minutes)
	if err != nil {
		s.log.Error("compute exit fee", "ticket_id", t.ID, "class", t.VehicleClass, "err", err)
		return nil, newError(KindInternal, "internal error", err)
	}

	done, err := storeCall(ctx, s, func(ctx context.Context) (*model.Ticket, error) {
		return s.store.UpdateExit(ctx, token, exitTime, fee)
	})
	if errors.Is(err, repository.ErrNotApplied) {
		// Lost a race or the row vanished; re-read to report which.
		if _, ferr := s.findByToken(ctx, "ProcessExit", token); ferr != nil {
			return nil, ferr
		}
		return nil, newError(KindInvalidState, "ticket already processed", err)
	}
	if err != nil {
		return nil, s.storeError("ProcessExit", err)
	}

	if s.observer != nil {
		s.observer.TicketCompleted(done.VehicleClass, minutes, fee)
	}
	s.publish(ctx, queue.EventTicketCompleted, done, minutes)

	return &ExitResult{Ticket: done, TotalMinutes: minutes, TotalHours: TotalHours(minutes)}, nil
}

// StartOfDay returns midnight of the day containing t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// GetParkingStatus reports the ACTIVE tickets and today's totals.  "Today"
// starts at midnight in the configured location.
func (s *ParkingService) GetParkingStatus(ctx context.Context) (*ParkingStatus, error) {
	active, err := storeCall(ctx, s, func(ctx context.Context) ([]model.Ticket, error) {
		return s.store.ListActive(ctx)
	})
	if err != nil {
		return nil, s.storeError("GetParkingStatus", err)
	}
	since := StartOfDay(s.clock(), s.loc)
	agg, err := storeCall(ctx, s, func(ctx context.Context) (model.Aggregate, error) {
		return s.store.AggregateSince(ctx, since)
	})
	if err != nil {
		return nil, s.storeError("GetParkingStatus", err)
	}

	views, err := s.views(active)
	if err != nil {
		return nil, err
	}
	byClass := make(map[model.VehicleClass]int, len(model.VehicleClasses))
	for _, c := range model.VehicleClasses {
		byClass[c] = 0
	}
	for _, t := range active {
		byClass[t.VehicleClass]++
	}
	return &ParkingStatus{
		ActiveCount: len(active),
		ByClass:     byClass,
		Active:      views,
		Today:       DailyStats{Since: since, Count: agg.Count, RevenueCents: agg.FeeSum},
	}, nil
}

// ConfirmDigitalDelivery records that the holder photographed the QR code.
func (s *ParkingService) ConfirmDigitalDelivery(ctx context.Context, token string) (*model.Ticket, error) {
	return s.setDelivery(ctx, "ConfirmDigitalDelivery", token, model.DeliveryDigitalPhoto)
}

// MarkAsPrinted records that a paper ticket was printed.
func (s *ParkingService) MarkAsPrinted(ctx context.Context, token string) (*model.Ticket, error) {
	return s.setDelivery(ctx, "MarkAsPrinted", token, model.DeliveryPrinted)
}

// RecordDownload records that the ticket image was downloaded.
func (s *ParkingService) RecordDownload(ctx context.Context, token string) (*model.Ticket, error) {
	return s.setDelivery(ctx, "RecordDownload", token, model.DeliveryDigitalDownload)
}

func (s *ParkingService) setDelivery(ctx context.Context, op, token string, state model.DeliveryState) (*model.Ticket, error) {
	if token == "" {
		return nil, newError(KindValidation, "ticket token is required", nil)
	}
	at := s.clock()
	t, err := storeCall(ctx, s, func(ctx context.Context) (*model.Ticket, error) {
		return s.store.UpdateDelivery(ctx, token, state, at)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, "ticket not found", err)
		}
		return nil, s.storeError(op, err)
	}
	s.publish(ctx, queue.EventTicketDelivery, t, 0)
	return t, nil
}

// DownloadTicketImage marks the ticket as downloaded and renders the
// printable PNG.  A rendering failure is reported as RenderingFailed; the
// download mark stays recorded.
func (s *ParkingService) DownloadTicketImage(ctx context.Context, token string) ([]byte, *model.Ticket, error) {
	t, err := s.RecordDownload(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if s.renderer == nil {
		return nil, t, newError(KindRenderingFailed, "ticket rendering is not configured", nil)
	}
	rate, err := s.rates.RatePerHour(t.VehicleClass)
	if err != nil {
		return nil, t, newError(KindInternal, "internal error", err)
	}
	img, err := s.renderer.TicketImage(t, utils.VerifyURL(s.baseURL, t.Token), rate)
	if err != nil {
		s.log.Warn("render ticket image", "ticket_id", t.ID, "err", err)
		return nil, t, newError(KindRenderingFailed, "could not render ticket image", err)
	}
	return img, t, nil
}

// VerifyQRCode renders the QR code of an existing ticket's verify link.
func (s *ParkingService) VerifyQRCode(ctx context.Context, token string) ([]byte, error) {
	t, err := s.findByToken(ctx, "VerifyQRCode", token)
	if err != nil {
		return nil, err
	}
	if s.renderer == nil {
		return nil, newError(KindRenderingFailed, "ticket rendering is not configured", nil)
	}
	png, err := s.renderer.QRCode(utils.VerifyURL(s.baseURL, t.Token))
	if err != nil {
		s.log.Warn("render qr code", "ticket_id", t.ID, "err", err)
		return nil, newError(KindRenderingFailed, "could not render ticket qr code", err)
	}
	return png, nil
}

// Ping checks that the store answers within the store timeout.
func (s *ParkingService) Ping(ctx context.Context) error {
	_, err := storeCall(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.Ping(ctx)
	})
	if err != nil {
		return newError(KindUnavailable, "ticket store unavailable", err)
	}
	return nil
}

// DataURL wraps PNG bytes in a data URL.
func DataURL(png []byte) string {
	return dataURLPrefix + base64.StdEncoding.EncodeToString(png)
}

func (s *ParkingService) entryRejected(reason string) {
	if s.observer != nil {
		s.observer.EntryRejected(reason)
	}
}

// publish sends an event after the change is committed.  Failures are
// logged and never reach the caller.
func (s *ParkingService) publish(ctx context.Context, typ string, t *model.Ticket, minutes int64) {
	if s.events == nil {
		return
	}
	ev := queue.NewTicketEvent(typ, t, s.clock())
	ev.TotalMinutes = minutes
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("publish ticket event", "type", typ, "ticket_id", t.ID, "err", err)
	}
}
