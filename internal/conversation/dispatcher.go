package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/endovel/clinic-platform/internal/clinic"
	"github.com/endovel/clinic-platform/internal/observability/metrics"
	"github.com/endovel/clinic-platform/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.conversation")

// Sender delivers a text message to a WhatsApp user. from is the business
// phone_number_id to send as; empty means the sender's default number.
type Sender interface {
	SendText(ctx context.Context, from, to, body string) error
}

// RepositoryProvider returns the data access bound to one tenant database.
type RepositoryProvider interface {
	ForTenant(ctx context.Context, tenant string) (clinic.Repository, error)
}

// TenantSettings are the per-clinic overrides of Options. Empty fields keep
// the deployment default.
type TenantSettings struct {
	ClinicName     string
	ReceptionPhone string
	// PhoneNumberID is the clinic's WhatsApp number, used when a reply has no
	// inbound number to answer from.
	PhoneNumberID  string
	CashRegisterID string
	CashUserID     string
}

// SettingsSource resolves the settings of one tenant.
type SettingsSource interface {
	SettingsFor(ctx context.Context, tenant string) (TenantSettings, error)
}

// Operator event types.
const (
	OperatorNewClient     = "new_client"
	OperatorClientMessage = "client_message"
)

// OperatorEvent tells staff that a patient in the operator branch needs them.
type OperatorEvent struct {
	Type      string    `json:"type"`
	Tenant    string    `json:"tenant"`
	Phone     string    `json:"phone"`
	PatientID string    `json:"patient_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Staff     string    `json:"staff,omitempty"`
	At        time.Time `json:"at"`
}

// OperatorNotifier receives operator events. It must not block.
type OperatorNotifier interface {
	NotifyOperators(ev OperatorEvent)
}

// InboundMessage is a text message received from a patient.
type InboundMessage struct {
	ID            string    `json:"id"`
	Tenant        string    `json:"tenant"`
	From          string    `json:"from"`
	Text          string    `json:"text"`
	PhoneNumberID string    `json:"phone_number_id,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
}

// Options tune the booking flow for a deployment.
type Options struct {
	ClinicName     string
	ReceptionPhone string
	// OperatorMenu enables the 1/2 menu with the human operator branch.
	OperatorMenu   bool
	SessionTimeout time.Duration
	// Location is the clinic time zone; "today" and slot instants are computed in it.
	Location        *time.Location
	ConsultationFee clinic.Fee
	// CashRegisterID and CashUserID, when both set, record the reservation as an
	// income movement in the same transaction as the appointment. The register
	// lives in one tenant database, so multi-clinic deployments set them per
	// tenant through TenantSettings.
	CashRegisterID string
	CashUserID     string
	Now            func() time.Time
}

// Dispatcher runs one inbound message through the booking state machine.
type Dispatcher struct {
	sessions SessionStore
	repos    RepositoryProvider
	sender   Sender
	settings SettingsSource
	operator OperatorNotifier
	opts     Options
	logger   *logging.Logger
	metrics  *metrics.ConversationMetrics
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithConversationMetrics records transitions and outcomes.
func WithConversationMetrics(m *metrics.ConversationMetrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTenantSettings resolves clinic name, reception phone, reply number and
// cash register per tenant.
func WithTenantSettings(source SettingsSource) DispatcherOption {
	return func(d *Dispatcher) {
		d.settings = source
	}
}

// WithOperatorNotifier forwards operator requests and patient messages to staff.
func WithOperatorNotifier(n OperatorNotifier) DispatcherOption {
	return func(d *Dispatcher) {
		d.operator = n
	}
}

// NewDispatcher wires the state machine to its collaborators.
func NewDispatcher(sessions SessionStore, repos RepositoryProvider, sender Sender, opts Options, logger *logging.Logger, options ...DispatcherOption) *Dispatcher {
	if sessions == nil {
		panic("conversation: session store cannot be nil")
	}
	if repos == nil {
		panic("conversation: repository provider cannot be nil")
	}
	if sender == nil {
		panic("conversation: sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if opts.ClinicName == "" {
		opts.ClinicName = "Clínica"
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = SessionTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ConsultationFee.Currency == "" {
		opts.ConsultationFee.Currency = "BOB"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	d := &Dispatcher{
		sessions: sessions,
		repos:    repos,
		sender:   sender,
		opts:     opts,
		logger:   logger,
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// turn carries the state of handling one message.
type turn struct {
	ctx     context.Context
	repo    clinic.Repository
	opts    Options
	from    string
	sess    *Session
	text    string
	now     time.Time
	log     *logging.Logger
	replies []string
	events  []OperatorEvent
	end     bool
	outcome string
}

func (t *turn) say(body string) {
	t.replies = append(t.replies, body)
}

// notify queues an operator event; events go out after the session is saved.
func (t *turn) notify(ev OperatorEvent) {
	ev.Tenant = t.sess.Tenant
	ev.Phone = t.sess.Phone
	ev.At = t.now
	t.events = append(t.events, ev)
}

// finish replies and deletes the session afterwards.
func (t *turn) finish(body string) {
	t.say(body)
	t.end = true
}

// Handle processes one inbound message. Messages for the same tenant and phone
// are serialized through the session store lock.
func (d *Dispatcher) Handle(ctx context.Context, msg InboundMessage) error {
	key := SessionKey{Tenant: msg.Tenant, Phone: msg.From}
	if key.Phone == "" {
		return fmt.Errorf("conversation: message %s has no sender", msg.ID)
	}

	ctx, span := tracer.Start(ctx, "conversation.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.tenant", key.Tenant))

	log := d.logger.With("tenant", key.Tenant, "phone", key.Phone, "message_id", msg.ID)
	text := strings.TrimSpace(msg.Text)

	unlock, err := d.sessions.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("conversation: lock session: %w", err)
	}
	defer unlock()

	now := d.opts.Now()
	sess, found, err := d.sessions.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		log.Error("failed to load session", "error", err)
		d.send(ctx, log, msg.PhoneNumberID, key.Phone, msgGenericError)
		return fmt.Errorf("conversation: load session: %w", err)
	}

	if isCancel(text) {
		if found {
			d.deleteSession(ctx, log, key)
		}
		d.metrics.ObserveOutcome("cancelled")
		d.send(ctx, log, msg.PhoneNumberID, key.Phone, msgCancelled)
		return nil
	}

	if found && IsExpired(sess, now, d.opts.SessionTimeout) {
		log.Info("session expired, starting over", "state", sess.State)
		d.metrics.ObserveOutcome("expired")
		found = false
	}
	if !found {
		sess = NewSession(key, now)
	}
	if sess.State == StateFinal {
		d.deleteSession(ctx, log, key)
		log.Debug("message after booking finished dropped")
		return nil
	}

	from := sess.State
	t := &turn{ctx: ctx, sess: sess, text: text, now: now, log: log, opts: d.opts, from: msg.PhoneNumberID}
	t.repo, err = d.repos.ForTenant(ctx, key.Tenant)
	if err == nil {
		err = d.applySettings(t, key.Tenant)
	}
	if err == nil {
		err = d.step(t)
	}
	if err != nil {
		span.RecordError(err)
		log.Error("conversation step failed", "state", from, "error", err)
		t.replies = []string{msgGenericError}
		t.end = true
		t.outcome = "failed"
	}

	var persistErr error
	if t.end {
		d.deleteSession(ctx, log, key)
	} else {
		sess.LastInteraction = now
		if persistErr = d.sessions.Put(ctx, sess); persistErr != nil {
			log.Error("failed to save session", "state", sess.State, "error", persistErr)
		}
	}

	d.metrics.ObserveTransition(string(from), string(sess.State))
	if t.outcome != "" {
		d.metrics.ObserveOutcome(t.outcome)
	}
	log.Debug("message handled", "from_state", from, "to_state", sess.State, "ended", t.end)

	for _, body := range t.replies {
		d.send(ctx, log, t.from, key.Phone, body)
	}
	if d.operator != nil && err == nil {
		for _, ev := range t.events {
			d.operator.NotifyOperators(ev)
		}
	}
	if persistErr != nil {
		return fmt.Errorf("conversation: save session: %w", persistErr)
	}
	return nil
}

func (d *Dispatcher) step(t *turn) error {
	switch t.sess.State {
	case StateStart:
		return d.handleStart(t)
	case StateMenu:
		return d.handleMenu(t)
	case StateOperator:
		return d.handleOperator(t)
	case StateSpecialty:
		return d.handleSpecialty(t)
	case StateDate:
		return d.handleDate(t)
	case StateSlot:
		return d.handleSlot(t)
	case StateIdentity:
		return d.handleIdentity(t)
	case StateRegistration:
		return d.handleRegistration(t)
	case StateConfirmation:
		return d.handleConfirmation(t)
	default:
		return fmt.Errorf("conversation: unknown state %q", t.sess.State)
	}
}

// applySettings overlays the tenant's settings on the deployment options.
func (d *Dispatcher) applySettings(t *turn, tenant string) error {
	if d.settings == nil {
		return nil
	}
	s, err := d.settings.SettingsFor(t.ctx, tenant)
	if err != nil {
		return fmt.Errorf("conversation: tenant settings: %w", err)
	}
	if s.ClinicName != "" {
		t.opts.ClinicName = s.ClinicName
	}
	if s.ReceptionPhone != "" {
		t.opts.ReceptionPhone = s.ReceptionPhone
	}
	if s.CashRegisterID != "" || s.CashUserID != "" {
		t.opts.CashRegisterID = s.CashRegisterID
		t.opts.CashUserID = s.CashUserID
	}
	if t.from == "" {
		t.from = s.PhoneNumberID
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, log *logging.Logger, from, to, body string) {
	if err := d.sender.SendText(ctx, from, to, body); err != nil {
		log.Error("failed to send whatsapp reply", "error", err)
	}
}

func (d *Dispatcher) deleteSession(ctx context.Context, log *logging.Logger, key SessionKey) {
	if err := d.sessions.Delete(ctx, key); err != nil {
		log.Error("failed to delete session", "error", err)
	}
}

// Session returns the stored session for inspection.
func (d *Dispatcher) Session(ctx context.Context, key SessionKey) (*Session, bool, error) {
	return d.sessions.Get(ctx, key)
}

// Reset deletes a session so the next message starts over.
func (d *Dispatcher) Reset(ctx context.Context, key SessionKey) error {
	unlock, err := d.sessions.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("conversation: lock session: %w", err)
	}
	defer unlock()
	return d.sessions.Delete(ctx, key)
}

func isCancel(text string) bool {
	switch strings.ToLower(text) {
	case "cancelar", "cancel":
		return true
	}
	return false
}

func isRestart(text string) bool {
	switch strings.ToLower(text) {
	case "reiniciar", "restart":
		return true
	}
	return false
}

func isAffirmative(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "si", "sí", "yes":
		return true
	}
	return false
}
