package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mintgate/checkout-go/metrics"
)

// Orchestrator drives a checkout session end to end: it owns the state
// machine, calls the collaborators, and folds their results back in as
// events. All fallible work happens here; the machine only transitions.
type Orchestrator struct {
	machine  *Machine
	resolver HookResolver
	pricing  PricingService
	rails    []Rail
	watcher  TransactionWatcher
	channel  PageChannel
	logger   *zap.Logger
	recorder metrics.Recorder

	mu      sync.Mutex
	session uuid.UUID
	account common.Address
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// NewOrchestrator validates the configuration and creates a session.
func NewOrchestrator(config PaywallConfig, opts ...Option) (*Orchestrator, error) {
	machine, err := NewMachine(config)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		machine:  machine,
		session:  uuid.New(),
		logger:   zap.NewNop(),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// WithResolver sets the hook resolver consulted at lock selection.
func WithResolver(resolver HookResolver) Option {
	return func(o *Orchestrator) { o.resolver = resolver }
}

// WithPricing sets the pricing service.
func WithPricing(pricing PricingService) Option {
	return func(o *Orchestrator) { o.pricing = pricing }
}

// WithRails registers the payment rails.
func WithRails(rails ...Rail) Option {
	return func(o *Orchestrator) { o.rails = append(o.rails, rails...) }
}

// WithWatcher sets the confirmation watcher used for pessimistic checkouts.
func WithWatcher(watcher TransactionWatcher) Option {
	return func(o *Orchestrator) { o.watcher = watcher }
}

// WithChannel sets the embedding-page channel.
func WithChannel(channel PageChannel) Option {
	return func(o *Orchestrator) { o.channel = channel }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = recorder }
}

// State returns the machine's current state.
func (o *Orchestrator) State() State {
	return o.machine.State()
}

// Context returns a read-only snapshot of the checkout context.
func (o *Orchestrator) Context() Context {
	return o.machine.Context()
}

// CanFire reports whether the event type is accepted right now.
func (o *Orchestrator) CanFire(ev Event) bool {
	return o.machine.CanFire(ev)
}

// Send applies an event. An accepted session-ending event invalidates any
// in-flight asynchronous results so a stale confirmation cannot land in a
// new session; a rejected one leaves the live session intact.
func (o *Orchestrator) Send(ev Event) (State, error) {
	state, err := o.machine.Send(ev)
	if err != nil {
		return state, err
	}

	switch ev.(type) {
	case Disconnect, ResetCheckout, UpdatePaywallConfig:
		o.rotateSession()
	}
	o.recorder.IncCounter(metrics.CounterEvents, o.labels())
	return state, nil
}

// SelectLock resolves the lock's gating hook, records the connected account,
// and enters the flow. Recipients may pre-fill the list for expired renewals.
func (o *Orchestrator) SelectLock(ctx context.Context, account common.Address, lock Lock, existingMember, expiredMember bool, recipients ...Recipient) error {
	hook := HookNone
	if o.resolver != nil {
		config := o.machine.Context().PaywallConfig
		resolved, err := o.resolver.Resolve(ctx, &lock, &config)
		if err != nil {
			return err
		}
		hook = resolved
	}

	o.mu.Lock()
	o.account = account
	o.mu.Unlock()

	if expiredMember && len(recipients) == 0 {
		// A renewal without an explicit list renews the connected owner's key.
		recipients = []Recipient{{Address: account}}
	}

	_, err := o.Send(SelectLock{
		Lock:           lock,
		ExistingMember: existingMember,
		ExpiredMember:  expiredMember,
		Hook:           hook,
		Recipients:     recipients,
	})
	if err != nil {
		return err
	}

	o.logger.Info("lock selected",
		zap.String("lock", lock.Address.Hex()),
		zap.Uint64("network", lock.Network),
		zap.String("hook", string(hook)),
		zap.Bool("renewal", expiredMember))

	return nil
}

// SelectQuantity sets the membership count.
func (o *Orchestrator) SelectQuantity(quantity int) error {
	_, err := o.Send(SelectQuantity{Quantity: quantity})
	return err
}

// SelectRecipients sets the recipient list.
func (o *Orchestrator) SelectRecipients(recipients []Recipient) error {
	_, err := o.Send(SelectRecipients{Recipients: recipients})
	return err
}

// SignMessage signs the merchant's message with the given signer. The signer
// must be the connected account.
func (o *Orchestrator) SignMessage(ctx context.Context, signer MessageSigner) error {
	o.mu.Lock()
	account := o.account
	o.mu.Unlock()

	if signer.Address() != account {
		return fmt.Errorf("%w: signer %s, connected %s",
			ErrSignerMismatch, signer.Address().Hex(), account.Hex())
	}

	message := o.machine.Context().PaywallConfig.MessageToSign
	signature, err := signer.SignMessage(ctx, []byte(message))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserRejected, err)
	}

	_, err = o.Send(SignMessage{Signature: MessageSignature{
		Address:   signer.Address(),
		Signature: signature,
	}})
	return err
}

// SubmitGating runs the gating provider for the current recipients and
// records the payloads, completing the interposed gating step.
func (o *Orchestrator) SubmitGating(ctx context.Context, provider GatingProvider) error {
	snapshot := o.machine.Context()

	recipients := make([]common.Address, len(snapshot.Recipients))
	for i, r := range snapshot.Recipients {
		recipients[i] = r.Address
	}

	payloads, err := provider.Payloads(ctx, recipients)
	if err != nil {
		return err
	}

	_, err = o.Send(SubmitData{Data: payloads})
	return err
}

// SelectPaymentMethod chooses the rail for the purchase.
func (o *Orchestrator) SelectPaymentMethod(method PaymentMethod) error {
	_, err := o.Send(SelectPaymentMethod{Method: method})
	return err
}

// Back retraces one step.
func (o *Orchestrator) Back() error {
	_, err := o.Send(Back{})
	return err
}

// Disconnect abandons the session.
func (o *Orchestrator) Disconnect() error {
	_, err := o.Send(Disconnect{})
	return err
}

// ConfirmPurchase assembles the purchase data, quotes every recipient with
// it, executes the selected rail, and reports the submission into the
// machine. On a
// pessimistic checkout the confirmation watcher then tracks the transaction
// in the background; an optimistic checkout treats submission as success.
func (o *Orchestrator) ConfirmPurchase(ctx context.Context) error {
	snapshot := o.machine.Context()
	if o.machine.State() != StateConfirm {
		return fmt.Errorf("%w: CONFIRM_PURCHASE in %s", ErrInvalidEvent, o.machine.State())
	}
	if snapshot.Lock == nil {
		return ErrNoLockSelected
	}
	if o.pricing == nil {
		return fmt.Errorf("%w: no pricing service", ErrInvalidConfig)
	}

	session := o.currentSession()
	lock := *snapshot.Lock
	config := snapshot.PaywallConfig

	if len(snapshot.Recipients) == 0 {
		return fmt.Errorf("%w: no recipients to purchase for", ErrRecipientMismatch)
	}
	if err := o.checkGatingData(snapshot); err != nil {
		return err
	}

	referrers := make([]common.Address, len(snapshot.Recipients))
	for i, r := range snapshot.Recipients {
		referrers[i] = config.ReferrerFor(lock.Address, r.Address)
	}

	// Data resolves first: the quote calls carry it, since gating hooks
	// compute the price from the per-recipient payload.
	start := time.Now()
	data, err := o.pricing.PurchaseData(ctx, DataRequest{
		Lock:        &lock,
		Recipients:  snapshot.Recipients,
		DataBuilder: config.DataBuilderFor(lock.Address),
		Hook:        snapshot.Hook,
		GatingData:  snapshot.GatingData,
	})
	if err != nil {
		o.recorder.IncCounter(metrics.CounterFailures, o.labels())
		return err
	}
	pricing, err := o.pricing.Prices(ctx, &lock, snapshot.Recipients, referrers, data)
	if err != nil {
		o.recorder.IncCounter(metrics.CounterFailures, o.labels())
		return err
	}
	o.recorder.ObserveLatency(metrics.OperationPricing, time.Since(start), o.labels())

	recurringCount, recurringForever := config.RecurringFor(lock.Address)
	req := PurchaseRequest{
		Lock:             lock,
		Method:           snapshot.Payment,
		Recipients:       snapshot.Recipients,
		Referrers:        referrers,
		Data:             data,
		Pricing:          *pricing,
		RecurringCount:   recurringCount,
		RecurringForever: recurringForever,
	}

	rail, err := o.railFor(snapshot.Payment)
	if err != nil {
		return err
	}

	railStart := time.Now()
	hash, err := rail.Execute(ctx, req)
	o.recorder.ObserveLatency(metrics.OperationRail, time.Since(railStart), o.labels())
	if err != nil {
		// The context survives: only the payment step repeats.
		o.recorder.IncCounter(metrics.CounterFailures, o.labels())
		if _, sendErr := o.sessionSend(session, ConfirmMint{Status: StatusError}); sendErr != nil {
			return sendErr
		}
		o.logger.Warn("payment failed",
			zap.String("lock", lock.Address.Hex()),
			zap.String("method", snapshot.Payment.Method()),
			zap.Error(err))
		return err
	}

	if _, err := o.sessionSend(session, ConfirmMint{
		Status:  StatusProcessing,
		Hash:    hash,
		Network: lock.Network,
	}); err != nil {
		return err
	}

	o.logger.Info("purchase submitted",
		zap.String("lock", lock.Address.Hex()),
		zap.String("method", snapshot.Payment.Method()),
		zap.String("hash", hash))

	if !config.Pessimistic || o.watcher == nil {
		// Optimistic checkouts treat submission as terminal success.
		return o.finish(session, StatusFinished, hash, lock.Network)
	}

	go o.watch(session, lock.Network, hash)
	return nil
}

// watch follows a pessimistic submission to finality in the background.
func (o *Orchestrator) watch(session uuid.UUID, network uint64, hash string) {
	confirmStart := time.Now()
	status, err := o.watcher.Wait(context.Background(), network, common.HexToHash(hash))
	o.recorder.ObserveLatency(metrics.OperationConfirming, time.Since(confirmStart), o.labels())
	if err != nil && status != StatusError {
		o.logger.Warn("confirmation tracking ended early", zap.String("hash", hash), zap.Error(err))
		return
	}
	if err != nil {
		o.logger.Warn("transaction failed", zap.String("hash", hash), zap.Error(err))
	}
	if finishErr := o.finish(session, status, hash, network); finishErr != nil {
		o.logger.Debug("dropping stale confirmation", zap.String("hash", hash), zap.Error(finishErr))
	}
}

// finish records the terminal status and notifies the embedding page.
func (o *Orchestrator) finish(session uuid.UUID, status TransactionStatus, hash string, network uint64) error {
	if _, err := o.sessionSend(session, ConfirmMint{
		Status:  status,
		Hash:    hash,
		Network: network,
	}); err != nil {
		return err
	}

	if status != StatusFinished {
		return nil
	}
	o.recorder.IncCounter(metrics.CounterPurchases, o.labels())

	if o.channel != nil {
		snapshot := o.machine.Context()
		lockHex := ""
		if snapshot.Lock != nil {
			lockHex = snapshot.Lock.Address.Hex()
		}
		o.emitTransactionInfo(hash, lockHex)
		info := UserInfo{Address: o.currentAccount().Hex()}
		if snapshot.MessageToSign != nil {
			info.SignedMessage = fmt.Sprintf("0x%x", snapshot.MessageToSign.Signature)
		}
		if err := o.channel.EmitUserInfo(info); err != nil {
			o.logger.Warn("emit userInfo failed", zap.Error(err))
		}
		if err := o.channel.EmitCloseModal(); err != nil {
			o.logger.Warn("emit closeModal failed", zap.Error(err))
		}
	}
	return nil
}

// sessionSend applies an event only if the session that started the work is
// still the live one.
func (o *Orchestrator) sessionSend(session uuid.UUID, ev Event) (State, error) {
	o.mu.Lock()
	live := o.session
	o.mu.Unlock()
	if live != session {
		return o.machine.State(), fmt.Errorf("%w: session %s", ErrStaleSession, session)
	}
	return o.Send(ev)
}

func (o *Orchestrator) checkGatingData(snapshot Context) error {
	switch snapshot.Hook {
	case HookPassword, HookPromoCode, HookCaptcha, HookGuild, HookAllowList, HookGitcoin:
	default:
		return nil
	}
	if len(snapshot.GatingData) == len(snapshot.Recipients) && len(snapshot.GatingData) > 0 {
		return nil
	}
	if snapshot.PaywallConfig.DataBuilderFor(snapshot.Lock.Address) != "" {
		return nil
	}
	return fmt.Errorf("%w: %s gating produced no payloads", ErrGatingDataMissing, snapshot.Hook)
}

func (o *Orchestrator) railFor(method PaymentMethod) (Rail, error) {
	if method == nil {
		return nil, fmt.Errorf("%w: no payment method selected", ErrNoRail)
	}
	for _, rail := range o.rails {
		if rail.Supports(method) {
			return rail, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoRail, method.Method())
}

func (o *Orchestrator) emitTransactionInfo(hash, lock string) {
	if o.channel == nil {
		return
	}
	if err := o.channel.EmitTransactionInfo(TransactionInfo{Hash: hash, Lock: lock}); err != nil {
		o.logger.Warn("emit transactionInfo failed", zap.Error(err))
	}
}

func (o *Orchestrator) rotateSession() {
	o.mu.Lock()
	o.session = uuid.New()
	o.mu.Unlock()
}

func (o *Orchestrator) currentSession() uuid.UUID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

func (o *Orchestrator) currentAccount() common.Address {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.account
}

func (o *Orchestrator) labels() map[string]string {
	labels := map[string]string{"network": ""}
	if snapshot := o.machine.Context(); snapshot.Lock != nil {
		labels["network"] = fmt.Sprintf("%d", snapshot.Lock.Network)
	}
	return labels
}
