package checkout

import (
	"fmt"
	"sync"
)

// State is one step of the checkout protocol.
type State string

const (
	StateSelect        State = "SELECT"
	StateQuantity      State = "QUANTITY"
	StateMetadata      State = "METADATA"
	StateMessageToSign State = "MESSAGE_TO_SIGN"
	StatePassword      State = "PASSWORD"
	StatePromo         State = "PROMO"
	StateCaptcha       State = "CAPTCHA"
	StateGuild         State = "GUILD"
	StatePayment       State = "PAYMENT"
	StateCard          State = "CARD"
	StateConfirm       State = "CONFIRM"
	StateMinting       State = "MINTING"
	StateReturning     State = "RETURNING"
)

// Event is a checkout transition trigger. The concrete event types below are
// the only implementations.
type Event interface {
	eventName() string
}

// SelectLock chooses a lock from the paywall configuration. The lock carries
// live chain data; membership status and the resolved hook kind are supplied
// by the caller (see Orchestrator.SelectLock).
type SelectLock struct {
	Lock           Lock
	ExistingMember bool
	ExpiredMember  bool
	Hook           HookKind

	// Recipients optionally pre-fills the recipient list, used for expired
	// renewals where the recipient step is skipped.
	Recipients []Recipient
}

// SelectQuantity sets the number of memberships to purchase.
type SelectQuantity struct {
	Quantity int
}

// SelectRecipients sets the recipient list, length matching the quantity.
type SelectRecipients struct {
	Recipients []Recipient
}

// SignMessage records the signed merchant message.
type SignMessage struct {
	Signature MessageSignature
}

// SubmitData records the per-recipient gating payloads produced by the
// current gating step.
type SubmitData struct {
	Data [][]byte
}

// SelectPaymentMethod chooses the payment rail.
type SelectPaymentMethod struct {
	Method PaymentMethod
}

// ConfirmMint reports purchase progress into the machine. A status of ERROR
// before submission keeps the machine in CONFIRM so the buyer can retry.
type ConfirmMint struct {
	Status  TransactionStatus
	Hash    string
	Network uint64
}

// MakeAnotherPurchase restarts the quantity/recipient flow for an existing
// member.
type MakeAnotherPurchase struct{}

// Back retraces one step of the forward path.
type Back struct{}

// Disconnect abandons the session, clearing everything but the configuration.
type Disconnect struct{}

// ResetCheckout is the explicit reset, identical to Disconnect.
type ResetCheckout struct{}

// UpdatePaywallConfig replaces the configuration and restarts from SELECT.
type UpdatePaywallConfig struct {
	Config PaywallConfig
}

func (SelectLock) eventName() string          { return "SELECT_LOCK" }
func (SelectQuantity) eventName() string      { return "SELECT_QUANTITY" }
func (SelectRecipients) eventName() string    { return "SELECT_RECIPIENTS" }
func (SignMessage) eventName() string         { return "SIGN_MESSAGE" }
func (SubmitData) eventName() string          { return "SUBMIT_DATA" }
func (SelectPaymentMethod) eventName() string { return "SELECT_PAYMENT_METHOD" }
func (ConfirmMint) eventName() string         { return "CONFIRM_MINT" }
func (MakeAnotherPurchase) eventName() string { return "MAKE_ANOTHER_PURCHASE" }
func (Back) eventName() string                { return "BACK" }
func (Disconnect) eventName() string          { return "DISCONNECT" }
func (ResetCheckout) eventName() string       { return "RESET_CHECKOUT" }
func (UpdatePaywallConfig) eventName() string { return "UPDATE_PAYWALL_CONFIG" }

// Guards is the branching record derived from context. The forward pipeline
// evaluates its fields in a fixed order, first match wins; the BACK pipeline
// replays the same order in reverse so the back path always mirrors the
// forward path.
type Guards struct {
	ExistingMember       bool
	ExpiredMember        bool
	SkipQuantity         bool
	SkipRecipient        bool
	RequireMessageToSign bool
	RequirePassword      bool
	RequirePromo         bool
	RequireGuild         bool
	RequireCaptcha       bool
}

// GuardsFor derives the branching record from a context snapshot.
func GuardsFor(ctx Context) Guards {
	return Guards{
		ExistingMember:       ctx.ExistingMember,
		ExpiredMember:        ctx.ExpiredMember,
		SkipQuantity:         ctx.SkipQuantity,
		SkipRecipient:        ctx.SkipRecipient,
		RequireMessageToSign: ctx.PaywallConfig.MessageToSign != "",
		RequirePassword:      ctx.Hook == HookPassword,
		RequirePromo:         ctx.Hook == HookPromoCode,
		RequireGuild:         ctx.Hook == HookGuild,
		RequireCaptcha:       ctx.Hook == HookCaptcha,
	}
}

// gatingState returns the interposed gating step for the resolved hook, if
// any. Allow-list and Gitcoin gating produce data through the pricing
// service's data assembly and interpose no step.
func gatingState(g Guards) (State, bool) {
	switch {
	case g.RequirePassword:
		return StatePassword, true
	case g.RequirePromo:
		return StatePromo, true
	case g.RequireGuild:
		return StateGuild, true
	case g.RequireCaptcha:
		return StateCaptcha, true
	}
	return "", false
}

// nextFromSelect is the ordered branch pipeline out of SELECT. Expired
// renewals skip the quantity and recipient steps unconditionally: a renewal
// is always exactly one key for the existing owner.
func nextFromSelect(g Guards) State {
	if g.ExistingMember {
		return StateReturning
	}
	if !g.SkipQuantity && !g.ExpiredMember {
		return StateQuantity
	}
	if !g.SkipRecipient && !g.ExpiredMember {
		return StateMetadata
	}
	return nextFromMetadata(g)
}

func nextFromMetadata(g Guards) State {
	if g.RequireMessageToSign {
		return StateMessageToSign
	}
	return nextFromSign(g)
}

func nextFromSign(g Guards) State {
	if s, ok := gatingState(g); ok {
		return s
	}
	return StatePayment
}

// ranQuantity and ranMetadata report whether a step was part of the forward
// path, which is what BACK must retrace.
func ranQuantity(g Guards) bool {
	return !g.SkipQuantity && !g.ExpiredMember
}

func ranMetadata(g Guards) bool {
	return !(g.SkipQuantity && g.SkipRecipient) && !g.ExpiredMember
}

// backTarget re-evaluates the forward guards in reverse. No state can be
// reached going back that was skipped going forward.
func backTarget(state State, g Guards) (State, bool) {
	switch state {
	case StateQuantity, StateReturning:
		return StateSelect, true
	case StateMetadata:
		if ranQuantity(g) {
			return StateQuantity, true
		}
		return StateSelect, true
	case StateMessageToSign:
		return backThroughMetadata(g), true
	case StatePassword, StatePromo, StateGuild, StateCaptcha:
		if g.RequireMessageToSign {
			return StateMessageToSign, true
		}
		return backThroughMetadata(g), true
	case StatePayment:
		if s, ok := gatingState(g); ok {
			return s, true
		}
		if g.RequireMessageToSign {
			return StateMessageToSign, true
		}
		return backThroughMetadata(g), true
	case StateCard, StateConfirm:
		return StatePayment, true
	}
	return state, false
}

func backThroughMetadata(g Guards) State {
	if ranMetadata(g) {
		return StateMetadata
	}
	if ranQuantity(g) {
		return StateQuantity
	}
	return StateSelect
}

// Machine is the checkout state machine. It owns the context; transitions are
// processed one at a time in receipt order and invalid events are rejected
// without effect. The machine itself never fails: all fallible work happens
// in collaborators and re-enters as event payloads.
type Machine struct {
	mu    sync.Mutex
	state State
	ctx   Context
}

// NewMachine validates the configuration and returns a machine in SELECT.
func NewMachine(config PaywallConfig) (*Machine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Machine{
		state: StateSelect,
		ctx:   newContext(config),
	}, nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Context returns a read-only snapshot of the checkout context.
func (m *Machine) Context() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx.snapshot()
}

// CanFire reports whether the event type is accepted in the current state.
// Payload validation still happens in Send.
func (m *Machine) CanFire(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return canFire(m.state, ev)
}

func canFire(state State, ev Event) bool {
	switch ev.(type) {
	case Disconnect, ResetCheckout:
		return state != StateMinting
	case UpdatePaywallConfig:
		return true
	case Back:
		_, ok := backTarget(state, Guards{})
		return ok
	case SelectLock:
		return state == StateSelect
	case SelectQuantity:
		return state == StateQuantity
	case SelectRecipients:
		return state == StateMetadata
	case SignMessage:
		return state == StateMessageToSign
	case SubmitData:
		switch state {
		case StatePassword, StatePromo, StateGuild, StateCaptcha:
			return true
		}
		return false
	case SelectPaymentMethod:
		return state == StatePayment || state == StateCard
	case ConfirmMint:
		return state == StateConfirm || state == StateMinting
	case MakeAnotherPurchase:
		return state == StateReturning
	}
	return false
}

// Send applies the event. It returns the resulting state, or ErrInvalidEvent
// (or a payload validation error) with the machine unchanged.
func (m *Machine) Send(ev Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !canFire(m.state, ev) {
		return m.state, fmt.Errorf("%w: %s in %s", ErrInvalidEvent, ev.eventName(), m.state)
	}

	switch e := ev.(type) {
	case Disconnect, ResetCheckout:
		m.ctx.reset()
		m.state = StateSelect

	case UpdatePaywallConfig:
		if err := e.Config.Validate(); err != nil {
			return m.state, err
		}
		m.ctx = newContext(e.Config)
		m.state = StateSelect

	case Back:
		target, _ := backTarget(m.state, GuardsFor(m.ctx))
		m.state = target

	case SelectLock:
		if err := m.applySelectLock(e); err != nil {
			return m.state, err
		}
		m.state = nextFromSelect(GuardsFor(m.ctx))

	case SelectQuantity:
		min, max := m.ctx.PaywallConfig.QuantityBounds()
		if e.Quantity < min || e.Quantity > max {
			return m.state, fmt.Errorf("%w: %d not in [%d,%d]", ErrQuantityBounds, e.Quantity, min, max)
		}
		m.ctx.Quantity = e.Quantity
		m.state = StateMetadata

	case SelectRecipients:
		if err := m.applySelectRecipients(e); err != nil {
			return m.state, err
		}
		m.state = nextFromMetadata(GuardsFor(m.ctx))

	case SignMessage:
		if len(e.Signature.Signature) == 0 {
			return m.state, fmt.Errorf("%w: empty signature", ErrInvalidEvent)
		}
		sig := e.Signature
		m.ctx.MessageToSign = &sig
		m.state = nextFromSign(GuardsFor(m.ctx))

	case SubmitData:
		if len(e.Data) != len(m.ctx.Recipients) {
			return m.state, fmt.Errorf("%w: %d payloads for %d recipients",
				ErrRecipientMismatch, len(e.Data), len(m.ctx.Recipients))
		}
		m.ctx.GatingData = e.Data
		// Gating is the last pre-payment step.
		m.state = StatePayment

	case SelectPaymentMethod:
		if e.Method == nil {
			return m.state, fmt.Errorf("%w: no payment method", ErrInvalidEvent)
		}
		m.ctx.Payment = e.Method
		if m.state == StatePayment {
			if _, isCard := e.Method.(PayCard); isCard {
				m.state = StateCard
			} else {
				m.state = StateConfirm
			}
		} else {
			m.state = StateConfirm
		}

	case ConfirmMint:
		m.applyConfirmMint(e)

	case MakeAnotherPurchase:
		m.ctx.Mint = nil
		m.ctx.GatingData = nil
		if m.ctx.SkipQuantity {
			m.state = StateMetadata
		} else {
			m.state = StateQuantity
		}
	}

	return m.state, nil
}

func (m *Machine) applySelectLock(e SelectLock) error {
	if _, ok := m.ctx.PaywallConfig.LockConfigFor(e.Lock.Address); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLock, e.Lock.Address.Hex())
	}
	if e.Lock.IsSoldOut && !e.ExpiredMember {
		return ErrSoldOut
	}
	lock := e.Lock
	m.ctx.Lock = &lock
	m.ctx.ExistingMember = e.ExistingMember
	m.ctx.ExpiredMember = e.ExpiredMember
	m.ctx.Hook = e.Hook
	if m.ctx.Hook == "" {
		m.ctx.Hook = HookNone
	}
	m.ctx.SkipQuantity = m.ctx.PaywallConfig.SkipQuantityFor(lock.Address)
	m.ctx.SkipRecipient = m.ctx.PaywallConfig.SkipRecipientFor(lock.Address)
	if e.ExpiredMember {
		// Renewal is always exactly one key for the existing owner.
		m.ctx.SkipQuantity = true
		m.ctx.SkipRecipient = true
		m.ctx.Quantity = 1
	}
	if len(e.Recipients) > 0 {
		m.ctx.Recipients = append([]Recipient(nil), e.Recipients...)
		m.ctx.Quantity = len(m.ctx.Recipients)
	}
	return nil
}

func (m *Machine) applySelectRecipients(e SelectRecipients) error {
	if len(e.Recipients) == 0 {
		return fmt.Errorf("%w: empty recipient list", ErrRecipientMismatch)
	}
	if !m.ctx.SkipQuantity && len(e.Recipients) != m.ctx.Quantity {
		return fmt.Errorf("%w: %d recipients for quantity %d",
			ErrRecipientMismatch, len(e.Recipients), m.ctx.Quantity)
	}
	seen := make(map[string]struct{}, len(e.Recipients))
	for _, r := range e.Recipients {
		key := r.Address.Hex()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate recipient %s", ErrRecipientMismatch, key)
		}
		seen[key] = struct{}{}
	}
	m.ctx.Recipients = append([]Recipient(nil), e.Recipients...)
	m.ctx.Quantity = len(m.ctx.Recipients)
	return nil
}

func (m *Machine) applyConfirmMint(e ConfirmMint) {
	mint := Transaction{Status: e.Status, Hash: e.Hash, Network: e.Network}
	if m.ctx.Mint != nil {
		if mint.Hash == "" {
			mint.Hash = m.ctx.Mint.Hash
		}
		if mint.Network == 0 {
			mint.Network = m.ctx.Mint.Network
		}
	}
	m.ctx.Mint = &mint
	if m.state == StateConfirm && e.Status != StatusError {
		// A pre-submission failure keeps the machine in CONFIRM so the buyer
		// can retry with another method.
		m.state = StateMinting
	}
}
