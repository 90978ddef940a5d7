package checkout

// Context is the single mutable record threaded through the whole flow. The
// machine owns exclusive write access; collaborators receive value snapshots
// and return plain data that the machine merges in.
type Context struct {
	// PaywallConfig is immutable for the session except on explicit
	// reconfiguration.
	PaywallConfig PaywallConfig

	// Lock is the selected lock, set once per flow instance.
	Lock *Lock

	// ExistingMember and ExpiredMember capture the connected account's
	// membership status at lock-selection time.
	ExistingMember bool
	ExpiredMember  bool

	// SkipQuantity and SkipRecipient are resolved once at lock selection from
	// the per-lock override over the global default and do not change until
	// reset.
	SkipQuantity  bool
	SkipRecipient bool

	// Hook is the gating kind resolved once per lock selection.
	Hook HookKind

	// Quantity is the number of memberships to purchase, default 1.
	Quantity int

	// Recipients is the ordered list of key recipients, length == Quantity.
	Recipients []Recipient

	// GatingData holds one opaque payload per recipient, produced by whichever
	// gating flow ran.
	GatingData [][]byte

	// MessageToSign is present only when the config requires a signed message.
	MessageToSign *MessageSignature

	// Payment is the selected rail, nil until SELECT_PAYMENT_METHOD.
	Payment PaymentMethod

	// Mint is the only field mutated after payment submission.
	Mint *Transaction
}

func newContext(config PaywallConfig) Context {
	return Context{
		PaywallConfig: config,
		Quantity:      1,
	}
}

// reset clears everything except the paywall configuration.
func (c *Context) reset() {
	*c = newContext(c.PaywallConfig)
}

// snapshot returns a value copy with the reference fields cloned, so readers
// never observe later mutations.
func (c *Context) snapshot() Context {
	out := *c
	if c.Lock != nil {
		lock := *c.Lock
		out.Lock = &lock
	}
	if c.Recipients != nil {
		out.Recipients = append([]Recipient(nil), c.Recipients...)
	}
	if c.GatingData != nil {
		out.GatingData = make([][]byte, len(c.GatingData))
		for i, d := range c.GatingData {
			out.GatingData[i] = append([]byte(nil), d...)
		}
	}
	if c.MessageToSign != nil {
		sig := *c.MessageToSign
		sig.Signature = append([]byte(nil), c.MessageToSign.Signature...)
		out.MessageToSign = &sig
	}
	if c.Mint != nil {
		mint := *c.Mint
		out.Mint = &mint
	}
	return out
}

// RecipientAddresses returns the bare recipient address list.
func (c *Context) RecipientAddresses() []string {
	out := make([]string, len(c.Recipients))
	for i, r := range c.Recipients {
		out[i] = r.Address.Hex()
	}
	return out
}
