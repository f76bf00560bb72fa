package freestuff

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// Symbol returns the currency sign used in captions.
func (c Currency) Symbol() string {
	if c == CurrencyEUR {
		return "€"
	}
	return "$"
}

// UntilFormat selects how the deal end is rendered.
type UntilFormat string

const (
	UntilDate    UntilFormat = "DATE"
	UntilWeekday UntilFormat = "WEEKDAY"
)

// ChatConfig is a chat's announcement preferences.
type ChatConfig struct {
	ChatID      int64
	Enabled     bool
	Currency    Currency
	UntilFormat UntilFormat
	Trash       bool // accept games flagged as trash
	MinPrice    float64
}

// DefaultChatConfig returns the preferences of a freshly registered chat.
func DefaultChatConfig(chatID int64) ChatConfig {
	return ChatConfig{
		ChatID:      chatID,
		Enabled:     true,
		Currency:    CurrencyUSD,
		UntilFormat: UntilDate,
	}
}

// Accepts reports whether g passes the chat's content and price filters.
// It does not look at Enabled.
func (c ChatConfig) Accepts(g Game) bool {
	if !c.Trash && g.Flags.Has(FlagTrash) {
		return false
	}
	if c.MinPrice > g.OrgPrice.In(c.Currency) {
		return false
	}
	return true
}
