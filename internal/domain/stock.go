package domain

import "strings"

// Stock is a listed equity that can be traded as fractional tokens.
type Stock struct {
	Symbol      string `yaml:"symbol" json:"symbol"`
	Name        string `yaml:"name" json:"name"`
	YahooSymbol string `yaml:"yahoo_symbol" json:"yahoo_symbol"`
	Sector      string `yaml:"sector" json:"sector"`
	Icon        string `yaml:"icon" json:"icon"`
}

// TokenSymbol is the on-chain ticker of the fractional token (e.g. "MRFf").
func (s Stock) TokenSymbol() string {
	return s.Symbol + "f"
}

// Catalog is the set of tradable stocks keyed by their local symbol.
type Catalog struct {
	stocks []Stock
	index  map[string]int
}

// NewCatalog builds a catalog. Symbols are trimmed; later duplicates are ignored.
func NewCatalog(stocks []Stock) *Catalog {
	c := &Catalog{index: make(map[string]int, len(stocks))}
	for _, s := range stocks {
		s.Symbol = strings.TrimSpace(s.Symbol)
		if s.Symbol == "" {
			continue
		}
		if _, dup := c.index[s.Symbol]; dup {
			continue
		}
		if s.YahooSymbol == "" {
			s.YahooSymbol = s.Symbol + ".NS"
		}
		c.index[s.Symbol] = len(c.stocks)
		c.stocks = append(c.stocks, s)
	}
	return c
}

// Lookup finds a stock by local symbol.
func (c *Catalog) Lookup(symbol string) (Stock, bool) {
	i, ok := c.index[symbol]
	if !ok {
		return Stock{}, false
	}
	return c.stocks[i], true
}

// All returns the stocks in catalog order.
func (c *Catalog) All() []Stock {
	out := make([]Stock, len(c.stocks))
	copy(out, c.stocks)
	return out
}

// DefaultStocks is the built-in NSE catalog.
func DefaultStocks() []Stock {
	return []Stock{
		{Symbol: "MRF", Name: "MRF Limited", YahooSymbol: "MRF.NS", Sector: "Auto Components", Icon: "🚗"},
		{Symbol: "PAGEIND", Name: "Page Industries", YahooSymbol: "PAGEIND.NS", Sector: "Textile", Icon: "👕"},
		{Symbol: "HONAUT", Name: "Honeywell Automation", YahooSymbol: "HONAUT.NS", Sector: "Industrial", Icon: "🏭"},
		{Symbol: "ABBOTINDIA", Name: "Abbott India", YahooSymbol: "ABBOTINDIA.NS", Sector: "Pharma", Icon: "💊"},
		{Symbol: "SHREECEM", Name: "Shree Cement", YahooSymbol: "SHREECEM.NS", Sector: "Cement", Icon: "🏗️"},
		{Symbol: "NESTLEIND", Name: "Nestle India", YahooSymbol: "NESTLEIND.NS", Sector: "FMCG", Icon: "🍫"},
		{Symbol: "LALPATHLAB", Name: "Dr. Lal PathLabs", YahooSymbol: "LALPATHLAB.NS", Sector: "Healthcare", Icon: "🔬"},
		{Symbol: "3MINDIA", Name: "3M India", YahooSymbol: "3MINDIA.NS", Sector: "Industrial", Icon: "📦"},
		{Symbol: "PGHH", Name: "Procter & Gamble", YahooSymbol: "PGHH.NS", Sector: "FMCG", Icon: "🧴"},
		{Symbol: "BOSCHLTD", Name: "Bosch Limited", YahooSymbol: "BOSCHLTD.NS", Sector: "Auto Components", Icon: "⚙️"},
		{Symbol: "EICHERMOT", Name: "Eicher Motors", YahooSymbol: "EICHERMOT.NS", Sector: "Automobile", Icon: "🏍️"},
		{Symbol: "HDFCBANK", Name: "HDFC Bank", YahooSymbol: "HDFCBANK.NS", Sector: "Banking", Icon: "🏦"},
		{Symbol: "KOTAKBANK", Name: "Kotak Mahindra Bank", YahooSymbol: "KOTAKBANK.NS", Sector: "Banking", Icon: "🏛️"},
		{Symbol: "SBILIFE", Name: "SBI Life Insurance", YahooSymbol: "SBILIFE.NS", Sector: "Insurance", Icon: "🛡️"},
		{Symbol: "TITAN", Name: "Titan Company", YahooSymbol: "TITAN.NS", Sector: "Jewellery", Icon: "💎"},
		{Symbol: "ASIANPAINT", Name: "Asian Paints", YahooSymbol: "ASIANPAINT.NS", Sector: "Paints", Icon: "🎨"},
		{Symbol: "PIDILITIND", Name: "Pidilite Industries", YahooSymbol: "PIDILITIND.NS", Sector: "Chemicals", Icon: "🧪"},
		{Symbol: "DMART", Name: "Avenue Supermarts", YahooSymbol: "DMART.NS", Sector: "Retail", Icon: "🛒"},
		{Symbol: "BRITANNIA", Name: "Britannia Industries", YahooSymbol: "BRITANNIA.NS", Sector: "FMCG", Icon: "🍪"},
		{Symbol: "DIVISLAB", Name: "Divi's Laboratories", YahooSymbol: "DIVISLAB.NS", Sector: "Pharma", Icon: "⚗️"},
	}
}
