package marketdata

// curatedRaw is a hand-maintained list of liquid US names across sectors.
// It contains a few intentional repeats; Curated de-duplicates it.
var curatedRaw = []string{
	// Tech
	"AAPL", "MSFT", "GOOGL", "GOOG", "AMZN", "META", "NFLX", "NVDA", "AMD", "INTC",
	"ADBE", "CRM", "ORCL", "CSCO", "IBM", "NOW", "SNOW", "PLTR", "CRWD", "ZM",
	// Financial
	"JPM", "BAC", "WFC", "GS", "MS", "C", "USB", "PNC", "TFC", "COF",
	"AXP", "BLK", "SCHW", "CB", "MMC", "AON", "V", "MA", "PYPL", "SQ",
	// Healthcare and biotech
	"JNJ", "PFE", "UNH", "ABBV", "LLY", "MRK", "TMO", "ABT", "DHR", "BMY",
	"AMGN", "GILD", "BIIB", "VRTX", "REGN", "ILMN", "MRNA", "BNTX", "ZTS", "CVS",
	// Consumer and retail
	"TSLA", "HD", "WMT", "PG", "KO", "PEP", "MCD", "SBUX", "NKE", "LULU",
	"TGT", "LOW", "COST", "DIS", "CMCSA", "NFLX", "ROKU", "SPOT", "UBER", "LYFT",
	// Energy and materials
	"XOM", "CVX", "COP", "EOG", "SLB", "OXY", "MPC", "VLO", "PSX", "KMI",
	"FCX", "NEM", "SCCO", "AA", "X", "CLF", "VALE", "BHP", "RIO", "GOLD",
	// Industrial and airlines
	"BA", "CAT", "DE", "GE", "HON", "MMM", "UPS", "FDX", "LMT", "RTX",
	"NOC", "GD", "DAL", "UAL", "AAL", "LUV", "JBLU", "ALK", "SAVE", "HA",
	// Real estate and utilities
	"AMT", "PLD", "CCI", "EQIX", "PSA", "EXR", "AVB", "ESS", "MAA", "UDR",
	"SO", "DUK", "NEE", "AEP", "EXC", "XEL", "ED", "PCG", "SRE", "D",
	// ETFs
	"SPY", "QQQ", "IWM", "VTI", "VEA", "VWO", "AGG", "TLT", "GLD", "SLV",
	"XLF", "XLK", "XLE", "XLI", "XLV", "XLP", "XLU", "XLY", "XLB", "XLRE",
	// Fintech
	"COIN", "HOOD", "SOFI", "LC", "UPST", "AFRM", "OPEN", "Z", "RKT", "COMP",
	// High-beta retail favourites
	"TSLA", "GME", "AMC", "BB", "NOK", "WISH", "CLOV", "SPCE", "PTON", "NKLA",
	// Autos and China ADRs
	"RIVN", "LCID", "F", "GM", "FORD", "NIO", "XPEV", "LI", "BABA", "JD",
	// Small-cap biotech
	"NVAX", "OCGN", "CRTX", "SAVA", "AXSM", "TGTX", "SRPT", "BLUE", "ARCT", "INO",
}

// fallbackSymbols is used when the exchange listing cannot be fetched.
var fallbackSymbols = []string{
	"JPM", "JNJ", "V", "PG", "UNH", "HD", "MA", "DIS", "VZ", "KO", "PEP",
	"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "NVDA", "META", "NFLX", "AMD",
	"PLTR", "SNOW", "ZM", "ROKU", "SQ", "SHOP", "SPOT", "ZS", "CRWD", "OKTA",
	"BAC", "WFC", "C", "GS", "MS", "CAT", "BA", "GE", "MMM", "HON",
	"PFE", "MRK", "ABT", "TMO", "DHR", "COST", "WMT", "NKE", "SBUX", "MCD",
	"CVX", "XOM", "NEE", "DUK", "SO", "AEP",
}

// Curated returns the curated universe in list order without duplicates.
func Curated() []string {
	return dedupe(curatedRaw)
}

// Fallback returns a copy of the fallback universe.
func Fallback() []string {
	return append([]string(nil), fallbackSymbols...)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
