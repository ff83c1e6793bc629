// Package symbol normalizes exchange-native trading pair spellings to the
// canonical product_id form used everywhere else in the pipeline
// (spec.md §4.1): "BTC-USD", hyphenated, upper case.
package symbol

import "strings"

// canonicalMapping mirrors the original PRODUCT_ID_MAPPING table: every
// exchange-native spelling this pipeline is configured for maps to exactly
// one canonical product_id.
var canonicalMapping = map[string]string{
	"ETH-USD": "ETH-USD",
	"ETH/USD": "ETH-USD",
	"BTC-USD": "BTC-USD",
	"BTC/USD": "BTC-USD",
	"LTC-USD": "LTC-USD",
	"LTC/USD": "LTC-USD",
	"XRP-USD": "XRP-USD",
	"XRP/USD": "XRP-USD",
}

// krakenAssetAliases maps Kraken's legacy X/Z-prefixed asset codes
// (observed on the REST Trades endpoint and the v1 websocket) to the ISO
// style symbol used by the v2 websocket and by every other exchange.
var krakenAssetAliases = map[string]string{
	"XXBT": "BTC",
	"XBT":  "BTC",
	"XETH": "ETH",
	"XLTC": "LTC",
	"XXRP": "XRP",
	"ZUSD": "USD",
	"ZEUR": "EUR",
}

// Normalize resolves an exchange-native pair spelling to its canonical
// product_id. ok is false when the pair is not in the configured mapping,
// which callers should treat as a ProtocolError (spec.md §7): an
// unrecognized product from a subscribed channel indicates a config/exchange
// mismatch, not a transient condition.
func Normalize(raw string) (string, bool) {
	if canonical, ok := canonicalMapping[raw]; ok {
		return canonical, true
	}
	if canonical, ok := canonicalMapping[NormalizeKrakenPair(raw)]; ok {
		return canonical, true
	}
	return "", false
}

// NormalizeKrakenPair converts a Kraken-native pair spelling — either the
// legacy concatenated asset-code form ("XXBTZUSD") or the v2 slash form
// ("XBT/USD") — into the hyphenated "BASE-QUOTE" form the rest of the
// mapping expects.
func NormalizeKrakenPair(raw string) string {
	upper := strings.ToUpper(raw)

	if strings.Contains(upper, "/") {
		parts := strings.SplitN(upper, "/", 2)
		if len(parts) == 2 {
			return resolveAlias(parts[0]) + "-" + resolveAlias(parts[1])
		}
	}

	if base, quote, ok := splitKrakenConcatenated(upper); ok {
		return resolveAlias(base) + "-" + resolveAlias(quote)
	}

	return upper
}

// splitKrakenConcatenated splits a legacy Kraken pair such as "XXBTZUSD"
// into its base and quote asset codes. Kraken's legacy codes are 3 or 4
// characters each (X/Z-prefixed major assets are 4, everything else is 3);
// it tries the 4/4, 4/3, 3/4, and 3/3 splits in that order and accepts the
// first one where both halves are known aliases or plain 3-letter codes.
func splitKrakenConcatenated(pair string) (base, quote string, ok bool) {
	lengths := [][2]int{{4, 4}, {4, 3}, {3, 4}, {3, 3}}
	for _, l := range lengths {
		baseLen, quoteLen := l[0], l[1]
		if len(pair) != baseLen+quoteLen {
			continue
		}
		candidateBase, candidateQuote := pair[:baseLen], pair[baseLen:]
		if isKnownAsset(candidateBase) && isKnownAsset(candidateQuote) {
			return candidateBase, candidateQuote, true
		}
	}
	return "", "", false
}

func isKnownAsset(code string) bool {
	if _, ok := krakenAssetAliases[code]; ok {
		return true
	}
	return len(code) == 3
}

func resolveAlias(code string) string {
	if alias, ok := krakenAssetAliases[code]; ok {
		return alias
	}
	return code
}

// krakenRESTAssetCodes maps a canonical asset symbol back to the unprefixed
// asset code Kraken's REST /0/public/Trades pair parameter accepts (BTC is
// XBT there; the other codes are unchanged).
var krakenRESTAssetCodes = map[string]string{
	"BTC": "XBT",
	"ETH": "ETH",
	"LTC": "LTC",
	"XRP": "XRP",
	"USD": "USD",
	"EUR": "EUR",
}

// KrakenRESTPair converts a canonical "BASE-QUOTE" product id to the pair
// spelling Kraken's REST Trades endpoint expects (e.g. "BTC-USD" ->
// "XBTUSD"). ok is false for a product id this pipeline has no REST
// mapping for.
func KrakenRESTPair(productID string) (string, bool) {
	parts := strings.SplitN(productID, "-", 2)
	if len(parts) != 2 {
		return "", false
	}
	base, baseOK := krakenRESTAssetCodes[parts[0]]
	quote, quoteOK := krakenRESTAssetCodes[parts[1]]
	if !baseOK || !quoteOK {
		return "", false
	}
	return base + quote, true
}
