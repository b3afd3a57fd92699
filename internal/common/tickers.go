package common

import "strings"

// exchangeSuffixes maps exchange codes used in reference lists ("AZN LN")
// to the suffix form expected by the estimates API ("AZN.L").
var exchangeSuffixes = map[string]string{
	"LN": ".L",  // London
	"GY": ".DE", // Xetra
	"FP": ".PA", // Paris
	"NA": ".AS", // Amsterdam
	"DC": ".CO", // Copenhagen
	"SE": ".SW", // Switzerland
	"SQ": ".MC", // Madrid
	"IM": ".MI", // Milan
	"BB": ".BR", // Brussels
	"SS": ".ST", // Stockholm
	"FH": ".HE", // Helsinki
	"NO": ".OL", // Oslo
	"AT": ".VI", // Vienna
	"PL": ".WA", // Warsaw
	"AU": ".AX", // ASX
	"HK": ".HK", // Hong Kong
	"JP": ".T",  // Tokyo
	"CN": ".SS", // Shanghai
	"SZ": ".SZ", // Shenzhen
	"TO": ".TO", // Toronto
	"V":  ".V",  // TSX Venture
}

// ToFMPTicker converts "SYMBOL EXCH" tickers to the API's suffix format.
// The result is upper-cased; an unknown exchange code yields the bare
// symbol. Slashes in the symbol ("BP/ LN") are dropped.
func ToFMPTicker(raw string) string {
	fields := strings.Fields(raw)
	switch len(fields) {
	case 0:
		return ""
	case 1:
		return strings.ToUpper(fields[0])
	}

	exchange := strings.ToUpper(fields[len(fields)-1])
	symbol := strings.ToUpper(strings.ReplaceAll(strings.Join(fields[:len(fields)-1], ""), "/", ""))
	if suffix, ok := exchangeSuffixes[exchange]; ok {
		return symbol + suffix
	}
	return symbol
}

// KnownExchange reports whether code is a mapped exchange code.
func KnownExchange(code string) bool {
	_, ok := exchangeSuffixes[strings.ToUpper(code)]
	return ok
}
