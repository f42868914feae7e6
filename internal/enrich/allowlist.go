// internal/enrich/allowlist.go
package enrich

import "github.com/searchlab/searchtrace/internal/types"

// genericKinds are permitted for every platform class. Raw high-frequency
// signals (continuous scroll positions, focus/blur churn, DOM mutations)
// never become event kinds at all; only their coarse derivatives appear
// here, which is where the bulk of the volume reduction happens.
var genericKinds = []string{
	types.KindPageLoad,
	types.KindNavigation,
	types.KindClick,
	types.KindInput,
	types.KindSubmit,
	types.KindVisibilityChange,
	types.KindPageUnload,
	types.KindScrollMilestone,
	types.KindSessionStart,
	types.KindSessionEnd,
}

var classKinds = map[types.PlatformClass][]string{
	types.ClassGeneral: nil,
	types.ClassAI: {
		types.KindAIQuerySubmitted,
		types.KindAIResultClick,
		types.KindAIResponseCaptured,
	},
	types.ClassEcommerce: {
		types.KindProductClick,
		types.KindConversionAction,
	},
}

// Allowed reports whether events of the given kind survive filtering under
// the given platform class.
func Allowed(class types.PlatformClass, kind string) bool {
	for _, k := range genericKinds {
		if k == kind {
			return true
		}
	}
	for _, k := range classKinds[class] {
		if k == kind {
			return true
		}
	}
	return false
}
