// internal/capture/registry_test.go
package capture

import "testing"

func TestRegistryDispatchAndDetach(t *testing.T) {
	reg := newRegistry()
	var genericHits, platformHits int

	reg.attach(SignalClick, false, func(*pageState, Signal) { genericHits++ })
	reg.attach(SignalClick, true, func(*pageState, Signal) { platformHits++ })
	reg.attach(SignalScroll, false, func(*pageState, Signal) { t.Error("scroll handler must not fire for click") })

	reg.dispatch(nil, Signal{Kind: SignalClick})
	if genericHits != 1 || platformHits != 1 {
		t.Fatalf("expected both click handlers to fire, got %d/%d", genericHits, platformHits)
	}

	// detachPlatform keeps the generic handler
	reg.detachPlatform()
	reg.dispatch(nil, Signal{Kind: SignalClick})
	if genericHits != 2 {
		t.Errorf("expected generic handler to survive, got %d hits", genericHits)
	}
	if platformHits != 1 {
		t.Errorf("expected platform handler to be detached, got %d hits", platformHits)
	}

	reg.detachAll()
	reg.dispatch(nil, Signal{Kind: SignalClick})
	if genericHits != 2 {
		t.Error("expected no handlers after detachAll")
	}
	if reg.count() != 0 {
		t.Errorf("expected empty registry, got %d handlers", reg.count())
	}
}
