package registry_test

import (
	"reflect"
	"testing"

	"github.com/stockpulse/streamcore/cmd/streamd/internal/registry"
)

func TestRegistry_FirstSubscriberAttachesUpstream(t *testing.T) {
	r := registry.New()

	added, removed := r.SetInterest("c1", []string{"AAPL", "MSFT"})
	if !reflect.DeepEqual(added, []string{"AAPL", "MSFT"}) {
		t.Errorf("Expected both tickers newly needed, got %v", added)
	}
	if len(removed) != 0 {
		t.Errorf("Nothing should be removed, got %v", removed)
	}
	if r.Refcount("AAPL") != 1 {
		t.Errorf("Expected refcount 1, got %d", r.Refcount("AAPL"))
	}
}

func TestRegistry_SharedTickerSurvivesOneUnsubscribe(t *testing.T) {
	r := registry.New()

	// Consumer A holds {AAPL, MSFT}, consumer B holds {MSFT}
	r.SetInterest("a", []string{"AAPL", "MSFT"})
	added, _ := r.SetInterest("b", []string{"MSFT"})
	if len(added) != 0 {
		t.Errorf("MSFT already upstream, nothing newly needed, got %v", added)
	}
	if r.Refcount("MSFT") != 2 {
		t.Errorf("Expected MSFT refcount 2, got %d", r.Refcount("MSFT"))
	}

	// B drops out; upstream must still carry {AAPL, MSFT}
	_, removed := r.SetInterest("b", nil)
	if len(removed) != 0 {
		t.Errorf("MSFT still needed by A, got removals %v", removed)
	}
	if !reflect.DeepEqual(r.ActiveSet(), []string{"AAPL", "MSFT"}) {
		t.Errorf("Active set wrong: %v", r.ActiveSet())
	}
}

func TestRegistry_Idempotence(t *testing.T) {
	r := registry.New()

	r.SetInterest("c1", []string{"AAPL"})
	added, removed := r.SetInterest("c1", []string{"AAPL"})

	if len(added) != 0 || len(removed) != 0 {
		t.Errorf("Redeclaring the same set must be a no-op, got +%v -%v", added, removed)
	}
	if r.Refcount("AAPL") != 1 {
		t.Errorf("Refcount must not double-increment, got %d", r.Refcount("AAPL"))
	}
}

func TestRegistry_SetDiffing(t *testing.T) {
	r := registry.New()

	r.SetInterest("c1", []string{"AAPL", "MSFT"})
	added, removed := r.SetInterest("c1", []string{"MSFT", "TSLA"})

	if !reflect.DeepEqual(added, []string{"TSLA"}) {
		t.Errorf("Expected TSLA newly needed, got %v", added)
	}
	if !reflect.DeepEqual(removed, []string{"AAPL"}) {
		t.Errorf("Expected AAPL detached, got %v", removed)
	}
}

func TestRegistry_UnknownUnsubscribeIsNoop(t *testing.T) {
	r := registry.New()

	_, removed := r.SetInterest("ghost", nil)
	if len(removed) != 0 {
		t.Errorf("Dropping an unknown consumer must be a no-op, got %v", removed)
	}
	if r.Refcount("AAPL") != 0 {
		t.Errorf("Refcount must never go negative")
	}
}

func TestRegistry_DropConsumer(t *testing.T) {
	r := registry.New()

	r.SetInterest("a", []string{"AAPL"})
	r.SetInterest("b", []string{"AAPL", "GOOG"})

	removed := r.Drop("b")
	if !reflect.DeepEqual(removed, []string{"GOOG"}) {
		t.Errorf("Only GOOG should detach, got %v", removed)
	}
	if r.Refcount("AAPL") != 1 {
		t.Errorf("AAPL must survive with refcount 1, got %d", r.Refcount("AAPL"))
	}
}

func TestRegistry_RefcountMatchesClaimants(t *testing.T) {
	r := registry.New()

	consumers := []string{"c1", "c2", "c3", "c4"}
	for _, c := range consumers {
		r.SetInterest(c, []string{"NVDA"})
	}
	if r.Refcount("NVDA") != len(consumers) {
		t.Fatalf("Expected refcount %d, got %d", len(consumers), r.Refcount("NVDA"))
	}

	for i, c := range consumers {
		_, removed := r.SetInterest(c, nil)
		stillClaiming := len(consumers) - i - 1
		if r.Refcount("NVDA") != stillClaiming {
			t.Errorf("After dropping %s expected refcount %d, got %d", c, stillClaiming, r.Refcount("NVDA"))
		}
		if stillClaiming == 0 && !reflect.DeepEqual(removed, []string{"NVDA"}) {
			t.Errorf("Last drop must detach NVDA, got %v", removed)
		}
	}
}

func TestRegistry_CaseNormalization(t *testing.T) {
	r := registry.New()

	r.SetInterest("a", []string{"aapl"})
	r.SetInterest("b", []string{"AAPL "})

	if r.Refcount("AAPL") != 2 {
		t.Errorf("Case variants must share one refcount, got %d", r.Refcount("AAPL"))
	}
}
