package obs

import (
	"testing"
	"time"
)

func TestObserveDocRequestDoesNotPanicBeforeInit(t *testing.T) {
	// Metrics are usable without registration; Init only wires the registry.
	done := DocRequestStarted()
	ObserveDocRequest("get", "ok", time.Now().Add(-5*time.Millisecond))
	done()
	CountTokenRefresh("lazy", "ok")
}
