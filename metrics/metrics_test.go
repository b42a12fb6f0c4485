package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilCollectorMethodsAreNoops(t *testing.T) {
	var c *Collector
	c.SetRoutingTablePeers(5)
	c.ObserveRPC("find_node", "inbound")
	c.ObserveLookupHops(3)
	c.AddDownloadBytes(1024)
	if _, ok := c.Handler().(interface{}); !ok {
		t.Fatal("Handler() on a nil collector should still return a handler")
	}
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	c := New()
	c.SetRoutingTablePeers(12)
	c.ObserveRPC("ping", "outbound")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "pire_routing_table_peers 12") {
		t.Errorf("expected routing table gauge in output, got:\n%s", body)
	}
	if !strings.Contains(body, "pire_rpcs_total") {
		t.Errorf("expected rpcs_total counter in output, got:\n%s", body)
	}
}
