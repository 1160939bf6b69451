package prom

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jarbas-hive/hivemind-go/observability"
)

func TestObserver_RecordsAcceptAndExposesOnHandler(t *testing.T) {
	reg := NewRegistry()
	obs := NewObserver(reg)

	obs.ConnCount(3)
	obs.PeerTableSize(2)
	obs.Accept(observability.AcceptResultInvalidKey)
	obs.HandshakeComplete(observability.HandshakeKindPassword)
	obs.Close(observability.CloseReasonShutdown)
	obs.Dispatch("BUS", observability.DispatchResultOK)
	obs.DispatchLatency("BUS", 5*time.Millisecond)
	obs.FanOut(observability.FanOutBroadcast, 4)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler(reg).ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"hivemind_connections 3",
		"hivemind_peer_table_size 2",
		`hivemind_accept_total{result="invalid_key"} 1`,
		`hivemind_handshake_total{kind="password"} 1`,
		`hivemind_close_total{reason="shutdown"} 1`,
		`hivemind_dispatch_total{msg_type="BUS",result="ok"} 1`,
		`hivemind_fanout_total{kind="broadcast"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q\nfull body:\n%s", want, body)
		}
	}
}

func TestObserver_SatisfiesListenerObserver(t *testing.T) {
	var _ observability.ListenerObserver = NewObserver(NewRegistry())
}
