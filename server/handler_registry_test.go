package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dotside-studios/warehouse-agent/protocol"
)

func nopHandler(context.Context, *Client, protocol.WebSocketRequest) error { return nil }

func TestValidMessageType(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"printer.connect", true},
		{"qr.classify", true},
		{"tasks.shipment.start", true},
		{"", false},
		{"printer", false},
		{".connect", false},
		{"printer.", false},
		{"printer. connect", false},
		{"printer.connect\n", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			if got := validMessageType(tt.in); got != tt.want {
				t.Fatalf("validMessageType(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestHandlerRegistryHandle(t *testing.T) {
	tests := []struct {
		name    string
		setup   []string
		msgType string
		handler HandlerFunc
		wantErr bool
	}{
		{name: "ok", msgType: "scanner.beep", handler: nopHandler},
		{name: "nil handler", msgType: "scanner.beep", handler: nil, wantErr: true},
		{name: "empty type", msgType: "", handler: nopHandler, wantErr: true},
		{name: "no namespace", msgType: "beep", handler: nopHandler, wantErr: true},
		{name: "duplicate", setup: []string{"scanner.beep"}, msgType: "scanner.beep", handler: nopHandler, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewHandlerRegistry()
			for _, s := range tt.setup {
				if err := r.Handle(s, nopHandler); err != nil {
					t.Fatalf("setup Handle(%q): %v", s, err)
				}
			}
			err := r.Handle(tt.msgType, tt.handler)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle(%q) error = %v, wantErr %v", tt.msgType, err, tt.wantErr)
			}
			if _, ok := r.Get(tt.msgType); ok != (!tt.wantErr || len(tt.setup) > 0) {
				t.Fatalf("Get(%q) found = %v", tt.msgType, ok)
			}
		})
	}
}

func TestHandlerRegistryHandleAll(t *testing.T) {
	t.Run("registers every route", func(t *testing.T) {
		r := NewHandlerRegistry()
		err := r.HandleAll(map[string]HandlerFunc{
			"printer.connect":    nopHandler,
			"printer.disconnect": nopHandler,
			"devices.list":       nopHandler,
		})
		if err != nil {
			t.Fatalf("HandleAll: %v", err)
		}
		want := []string{"devices.list", "printer.connect", "printer.disconnect"}
		if got := r.MessageTypes(); !slices.Equal(got, want) {
			t.Fatalf("MessageTypes() = %v, want %v", got, want)
		}
	})

	t.Run("stops at first failure in type order", func(t *testing.T) {
		r := NewHandlerRegistry()
		err := r.HandleAll(map[string]HandlerFunc{
			"a.ok":  nopHandler,
			"b.bad": nil,
			"c.ok":  nopHandler,
		})
		if err == nil {
			t.Fatal("HandleAll with nil handler succeeded")
		}
		if _, ok := r.Get("a.ok"); !ok {
			t.Error("a.ok not registered before the failure")
		}
		if _, ok := r.Get("c.ok"); ok {
			t.Error("c.ok registered after the failure")
		}
	})

	t.Run("conflicts with existing type", func(t *testing.T) {
		r := NewHandlerRegistry()
		if err := r.Handle("sync.now", nopHandler); err != nil {
			t.Fatal(err)
		}
		if err := r.HandleAll(map[string]HandlerFunc{"sync.now": nopHandler}); err == nil {
			t.Fatal("HandleAll accepted a duplicate type")
		}
	})
}

func TestHandlerRegistryGetCallsRegisteredHandler(t *testing.T) {
	r := NewHandlerRegistry()
	wantErr := errors.New("printer offline")
	var gotType string
	err := r.Handle("printer.printTest", func(_ context.Context, _ *Client, req protocol.WebSocketRequest) error {
		gotType = req.Type
		return wantErr
	})
	if err != nil {
		t.Fatal(err)
	}

	h, ok := r.Get("printer.printTest")
	if !ok {
		t.Fatal("handler not found")
	}
	if err := h(context.Background(), nil, protocol.WebSocketRequest{Type: "printer.printTest"}); !errors.Is(err, wantErr) {
		t.Fatalf("handler error = %v, want %v", err, wantErr)
	}
	if gotType != "printer.printTest" {
		t.Fatalf("handler saw type %q", gotType)
	}
	if _, ok := r.Get("printer.printLabel"); ok {
		t.Fatal("Get found an unregistered type")
	}
}

func TestHandlerRegistryMessageTypesEmpty(t *testing.T) {
	if got := NewHandlerRegistry().MessageTypes(); len(got) != 0 {
		t.Fatalf("MessageTypes() = %v, want empty", got)
	}
}

func TestHandlerRegistryConcurrentRegistration(t *testing.T) {
	r := NewHandlerRegistry()
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := range 64 {
		wg.Add(2)
		msgType := fmt.Sprintf("load.t%02d", i)
		go func() {
			defer wg.Done()
			if r.Handle(msgType, nopHandler) != nil {
				failures.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			r.Get(msgType)
			r.MessageTypes()
		}()
	}
	wg.Wait()

	if n := failures.Load(); n != 0 {
		t.Fatalf("%d registrations failed", n)
	}
	if got := len(r.MessageTypes()); got != 64 {
		t.Fatalf("registered %d types, want 64", got)
	}
}

func TestHandlerRegistryStartLifecycleHandlers(t *testing.T) {
	r := NewHandlerRegistry()
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "serving")

	var order []int
	for i := range 3 {
		r.RegisterLifecycle(func(ctx context.Context) {
			if ctx.Value(ctxKey{}) != "serving" {
				t.Errorf("lifecycle %d got a foreign context", i)
			}
			order = append(order, i)
		})
	}
	r.StartLifecycleHandlers(ctx)

	if want := []int{0, 1, 2}; !slices.Equal(order, want) {
		t.Fatalf("start order = %v, want %v", order, want)
	}

	// Nothing registered is a no-op.
	NewHandlerRegistry().StartLifecycleHandlers(ctx)
}

func TestHandlerRegistryTryCustomWebSocketHandler(t *testing.T) {
	r := NewHandlerRegistry()
	var hits []string
	r.HandleWebSocket(func(req *http.Request) bool {
		return req.URL.Query().Get("mode") == "device"
	}, func(w http.ResponseWriter, req *http.Request) bool {
		hits = append(hits, "device")
		return true
	})
	r.HandleWebSocket(func(req *http.Request) bool {
		return req.URL.Query().Has("mode")
	}, func(w http.ResponseWriter, req *http.Request) bool {
		hits = append(hits, "fallback")
		return false
	})

	tests := []struct {
		name    string
		target  string
		handled bool
		hit     string
	}{
		{name: "device mode", target: "/ws?mode=device", handled: true, hit: "device"},
		{name: "second matcher declines", target: "/ws?mode=client", handled: false, hit: "fallback"},
		{name: "client session", target: "/ws", handled: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits = nil
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if got := r.TryCustomWebSocketHandler(httptest.NewRecorder(), req); got != tt.handled {
				t.Fatalf("handled = %v, want %v", got, tt.handled)
			}
			switch {
			case tt.hit == "" && len(hits) != 0:
				t.Fatalf("unexpected handler calls %v", hits)
			case tt.hit != "" && !slices.Equal(hits, []string{tt.hit}):
				t.Fatalf("handler calls = %v, want [%s]", hits, tt.hit)
			}
		})
	}
}
