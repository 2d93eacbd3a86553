package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Additional-Code/allot/internal/config"
	"github.com/Additional-Code/allot/internal/entity"
)

func newTestNotifier(t *testing.T, handler http.HandlerFunc) *SMSNotifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	n, err := NewSMSNotifier(config.Notification{
		BaseURL:    srv.URL,
		AccountSID: "AC123",
		AuthToken:  "secret",
		From:       "+15550000000",
		Template:   config.DefaultTemplate,
		Timeout:    2 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewSMSNotifier: %v", err)
	}
	return n
}

func testVoucher() entity.Voucher {
	return entity.Voucher{ID: 7, OrderID: 3, Code: "AB12CD34", RecipientName: "Alice", RecipientMobile: "9123456780"}
}

func TestSMSNotifierDelivers(t *testing.T) {
	var gotPath, gotTo, gotBody, gotUser string
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotTo = r.PostForm.Get("To")
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	})

	res, err := n.Send(context.Background(), testVoucher())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Outcome != Delivered {
		t.Fatalf("outcome: want=%v got=%v", Delivered, res.Outcome)
	}
	if gotPath != "/Accounts/AC123/Messages.json" {
		t.Fatalf("path: got=%q", gotPath)
	}
	if gotUser != "AC123" {
		t.Fatalf("basic auth user: got=%q", gotUser)
	}
	if gotTo != "+919123456780" {
		t.Fatalf("to: got=%q", gotTo)
	}
	if !strings.Contains(gotBody, "AB12CD34") || !strings.Contains(gotBody, "Alice") {
		t.Fatalf("body: got=%q", gotBody)
	}
}

func TestSMSNotifierClassifiesFailures(t *testing.T) {
	cases := []struct {
		status int
		want   Outcome
	}{
		{http.StatusBadRequest, Permanent},
		{http.StatusUnauthorized, Permanent},
		{http.StatusRequestTimeout, Transient},
		{http.StatusTooManyRequests, Transient},
		{http.StatusBadGateway, Transient},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"code":21211,"message":"nope"}`))
			})
			res, err := n.Send(context.Background(), testVoucher())
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			if res.Outcome != tc.want {
				t.Fatalf("outcome: want=%v got=%v", tc.want, res.Outcome)
			}
			if !strings.Contains(res.Reason, "nope") {
				t.Fatalf("reason: got=%q", res.Reason)
			}
		})
	}
}

func TestSMSNotifierTransportError(t *testing.T) {
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {})
	n.cfg.BaseURL = "http://127.0.0.1:0"
	if _, err := n.Send(context.Background(), testVoucher()); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestSMSNotifierRejectsMissingMobile(t *testing.T) {
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("gateway should not be called")
	})
	v := testVoucher()
	v.RecipientMobile = ""
	res, err := n.Send(context.Background(), v)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Outcome != Permanent {
		t.Fatalf("outcome: want=%v got=%v", Permanent, res.Outcome)
	}
}

func TestRender(t *testing.T) {
	got := Render("Hi {name}: {code}", testVoucher())
	if got != "Hi Alice: AB12CD34" {
		t.Fatalf("Render: got=%q", got)
	}
}

func TestLogNotifierAlwaysDelivers(t *testing.T) {
	n := NewLogNotifier(nil, config.DefaultTemplate)
	res, err := n.Send(context.Background(), testVoucher())
	if err != nil || res.Outcome != Delivered {
		t.Fatalf("want delivered got=%v err=%v", res, err)
	}
}
