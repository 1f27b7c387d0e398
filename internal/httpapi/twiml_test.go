package httpapi

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/voxloop/voxloop/internal/health"
)

func TestConnectStreamTwiML(t *testing.T) {
	got, err := ConnectStreamTwiML("voice.example.com", "CA123", "+15551234567")
	if err != nil {
		t.Fatal(err)
	}
	s := string(got)
	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<Response><Connect><Stream url="wss://voice.example.com/ws/twilio/CA123">`,
		`<Parameter name="from_number" value="+15551234567">`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("twiml missing %q:\n%s", want, s)
		}
	}
}

func TestConnectStreamTwiML_NoFrom(t *testing.T) {
	got, err := ConnectStreamTwiML("voice.example.com", "CA123", "")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(got), "Parameter") {
		t.Errorf("empty from produced a parameter:\n%s", got)
	}
}

func TestConnectStreamTwiML_EscapesValues(t *testing.T) {
	got, err := ConnectStreamTwiML("voice.example.com", "CA123", `+1 <555> "weird"`)
	if err != nil {
		t.Fatal(err)
	}
	s := string(got)
	if strings.Contains(s, "<555>") {
		t.Errorf("unescaped angle brackets in twiml:\n%s", s)
	}
}

func TestTwilioVoiceWebhook(t *testing.T) {
	srv := New(Config{
		AppName:    "voxloop",
		Version:    "test",
		PublicHost: "voice.example.com",
		Health:     health.New(),
	})

	form := url.Values{}
	form.Set("CallSid", "CA999")
	form.Set("From", "+15550001111")
	req := httptest.NewRequest("POST", "/twilio/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "/ws/twilio/CA999") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestTwilioVoiceWebhook_ForwardedHost(t *testing.T) {
	srv := New(Config{AppName: "voxloop", Version: "test", Health: health.New()})

	form := url.Values{}
	form.Set("CallSid", "CA999")
	req := httptest.NewRequest("POST", "/twilio/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Forwarded-Host", "voice.example.com")
	req.Host = "10.0.0.5:8080"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wss://voice.example.com/ws/twilio/CA999") {
		t.Errorf("proxy host not used in stream url: %s", rec.Body.String())
	}
}

func TestTwilioVoiceWebhook_MissingCallSid(t *testing.T) {
	srv := New(Config{AppName: "voxloop", Health: health.New()})

	req := httptest.NewRequest("POST", "/twilio/voice", strings.NewReader("From=%2B1555"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestBanner(t *testing.T) {
	srv := New(Config{AppName: "voxloop", Version: "1.2.3", Health: health.New()})

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "1.2.3") {
		t.Errorf("banner = %d %s", rec.Code, rec.Body.String())
	}
}
