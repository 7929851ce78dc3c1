package deeplink

import (
	"encoding/json"
	"testing"
)

func TestParseTelnetURL(t *testing.T) {
	tests := []struct {
		input string
		want  LaunchRequest
		ok    bool
	}{
		{"telnet://example.com", LaunchRequest{Host: "example.com"}, true},
		{"telnet://example.com:2323", LaunchRequest{Host: "example.com", Port: 2323}, true},
		{"TELNET://Example.com:23", LaunchRequest{Host: "Example.com", Port: 23}, true},
		{"  bbs.example.org:6400  ", LaunchRequest{Host: "bbs.example.org", Port: 6400}, true},
		{"telehack.com", LaunchRequest{Host: "telehack.com"}, true},
		{"telnet://[::1]:23", LaunchRequest{Host: "::1", Port: 23}, true},
		{"", LaunchRequest{}, false},
		{"   ", LaunchRequest{}, false},
		{"telnet://", LaunchRequest{}, false},
		{"telnet://host:99999", LaunchRequest{}, false},
		{"telnet://host:abc", LaunchRequest{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseTelnetURL(tt.input)
		if ok != tt.ok {
			t.Errorf("ParseTelnetURL(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParseTelnetURL(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

func TestFromArgsSkipsNonURLs(t *testing.T) {
	actions := FromArgs([]string{"telnet://a.example", "", "telnet://b.example:99999", "c.example:2323"})
	if len(actions) != 2 {
		t.Fatalf("len(actions) = %d, want 2: %+v", len(actions), actions)
	}
	if actions[0].Request.Host != "a.example" || actions[1].Request.Port != 2323 {
		t.Fatalf("actions = %+v", actions)
	}
	for _, a := range actions {
		if a.Type != ActionOpen {
			t.Fatalf("action type = %q, want %q", a.Type, ActionOpen)
		}
	}
}

func TestActionJSONShape(t *testing.T) {
	data, err := json.Marshal(Action{Type: ActionOpen, Request: LaunchRequest{Host: "example.com"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got, want := string(data), `{"type":"open","request":{"host":"example.com"}}`; got != want {
		t.Fatalf("json = %s, want %s", got, want)
	}
}

func TestQueueConsumeIsOneShot(t *testing.T) {
	q := NewQueue()
	q.Push(FromArgs([]string{"telnet://a.example"})...)
	q.Push(FromArgs([]string{"telnet://b.example"})...)
	q.Push()

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	got := q.Consume()
	if len(got) != 2 || got[0].Request.Host != "a.example" || got[1].Request.Host != "b.example" {
		t.Fatalf("Consume() = %+v", got)
	}
	again := q.Consume()
	if again == nil || len(again) != 0 {
		t.Fatalf("second Consume() = %#v, want empty non-nil slice", again)
	}
}
