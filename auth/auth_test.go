package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSessionServerHasJoined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/minecraft/hasJoined" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		if q.Get("username") != "Notch" || q.Get("serverId") != "4ed1f46bbe04bc756bcb17c0c7ce3e4632f06a48" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if q.Get("ip") != "" {
			t.Errorf("ip sent without prevent proxy")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"069a79f444e94726a5befca90e38aaf5","name":"Notch","properties":[{"name":"textures","value":"e30=","signature":"c2ln"}]}`))
	}))
	defer srv.Close()

	s := NewSessionServer(WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
	p, err := s.HasJoined(context.Background(), "Notch", "4ed1f46bbe04bc756bcb17c0c7ce3e4632f06a48", "127.0.0.1")
	if err != nil {
		t.Fatalf("has joined err %v", err)
	}
	u, err := p.UUID()
	if err != nil {
		t.Fatalf("profile uuid err %v", err)
	}
	if DashedUUID(u) != "069a79f4-44e9-4726-a5be-fca90e38aaf5" {
		t.Errorf("dashed uuid %v", DashedUUID(u))
	}
	if len(p.Properties) != 1 || p.Properties[0].Name != "textures" || p.Properties[0].Signature != "c2ln" {
		t.Errorf("properties %+v", p.Properties)
	}

	if _, err = s.HasJoined(context.Background(), "Notch", "wrong", ""); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("wrong hash err %v", err)
	}
}

func TestOfflineUUID(t *testing.T) {
	u := OfflineUUID("Notch")
	if u[6]>>4 != 3 || u[8]&0xc0 != 0x80 {
		t.Errorf("offline uuid version/variant %x", u)
	}
	if OfflineUUID("Notch") != u || OfflineUUID("jeb_") == u {
		t.Errorf("offline uuid not stable per name")
	}
}
