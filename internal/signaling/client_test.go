package signaling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/gothera/docsign2/internal/audio"
	"github.com/gothera/docsign2/internal/metrics"
	"github.com/gothera/docsign2/internal/testutil"
)

func tokenServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("token method=%s, want GET", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type trackingSource struct {
	audio.Source
	closed atomic.Bool
}

func (s *trackingSource) Close() error {
	s.closed.Store(true)
	return s.Source.Close()
}

func TestNegotiate_EndToEnd(t *testing.T) {
	apiA, apiB := testutil.VNetAPIs(t)
	answerer := testutil.NewAnswerer(t, apiB)

	tokens := tokenServer(t, http.StatusOK, `{"client_secret":{"value":"ek_test","expires_at":123}}`)

	var gotAuth, gotContentType, gotModel atomic.Value
	realtime := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotContentType.Store(r.Header.Get("Content-Type"))
		gotModel.Store(r.URL.Query().Get("model"))
		offer, _ := io.ReadAll(r.Body)
		answer, err := answerer.Answer(string(offer))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/sdp")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, answer)
	}))
	t.Cleanup(realtime.Close)

	c := NewClient(Config{
		TokenURL:    tokens.URL,
		RealtimeURL: realtime.URL + "/v1/realtime",
		Model:       "test-model",
		API:         apiA,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	conn, err := c.Negotiate(ctx)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if gotAuth.Load() != "Bearer ek_test" {
		t.Fatalf("Authorization=%v", gotAuth.Load())
	}
	if gotContentType.Load() != "application/sdp" {
		t.Fatalf("Content-Type=%v", gotContentType.Load())
	}
	if gotModel.Load() != "test-model" {
		t.Fatalf("model=%v", gotModel.Load())
	}

	open := make(chan struct{})
	var openOnce sync.Once
	markOpen := func() { openOnce.Do(func() { close(open) }) }
	events := conn.Events()
	events.OnOpen(markOpen)
	if events.ReadyState() == webrtc.DataChannelStateOpen {
		markOpen()
	}
	select {
	case <-open:
	case <-time.After(10 * time.Second):
		t.Fatalf("events channel never opened")
	}

	select {
	case dc := <-answerer.DataChannel:
		if dc.Label() != "oai-events" {
			t.Fatalf("remote label=%q", dc.Label())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("answerer never saw the events channel")
	}
}

func TestNegotiate_CredentialFailures(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"non 2xx":     {http.StatusInternalServerError, `{"detail":"OPENAI_API_KEY not set in environment"}`},
		"not json":    {http.StatusOK, `<html>`},
		"empty value": {http.StatusOK, `{"client_secret":{"value":""}}`},
		"missing key": {http.StatusOK, `{}`},
		"secret null": {http.StatusOK, `{"client_secret":null}`},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			tokens := tokenServer(t, tc.status, tc.body)
			sourceOpened := false
			m := metrics.New()
			c := NewClient(Config{
				TokenURL:    tokens.URL,
				RealtimeURL: "http://127.0.0.1:1/unused",
				NewSource: func() (audio.Source, error) {
					sourceOpened = true
					return audio.NewSilenceSource()
				},
				Metrics: m,
			})
			_, err := c.Negotiate(context.Background())
			if !errors.Is(err, ErrCredentialFetch) {
				t.Fatalf("err=%v, want ErrCredentialFetch", err)
			}
			if sourceOpened {
				t.Fatalf("audio source opened before credential was fetched")
			}
			if m.Get(metrics.CredentialFetchFailure) != 1 {
				t.Fatalf("credential failure not counted")
			}
		})
	}
}

func TestNegotiate_MediaAcquisitionFailure(t *testing.T) {
	tokens := tokenServer(t, http.StatusOK, `{"client_secret":{"value":"ek"}}`)
	c := NewClient(Config{
		TokenURL:    tokens.URL,
		RealtimeURL: "http://127.0.0.1:1/unused",
		NewSource: func() (audio.Source, error) {
			return audio.OpenOggSource("/nonexistent/mic.ogg")
		},
	})
	_, err := c.Negotiate(context.Background())
	if !errors.Is(err, ErrMediaAcquisition) {
		t.Fatalf("err=%v, want ErrMediaAcquisition", err)
	}
}

func TestNegotiate_RejectedOfferReleasesResources(t *testing.T) {
	tokens := tokenServer(t, http.StatusOK, `{"client_secret":{"value":"ek"}}`)
	realtime := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid model"}`, http.StatusBadRequest)
	}))
	t.Cleanup(realtime.Close)

	var source *trackingSource
	m := metrics.New()
	c := NewClient(Config{
		TokenURL:            tokens.URL,
		RealtimeURL:         realtime.URL,
		ICEGatheringTimeout: time.Second,
		NewSource: func() (audio.Source, error) {
			s, err := audio.NewSilenceSource()
			if err != nil {
				return nil, err
			}
			source = &trackingSource{Source: s}
			return source, nil
		},
		Metrics: m,
	})
	_, err := c.Negotiate(context.Background())
	if !errors.Is(err, ErrNegotiation) {
		t.Fatalf("err=%v, want ErrNegotiation", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("err=%v, want status in message", err)
	}
	if source == nil || !source.closed.Load() {
		t.Fatalf("audio source not released")
	}
	if m.Get(metrics.NegotiationFailure) != 1 {
		t.Fatalf("negotiation failure not counted")
	}
}

func TestNegotiate_InvalidAnswer(t *testing.T) {
	tokens := tokenServer(t, http.StatusOK, `{"client_secret":{"value":"ek"}}`)
	realtime := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "v=0\r\nnot an answer")
	}))
	t.Cleanup(realtime.Close)

	c := NewClient(Config{TokenURL: tokens.URL, RealtimeURL: realtime.URL, ICEGatheringTimeout: time.Second})
	if _, err := c.Negotiate(context.Background()); !errors.Is(err, ErrNegotiation) {
		t.Fatalf("err=%v, want ErrNegotiation", err)
	}
}

func TestNegotiate_ContextCanceled(t *testing.T) {
	tokens := tokenServer(t, http.StatusOK, `{"client_secret":{"value":"ek"}}`)
	release := make(chan struct{})
	realtime := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		realtime.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(Config{TokenURL: tokens.URL, RealtimeURL: realtime.URL, ICEGatheringTimeout: time.Second})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Negotiate(ctx)
		errCh <- err
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrNegotiation) {
			t.Fatalf("err=%v, want ErrNegotiation", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Negotiate did not return after cancel")
	}
}

func TestCredential_Redacted(t *testing.T) {
	cred := Credential{value: "ek_secret"}
	if s := fmt.Sprint(cred); strings.Contains(s, "ek_secret") {
		t.Fatalf("credential leaked through fmt: %q", s)
	}
	if s := cred.LogValue().String(); strings.Contains(s, "ek_secret") {
		t.Fatalf("credential leaked through slog: %q", s)
	}
	if cred.Value() != "ek_secret" {
		t.Fatalf("Value=%q", cred.Value())
	}
}
