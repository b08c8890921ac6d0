// Package testutil holds helpers shared by tests that need real pion peers
// without touching the host network.
package testutil

import (
	"testing"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
)

const (
	vnetCIDR = "10.0.0.0/24"
	vnetIPA  = "10.0.0.1"
	vnetIPB  = "10.0.0.2"
)

// VNetAPIs returns two pion APIs attached to one virtual router. The router is
// stopped when the test ends.
func VNetAPIs(t testing.TB) (*webrtc.API, *webrtc.API) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          vnetCIDR,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() {
		_ = router.Stop()
	})

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{vnetIPA}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{vnetIPB}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	apiA, err := newVNetAPI(netA)
	if err != nil {
		t.Fatalf("new api A: %v", err)
	}
	apiB, err := newVNetAPI(netB)
	if err != nil {
		t.Fatalf("new api B: %v", err)
	}
	return apiA, apiB
}

func newVNetAPI(n *vnet.Net) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	se.SetNet(n)

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(m)), nil
}

// Answerer plays the realtime endpoint in tests: it accepts an offer, echoes
// an audio track back and exposes the events DataChannel the offerer created.
type Answerer struct {
	PC          *webrtc.PeerConnection
	Track       *webrtc.TrackLocalStaticSample
	DataChannel chan *webrtc.DataChannel
}

func NewAnswerer(t testing.TB, api *webrtc.API) *Answerer {
	t.Helper()

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new answerer pc: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "assistant", "realtime")
	if err != nil {
		t.Fatalf("new answerer track: %v", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		t.Fatalf("add answerer track: %v", err)
	}

	a := &Answerer{PC: pc, Track: track, DataChannel: make(chan *webrtc.DataChannel, 1)}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		select {
		case a.DataChannel <- dc:
		default:
		}
	})
	return a
}

// Answer applies offerSDP and returns the answer with all candidates gathered.
func (a *Answerer) Answer(offerSDP string) (string, error) {
	if err := a.PC.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return "", err
	}
	answer, err := a.PC.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	gathered := webrtc.GatheringCompletePromise(a.PC)
	if err := a.PC.SetLocalDescription(answer); err != nil {
		return "", err
	}
	<-gathered
	return a.PC.LocalDescription().SDP, nil
}
