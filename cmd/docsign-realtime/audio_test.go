package main

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/gothera/docsign2/internal/audio"
	"github.com/gothera/docsign2/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAudioFactories_Defaults(t *testing.T) {
	newSource, newSink := audioFactories(config.Config{}, discardLogger())

	src, err := newSource()
	if err != nil {
		t.Fatalf("newSource: %v", err)
	}
	defer src.Close()
	if _, ok := src.(*audio.SilenceSource); !ok {
		t.Fatalf("source=%T, want *audio.SilenceSource", src)
	}

	sink, err := newSink()
	if err != nil {
		t.Fatalf("newSink: %v", err)
	}
	defer sink.Close()
	if _, ok := sink.(*audio.DiscardSink); !ok {
		t.Fatalf("sink=%T, want *audio.DiscardSink", sink)
	}
}

func TestAudioFactories_MissingMic(t *testing.T) {
	cfg := config.Config{UseMic: true, MicDevice: filepath.Join(t.TempDir(), "missing.ogg")}
	newSource, _ := audioFactories(cfg, discardLogger())

	src, err := newSource()
	if !errors.Is(err, audio.ErrMediaAcquisition) {
		t.Fatalf("err=%v, want ErrMediaAcquisition", err)
	}
	if src != nil {
		t.Fatalf("source=%#v, want nil interface", src)
	}
}

func TestAudioFactories_RecordsRemoteAudio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.ogg")
	_, newSink := audioFactories(config.Config{RemoteAudioPath: path}, discardLogger())

	sink, err := newSink()
	if err != nil {
		t.Fatalf("newSink: %v", err)
	}
	defer sink.Close()
	if _, ok := sink.(*audio.OggSink); !ok {
		t.Fatalf("sink=%T, want *audio.OggSink", sink)
	}
}
