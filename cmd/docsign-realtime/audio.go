package main

import (
	"log/slog"

	"github.com/gothera/docsign2/internal/audio"
	"github.com/gothera/docsign2/internal/config"
)

// audioFactories picks the per-session audio endpoints: the capture device or
// silence going out, an Ogg recording or nothing coming back.
func audioFactories(cfg config.Config, logger *slog.Logger) (func() (audio.Source, error), func() (audio.Sink, error)) {
	newSource := func() (audio.Source, error) {
		if !cfg.UseMic {
			src, err := audio.NewSilenceSource()
			if err != nil {
				return nil, err
			}
			return src, nil
		}
		src, err := audio.OpenOggSource(cfg.MicDevice)
		if err != nil {
			logger.Warn("microphone unavailable", "mic_device", cfg.MicDevice, "err", err)
			return nil, err
		}
		return src, nil
	}
	newSink := func() (audio.Sink, error) {
		if cfg.RemoteAudioPath == "" {
			return audio.NewDiscardSink(), nil
		}
		sink, err := audio.NewOggSink(cfg.RemoteAudioPath)
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
	return newSource, newSink
}
