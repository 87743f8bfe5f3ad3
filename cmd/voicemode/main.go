// Command voicemode talks to the assistant through this machine's microphone
// and speaker. Type "m" and Enter to toggle the microphone, "q" to quit.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chadiek/voice-mode/internal/config"
	"github.com/chadiek/voice-mode/internal/local"
	"github.com/chadiek/voice-mode/internal/providers"
	"github.com/chadiek/voice-mode/internal/voice"
)

func main() {
	language := flag.String("lang", "", "language hint for transcription and speech (en, de)")
	muted := flag.Bool("muted", false, "start with the microphone off")
	flag.Parse()

	cfg := config.Load()
	if *language != "" {
		cfg.Language = *language
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	if err := portaudio.Initialize(); err != nil {
		logger.Fatal("portaudio", zap.Error(err))
	}
	defer func() { _ = portaudio.Terminate() }()

	spk, err := local.NewSpeaker(local.DefaultSpeakerRate)
	if err != nil {
		logger.Fatal("speaker", zap.Error(err))
	}
	p := providers.Build(cfg, logger)
	vcfg := cfg.Voice()
	vcfg.MicEnabled = !*muted
	session, err := voice.NewSession(voice.NewExclusive(local.NewMicrophone()), voice.Collaborators{
		Transcriber: p.Transcriber,
		Chat:        p.Chat,
		Synthesizer: p.Synthesizer,
		Player:      spk,
	}, vcfg, voice.WithLogger(logger))
	if err != nil {
		logger.Fatal("voice session", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return session.Run(ctx) })
	g.Go(func() error {
		printStatus(session)
		return nil
	})
	go readCommands(session)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("voice mode stopped", zap.Error(err))
	}
	for _, m := range session.Conversation().Messages() {
		fmt.Printf("%s: %s\n", m.Role, m.Text)
	}
}

// readCommands maps stdin lines to session controls.
func readCommands(s *voice.Session) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "m":
			_ = s.SetMicEnabled(!s.Status().MicEnabled)
		case "q":
			s.Exit()
			return
		}
	}
}

// printStatus prints phase changes until the session ends.
func printStatus(s *voice.Session) {
	sub, cancel := s.Subscribe()
	defer cancel()
	var last voice.Status
	first := true
	for st := range sub {
		if !first && st.Phase == last.Phase && st.MicEnabled == last.MicEnabled && st.Err == last.Err && st.LastTranscript == last.LastTranscript {
			continue
		}
		first = false
		last = st
		line := fmt.Sprintf("[%s] mic=%t", st.Phase, st.MicEnabled)
		if st.LastTranscript != "" {
			line += fmt.Sprintf(" you said: %q", st.LastTranscript)
		}
		if st.Err != nil {
			line += " error: " + st.Err.Error()
		}
		fmt.Println(line)
	}
}
