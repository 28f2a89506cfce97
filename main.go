package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/room4-2/PlanLive/assistant"
	"github.com/room4-2/PlanLive/audio"
	"github.com/room4-2/PlanLive/config"
	"github.com/room4-2/PlanLive/gemini"
	"github.com/room4-2/PlanLive/server"
	"github.com/room4-2/PlanLive/session"
	"github.com/room4-2/PlanLive/workspace"
)

// fixedLocation answers get_location from configuration when no browser
// is attached.
type fixedLocation struct{ loc *config.Location }

func (f fixedLocation) Location(context.Context) (workspace.Location, error) {
	if f.loc == nil {
		return workspace.Location{}, errors.New("no default location configured")
	}
	return workspace.Location{Lat: f.loc.Lat, Lng: f.loc.Lng}, nil
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("Failed to create Gemini client: %v", err)
	}

	ws := workspace.New()
	tools := workspace.NewTools(ws,
		gemini.NewPlanner(client, cfg.PlannerModel),
		gemini.NewMedia(client, cfg.ImageModel, cfg.VideoModel, cfg.VideoPollInterval),
		fixedLocation{cfg.DefaultLocation},
		cfg.MaxParallelMedia,
	)
	defer tools.Close()

	// Voice needs local audio devices; the browser server works without.
	var voice *assistant.Assistant
	devices, err := audio.NewPortAudio()
	if err != nil {
		log.Printf("⚠️ Audio unavailable, voice disabled: %v", err)
	} else {
		defer devices.Close()
		presence := session.NewPresence(cfg.RedisURL, cfg.RedisPassword, cfg.SessionTimeout)
		manager := session.NewManager(gemini.NewDialer(client, cfg.LiveModel, cfg.VoiceName), devices, cfg.CaptureChunkSize, presence)
		defer manager.Shutdown()
		go manager.StartHeartbeat(ctx, cfg.SessionTimeout/2)
		voice = assistant.New(manager, ws, tools)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	switch cfg.ServerType {
	case config.ServerVoice:
		if voice == nil {
			log.Fatalf("SERVER_TYPE=%s requires audio devices", cfg.ServerType)
		}
		if err := voice.Start(ctx); err != nil {
			log.Fatalf("Failed to start voice session: %v", err)
		}
		log.Println("🎙️ Voice assistant listening, press Ctrl+C to stop")
		<-sigChan
		log.Println("\nReceived shutdown signal...")
		voice.Stop()

	case config.ServerWebsocket, config.ServerBoth:
		var v server.Voice
		if voice != nil {
			v = voice
		}
		srv := server.NewServerWebsocket(cfg, ws, tools, v)
		tools.SetLocationProvider(srv)

		go func() {
			<-sigChan
			log.Println("\nReceived shutdown signal...")
			cancel()
			if voice != nil {
				voice.Stop()
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("Server shutdown error: %v", err)
			}
		}()

		if cfg.ServerType == config.ServerBoth && voice != nil {
			go func() {
				if err := voice.Start(ctx); err != nil {
					log.Printf("❌ Failed to start voice session: %v", err)
				}
			}()
		}

		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}

	default:
		log.Fatalf("Unknown SERVER_TYPE: %s", cfg.ServerType)
	}

	log.Println("Server stopped")
}
