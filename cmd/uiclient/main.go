package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/room4-2/PlanLive/messages"
	"github.com/room4-2/PlanLive/workspace"
)

type serverFrame struct {
	Type     string          `json:"type"`
	ClientID string          `json:"clientId,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

func send(conn *websocket.Conn, typ string, payload any) error {
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := sonic.Marshal(messages.ClientMessage{Type: typ, Payload: raw})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func printState(s workspace.State) {
	log.Printf("🗂️ State v%d: style=%s theme=%s listening=%t", s.Version, s.Style, s.Theme, s.Listening)
	if s.Plan == nil {
		return
	}
	fmt.Printf("📋 %s (total %.2f)\n", s.Plan.Title, s.Plan.TotalCost)
	for _, it := range s.Plan.Items {
		mark := " "
		if it.Selected {
			mark = "x"
		}
		fmt.Printf("  [%s] %-9s %-30s %-12s %s\n", mark, it.Kind, it.Name, it.Cost, it.Status)
	}
}

func main() {
	// Flags
	serverURL := flag.String("server", "ws://localhost:8080/ws", "WebSocket server URL")
	action := flag.String("action", messages.ActionPing, "Command to send (plan, voice_start, voice_stop, generate, select, theme, style, ping)")
	topic := flag.String("topic", "", "Project topic for plan")
	imagePath := flag.String("image", "", "Reference image for plan")
	itemID := flag.String("item", "", "Item id for generate")
	media := flag.String("media", "image", "Media kind for generate")
	criteria := flag.String("criteria", "all", "Criteria for select")
	value := flag.String("value", "", "Value for theme or style")
	lat := flag.Float64("lat", 0, "Latitude reported on location requests")
	lng := flag.Float64("lng", 0, "Longitude reported on location requests")
	wait := flag.Duration("wait", 30*time.Second, "How long to print updates")
	flag.Parse()

	cmd := messages.CommandPayload{Action: *action}
	switch *action {
	case messages.ActionPlan:
		cmd.Topic = *topic
		if *imagePath != "" {
			data, err := os.ReadFile(*imagePath)
			if err != nil {
				log.Fatalf("Failed to read image: %v", err)
			}
			cmd.Image = base64.StdEncoding.EncodeToString(data)
			cmd.ImageMIMEType = mime.TypeByExtension(filepath.Ext(*imagePath))
		}
	case messages.ActionGenerate:
		cmd.ItemID = *itemID
		cmd.Media = *media
	case messages.ActionSelect:
		cmd.Criteria = *criteria
	case messages.ActionTheme:
		cmd.Theme = *value
	case messages.ActionStyle:
		cmd.Style = *value
	}

	log.Printf("🔌 Connecting to %s...", *serverURL)

	// Connect to server
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("✅ Connected!")

	// Handle interrupt
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})

	// Read updates from server
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}

			var msg serverFrame
			if err := sonic.Unmarshal(message, &msg); err != nil {
				log.Println("Parse error:", err)
				continue
			}

			switch msg.Type {
			case messages.TypeState:
				var state workspace.State
				if err := sonic.Unmarshal(msg.Payload, &state); err == nil {
					printState(state)
				}

			case messages.TypeStatus:
				var payload messages.StatusPayload
				_ = sonic.Unmarshal(msg.Payload, &payload)
				log.Printf("📊 Status: %s %s", payload.Status, payload.Message)

			case messages.TypeLocationRequest:
				var payload messages.LocationRequestPayload
				_ = sonic.Unmarshal(msg.Payload, &payload)
				reply := messages.LocationPayload{RequestID: payload.RequestID, Lat: *lat, Lng: *lng}
				if *lat == 0 && *lng == 0 {
					reply.Error = "location not shared"
				}
				log.Printf("📍 Location requested, answering %+v", reply)
				if err := send(conn, messages.TypeLocation, reply); err != nil {
					log.Printf("Send error: %v", err)
				}

			case messages.TypeError:
				log.Printf("❌ Error: %s", string(msg.Payload))
			}
		}
	}()

	if err := send(conn, messages.TypeCommand, cmd); err != nil {
		log.Fatalf("Failed to send command: %v", err)
	}
	log.Printf("📤 Sent %s, printing updates...", *action)

	select {
	case <-done:
		log.Println("Connection closed")
	case <-interrupt:
		log.Println("\n👋 Interrupted, closing...")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-time.After(*wait):
		log.Println("⏰ Done waiting")
	}
}
