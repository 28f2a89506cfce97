package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	"github.com/room4-2/PlanLive/config"
	"github.com/room4-2/PlanLive/gemini"
	"github.com/room4-2/PlanLive/workspace"
)

func main() {
	topic := flag.String("topic", "", "Project to plan")
	imagePath := flag.String("image", "", "Optional reference image")
	location := flag.String("location", "", "Optional \"lat,lng\"")
	model := flag.String("model", "gemini-2.5-flash", "Planner model")
	timeout := flag.Duration("timeout", 2*time.Minute, "Request timeout")
	flag.Parse()

	_ = godotenv.Load()
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal("GEMINI_API_KEY not set")
	}
	if *topic == "" && *imagePath == "" {
		log.Fatal("-topic or -image is required")
	}

	req := workspace.PlanRequest{Topic: *topic}
	if *imagePath != "" {
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			log.Fatalf("Failed to read image: %v", err)
		}
		req.Image = data
		req.ImageMIMEType = mime.TypeByExtension(filepath.Ext(*imagePath))
	}
	if *location != "" {
		loc, err := config.ParseLocation(*location)
		if err != nil {
			log.Fatalf("Invalid location: %v", err)
		}
		req.Location = &workspace.Location{Lat: loc.Lat, Lng: loc.Lng}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := gemini.NewClient(ctx, apiKey)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	log.Printf("📋 Planning %q...", *topic)
	plan, err := gemini.NewPlanner(client, *model).Plan(ctx, req)
	if err != nil {
		log.Fatalf("Failed to plan: %v", err)
	}

	out, err := sonic.ConfigStd.MarshalIndent(plan, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode plan: %v", err)
	}
	fmt.Println(string(out))
	log.Printf("✅ %d items, estimated total %.2f", len(plan.Items), plan.TotalCost)
}
