package gemini

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/room4-2/PlanLive/workspace"
	"google.golang.org/genai"
)

// ErrNoMedia is returned when a generation call succeeds without output,
// typically because of safety filtering.
var ErrNoMedia = errors.New("no media generated")

var stylePrompts = map[workspace.Style]string{
	workspace.StylePhotorealistic:  "a photorealistic product photo on a clean studio background, soft lighting",
	workspace.StyleTechnicalSketch: "a precise technical pencil sketch with construction lines on white paper",
	workspace.StyleIsometric3D:     "a clean isometric 3D render with soft shadows and a neutral background",
	workspace.StyleWatercolor:      "a loose watercolor illustration with soft edges on textured paper",
}

// Media generates images, blueprints and videos for plan items.
type Media struct {
	client       *genai.Client
	imageModel   string
	videoModel   string
	pollInterval time.Duration
}

// NewMedia creates a media generator.
func NewMedia(client *genai.Client, imageModel, videoModel string, pollInterval time.Duration) *Media {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &Media{
		client:       client,
		imageModel:   imageModel,
		videoModel:   videoModel,
		pollInterval: pollInterval,
	}
}

func describe(item workspace.Item) string {
	var b strings.Builder
	b.WriteString(item.Name)
	if item.Description != "" {
		b.WriteString(" (")
		b.WriteString(item.Description)
		b.WriteString(")")
	}
	if len(item.Specs) > 0 {
		keys := make([]string, 0, len(item.Specs))
		for k := range item.Specs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		specs := make([]string, 0, len(keys))
		for _, k := range keys {
			specs = append(specs, k+": "+item.Specs[k])
		}
		b.WriteString(", specs ")
		b.WriteString(strings.Join(specs, "; "))
	}
	return b.String()
}

func imagePrompt(item workspace.Item, style workspace.Style) string {
	look, ok := stylePrompts[style]
	if !ok {
		look = stylePrompts[workspace.StylePhotorealistic]
	}
	if item.Kind == workspace.KindStep {
		return fmt.Sprintf("Illustrate the project step %q as %s. Show hands performing the step. No text.", describe(item), look)
	}
	return fmt.Sprintf("%s of %s. Single object, centered, no text.", capitalize(look), describe(item))
}

func blueprintPrompt(item workspace.Item) string {
	return fmt.Sprintf("An engineering blueprint of %s: white line drawing on blue grid paper, "+
		"front, side and top orthographic views with dimension lines and labels.", describe(item))
}

func videoPrompt(item workspace.Item) string {
	if item.Kind == workspace.KindStep {
		return fmt.Sprintf("A short, steady close-up tutorial clip showing how to: %s. Natural light, no narration text.", describe(item))
	}
	return fmt.Sprintf("A slow 360 degree turntable shot of %s on a neutral background, studio lighting.", describe(item))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// GenerateImage renders one illustration of item in style.
func (m *Media) GenerateImage(ctx context.Context, item workspace.Item, style workspace.Style) (*workspace.Media, error) {
	return m.image(ctx, imagePrompt(item, style), "1:1")
}

// GenerateBlueprint renders a blueprint-style drawing of item.
func (m *Media) GenerateBlueprint(ctx context.Context, item workspace.Item) (*workspace.Media, error) {
	return m.image(ctx, blueprintPrompt(item), "4:3")
}

func (m *Media) image(ctx context.Context, prompt, aspect string) (*workspace.Media, error) {
	resp, err := m.client.Models.GenerateImages(ctx, m.imageModel, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    aspect,
		OutputMIMEType: "image/png",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate image: %w", err)
	}
	return firstImage(resp)
}

func firstImage(resp *genai.GenerateImagesResponse) (*workspace.Media, error) {
	if resp == nil {
		return nil, ErrNoMedia
	}
	for _, gi := range resp.GeneratedImages {
		if gi == nil || gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
			continue
		}
		mime := gi.Image.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		return &workspace.Media{MIMEType: mime, Data: gi.Image.ImageBytes}, nil
	}
	return nil, ErrNoMedia
}

// GenerateVideo starts a video job and waits for it.
func (m *Media) GenerateVideo(ctx context.Context, item workspace.Item) (*workspace.Media, error) {
	job, err := m.StartVideo(ctx, item)
	if err != nil {
		return nil, err
	}
	return job.Wait(ctx, m.pollInterval)
}

// StartVideo submits a video generation request and returns its handle.
func (m *Media) StartVideo(ctx context.Context, item workspace.Item) (*VideoJob, error) {
	op, err := m.client.Models.GenerateVideos(ctx, m.videoModel, videoPrompt(item), nil, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		AspectRatio:    "16:9",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start video generation: %w", err)
	}
	log.Printf("🎬 Video job started for %q (%s)", item.Name, op.Name)
	return &VideoJob{
		op: op,
		poll: func(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
			return m.client.Operations.GetVideosOperation(ctx, op, nil)
		},
	}, nil
}

// VideoJob is a long-running video generation.
type VideoJob struct {
	op   *genai.GenerateVideosOperation
	poll func(context.Context, *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error)
}

// Name returns the operation name.
func (j *VideoJob) Name() string { return j.op.Name }

// Poll refreshes the operation once and reports whether it has finished.
func (j *VideoJob) Poll(ctx context.Context) (bool, error) {
	if j.op.Done {
		return true, nil
	}
	op, err := j.poll(ctx, j.op)
	if err != nil {
		return false, fmt.Errorf("failed to poll video job: %w", err)
	}
	j.op = op
	return op.Done, nil
}

// Wait polls every interval until the job finishes or ctx is done.
func (j *VideoJob) Wait(ctx context.Context, interval time.Duration) (*workspace.Media, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := j.Poll(ctx)
		if err != nil {
			return nil, err
		}
		if done {
			return videoResult(j.op)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func videoResult(op *genai.GenerateVideosOperation) (*workspace.Media, error) {
	if len(op.Error) > 0 {
		return nil, fmt.Errorf("video generation failed: %v", op.Error["message"])
	}
	if op.Response == nil {
		return nil, ErrNoMedia
	}
	for _, gv := range op.Response.GeneratedVideos {
		if gv == nil || gv.Video == nil {
			continue
		}
		mime := gv.Video.MIMEType
		if mime == "" {
			mime = "video/mp4"
		}
		if len(gv.Video.VideoBytes) > 0 || gv.Video.URI != "" {
			return &workspace.Media{MIMEType: mime, Data: gv.Video.VideoBytes, URI: gv.Video.URI}, nil
		}
	}
	return nil, ErrNoMedia
}
