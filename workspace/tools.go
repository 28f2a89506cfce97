package workspace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Tool names declared to the voice model.
const (
	ToolGenerateImage = "generate_image"
	ToolAddItem       = "add_item"
	ToolPlanProject   = "plan_project"
	ToolChangeStyle   = "change_style"
	ToolChangeTheme   = "change_theme"
	ToolSelectItems   = "select_items"
	ToolBatchAction   = "batch_action"
	ToolScrollTo      = "scroll_to"
	ToolGetLocation   = "get_location"
)

var ErrUnknownTool = errors.New("unknown tool")

// PlanRequest is the input to a planning call.
type PlanRequest struct {
	Topic         string
	Image         []byte
	ImageMIMEType string
	Location      *Location
}

// Planner turns a request into a plan.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*Plan, error)
}

// MediaGenerator produces assets for a single item.
type MediaGenerator interface {
	GenerateImage(ctx context.Context, item Item, style Style) (*Media, error)
	GenerateBlueprint(ctx context.Context, item Item) (*Media, error)
	GenerateVideo(ctx context.Context, item Item) (*Media, error)
}

// LocationProvider resolves the user's position.
type LocationProvider interface {
	Location(ctx context.Context) (Location, error)
}

// Tools executes workspace operations for the voice assistant and the
// browser. Media generation runs in the background so tool calls return
// promptly; results land on the item.
type Tools struct {
	ws       *Workspace
	planner  Planner
	media    MediaGenerator
	parallel int

	locMu    sync.RWMutex
	location LocationProvider

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTools wires a dispatcher. location may be nil.
func NewTools(ws *Workspace, planner Planner, media MediaGenerator, location LocationProvider, parallel int) *Tools {
	if parallel < 1 {
		parallel = 1
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Tools{
		ws:       ws,
		planner:  planner,
		media:    media,
		location: location,
		parallel: parallel,
		bg:       bg,
		cancel:   cancel,
	}
}

// SetLocationProvider swaps the location source.
func (t *Tools) SetLocationProvider(p LocationProvider) {
	t.locMu.Lock()
	t.location = p
	t.locMu.Unlock()
}

// Wait blocks until background generation has finished.
func (t *Tools) Wait() { t.wg.Wait() }

// Close cancels background generation and waits for it.
func (t *Tools) Close() {
	t.cancel()
	t.wg.Wait()
}

// Dispatch runs one named tool. Its signature matches session.ToolHandler.
func (t *Tools) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolGenerateImage:
		target, err := requiredString(args, "targetName")
		if err != nil {
			return nil, err
		}
		it, ok := t.ws.FindItem(target)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrItemNotFound, target)
		}
		if err := t.Generate(it.ID, MediaImage); err != nil {
			return nil, err
		}
		return "ok", nil

	case ToolAddItem:
		itemName, err := requiredString(args, "name")
		if err != nil {
			return nil, err
		}
		kind := ParseKind(optionalString(args, "kind"))
		it, err := t.ws.AddItem(itemName, kind, optionalString(args, "description"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": it.ID, "name": it.Name, "kind": string(it.Kind)}, nil

	case ToolPlanProject:
		topic, err := requiredString(args, "topic")
		if err != nil {
			return nil, err
		}
		plan, err := t.Plan(ctx, PlanRequest{Topic: topic})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"title":     plan.Title,
			"items":     len(plan.Items),
			"totalCost": plan.TotalCost,
		}, nil

	case ToolChangeStyle:
		s, err := requiredString(args, "style")
		if err != nil {
			return nil, err
		}
		style, err := ParseStyle(s)
		if err != nil {
			return nil, err
		}
		if err := t.ws.SetStyle(style); err != nil {
			return nil, err
		}
		return "ok", nil

	case ToolChangeTheme:
		theme, err := requiredString(args, "theme")
		if err != nil {
			return nil, err
		}
		if err := t.ws.SetTheme(Theme(theme)); err != nil {
			return nil, err
		}
		return "ok", nil

	case ToolSelectItems:
		criteria, err := requiredString(args, "criteria")
		if err != nil {
			return nil, err
		}
		mode := optionalString(args, "mode")
		if mode != "" && mode != "select" && mode != "deselect" {
			return nil, fmt.Errorf("%w: mode must be select or deselect", ErrInvalidValue)
		}
		n, err := t.ws.Select(criteria, mode != "deselect")
		if err != nil {
			return nil, err
		}
		return map[string]any{"matched": n, "selected": len(t.ws.Selected())}, nil

	case ToolBatchAction:
		action, err := requiredString(args, "action")
		if err != nil {
			return nil, err
		}
		switch action {
		case "generate_images":
			n := t.GenerateSelected(MediaImage)
			if n == 0 {
				return nil, errors.New("no items selected")
			}
			return map[string]any{"started": n}, nil
		case "clear_selection":
			return map[string]any{"cleared": t.ws.ClearSelection()}, nil
		default:
			return nil, fmt.Errorf("%w: unknown batch action %q", ErrInvalidValue, action)
		}

	case ToolScrollTo:
		anchor, err := requiredString(args, "anchor")
		if err != nil {
			return nil, err
		}
		resolved, err := t.ws.ScrollTo(anchor)
		if err != nil {
			return nil, err
		}
		return map[string]any{"anchor": resolved}, nil

	case ToolGetLocation:
		loc, err := t.Location(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"lat": loc.Lat, "lng": loc.Lng}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

// Plan runs the planner and loads the result into the workspace. A known
// location is attached when the request has none.
func (t *Tools) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	if t.planner == nil {
		return nil, errors.New("planner not configured")
	}
	if strings.TrimSpace(req.Topic) == "" && len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: topic or image required", ErrInvalidValue)
	}
	if req.Location == nil {
		req.Location = t.ws.Snapshot().Location
	}
	plan, err := t.planner.Plan(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to plan project: %w", err)
	}
	t.ws.SetPlan(plan)
	log.Printf("📋 Plan loaded: %q (%d items)", plan.Title, len(plan.Items))
	return t.ws.Snapshot().Plan, nil
}

// Location asks the provider and records the answer.
func (t *Tools) Location(ctx context.Context) (Location, error) {
	t.locMu.RLock()
	provider := t.location
	t.locMu.RUnlock()
	if provider == nil {
		return Location{}, errors.New("location unavailable")
	}
	loc, err := provider.Location(ctx)
	if err != nil {
		return Location{}, fmt.Errorf("failed to get location: %w", err)
	}
	t.ws.SetLocation(loc)
	return loc, nil
}

// Generate starts background generation of one asset for an item.
func (t *Tools) Generate(itemID string, kind MediaKind) error {
	if t.media == nil {
		return errors.New("media generation not configured")
	}
	switch kind {
	case MediaImage, MediaBlueprint, MediaVideo:
	default:
		return fmt.Errorf("%w: unknown media kind %q", ErrInvalidValue, kind)
	}
	if err := t.ws.MarkGenerating(itemID); err != nil {
		return err
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.generateOne(t.bg, itemID, kind)
	}()
	return nil
}

// GenerateSelected starts generation for every selected item, at most
// parallel at a time, and returns how many were started.
func (t *Tools) GenerateSelected(kind MediaKind) int {
	if t.media == nil {
		return 0
	}
	items := t.markGenerating(t.ws.Selected())
	if len(items) == 0 {
		return 0
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		g, gctx := errgroup.WithContext(t.bg)
		g.SetLimit(t.parallel)
		for _, it := range items {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				// Item failures stay on the item.
				t.generateOne(gctx, it.ID, kind)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			log.Printf("⚠️ Batch generation cancelled: %v", err)
		}
	}()
	return len(items)
}

// markGenerating flags each item as generating and returns those still in
// the workspace; items removed since selection are skipped.
func (t *Tools) markGenerating(items []Item) []Item {
	kept := items[:0]
	for _, it := range items {
		if err := t.ws.MarkGenerating(it.ID); err != nil {
			log.Printf("⚠️ Skipping %s: %v", it.ID, err)
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

func (t *Tools) generateOne(ctx context.Context, itemID string, kind MediaKind) {
	it, ok := t.ws.Item(itemID)
	if !ok {
		return
	}

	var m *Media
	var err error
	switch kind {
	case MediaImage:
		m, err = t.media.GenerateImage(ctx, it, t.ws.Style())
	case MediaBlueprint:
		m, err = t.media.GenerateBlueprint(ctx, it)
	case MediaVideo:
		m, err = t.media.GenerateVideo(ctx, it)
	}
	if err != nil {
		log.Printf("❌ Failed to generate %s for %q: %v", kind, it.Name, err)
	} else {
		log.Printf("🖼️ Generated %s for %q", kind, it.Name)
	}
	if serr := t.ws.SetMedia(itemID, kind, m, err); serr != nil {
		log.Printf("⚠️ Dropping %s for %q: %v", kind, it.Name, serr)
	}
}

func requiredString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: missing required argument %q", ErrInvalidValue, key)
	}
	return strings.TrimSpace(v), nil
}

func optionalString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}
