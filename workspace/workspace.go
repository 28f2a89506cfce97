package workspace

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNoPlan       = errors.New("no plan loaded")
	ErrItemNotFound = errors.New("item not found")
	ErrInvalidValue = errors.New("invalid value")
)

// Kind classifies a plan item.
type Kind string

const (
	KindComponent Kind = "component"
	KindTool      Kind = "tool"
	KindStep      Kind = "step"
)

// ParseKind accepts singular or plural forms; anything else is a component.
func ParseKind(s string) Kind {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case "tool":
		return KindTool
	case "step":
		return KindStep
	default:
		return KindComponent
	}
}

// Style is the rendering style for generated images.
type Style string

const (
	StylePhotorealistic  Style = "photorealistic"
	StyleTechnicalSketch Style = "technical_sketch"
	StyleIsometric3D     Style = "isometric_3d"
	StyleWatercolor      Style = "watercolor"
)

var Styles = []Style{StylePhotorealistic, StyleTechnicalSketch, StyleIsometric3D, StyleWatercolor}

// Theme is the UI color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// MediaKind names a generated asset slot on an item.
type MediaKind string

const (
	MediaImage     MediaKind = "image"
	MediaBlueprint MediaKind = "blueprint"
	MediaVideo     MediaKind = "video"
)

// Status of the last media request on an item.
type Status string

const (
	StatusIdle       Status = ""
	StatusGenerating Status = "generating"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Media is a generated asset, inline or by URI.
type Media struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// Item is one component, tool or step of a plan.
type Item struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Kind        Kind              `json:"kind"`
	Description string            `json:"description,omitempty"`
	Specs       map[string]string `json:"specs,omitempty"`
	Cost        string            `json:"cost,omitempty"`
	Duration    string            `json:"duration,omitempty"`
	Selected    bool              `json:"selected"`
	Image       *Media            `json:"image,omitempty"`
	Blueprint   *Media            `json:"blueprint,omitempty"`
	Video       *Media            `json:"video,omitempty"`
	Status      Status            `json:"status,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func (it *Item) clone() *Item {
	c := *it
	c.Specs = maps.Clone(it.Specs)
	return &c
}

// Plan is a generated project plan.
type Plan struct {
	Title     string  `json:"title"`
	Summary   string  `json:"summary,omitempty"`
	Items     []*Item `json:"items"`
	TotalCost float64 `json:"totalCost"`
}

func (p *Plan) clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Items = make([]*Item, len(p.Items))
	for i, it := range p.Items {
		c.Items[i] = it.clone()
	}
	return &c
}

// Location is a geographic position.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// State is a point-in-time copy of the workspace.
type State struct {
	Version   uint64    `json:"version"`
	Plan      *Plan     `json:"plan,omitempty"`
	Style     Style     `json:"style"`
	Theme     Theme     `json:"theme"`
	Anchor    string    `json:"anchor,omitempty"`
	Listening bool      `json:"listening"`
	Location  *Location `json:"location,omitempty"`
}

// Workspace is the shared UI state operated by the browser and the voice
// assistant. Every mutation publishes a State to subscribers.
type Workspace struct {
	mu        sync.RWMutex
	plan      *Plan
	style     Style
	theme     Theme
	anchor    string
	listening bool
	location  *Location
	version   uint64

	pubMu  sync.Mutex // orders publication: subscribers see versions ascending
	subMu  sync.RWMutex
	subs   map[int]func(State)
	nextID int
}

// New creates an empty workspace.
func New() *Workspace {
	return &Workspace{
		style: StylePhotorealistic,
		theme: ThemeLight,
		subs:  make(map[int]func(State)),
	}
}

// Subscribe registers fn for every update. fn runs synchronously on the
// mutating goroutine, in version order, and must neither block nor mutate
// the workspace.
func (w *Workspace) Subscribe(fn func(State)) (cancel func()) {
	w.subMu.Lock()
	id := w.nextID
	w.nextID++
	w.subs[id] = fn
	w.subMu.Unlock()

	return func() {
		w.subMu.Lock()
		delete(w.subs, id)
		w.subMu.Unlock()
	}
}

// update applies fn under the write lock, then publishes on success.
// Subscribers must not mutate the workspace.
func (w *Workspace) update(fn func() error) error {
	w.pubMu.Lock()
	defer w.pubMu.Unlock()

	w.mu.Lock()
	if err := fn(); err != nil {
		w.mu.Unlock()
		return err
	}
	w.version++
	state := w.snapshotLocked()
	w.mu.Unlock()

	w.subMu.RLock()
	defer w.subMu.RUnlock()
	for _, sub := range w.subs {
		sub(state)
	}
	return nil
}

// Snapshot returns a deep copy of the current state.
func (w *Workspace) Snapshot() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshotLocked()
}

func (w *Workspace) snapshotLocked() State {
	s := State{
		Version:   w.version,
		Plan:      w.plan.clone(),
		Style:     w.style,
		Theme:     w.theme,
		Anchor:    w.anchor,
		Listening: w.listening,
	}
	if w.location != nil {
		loc := *w.location
		s.Location = &loc
	}
	return s
}

// SetPlan replaces the plan. Items get ids where missing and the total cost
// is recomputed.
func (w *Workspace) SetPlan(p *Plan) {
	p = p.clone()
	if p == nil {
		p = &Plan{}
	}
	for _, it := range p.Items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.Kind == "" {
			it.Kind = KindComponent
		}
	}
	p.TotalCost = TotalCost(p.Items)

	_ = w.update(func() error {
		w.plan = p
		w.anchor = ""
		return nil
	})
}

// AddItem appends an item, creating an empty plan if none is loaded.
func (w *Workspace) AddItem(name string, kind Kind, description string) (Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Item{}, fmt.Errorf("%w: item name is empty", ErrInvalidValue)
	}
	if kind == "" {
		kind = KindComponent
	}
	it := &Item{ID: uuid.New().String(), Name: name, Kind: kind, Description: description}

	err := w.update(func() error {
		if w.plan == nil {
			w.plan = &Plan{Title: "Untitled project"}
		}
		w.plan.Items = append(w.plan.Items, it)
		w.plan.TotalCost = TotalCost(w.plan.Items)
		return nil
	})
	return *it.clone(), err
}

// FindItem looks an item up by name: exact match first, then substring,
// both case-insensitive.
func (w *Workspace) FindItem(name string) (Item, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	it := w.findLocked(name)
	if it == nil {
		return Item{}, false
	}
	return *it.clone(), true
}

func (w *Workspace) findLocked(name string) *Item {
	if w.plan == nil {
		return nil
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil
	}
	for _, it := range w.plan.Items {
		if strings.ToLower(it.Name) == needle {
			return it
		}
	}
	for _, it := range w.plan.Items {
		if strings.Contains(strings.ToLower(it.Name), needle) {
			return it
		}
	}
	return nil
}

// Item returns the item with the given id.
func (w *Workspace) Item(id string) (Item, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if it := w.byIDLocked(id); it != nil {
		return *it.clone(), true
	}
	return Item{}, false
}

func (w *Workspace) byIDLocked(id string) *Item {
	if w.plan == nil {
		return nil
	}
	for _, it := range w.plan.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// Items returns copies of all items.
func (w *Workspace) Items() []Item {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.plan == nil {
		return nil
	}
	out := make([]Item, len(w.plan.Items))
	for i, it := range w.plan.Items {
		out[i] = *it.clone()
	}
	return out
}

// Selected returns copies of the selected items.
func (w *Workspace) Selected() []Item {
	var out []Item
	for _, it := range w.Items() {
		if it.Selected {
			out = append(out, it)
		}
	}
	return out
}

// Select marks items matching criteria as selected (or deselected) and
// returns how many matched.
//
// Criteria "all"/"everything" match every item and "none" matches nothing.
// Otherwise an item matches if its kind equals the criteria (singular or
// plural) or its name, description or any spec value contains it.
func (w *Workspace) Select(criteria string, selected bool) (int, error) {
	c := strings.ToLower(strings.TrimSpace(criteria))
	if c == "" {
		return 0, fmt.Errorf("%w: empty selection criteria", ErrInvalidValue)
	}
	n := 0
	err := w.update(func() error {
		if w.plan == nil {
			return ErrNoPlan
		}
		for _, it := range w.plan.Items {
			if matches(it, c) {
				it.Selected = selected
				n++
			}
		}
		return nil
	})
	return n, err
}

func matches(it *Item, c string) bool {
	switch c {
	case "all", "everything", "*":
		return true
	case "none", "nothing":
		return false
	}
	switch c {
	case "component", "components", "tool", "tools", "step", "steps":
		return it.Kind == ParseKind(c)
	}
	if strings.Contains(strings.ToLower(it.Name), c) || strings.Contains(strings.ToLower(it.Description), c) {
		return true
	}
	for k, v := range it.Specs {
		if strings.Contains(strings.ToLower(k), c) || strings.Contains(strings.ToLower(v), c) {
			return true
		}
	}
	return false
}

// ClearSelection deselects every item and returns how many were selected.
func (w *Workspace) ClearSelection() int {
	n := 0
	_ = w.update(func() error {
		if w.plan == nil {
			return nil
		}
		for _, it := range w.plan.Items {
			if it.Selected {
				it.Selected = false
				n++
			}
		}
		return nil
	})
	return n
}

// ParseStyle validates a style name.
func ParseStyle(s string) (Style, error) {
	for _, st := range Styles {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown style %q", ErrInvalidValue, s)
}

// SetStyle changes the image style.
func (w *Workspace) SetStyle(s Style) error {
	if _, err := ParseStyle(string(s)); err != nil {
		return err
	}
	return w.update(func() error {
		w.style = s
		return nil
	})
}

// Style returns the current image style.
func (w *Workspace) Style() Style {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.style
}

// SetTheme changes the UI theme.
func (w *Workspace) SetTheme(t Theme) error {
	if t != ThemeLight && t != ThemeDark {
		return fmt.Errorf("%w: unknown theme %q", ErrInvalidValue, t)
	}
	return w.update(func() error {
		w.theme = t
		return nil
	})
}

// ScrollTo sets the view anchor. An anchor naming an item resolves to
// "item-<id>"; anything else is passed through as a section id.
func (w *Workspace) ScrollTo(anchor string) (string, error) {
	anchor = strings.TrimSpace(anchor)
	if anchor == "" {
		return "", fmt.Errorf("%w: empty anchor", ErrInvalidValue)
	}
	var resolved string
	err := w.update(func() error {
		resolved = anchor
		if it := w.findLocked(anchor); it != nil {
			resolved = "item-" + it.ID
		}
		w.anchor = resolved
		return nil
	})
	return resolved, err
}

// SetListening records whether the voice session is live.
func (w *Workspace) SetListening(on bool) {
	_ = w.update(func() error {
		w.listening = on
		return nil
	})
}

// Listening reports whether the voice session is live.
func (w *Workspace) Listening() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.listening
}

// SetLocation records the user's position.
func (w *Workspace) SetLocation(loc Location) {
	_ = w.update(func() error {
		w.location = &loc
		return nil
	})
}

// MarkGenerating flags an item as having a media request in flight.
func (w *Workspace) MarkGenerating(itemID string) error {
	return w.update(func() error {
		it := w.byIDLocked(itemID)
		if it == nil {
			return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		}
		it.Status = StatusGenerating
		it.Error = ""
		return nil
	})
}

// SetMedia stores a generation result. A non-nil genErr marks only that item
// as failed.
func (w *Workspace) SetMedia(itemID string, kind MediaKind, m *Media, genErr error) error {
	return w.update(func() error {
		it := w.byIDLocked(itemID)
		if it == nil {
			return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		}
		if genErr != nil {
			it.Status = StatusFailed
			it.Error = genErr.Error()
			return nil
		}
		switch kind {
		case MediaImage:
			it.Image = m
		case MediaBlueprint:
			it.Blueprint = m
		case MediaVideo:
			it.Video = m
		default:
			return fmt.Errorf("%w: unknown media kind %q", ErrInvalidValue, kind)
		}
		it.Status = StatusReady
		it.Error = ""
		return nil
	})
}
