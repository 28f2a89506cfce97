package gemini

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/room4-2/PlanLive/workspace"
	"google.golang.org/genai"
)

// ErrPlanFormat is returned when the model's answer cannot be read as a plan.
var ErrPlanFormat = errors.New("unreadable plan")

// Planner generates project plans with structured JSON output.
type Planner struct {
	client *genai.Client
	model  string
}

// NewPlanner creates a planner using the given text model.
func NewPlanner(client *genai.Client, model string) *Planner {
	return &Planner{client: client, model: model}
}

// Plan asks the model for a plan and parses its answer.
func (p *Planner) Plan(ctx context.Context, req workspace.PlanRequest) (*workspace.Plan, error) {
	parts := []*genai.Part{{Text: planPrompt(req)}}
	if len(req.Image) > 0 {
		mime := req.ImageMIMEType
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(req.Image, mime))
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{{Role: "user", Parts: parts}},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   planSchema(),
		})
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}

	text := resp.Text()
	plan, err := ParsePlan(text)
	if err != nil {
		log.Printf("⚠️ Planner returned unreadable output (%d bytes)", len(text))
		return nil, err
	}
	return plan, nil
}

func planPrompt(req workspace.PlanRequest) string {
	var b strings.Builder
	b.WriteString("You are an expert project planner. Break the project down into the components (materials and parts), ")
	b.WriteString("tools and ordered steps needed to build or complete it.\n")
	b.WriteString("For every item give a short description, key specs, an estimated cost in local currency and an estimated duration where relevant.\n")
	if req.Topic != "" {
		fmt.Fprintf(&b, "\nProject: %s\n", req.Topic)
	}
	if len(req.Image) > 0 {
		b.WriteString("\nThe attached image shows the project or a reference for it. Identify what it is and plan it.\n")
	}
	if req.Location != nil {
		fmt.Fprintf(&b, "\nThe user is at latitude %.4f, longitude %.4f. Use local prices, currency and commonly available parts.\n",
			req.Location.Lat, req.Location.Lng)
	}
	b.WriteString("\nAnswer with a single JSON object only.")
	return b.String()
}

func planSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":   str("Short project title"),
			"summary": str("One or two sentence overview"),
			"items": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name":        str("Item name"),
						"kind":        {Type: genai.TypeString, Enum: []string{"component", "tool", "step"}},
						"description": str("What it is or what to do"),
						"specs": {
							Type: genai.TypeArray,
							Items: &genai.Schema{
								Type: genai.TypeObject,
								Properties: map[string]*genai.Schema{
									"label": str("Spec name"),
									"value": str("Spec value"),
								},
								Required: []string{"label", "value"},
							},
						},
						"cost":     str("Estimated cost, e.g. $25 or $10 - $20"),
						"duration": str("Estimated duration, e.g. 30 min"),
					},
					Required: []string{"name", "kind"},
				},
			},
		},
		Required: []string{"title", "items"},
	}
}

type planWire struct {
	Title   string     `json:"title"`
	Summary string     `json:"summary"`
	Items   []itemWire `json:"items"`
}

type itemWire struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Specs       specList `json:"specs"`
	Cost        string   `json:"cost"`
	Duration    string   `json:"duration"`
}

// specList accepts [{label,value}] as requested, or a plain object.
type specList map[string]string

func (s *specList) UnmarshalJSON(data []byte) error {
	var list []struct {
		Label string `json:"label"`
		Value string `json:"value"`
	}
	if err := sonic.Unmarshal(data, &list); err == nil {
		m := make(map[string]string, len(list))
		for _, kv := range list {
			if kv.Label != "" {
				m[kv.Label] = kv.Value
			}
		}
		*s = m
		return nil
	}
	var obj map[string]any
	if err := sonic.Unmarshal(data, &obj); err != nil {
		return err
	}
	m := make(map[string]string, len(obj))
	for k, v := range obj {
		m[k] = fmt.Sprint(v)
	}
	*s = m
	return nil
}

// ParsePlan reads the model's JSON answer. If the text is not valid JSON as
// a whole, the substring from the first '{' to the last '}' is tried.
func ParsePlan(text string) (*workspace.Plan, error) {
	var w planWire
	if err := sonic.UnmarshalString(text, &w); err != nil {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: no JSON object in response", ErrPlanFormat)
		}
		w = planWire{}
		if err := sonic.UnmarshalString(text[start:end+1], &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPlanFormat, err)
		}
	}

	plan := &workspace.Plan{Title: strings.TrimSpace(w.Title), Summary: strings.TrimSpace(w.Summary)}
	for _, iw := range w.Items {
		name := strings.TrimSpace(iw.Name)
		if name == "" {
			continue
		}
		plan.Items = append(plan.Items, &workspace.Item{
			ID:          uuid.New().String(),
			Name:        name,
			Kind:        workspace.ParseKind(iw.Kind),
			Description: strings.TrimSpace(iw.Description),
			Specs:       iw.Specs,
			Cost:        strings.TrimSpace(iw.Cost),
			Duration:    strings.TrimSpace(iw.Duration),
		})
	}
	if len(plan.Items) == 0 {
		return nil, fmt.Errorf("%w: plan has no items", ErrPlanFormat)
	}
	if plan.Title == "" {
		plan.Title = "Untitled project"
	}
	plan.TotalCost = workspace.TotalCost(plan.Items)
	return plan, nil
}
