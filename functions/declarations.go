package functions

import (
	"github.com/room4-2/PlanLive/workspace"
	"google.golang.org/genai"
)

func stringProp(desc string, enum ...string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc, Enum: enum}
}

func object(props map[string]*genai.Schema, required ...string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeObject, Properties: props, Required: required}
}

func styleNames() []string {
	names := make([]string, len(workspace.Styles))
	for i, s := range workspace.Styles {
		names[i] = string(s)
	}
	return names
}

// GenerateImageDeclaration asks for an illustration of one item.
func GenerateImageDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        workspace.ToolGenerateImage,
		Description: "Generate an image for one item of the current plan, identified by its name.",
		Parameters: object(map[string]*genai.Schema{
			"targetName": stringProp("Name of the item to illustrate, as shown in the plan"),
		}, "targetName"),
	}
}

func AddItemDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        workspace.ToolAddItem,
		Description: "Add a component, tool or step to the current plan.",
		Parameters: object(map[string]*genai.Schema{
			"name":        stringProp("Item name"),
			"kind":        stringProp("Item kind", "component", "tool", "step"),
			"description": stringProp("Short description"),
		}, "name"),
	}
}

func PlanProjectDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        workspace.ToolPlanProject,
		Description: "Create a new project plan for a topic, replacing the current one.",
		Parameters: object(map[string]*genai.Schema{
			"topic": stringProp("What the user wants to build or do"),
		}, "topic"),
	}
}

func ChangeStyleDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        workspace.ToolChangeStyle,
		Description: "Change the visual style used for generated images.",
		Parameters: object(map[string]*genai.Schema{
			"style": stringProp("Image style", styleNames()...),
		}, "style"),
	}
}

func ChangeThemeDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        workspace.ToolChangeTheme,
		Description: "Switch the interface between light and dark mode.",
		Parameters: object(map[string]*genai.Schema{
			"theme": stringProp("UI theme", string(workspace.ThemeLight), string(workspace.ThemeDark)),
		}, "theme"),
	}
}

func SelectItemsDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name: workspace.ToolSelectItems,
		Description: "Select or deselect plan items matching a description. " +
			"Criteria can be 'all', 'none', a kind such as 'tools', or words from the item names, descriptions or specs.",
		Parameters: object(map[string]*genai.Schema{
			"criteria": stringProp("Which items to match"),
			"mode":     stringProp("Whether to select or deselect the matches (default select)", "select", "deselect"),
		}, "criteria"),
	}
}

func BatchActionDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        workspace.ToolBatchAction,
		Description: "Apply an action to all selected items.",
		Parameters: object(map[string]*genai.Schema{
			"action": stringProp("Action to apply", "generate_images", "clear_selection"),
		}, "action"),
	}
}

func ScrollToDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        workspace.ToolScrollTo,
		Description: "Scroll the workspace to a section (summary, components, tools, steps) or to an item by name.",
		Parameters: object(map[string]*genai.Schema{
			"anchor": stringProp("Section id or item name"),
		}, "anchor"),
	}
}

func GetLocationDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        workspace.ToolGetLocation,
		Description: "Get the user's current location as latitude and longitude.",
	}
}

// Declarations returns every tool the voice assistant may call.
func Declarations() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		GenerateImageDeclaration(),
		AddItemDeclaration(),
		PlanProjectDeclaration(),
		ChangeStyleDeclaration(),
		ChangeThemeDeclaration(),
		SelectItemsDeclaration(),
		BatchActionDeclaration(),
		ScrollToDeclaration(),
		GetLocationDeclaration(),
	}
}

// Tools wraps Declarations for a Live session setup.
func Tools() []*genai.Tool {
	return []*genai.Tool{{FunctionDeclarations: Declarations()}}
}
