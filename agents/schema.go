package agents

import "github.com/modelcontextprotocol/go-sdk/jsonschema"

// Structured output names. Providers use them as the forced tool name or the
// format name of the request.
const (
	SchemaStrategy = "submit_strategy"
	SchemaRoutine  = "submit_routine"
	SchemaReview   = "submit_review"
)

func stringArray(description string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "array",
		Description: description,
		Items:       &jsonschema.Schema{Type: "string"},
	}
}

func str(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func StrategySchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"diagnosis_rationale":       str("Why this strategy fits the analysis."),
			"primary_goals":             stringArray("Short, ordered goal labels."),
			"am_routine_focus":          str("What the morning routine should achieve."),
			"pm_routine_focus":          str("What the evening routine should achieve."),
			"key_ingredients_to_target": stringArray("Ingredient names the products should contain."),
			"ingredients_to_avoid":      stringArray("Ingredient names the products must not contain."),
			"target_product_categories": stringArray("Ordered product categories to search, e.g. cleanser, serum, moisturizer, sunscreen."),
		},
		Required: []string{
			"diagnosis_rationale", "primary_goals", "am_routine_focus", "pm_routine_focus",
			"key_ingredients_to_target", "ingredients_to_avoid", "target_product_categories",
		},
	}
}

func routineStepSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"step": str("Step name, e.g. Cleanse."),
			"products": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"product_key": str("Key of a product from the available products list."),
						"rationale":   str("Why this product was chosen."),
					},
					Required: []string{"product_key", "rationale"},
				},
			},
			"instructions": str("How to apply."),
			"is_optional":  {Type: "boolean"},
		},
		Required: []string{"step", "products", "instructions", "is_optional"},
	}
}

func RoutineDraftSchema() *jsonschema.Schema {
	steps := func(description string) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "array", Description: description, Items: routineStepSchema()}
	}
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"reasoning": str("How the routine follows the strategy."),
			"key_ingredients": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"name":        str("Ingredient name."),
						"description": str("What it does."),
						"concerns":    stringArray("Concerns it addresses."),
					},
					Required: []string{"name", "description", "concerns"},
				},
			},
			"routine": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"am":     steps("Morning steps in order."),
					"pm":     steps("Evening steps in order."),
					"weekly": steps("Optional weekly treatments."),
				},
				Required: []string{"am", "pm"},
			},
			"general_advice": str("Lifestyle and usage advice."),
		},
		Required: []string{"reasoning", "key_ingredients", "routine", "general_advice"},
	}
}

func ReviewVerdictSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"review_status": {
				Type: "string",
				Enum: []any{"approved", "rejected"},
			},
			"audit_log":                 str("The checks performed and their results."),
			"review_notes":              stringArray("Specific corrections required; empty when approved."),
			"validated_recommendations": RoutineDraftSchema(),
		},
		Required: []string{"review_status", "audit_log", "review_notes"},
	}
}
