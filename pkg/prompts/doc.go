/*
Package prompts holds the templates used by the graph pipeline and fills them
with per-call variables.

It includes prompts for:

  - Extracting entities and relationships from veterinary text
  - Confirming candidate duplicate entities
  - Writing community reports over entity and relationship tables

Usage:

	library := prompts.NewLibrary()

	messages, err := library.ExtractGraph().Extract().Call(map[string]interface{}{
		"entity_types": []string{"disease (疾病)", "symptom (症状)"},
		"input_text":   chunk,
	})
	if err != nil {
		// handle error
	}

Templates use {name} placeholders, filled by PerformVariableReplacements.
*/
package prompts
