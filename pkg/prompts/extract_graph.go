package prompts

import (
	"github.com/soundprediction/go-vetgraph/pkg/llm"
)

// Default delimiters for the graph extraction record format.
const (
	DefaultTupleDelimiter      = "<|>"
	DefaultRecordDelimiter     = "##"
	DefaultCompletionDelimiter = "<|COMPLETE|>"
)

// DefaultEntityTypes are used when a caller supplies no entity types.
var DefaultEntityTypes = []string{
	"pet-species (宠物种类)",
	"disease (疾病)",
	"symptom (症状)",
	"virus (病毒)",
	"organ-or-system (器官或系统)",
	"diagnostic-test (诊断测试)",
	"treatment-method (治疗方法)",
}

// ExtractGraphPrompt defines the interface for graph extraction prompts.
type ExtractGraphPrompt interface {
	Extract() PromptVersion
	Continue() PromptVersion
	Loop() PromptVersion
}

// ExtractGraphVersions holds all versions of graph extraction prompts.
type ExtractGraphVersions struct {
	ExtractPrompt  PromptVersion
	ContinuePrompt PromptVersion
	LoopPrompt     PromptVersion
}

func (e *ExtractGraphVersions) Extract() PromptVersion  { return e.ExtractPrompt }
func (e *ExtractGraphVersions) Continue() PromptVersion { return e.ContinuePrompt }
func (e *ExtractGraphVersions) Loop() PromptVersion     { return e.LoopPrompt }

// GraphExtractionTemplate is the veterinary entity and relationship extraction prompt.
const GraphExtractionTemplate = `
-Goal-
Given a text document that is potentially relevant to this activity and a list of entity types, identify all entities of those types from the text and all relationships among the identified entities.
-Role-
You're a professional pet doctor.
-Steps-
1. Identify all entities. For each identified entity, extract the following information:
- entity name: a mixed name of Chinese and English, with Chinese in brackets after English. If there are multiple words in English, use '-' to connect them, for example: sheepdog (牧羊犬); runny-nose (流鼻涕); fever (发烧). The total length of mixed Chinese and English names shall not exceed 100 characters.
- entity_type: One of the following types: [{entity_types}]
- entity_description: Comprehensive description of the entity's attributes and activities
Format each entity as ("entity"{tuple_delimiter}<entity_name>{tuple_delimiter}<entity_type>{tuple_delimiter}<entity_description>)

2. From the entities identified in step 1, identify all pairs of (source_entity, target_entity) that are *clearly related* to each other.
For each pair of related entities, extract the following information:
- source_entity: name of the source entity, as identified in step 1
- target_entity: name of the target entity, as identified in step 1
- relationship_description: explanation as to why you think the source entity and the target entity are related to each other
- relationship_strength: a numeric score indicating strength of the relationship between the source entity and target entity
Format each relationship as ("relationship"{tuple_delimiter}<source_entity>{tuple_delimiter}<target_entity>{tuple_delimiter}<relationship_description>{tuple_delimiter}<relationship_strength>)

3. Return output as a single list of all the entities and relationships identified in steps 1 and 2. Use **{record_delimiter}** as the list delimiter.

4. When finished, output {completion_delimiter}

######################
-Examples-
######################
Example 1:

Entity_types: [pet-species (宠物种类), disease (疾病), symptom (症状), virus (病毒), organ-or-system (器官或系统), diagnostic-test (诊断测试), treatment-method (治疗方法)]
Text:
犬轮状病毒病感染是由犬轮状病毒引起的犬的一种急性胃肠道传染病，临床上以腹泻为特征。病犬精神沉郁，食欲减退，一般先吐后泻。主要病变一般在消化道的小肠。近年主要采用 ELISA 进行诊断。发现病犬，立即隔离并对症施治，以经口补液为主。
################
Output:
("entity"{tuple_delimiter}canine-rotavirus-infection (犬轮状病毒病感染){tuple_delimiter}disease (疾病){tuple_delimiter}由犬轮状病毒引起的犬急性胃肠道传染病，主要特征为腹泻。){record_delimiter}
("entity"{tuple_delimiter}canine-rotavirus (犬轮状病毒){tuple_delimiter}virus (病毒){tuple_delimiter}属于呼肠孤病毒科轮状病毒属的一种病毒，能引起犬的急性胃肠炎。){record_delimiter}
("entity"{tuple_delimiter}diarrhea (腹泻){tuple_delimiter}symptom (症状){tuple_delimiter}本病的主要临床表现。){record_delimiter}
("entity"{tuple_delimiter}depression (精神沉郁){tuple_delimiter}symptom (症状){tuple_delimiter}患病犬只表现出的精神状态不佳的症状。){record_delimiter}
("entity"{tuple_delimiter}small-intestine (小肠){tuple_delimiter}organ-or-system (器官或系统){tuple_delimiter}该病毒感染后的主要病变部位。){record_delimiter}
("entity"{tuple_delimiter}ELISA (酶联免疫吸附测定法){tuple_delimiter}diagnostic-test (诊断测试){tuple_delimiter}用于检测粪便样本中轮状病毒的实验室检查方法。){record_delimiter}
("entity"{tuple_delimiter}oral-rehydration (经口补液){tuple_delimiter}treatment-method (治疗方法){tuple_delimiter}通过让病犬自由饮用特定液体来补充流失的水分和电解质。){record_delimiter}
("relationship"{tuple_delimiter}canine-rotavirus (犬轮状病毒){tuple_delimiter}canine-rotavirus-infection (犬轮状病毒病感染){tuple_delimiter}犬轮状病毒是导致犬轮状病毒病感染的原因。{tuple_delimiter}5){record_delimiter}
("relationship"{tuple_delimiter}canine-rotavirus-infection (犬轮状病毒病感染){tuple_delimiter}diarrhea (腹泻){tuple_delimiter}腹泻是犬轮状病毒病感染最常见的临床症状。{tuple_delimiter}5){record_delimiter}
("relationship"{tuple_delimiter}canine-rotavirus-infection (犬轮状病毒病感染){tuple_delimiter}depression (精神沉郁){tuple_delimiter}精神沉郁是感染期间观察到的典型症状。{tuple_delimiter}4){record_delimiter}
("relationship"{tuple_delimiter}canine-rotavirus-infection (犬轮状病毒病感染){tuple_delimiter}small-intestine (小肠){tuple_delimiter}犬轮状病毒病感染主要影响小肠区域。{tuple_delimiter}4){record_delimiter}
("relationship"{tuple_delimiter}canine-rotavirus-infection (犬轮状病毒病感染){tuple_delimiter}ELISA (酶联免疫吸附测定法){tuple_delimiter}ELISA 用于确认是否患有犬轮状病毒病感染。{tuple_delimiter}3){record_delimiter}
("relationship"{tuple_delimiter}canine-rotavirus-infection (犬轮状病毒病感染){tuple_delimiter}oral-rehydration (经口补液){tuple_delimiter}经口补液是重要的治疗手段。{tuple_delimiter}4){completion_delimiter}
#############################

######################
-Real Data-
######################
Entity_types:{entity_types}
Text: {input_text}

################
Output:`

// ContinueTemplate asks for entities the previous answer missed.
const ContinueTemplate = "MANY entities were missed in the last extraction.  Add them below using the same format:\n"

// LoopTemplate asks whether more gleaning is needed.
const LoopTemplate = "It appears some entities may have still been missed.  Answer YES | NO if there are still entities that need to be added.\n"

// extractGraphPrompt fills the extraction template. Required context keys:
// input_text, entity_types, tuple_delimiter, record_delimiter, completion_delimiter.
func extractGraphPrompt(context map[string]interface{}) ([]llm.Message, error) {
	if err := requireKeys(context, "input_text", "entity_types"); err != nil {
		return nil, err
	}
	vars := stringVars(context)
	for k, def := range map[string]string{
		"tuple_delimiter":      DefaultTupleDelimiter,
		"record_delimiter":     DefaultRecordDelimiter,
		"completion_delimiter": DefaultCompletionDelimiter,
	} {
		if vars[k] == "" {
			vars[k] = def
		}
	}
	return systemThenOutput(PerformVariableReplacements(GraphExtractionTemplate, vars)), nil
}

func continuePrompt(context map[string]interface{}) ([]llm.Message, error) {
	return []llm.Message{llm.NewUserMessage(ContinueTemplate)}, nil
}

func loopPrompt(context map[string]interface{}) ([]llm.Message, error) {
	return []llm.Message{llm.NewUserMessage(LoopTemplate)}, nil
}

// NewExtractGraphVersions creates a new ExtractGraphVersions instance.
func NewExtractGraphVersions() *ExtractGraphVersions {
	return &ExtractGraphVersions{
		ExtractPrompt:  NewPromptVersion(extractGraphPrompt),
		ContinuePrompt: NewPromptVersion(continuePrompt),
		LoopPrompt:     NewPromptVersion(loopPrompt),
	}
}
