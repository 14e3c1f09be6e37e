package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// SimilarEntityTypes lists entity type spellings that name the same type.
// The first entry of each row is canonical.
var SimilarEntityTypes = [][]string{
	{"DISEASE(疾病)", "DISEASE (疾病)", "疾病", "TYPE-OF-DISEASE(疾病类型)", "RELATED-DISEASE(相关疾病)", "DISORDER(疾病)", "DISEASE"},
	{"LESION(病变)", "LESION (病变)"},
	{"SIGN(体征)", "SIGN (体征)", "体征"},
	{"MEDICATION(药物)", "MEDICATION (药物)", "药物", "DRUG(药物)", "DRUG-CLASS(药物类别)", "MEDICINE(药物)", "DRUG"},
	{"DIAGNOSTIC-TEST(诊断测试)", "DIAGNOSTIC-TEST (诊断测试)", "诊断测试", "DIAGNOSIS-TEST(诊断测试)", "DIAGNOSTIC TEST"},
	{"PARASITE(寄生虫)", "PARASITE (寄生虫)", "寄生虫"},
	{"BREED(品种)", "BREED (品种)", "宠物品种", "PET-SPECIES(宠物种类)", "SPECIES(物种)", "犬种"},
	{"PROGNOSIS(预后)", "PROGNOSIS (预后)", "预后", "PROGNOSTIC-FACTOR(预后因素)"},
	{"TOXIN(毒素)", "TOXIN (毒素)", "TOXICANT(毒素)", "MYCOTOXIN(真菌毒素)", "毒素"},
	{"COMPLICATION(并发症)", "COMPLICATION (并发症)", "COMPLICATIONS(并发症)", "并发症"},
	{"NUTRITION(营养)", "NUTRITION (营养)", "NUTRIENT(营养)", "NUTRIENT(营养素)", "营养"},
	{"VIRUS(病毒)", "VIRUS (病毒)", "病毒"},
	{"BACTERIA(细菌)", "BACTERIA (细菌)", "细菌"},
	{"ORGAN-OR-SYSTEM(器官或系统)", "ORGAN-OR-SYSTEM (器官或系统)", "器官", "ORGAN", "TISSUE(组织)"},
	{"TREATMENT-METHOD(治疗方法)", "TREATMENT-METHOD (治疗方法)", "治疗方法", "TREATMENT METHOD"},
	{"SYMPTOM(症状)", "SYMPTOM (症状)", "症状", "SYMPTOM"},
	{"CAUSE(病因)", "CAUSE (病因)", "病因", "ETIOLOGY(病因)", "ETIOLOGIC-FACTOR(病因)", "CAUSE(原因)"},
	{"VACCINE(疫苗)", "VACCINE (疫苗)", "疫苗", "VACCINATION(疫苗接种)"},
	{"SURGERY(手术方法)", "SURGERY (手术方法)", "SURGICAL-PROCEDURE(手术方法)", "手术方法"},
	{"TUMOR(肿瘤)", "TUMOR (肿瘤)", "肿瘤", "NEOPLASIA(肿瘤)", "NEOPLASM(肿瘤)", "TUMOUR(肿瘤)"},
	{"HORMONE(激素)", "HORMONE (激素)", "激素"},
	{"PATHOGEN(病原)", "PATHOGEN(病原体)", "PATHOGEN (病原体)", "病原体", "病原"},
	{"FUNGI(真菌)", "FUNGUS(真菌)", "FUNGI (真菌)", "真菌"},
}

// DefaultSourceSuffix marks source ids that point at an ingested file.
const DefaultSourceSuffix = ".pdf.txt"

// Hygiene runs maintenance statements against a PropertyStore.
type Hygiene struct {
	store  PropertyStore
	logger *slog.Logger
}

// NewHygiene creates a Hygiene runner. A nil logger uses slog.Default.
func NewHygiene(store PropertyStore, logger *slog.Logger) *Hygiene {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hygiene{store: store, logger: logger.With("component", "hygiene")}
}

// SyncLabels makes labels and entity_type agree: a node without labels gets
// its entity_type as label, and a node without entity_type gets its first
// label.
func (h *Hygiene) SyncLabels(ctx context.Context) (Counters, error) {
	var total Counters
	rows, err := h.store.Query(ctx, `MATCH (n)
WHERE n.entity_type IS NOT NULL AND n.entity_type <> '' AND size(labels(n)) = 0
RETURN DISTINCT n.entity_type AS entity_type`, nil)
	if err != nil {
		return total, fmt.Errorf("list unlabelled entity types: %w", err)
	}
	var errs []error
	for _, row := range rows {
		et, _ := row["entity_type"].(string)
		if et == "" {
			continue
		}
		c, err := h.store.ExecuteWrite(ctx, fmt.Sprintf(`MATCH (n)
WHERE n.entity_type = $entity_type AND size(labels(n)) = 0
SET n:%s`, EscapeLabel(et)), map[string]any{"entity_type": et})
		if err != nil {
			errs = append(errs, fmt.Errorf("label %q: %w", et, err))
			continue
		}
		total.Add(c)
	}

	c, err := h.store.ExecuteWrite(ctx, `MATCH (n)
WHERE (n.entity_type IS NULL OR n.entity_type = '') AND size(labels(n)) > 0
SET n.entity_type = labels(n)[0]`, nil)
	if err != nil {
		errs = append(errs, fmt.Errorf("fill entity_type: %w", err))
	}
	total.Add(c)
	h.logger.Info("labels synced", "labels_added", total.LabelsAdded, "properties_set", total.PropertiesSet)
	return total, errors.Join(errs...)
}

// CleanDirtyNodes deletes nodes missing entity_type, source_id or
// description, then nodes whose source_id does not contain sourceSuffix.
// An empty suffix skips the second pass.
func (h *Hygiene) CleanDirtyNodes(ctx context.Context, sourceSuffix string) (Counters, error) {
	var total Counters
	c, err := h.store.ExecuteWrite(ctx, `MATCH (n)
WHERE n.entity_type IS NULL OR n.source_id IS NULL OR n.description IS NULL
DETACH DELETE n`, nil)
	if err != nil {
		return total, fmt.Errorf("delete incomplete nodes: %w", err)
	}
	total.Add(c)

	if sourceSuffix != "" {
		c, err = h.store.ExecuteWrite(ctx, fmt.Sprintf(`MATCH (n)
WHERE NOT n.source_id CONTAINS '%s'
DETACH DELETE n`, EscapeString(sourceSuffix)), nil)
		if err != nil {
			return total, fmt.Errorf("delete nodes without a source file: %w", err)
		}
		total.Add(c)
	}
	h.logger.Info("dirty nodes cleaned", "nodes_deleted", total.NodesDeleted, "relationships_deleted", total.RelationshipsDeleted)
	return total, nil
}

// EnsureIndexes creates id and entity_type indexes for the top most
// frequent labels.
func (h *Hygiene) EnsureIndexes(ctx context.Context, top int) (Counters, error) {
	var total Counters
	if top <= 0 {
		top = 10
	}
	rows, err := h.store.Query(ctx, `MATCH (n)
WITH labels(n) AS lbl, count(n) AS cnt
RETURN lbl, cnt
ORDER BY cnt DESC
LIMIT $top`, map[string]any{"top": top})
	if err != nil {
		return total, fmt.Errorf("list frequent labels: %w", err)
	}
	var errs []error
	for _, row := range rows {
		lbls, _ := row["lbl"].([]any)
		if len(lbls) == 0 {
			continue
		}
		label, _ := lbls[0].(string)
		if label == "" {
			continue
		}
		for _, prop := range []string{"id", "entity_type"} {
			c, err := h.store.ExecuteWrite(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS FOR (n:%s) ON (n.%s)",
				EscapeLabel(label), EscapeLabel(prop)), nil)
			if err != nil {
				errs = append(errs, fmt.Errorf("index %s.%s: %w", label, prop, err))
				continue
			}
			total.Add(c)
		}
	}
	h.logger.Info("indexes ensured", "indexes_added", total.IndexesAdded)
	return total, errors.Join(errs...)
}

// NormalizeEntityTypes relabels every variant of a row of groups to the
// row's first entry and rewrites entity_type accordingly. Nil groups uses
// SimilarEntityTypes.
func (h *Hygiene) NormalizeEntityTypes(ctx context.Context, groups [][]string) (Counters, error) {
	if groups == nil {
		groups = SimilarEntityTypes
	}
	var (
		total Counters
		errs  []error
	)
	for _, row := range groups {
		if len(row) < 2 {
			continue
		}
		target := row[0]
		for _, variant := range row[1:] {
			c, err := h.store.ExecuteWrite(ctx, fmt.Sprintf(`MATCH (n:%s)
REMOVE n:%s
SET n:%s, n.entity_type = $target`, EscapeLabel(variant), EscapeLabel(variant), EscapeLabel(target)),
				map[string]any{"target": target})
			if err != nil {
				errs = append(errs, fmt.Errorf("normalize %q: %w", variant, err))
				continue
			}
			total.Add(c)
		}
	}
	h.logger.Info("entity types normalized", "labels_added", total.LabelsAdded, "labels_removed", total.LabelsRemoved)
	return total, errors.Join(errs...)
}
