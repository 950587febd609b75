package pipeline

import (
	"strings"

	"github.com/sells-group/takeoff-cli/internal/model"
)

const (
	materialThermoplastic = "thermoplastic"
	materialPaint         = "paint"
)

// Site keywords are checked in this order; the first hit decides.
var siteKeywords = []struct {
	site     model.SiteType
	keywords []string
}{
	{model.SiteHighway, []string{"highway", "interstate", "freeway", "expressway", "state route", "turnpike", "roadway widening"}},
	{model.SiteIndustrial, []string{"industrial", "warehouse", "distribution center", "distribution", "logistics", "manufacturing", "plant"}},
	{model.SiteCommercial, []string{"retail", "shopping", "commercial", "store", "restaurant", "plaza", "mall", "office", "hotel", "bank"}},
	{model.SiteInstitutional, []string{"school", "university", "college", "hospital", "church", "library", "campus", "municipal", "county", "city hall"}},
	{model.SiteResidential, []string{"residential", "apartment", "apartments", "subdivision", "townhome", "townhomes", "housing", "condominium"}},
	{model.SiteParking, []string{"parking", "parking lot", "garage", "parking deck"}},
}

var (
	highwayReferenceKeywords = []string{"highway", "aadt", "adt", "dot", "gdot", "fdot", "txdot", "caltrans", "state route", "department of transportation"}
	gdotKeywords             = []string{"gdot", "georgia department of transportation", "georgia dot"}
	thermoplasticKeywords    = []string{"thermoplastic", "thermo"}
	paintKeywords            = []string{"paint", "painted", "painting", "traffic paint", "waterborne", "latex paint"}
)

// Materials an item name can state outright, most specific first.
var statedMaterials = []struct {
	material string
	keywords []string
}{
	{"preformed thermoplastic", []string{"preformed thermoplastic", "preformed"}},
	{materialThermoplastic, thermoplasticKeywords},
	{"epoxy", []string{"epoxy"}},
	{"methyl methacrylate", []string{"mma", "methyl methacrylate"}},
	{"polyurea", []string{"polyurea"}},
	{"tape", []string{"tape", "marking tape"}},
	{materialPaint, paintKeywords},
}

// markingKeywords classify an item as pavement-marking-like.
var markingKeywords = []string{
	"stripe", "stripes", "striping", "line", "lines", "stop bar", "stop bars",
	"crosswalk", "crosswalks", "arrow", "arrows", "symbol", "symbols", "marking",
	"markings", "chevron", "chevrons", "hatching", "gore", "island", "stall",
	"stalls", "legend", "legends", "word", "message", "yield", "bike lane", "curb",
}

// AnalyzeProject derives the site classification and material flags from
// the document context. It runs once per document.
func AnalyzeProject(dctx model.DocumentContext) model.ProjectAnalysis {
	identity := model.NormalizeKey(dctx.ProjectName + " " + dctx.DocumentType)
	specText := model.NormalizeKey(strings.Join(append(append([]string{}, dctx.KeySpecifications...), legendMaterials(dctx)...), " "))
	all := dctx.Text()

	out := model.ProjectAnalysis{SiteType: model.SiteUnknown}
	for _, s := range siteKeywords {
		if containsAny(identity, s.keywords) {
			out.SiteType = s.site
			break
		}
	}

	out.HasHighwayReference = containsAny(all, highwayReferenceKeywords)
	out.HasGDOTStandard = containsAny(all, gdotKeywords)
	out.HasMaterialSpec = containsAny(specText, thermoplasticKeywords)
	out.HasPaintSpec = containsAny(specText, paintKeywords)
	out.TrafficLevel = trafficLevel(out.SiteType, out.HasHighwayReference)
	return out
}

func trafficLevel(site model.SiteType, highwayRef bool) model.TrafficLevel {
	if site == model.SiteHighway || highwayRef {
		return model.TrafficHigh
	}
	switch site {
	case model.SiteCommercial, model.SiteIndustrial, model.SiteInstitutional:
		return model.TrafficModerate
	case model.SiteResidential, model.SiteParking:
		return model.TrafficLow
	default:
		return model.TrafficUnknown
	}
}

func legendMaterials(dctx model.DocumentContext) []string {
	out := make([]string, 0, len(dctx.LegendItems))
	for _, l := range dctx.LegendItems {
		if l.Material != "" {
			out = append(out, l.Material)
		}
	}
	return out
}

// IsMarkingItem reports whether an item name describes pavement marking.
func IsMarkingItem(item string) bool {
	return containsAny(model.NormalizeKey(item), markingKeywords)
}

// Decision is the material heuristic's verdict for one item. Item is the
// possibly rewritten item text.
type Decision struct {
	Item           string
	Decision       model.MaterialDecision
	Recommendation *model.MaterialRecommendation
}

// DecideMaterial applies the material rules in order; the first that
// matches wins.
//
//  1. The item names its material: keep it.
//  2. The document requires thermoplastic: apply it and prefix the item.
//  3. The document calls for another material: keep it, recommending an
//     upgrade when traffic or standards warrant one.
//  4. No document spec: recommend by traffic level, never touching the item.
func DecideMaterial(item string, pa model.ProjectAnalysis) Decision {
	norm := model.NormalizeKey(item)
	stated := statedMaterial(norm)

	if stated != "" && (stated != materialPaint || !pa.HasMaterialSpec) {
		return Decision{Item: item, Decision: model.MaterialDecision{
			Material:   stated,
			Definitive: true,
			Rule:       1,
			Reasoning:  "item text states " + stated,
		}}
	}

	if pa.HasMaterialSpec {
		rewritten := item
		if !containsAny(norm, thermoplasticKeywords) {
			rewritten = materialThermoplastic + " " + strings.TrimSpace(item)
		}
		return Decision{Item: rewritten, Decision: model.MaterialDecision{
			Material:   materialThermoplastic,
			Definitive: true,
			Rule:       2,
			Reasoning:  "document specifies thermoplastic",
		}}
	}

	if pa.HasPaintSpec {
		upgrade := pa.TrafficLevel == model.TrafficHigh || pa.HasGDOTStandard || pa.HasHighwayReference
		d := Decision{Item: item, Decision: model.MaterialDecision{
			Material:   materialPaint,
			Definitive: !upgrade,
			Upgrade:    upgrade,
			Rule:       3,
			Reasoning:  "document specifies paint",
		}}
		if upgrade {
			d.Decision.Reasoning = "document specifies paint but " + upgradeReason(pa) + " suggests thermoplastic"
			d.Recommendation = &model.MaterialRecommendation{
				Material:   materialThermoplastic,
				Confidence: model.TierUpgradeRecommended,
				Reasoning:  d.Decision.Reasoning,
				Upgrade:    true,
			}
		}
		return d
	}

	rec := recommend(pa)
	return Decision{
		Item: item,
		Decision: model.MaterialDecision{
			Material:  rec.Material,
			Rule:      4,
			Reasoning: rec.Reasoning,
		},
		Recommendation: &rec,
	}
}

func upgradeReason(pa model.ProjectAnalysis) string {
	switch {
	case pa.HasGDOTStandard:
		return "the GDOT standard reference"
	case pa.TrafficLevel == model.TrafficHigh:
		return "high traffic exposure"
	default:
		return "the highway reference"
	}
}

func recommend(pa model.ProjectAnalysis) model.MaterialRecommendation {
	switch pa.TrafficLevel {
	case model.TrafficHigh:
		return model.MaterialRecommendation{
			Material:   materialThermoplastic,
			Confidence: model.TierHighBestPractice,
			Reasoning:  "no material specified; high-traffic " + string(pa.SiteType) + " site favors thermoplastic",
		}
	case model.TrafficModerate:
		return model.MaterialRecommendation{
			Material:   materialThermoplastic,
			Confidence: model.TierModerateBestPract,
			Reasoning:  "no material specified; moderate traffic at a " + string(pa.SiteType) + " site favors thermoplastic",
		}
	case model.TrafficLow:
		return model.MaterialRecommendation{
			Material:   materialPaint,
			Confidence: model.TierLowTrafficOK,
			Reasoning:  "no material specified; paint is acceptable for low traffic",
		}
	default:
		return model.MaterialRecommendation{
			Material:   materialThermoplastic,
			Confidence: model.TierUnknown,
			Reasoning:  "no material specified and site type unknown; verify with the owner",
		}
	}
}

func statedMaterial(norm string) string {
	for _, m := range statedMaterials {
		if containsAny(norm, m.keywords) {
			return m.material
		}
	}
	return ""
}

// containsAny reports whether normalized text contains any keyword on word
// boundaries.
func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if model.ContainsWord(text, model.NormalizeKey(k)) {
			return true
		}
	}
	return false
}
