package model

// SiteType classifies the project from its name and document type.
type SiteType string

const (
	SiteHighway       SiteType = "highway"
	SiteCommercial    SiteType = "commercial"
	SiteIndustrial    SiteType = "industrial"
	SiteInstitutional SiteType = "institutional"
	SiteResidential   SiteType = "residential"
	SiteParking       SiteType = "parking"
	SiteUnknown       SiteType = "unknown"
)

// TrafficLevel is the expected traffic exposure of the markings.
type TrafficLevel string

const (
	TrafficHigh     TrafficLevel = "high"
	TrafficModerate TrafficLevel = "moderate"
	TrafficLow      TrafficLevel = "low"
	TrafficUnknown  TrafficLevel = "unknown"
)

// Confidence tiers for non-definitive material recommendations.
const (
	TierUpgradeRecommended = "upgrade-recommended"
	TierHighBestPractice   = "high-best-practice"
	TierModerateBestPract  = "moderate-best-practice"
	TierLowTrafficOK       = "low-traffic-acceptable"
	TierUnknown            = "unknown"
)

// ProjectAnalysis is derived once from the DocumentContext and drives the
// material decision for every pavement-marking item.
type ProjectAnalysis struct {
	SiteType            SiteType     `json:"site_type"`
	TrafficLevel        TrafficLevel `json:"traffic_level"`
	HasMaterialSpec     bool         `json:"has_material_spec"`
	HasPaintSpec        bool         `json:"has_paint_spec"`
	HasGDOTStandard     bool         `json:"has_gdot_standard"`
	HasHighwayReference bool         `json:"has_highway_reference"`
}

// MaterialDecision is the outcome of the material heuristic for one item.
type MaterialDecision struct {
	Material   string `json:"material"`
	Definitive bool   `json:"definitive"`
	Upgrade    bool   `json:"upgrade,omitempty"`
	Rule       int    `json:"rule"`
	Reasoning  string `json:"reasoning"`
}

// MaterialRecommendation is advisory only; it never changes the item text.
type MaterialRecommendation struct {
	Material   string `json:"material"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`
	Upgrade    bool   `json:"upgrade,omitempty"`
}
