package domain

// Service is one entry of the service taxonomy a lead can match.
type Service struct {
	ID          string `yaml:"id" json:"id"`
	Label       string `yaml:"label" json:"label"`
	Description string `yaml:"description" json:"description"`
}

func DefaultTaxonomy() []Service {
	return []Service{
		{ID: "knowledge_systems", Label: "Knowledge Systems", Description: "Knowledge management, information architecture, and fixing fragmented data or document silos."},
		{ID: "digital_tools", Label: "Digital Tools", Description: "Internal tools, data management, and workflow automation for program and operations staff."},
		{ID: "interactive_tools", Label: "Interactive Tools", Description: "Interactive dashboards, data visualization, and public-facing calculators or maps."},
		{ID: "digital_storytelling", Label: "Digital Storytelling", Description: "Impact reports, microsites, and website redesigns that communicate mission and outcomes."},
		{ID: "custom_applications", Label: "Custom Applications", Description: "Bespoke web or mobile applications, portals, and system integrations."},
	}
}

// ServiceIDs returns the taxonomy ids in order.
func ServiceIDs(tax []Service) []string {
	out := make([]string, len(tax))
	for i, s := range tax {
		out[i] = s.ID
	}
	return out
}
