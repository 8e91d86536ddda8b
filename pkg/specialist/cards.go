package specialist

import "github.com/igorsilveira/caremesh/pkg/a2a"

// Agent names, as used by the router's rule table and the configuration.
const (
	NameData      = "data"
	NameTriage    = "triage"
	NameInsurance = "insurance"
)

const docsBase = "https://example.com/docs/"

func DataCard(url string) a2a.AgentCard {
	return a2a.AgentCard{
		Name:               NameData,
		Description:        "Fetches patient records, lists, and history from the record backend.",
		URL:                url,
		Version:            "1.0.0",
		DocumentationURL:   docsBase + "patient-data",
		Capabilities:       a2a.Capabilities{Streaming: true},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text", "data"},
		Skills: []a2a.Skill{{
			ID:          "patient-data",
			Name:        "Patient Data Tools",
			Description: "Retrieves and updates patient information, opens cases and reads encounter history.",
			Tags:        []string{"records", "data"},
			Examples: []string{
				"List patients",
				"Show me history for patient 2",
				"Update DOB to 1980-12-01",
				"Open a new case for patient 3: chest pain",
			},
		}},
	}
}

func TriageCard(url string) a2a.AgentCard {
	return a2a.AgentCard{
		Name:               NameTriage,
		Description:        "Provides triage guidance and patient-friendly next steps.",
		URL:                url,
		Version:            "1.0.0",
		DocumentationURL:   docsBase + "triage",
		Capabilities:       a2a.Capabilities{Streaming: true},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills: []a2a.Skill{{
			ID:          "triage-general",
			Name:        "Triage Guidance",
			Description: "Handles intake questions and triage guidance for patient symptoms.",
			Tags:        []string{"triage", "intake", "healthcare"},
			Examples: []string{
				"I have a fever and cough",
				"My chest feels tight after exercise",
				"Review my recent symptoms",
			},
		}},
	}
}

func InsuranceCard(url string) a2a.AgentCard {
	return a2a.AgentCard{
		Name:               NameInsurance,
		Description:        "Provides assistance for insurance coverage and benefits inquiries.",
		URL:                url,
		Version:            "1.0.0",
		DocumentationURL:   docsBase + "insurance",
		Capabilities:       a2a.Capabilities{Streaming: true},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills: []a2a.Skill{{
			ID:          "insurance",
			Name:        "Insurance Services",
			Description: "Supports coverage questions and copay guidance.",
			Tags:        []string{"insurance", "benefits"},
			Examples:    []string{"Check coverage for labs", "What is my copay?", "Explain benefits"},
		}},
	}
}
