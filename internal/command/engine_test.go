package command

import (
	"testing"

	"Minerva/internal/models"
)

func testTemplates() []models.CommandTemplate {
	return []models.CommandTemplate{
		{
			Name:     "create_ontology_class",
			Patterns: []string{"create a class called {name} in {ontology}", "create class {name}"},
			Parameters: []models.ParameterSpec{
				{Name: "name", Type: "string", Required: true},
				{Name: "ontology", Type: "string", Required: true, ContextSource: models.ContextSourceActiveOntology},
			},
			Method:              "POST",
			PathTemplate:        "/ontologies/{ontology}/classes",
			Capability:          "ontology.write",
			ConfidenceThreshold: 0.7,
		},
		{
			Name:                "run_simulation",
			Patterns:            []string{"run the simulation {scenario}"},
			Parameters:          []models.ParameterSpec{{Name: "scenario", Type: "string"}},
			Method:              "POST",
			PathTemplate:        "/simulations/runs",
			Capability:          "simulation.execute",
			ConfidenceThreshold: 0.7,
		},
	}
}

func testWhitelist() map[string]string {
	return map[string]string{
		"POST:/ontologies/{ontology}/classes": "ontology.write",
		"POST:/simulations/runs":              "simulation.execute",
	}
}

func newTestEngine() *Engine {
	return NewEngine(NewRegistry(testTemplates(), testWhitelist()))
}

func TestRecognizeFullMatchExtractsParameters(t *testing.T) {
	eng := newTestEngine()

	rec, found := eng.Recognize("create a class called Rotor in propulsion")
	if !found {
		t.Fatal("expected a recognition")
	}
	if rec.Template.Name != "create_ontology_class" {
		t.Fatalf("template = %s", rec.Template.Name)
	}
	if rec.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0 for a full pattern match", rec.Confidence)
	}
	if rec.RawParams["name"] != "Rotor" || rec.RawParams["ontology"] != "propulsion" {
		t.Errorf("params = %v", rec.RawParams)
	}
}

func TestRecognizePartialMatchScoresBelowThreshold(t *testing.T) {
	eng := newTestEngine()

	rec, found := eng.Recognize("maybe we should simulation something")
	if !found {
		t.Fatal("expected a recognition")
	}
	if rec.Confidence >= rec.Template.ConfidenceThreshold {
		t.Errorf("confidence %v should stay below threshold %v for a vague message",
			rec.Confidence, rec.Template.ConfidenceThreshold)
	}
	if rec.RawParams != nil {
		t.Errorf("partial matches must not extract parameters, got %v", rec.RawParams)
	}
}

func TestValidateFillsFromContext(t *testing.T) {
	eng := newTestEngine()
	tmpl, _ := eng.registry.Lookup("create_ontology_class")
	snap := models.ContextSnapshot{ActiveOntologies: []string{"propulsion", "airframe"}}

	params, verr := eng.Validate(tmpl, map[string]string{"name": "Rotor"}, snap)
	if verr != nil {
		t.Fatalf("Validate: %v", verr)
	}
	if params["ontology"] != "propulsion" {
		t.Errorf("ontology = %q, want the first active ontology", params["ontology"])
	}
}

func TestValidateReportsEveryMissingParameter(t *testing.T) {
	eng := newTestEngine()
	tmpl, _ := eng.registry.Lookup("create_ontology_class")

	_, verr := eng.Validate(tmpl, nil, models.ContextSnapshot{})
	if verr == nil {
		t.Fatal("expected a validation error")
	}
	if len(verr.Missing) != 2 {
		t.Errorf("Missing = %v, want both name and ontology listed", verr.Missing)
	}
}

func TestValidateExplicitValueBeatsContext(t *testing.T) {
	eng := newTestEngine()
	tmpl, _ := eng.registry.Lookup("create_ontology_class")
	snap := models.ContextSnapshot{ActiveOntologies: []string{"propulsion"}}

	params, verr := eng.Validate(tmpl, map[string]string{"name": "Rotor", "ontology": "airframe"}, snap)
	if verr != nil {
		t.Fatalf("Validate: %v", verr)
	}
	if params["ontology"] != "airframe" {
		t.Errorf("ontology = %q, explicit value must win over context fill", params["ontology"])
	}
}
