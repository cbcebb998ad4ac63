package console

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Do(method, path string, body any) error
	StatusCode() int
	Response() (map[string]any, error)
	View() (map[string]any, error)
	Unique(id string) string
}

// RegisterSteps registers console step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &consoleSteps{tc: tc}

	ctx.Step(`^the console is running$`, steps.consoleIsRunning)
	ctx.Step(`^I refresh the record list$`, steps.refresh)
	ctx.Step(`^I search for taxpayer "([^"]*)"$`, steps.searchFor)
	ctx.Step(`^I open the create form$`, steps.openCreate)
	ctx.Step(`^I close the create form$`, steps.closeCreate)
	ctx.Step(`^I submit taxpayer "([^"]*)" named "([^"]*)" "([^"]*)" at "([^"]*)"$`, steps.submitTaxpayer)
	ctx.Step(`^I submit the empty create form$`, steps.submitDraft)
	ctx.Step(`^I dismiss the error$`, steps.dismissError)

	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the view should list taxpayer "([^"]*)"$`, steps.viewShouldList)
	ctx.Step(`^the view should not list taxpayer "([^"]*)"$`, steps.viewShouldNotList)
	ctx.Step(`^the view should not be busy$`, steps.viewShouldNotBeBusy)
	ctx.Step(`^the create form should be (open|closed)$`, steps.createFormShouldBe)
	ctx.Step(`^the view should show a "([^"]*)" error$`, steps.viewShouldShowError)
	ctx.Step(`^the view should show no error$`, steps.viewShouldShowNoError)
	ctx.Step(`^the response should flag the missing field "([^"]*)"$`, steps.responseShouldFlagField)
}

type consoleSteps struct {
	tc TestContext
}

func (s *consoleSteps) consoleIsRunning(ctx context.Context) error {
	if err := s.tc.Do(http.MethodGet, "/healthz", nil); err != nil {
		return err
	}
	return s.statusShouldBe(ctx, http.StatusOK)
}

func (s *consoleSteps) refresh(ctx context.Context) error {
	return s.tc.Do(http.MethodPost, "/refresh?wait=true", nil)
}

func (s *consoleSteps) searchFor(ctx context.Context, id string) error {
	return s.tc.Do(http.MethodPost, "/search?wait=true", map[string]string{"term": s.tc.Unique(id)})
}

func (s *consoleSteps) openCreate(ctx context.Context) error {
	return s.tc.Do(http.MethodPost, "/create", nil)
}

func (s *consoleSteps) closeCreate(ctx context.Context) error {
	return s.tc.Do(http.MethodDelete, "/create", nil)
}

func (s *consoleSteps) submitTaxpayer(ctx context.Context, id, first, last, address string) error {
	return s.tc.Do(http.MethodPost, "/create/submit?wait=true", map[string]string{
		"identifier": s.tc.Unique(id),
		"firstName":  first,
		"lastName":   last,
		"address":    address,
	})
}

func (s *consoleSteps) submitDraft(ctx context.Context) error {
	return s.tc.Do(http.MethodPost, "/create/submit", nil)
}

func (s *consoleSteps) dismissError(ctx context.Context) error {
	return s.tc.Do(http.MethodDelete, "/error", nil)
}

func (s *consoleSteps) statusShouldBe(ctx context.Context, expected int) error {
	if got := s.tc.StatusCode(); got != expected {
		return fmt.Errorf("expected status %d, got %d", expected, got)
	}
	return nil
}

func (s *consoleSteps) viewShouldList(ctx context.Context, id string) error {
	listed, err := s.lists(id)
	if err != nil {
		return err
	}
	if !listed {
		return fmt.Errorf("expected taxpayer %s in the view", s.tc.Unique(id))
	}
	return nil
}

func (s *consoleSteps) viewShouldNotList(ctx context.Context, id string) error {
	listed, err := s.lists(id)
	if err != nil {
		return err
	}
	if listed {
		return fmt.Errorf("did not expect taxpayer %s in the view", s.tc.Unique(id))
	}
	return nil
}

func (s *consoleSteps) lists(id string) (bool, error) {
	view, err := s.tc.View()
	if err != nil {
		return false, err
	}
	records, _ := view["records"].([]any)
	want := s.tc.Unique(id)
	for _, r := range records {
		if rec, ok := r.(map[string]any); ok && rec["identifier"] == want {
			return true, nil
		}
	}
	return false, nil
}

func (s *consoleSteps) viewShouldNotBeBusy(ctx context.Context) error {
	view, err := s.tc.View()
	if err != nil {
		return err
	}
	if busy, _ := view["busy"].(bool); busy {
		return fmt.Errorf("expected the console to be idle")
	}
	return nil
}

func (s *consoleSteps) createFormShouldBe(ctx context.Context, state string) error {
	view, err := s.tc.View()
	if err != nil {
		return err
	}
	open, _ := view["modalOpen"].(bool)
	if open != (state == "open") {
		return fmt.Errorf("expected the create form to be %s", state)
	}
	return nil
}

func (s *consoleSteps) viewShouldShowError(ctx context.Context, kind string) error {
	view, err := s.tc.View()
	if err != nil {
		return err
	}
	notice, ok := view["error"].(map[string]any)
	if !ok {
		return fmt.Errorf("expected a %s error, view has none", kind)
	}
	if notice["kind"] != kind {
		return fmt.Errorf("expected a %s error, got %v", kind, notice["kind"])
	}
	return nil
}

func (s *consoleSteps) viewShouldShowNoError(ctx context.Context) error {
	view, err := s.tc.View()
	if err != nil {
		return err
	}
	if notice, ok := view["error"]; ok && notice != nil {
		return fmt.Errorf("expected no error, got %v", notice)
	}
	return nil
}

func (s *consoleSteps) responseShouldFlagField(ctx context.Context, field string) error {
	resp, err := s.tc.Response()
	if err != nil {
		return err
	}
	fields, _ := resp["fields"].(map[string]any)
	if _, ok := fields[field]; !ok {
		return fmt.Errorf("expected field %q in %v", field, fields)
	}
	return nil
}
