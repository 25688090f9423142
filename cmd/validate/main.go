package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jwebster45206/consequence-engine/internal/templates"
	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

const previewWidth = 72

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")) // pink

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	choiceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func main() {
	args := os.Args[1:]
	preview := false
	if len(args) > 0 && args[0] == "-preview" {
		preview = true
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [-preview] <template.json>...\n", os.Args[0])
		os.Exit(1)
	}

	failed := false
	for _, filename := range args {
		validator := NewTemplateValidator(os.Stdout)
		tmpls, err := validator.ValidateFile(filename)
		if err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Validation failed: %v", err)))
			failed = true
			continue
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("%s is valid (%d templates)", filename, len(tmpls))))
		if preview {
			for _, t := range tmpls {
				validator.Preview(t)
			}
		}
	}
	if failed {
		os.Exit(1)
	}
}

// TemplateValidator checks template files and renders sample instantiations
type TemplateValidator struct {
	out     io.Writer
	catalog *templates.Catalog
	errors  []string
}

func NewTemplateValidator(out io.Writer) *TemplateValidator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &TemplateValidator{
		out:     out,
		catalog: templates.NewCatalog(rand.New(rand.NewSource(1)), logger),
	}
}

// ValidateFile decodes a template file strictly and checks every template in it
func (v *TemplateValidator) ValidateFile(filename string) ([]*templates.Template, error) {
	fmt.Fprintf(v.out, "Validating %s...\n", filename)

	baseName := filepath.Base(filename)
	if !strings.HasSuffix(baseName, ".json") {
		return nil, fmt.Errorf("template file must have .json extension: %s", baseName)
	}
	nameWithoutExt := strings.TrimSuffix(baseName, ".json")
	if !isValidID(nameWithoutExt) {
		return nil, fmt.Errorf("template filename '%s' must be lowercase snake_case (e.g., harbor_intrigue.json)", baseName)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("file %s contains invalid JSON", filename)
	}

	tmpls, err := templates.DecodeTemplates(data)
	if err != nil {
		return nil, fmt.Errorf("file %s failed strict JSON unmarshaling: %w", filename, err)
	}

	v.errors = nil
	seen := make(map[string]bool, len(tmpls))
	for _, t := range tmpls {
		v.validateTemplate(t)
		if seen[t.ID] {
			v.addError(fmt.Sprintf("template ID '%s' appears more than once", t.ID))
		}
		seen[t.ID] = true
	}

	if len(v.errors) > 0 {
		return nil, fmt.Errorf("validation errors in %s:\n%s", filename, strings.Join(v.errors, "\n"))
	}
	return tmpls, nil
}

func (v *TemplateValidator) validateTemplate(t *templates.Template) {
	warnings, err := v.catalog.Validate(t)
	for _, w := range warnings {
		fmt.Fprintln(v.out, warnStyle.Render(fmt.Sprintf("  warning: template %s: %s", t.ID, w)))
	}
	if err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			v.addError(fmt.Sprintf("template %s: %s", t.ID, line))
		}
	}

	v.validateIDFormat("template ID", t.ID)
	for _, ch := range t.Choices {
		v.validateIDFormat("choice ID", ch.ID)
	}
	for _, clue := range t.Clues {
		v.validateIDFormat("clue ID", clue.ID)
	}
}

// Preview instantiates the template for a sample party and prints it
func (v *TemplateValidator) Preview(t *templates.Template) {
	players := max(t.MinPlayers, 2)
	if t.MaxPlayers > 0 {
		players = min(players, t.MaxPlayers)
	}
	req := &scenario.GenerationRequest{
		PartyCode:   "PREVIEW",
		Type:        t.Type,
		Difficulty:  max(t.MinDifficulty, 1),
		PlayerNames: make(map[string]string, players),
	}
	for i := range players {
		id := fmt.Sprintf("player_%d", i+1)
		req.PlayerIDs = append(req.PlayerIDs, id)
		req.PlayerNames[id] = sampleNames[i%len(sampleNames)]
	}

	sc := v.catalog.Instantiate(t, req)

	var b strings.Builder
	b.WriteString(titleStyle.Render(sc.Title))
	b.WriteString("\n\n")
	b.WriteString(wordwrap.String(sc.Narrative, previewWidth))
	b.WriteString("\n")
	for _, ch := range sc.Choices {
		line := fmt.Sprintf("\n- [%s] %s", ch.ID, ch.Text)
		if ch.Visibility != scenario.VisibilityAll {
			line += fmt.Sprintf(" (%s)", ch.Visibility)
		}
		b.WriteString(choiceStyle.Render(wordwrap.String(line, previewWidth)))
		for _, c := range ch.Consequences {
			b.WriteString(fmt.Sprintf("\n    %s %s", c.Kind, c.Description))
		}
	}
	fmt.Fprintln(v.out, panelStyle.Render(b.String()))
}

var sampleNames = []string{"Aria", "Bram", "Cato", "Dessa", "Ewan", "Fenna"}

func (v *TemplateValidator) validateIDFormat(fieldName, id string) {
	if id == "" {
		return
	}
	if !isValidID(id) {
		v.addError(fmt.Sprintf("%s '%s' should be lowercase snake_case", fieldName, id))
	}
}

func (v *TemplateValidator) addError(msg string) {
	v.errors = append(v.errors, "  - "+msg)
}

var validIDRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$|^[a-z]$`)

func isValidID(id string) bool {
	return validIDRegex.MatchString(id)
}
