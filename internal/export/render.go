package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"reconciliation-engine/internal/models"

	"github.com/fatih/color"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ContentType returns the HTTP content type of the format
func (f OutputFormat) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Config holds options for rendering
type Config struct {
	Format OutputFormat `json:"format"`

	// Console formatting options
	UseColors     bool `json:"use_colors"`
	MaxTableWidth int  `json:"max_table_width"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultConfig returns a default render configuration
func DefaultConfig() *Config {
	return &Config{
		Format:        FormatConsole,
		UseColors:     true,
		MaxTableWidth: 120,
		CSVDelimiter:  ',',
		CSVHeaders:    true,
	}
}

// Validate validates the render configuration
func (c *Config) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxTableWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.MaxTableWidth)
	}
	return nil
}

// Renderer writes reports in one format
type Renderer struct {
	config *Config
}

// NewRenderer creates a renderer with the specified configuration
func NewRenderer(config *Config) (*Renderer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid export configuration: %w", err)
	}
	return &Renderer{config: config}, nil
}

// Render writes report to w
func (r *Renderer) Render(report *Report, w io.Writer) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	switch r.config.Format {
	case FormatConsole:
		return r.renderConsole(report, w)
	case FormatJSON:
		return r.renderJSON(report, w)
	case FormatCSV:
		return r.renderCSV(report, w)
	default:
		return fmt.Errorf("unsupported output format: %s", r.config.Format)
	}
}

func (r *Renderer) renderJSON(report *Report, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

var csvHeaders = []string{
	"Date",
	"Description",
	"Amount",
	"Direction",
	"Status",
	"Matched_Transaction",
	"Matched_Amount",
	"Confidence",
	"Method",
}

func (r *Renderer) renderCSV(report *Report, w io.Writer) error {
	csvWriter := csv.NewWriter(w)
	csvWriter.Comma = r.config.CSVDelimiter

	if r.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, row := range report.Rows {
		record := []string{
			row.Date,
			row.Description,
			row.Amount.StringFixed(2),
			string(row.Direction),
			string(row.Status),
			"",
			"",
			formatConfidence(row.Confidence),
			string(row.Method),
		}
		if row.Status == models.MatchStatusMatched {
			record[5] = row.MatchedDesc
			if row.MatchedAmount != nil {
				record[6] = row.MatchedAmount.StringFixed(2)
			}
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write row for item %d: %w", row.BankItemID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func (r *Renderer) renderConsole(report *Report, w io.Writer) error {
	heading := r.colorFor(color.Bold)
	st := report.Statement

	fmt.Fprintln(w, heading.Sprint("RECONCILIATION REPORT"))
	fmt.Fprintf(w, "Statement: #%d %s", st.ID, st.BankName)
	if st.AccountLast4 != "" {
		fmt.Fprintf(w, " ****%s", st.AccountLast4)
	}
	fmt.Fprintf(w, "\nGenerated: %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05"))

	fmt.Fprintln(w, heading.Sprint("=== SUMMARY ==="))
	status := report.Status
	fmt.Fprintf(w, "  Total:         %d\n", status.Total)
	fmt.Fprintf(w, "  Matched:       %s (%.1f%%)\n",
		r.statusColor(models.MatchStatusMatched).Sprint(status.Matched), percentage(status.Matched, status.Total))
	fmt.Fprintf(w, "  Discrepancies: %s (%.1f%%)\n",
		r.statusColor(models.MatchStatusDiscrepancy).Sprint(status.Discrepancies), percentage(status.Discrepancies, status.Total))
	fmt.Fprintf(w, "  Unmatched:     %s (%.1f%%)\n",
		r.statusColor(models.MatchStatusUnmatched).Sprint(status.Unmatched), percentage(status.Unmatched, status.Total))
	fmt.Fprintf(w, "  Status:        %s\n\n", status.Status)

	if len(report.Rows) == 0 {
		return nil
	}

	fmt.Fprintln(w, heading.Sprint("=== LINE ITEMS ==="))
	descWidth := r.config.MaxTableWidth - 70
	if descWidth < 12 {
		descWidth = 12
	}
	for _, row := range report.Rows {
		fmt.Fprintf(w, "  %-10s  %-*s  %12s  %-6s  %s",
			row.Date,
			descWidth, truncate(row.Description, descWidth),
			row.Amount.StringFixed(2),
			row.Direction,
			r.statusColor(row.Status).Sprintf("%-11s", row.Status))
		if row.TransactionID != nil {
			fmt.Fprintf(w, "  -> #%d", *row.TransactionID)
			if row.MatchedDesc != "" {
				fmt.Fprintf(w, " %s", truncate(row.MatchedDesc, 24))
			}
		}
		if row.Confidence != nil {
			fmt.Fprintf(w, " (%s)", formatConfidence(row.Confidence))
		}
		fmt.Fprintln(w)
	}
	return nil
}

func (r *Renderer) statusColor(status models.MatchStatus) *color.Color {
	switch status {
	case models.MatchStatusMatched:
		return r.colorFor(color.FgGreen)
	case models.MatchStatusDiscrepancy:
		return r.colorFor(color.FgYellow)
	default:
		return r.colorFor(color.FgRed)
	}
}

func (r *Renderer) colorFor(attr color.Attribute) *color.Color {
	c := color.New(attr)
	if r.config.UseColors {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func formatConfidence(confidence *float64) string {
	if confidence == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *confidence)
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func truncate(s string, width int) string {
	if width <= 3 {
		return ""
	}
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= width {
		return string(runes)
	}
	return string(runes[:width-3]) + "..."
}
