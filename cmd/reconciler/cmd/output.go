package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"reconciliation-engine/internal/export"
	"reconciliation-engine/pkg/errors"

	"github.com/spf13/cobra"
)

// outputFlags are the --output-format/--output-file pair of report commands
type outputFlags struct {
	format string
	file   string
}

func (o *outputFlags) register(cmd *cobra.Command, defaultFormat string) {
	cmd.Flags().StringVarP(&o.format, "output-format", "f", defaultFormat, "output format: console, json, csv")
	cmd.Flags().StringVarP(&o.file, "output-file", "o", "", "output file path (default: stdout)")
}

func (o *outputFlags) validate() error {
	if !export.OutputFormat(o.format).IsValid() {
		return errors.ValidationError(errors.CodeInvalidValue, "output-format", o.format,
			fmt.Errorf("valid formats: console, json, csv"))
	}
	if o.file != "" {
		dir := filepath.Dir(o.file)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.ValidationError(errors.CodeInvalidValue, "output-file", o.file,
					fmt.Errorf("output directory does not exist: %s", dir))
			}
		}
	}
	return nil
}

// open returns the destination writer and the function that closes it
func (o *outputFlags) open(cmd *cobra.Command) (io.Writer, func() error, error) {
	if o.file == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(o.file)
	if err != nil {
		return nil, nil, errors.InternalError(errors.CodeUnexpectedError, "create output file", err)
	}
	return f, f.Close, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// validateFileExists checks that path names a readable regular file
func validateFileExists(path, description string) error {
	if path == "" {
		return errors.ValidationError(errors.CodeMissingField, description, "", nil)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return errors.NotFound(errors.CodeFileNotFound, path).
			WithSuggestion(fmt.Sprintf("check the %s path", description))
	}
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidValue, description, path, err)
	}
	if info.IsDir() {
		return errors.ValidationError(errors.CodeInvalidValue, description, path,
			fmt.Errorf("is a directory, expected a file"))
	}

	file, err := os.Open(path)
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidValue, description, path, err)
	}
	return file.Close()
}
