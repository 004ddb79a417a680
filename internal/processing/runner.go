// Package processing runs the SNAP ship-detection graph on downloaded
// Sentinel-1 products.
package processing

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/shipwatch/shipwatch/internal/conf"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/result"
)

const (
	componentName = "processing"

	// maxOutputLength caps the gpt output carried in errors
	maxOutputLength = 1024
)

//go:embed graph.xml.tmpl
var graphTemplate string

type graphParams struct {
	Input  string
	Output string
	Graph  conf.GraphSettings
}

// Runner executes gpt. It is safe for concurrent use; each call renders
// its own graph file.
type Runner struct {
	settings conf.ProcessingSettings
	graph    *template.Template
	logger   logger.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner for settings.
func NewRunner(settings *conf.ProcessingSettings, opts ...Option) (*Runner, error) {
	tmpl, err := template.New("graph").Funcs(template.FuncMap{
		"xml": escapeXML,
		"num": func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
	}).Parse(graphTemplate)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	r := &Runner{settings: *settings, graph: tmpl}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Global().Module(componentName)
	}
	return r, nil
}

// Process writes the BEAM-DIMAP outputs for productPath next to it. A
// product whose .dim already exists is skipped.
func (r *Runner) Process(ctx context.Context, productPath string) error {
	if _, err := os.Stat(productPath); err != nil {
		if os.IsNotExist(err) {
			return errors.NotFoundError(componentName, "product", productPath)
		}
		return errors.New(err).Component(componentName).Category(errors.CategoryFileIO).Build()
	}

	output := result.MetadataPath(productPath)
	if _, err := os.Stat(output); err == nil {
		r.logger.Info("result already exists, skipping", logger.String("output", output))
		return nil
	}

	graphFile, err := r.writeGraph(productPath, output)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(graphFile) }()

	if r.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.settings.Timeout)
		defer cancel()
	}

	r.logger.Info("running ship detection graph",
		logger.String("product", productPath),
		logger.String("gpt", r.settings.GPTPath))

	start := time.Now()
	// G204: gpt path comes from configuration, the graph file is ours
	cmd := exec.CommandContext(ctx, r.settings.GPTPath, graphFile) //nolint:gosec // configured executable
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.New(fmt.Errorf("gpt failed: %w, output: %s", err, truncate(string(out), maxOutputLength))).
			Component(componentName).
			Category(errors.CategoryProcessing).
			Context("product", productPath).
			Timing("gpt", time.Since(start)).
			Build()
	}

	if _, err := os.Stat(output); err != nil {
		return errors.Newf("gpt finished without writing %s", output).
			Component(componentName).
			Category(errors.CategoryProcessing).
			Context("product", productPath).
			Build()
	}

	r.logger.Info("ship detection graph finished",
		logger.String("output", output),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// RenderGraph returns the graph XML for processing input into output.
func (r *Runner) RenderGraph(input, output string) ([]byte, error) {
	var buf bytes.Buffer
	err := r.graph.Execute(&buf, graphParams{Input: input, Output: output, Graph: r.settings.Graph})
	if err != nil {
		return nil, errors.New(err).Component(componentName).Category(errors.CategoryProcessing).Build()
	}
	return buf.Bytes(), nil
}

func (r *Runner) writeGraph(input, output string) (string, error) {
	graph, err := r.RenderGraph(input, output)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "shipwatch-graph-*.xml")
	if err != nil {
		return "", errors.New(err).Component(componentName).Category(errors.CategoryFileIO).Build()
	}
	if _, err := f.Write(graph); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", errors.New(err).Component(componentName).Category(errors.CategoryFileIO).Build()
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", errors.New(err).Component(componentName).Category(errors.CategoryFileIO).Build()
	}
	return f.Name(), nil
}

func escapeXML(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
