// Package loader fetches the raw text of file and web sources.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	apperrors "ragsync/internal/errors"
)

// ErrPDFToolNotFound is returned when pdftotext is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH")

// CommandRunner executes an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// CheckAvailable reports whether pdftotext can be executed.
func CheckAvailable() error {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

// InstallInstructions explains how to install pdftotext.
func InstallInstructions() string {
	return "PDF extraction requires pdftotext (poppler).\n" +
		"  macOS:  brew install poppler\n" +
		"  Debian: apt install poppler-utils"
}

// PDF extracts text from local PDF files with pdftotext.
type PDF struct {
	runner    CommandRunner
	checkTool bool
}

// NewPDF returns a loader that shells out to pdftotext.
func NewPDF() *PDF {
	return &PDF{runner: execRunner{}, checkTool: true}
}

// NewPDFWithRunner returns a loader using runner instead of the real binary.
func NewPDFWithRunner(runner CommandRunner) *PDF {
	return &PDF{runner: runner}
}

// Load returns the text of the PDF at path. Pages are separated by blank lines.
func (p *PDF) Load(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeReadFailed, "open pdf", err).WithDetail("source", path)
	}
	return p.LoadBytes(ctx, path, data)
}

// LoadBytes extracts the text of a PDF already read into data. pdftotext
// works on a private temporary copy, so later writes to path are not seen.
func (p *PDF) LoadBytes(ctx context.Context, path string, data []byte) (string, error) {
	if p.checkTool {
		if err := CheckAvailable(); err != nil {
			return "", apperrors.LoadError(InstallInstructions(), err).WithDetail("source", path)
		}
	}
	tmp, err := os.CreateTemp("", "ragsync-*.pdf")
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeReadFailed, "snapshot pdf", err).WithDetail("source", path)
	}
	defer os.Remove(tmp.Name())
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeReadFailed, "snapshot pdf", err).WithDetail("source", path)
	}

	out, err := p.runner.Run(ctx, "pdftotext", "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeParseFailed, "extract pdf text", err).WithDetail("source", path)
	}
	text := strings.ReplaceAll(string(out), "\f", "\n\n")
	return strings.TrimSpace(text), nil
}
