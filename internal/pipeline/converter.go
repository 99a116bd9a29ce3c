package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dunamismax/cloudmagick/internal/domain"
	"github.com/google/uuid"
)

var ErrConversionFailed = errors.New("image conversion failed")

// ConversionError describes a failed convert invocation with enough detail
// to rerun it by hand.
type ConversionError struct {
	Args       []string
	Diagnostic string
	Err        error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("convert %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	return msg
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func (e *ConversionError) Is(target error) bool {
	return target == ErrConversionFailed
}

type Converter interface {
	Convert(ctx context.Context, args []string, input domain.Blob) ([]byte, error)
}

type Protocol string

const (
	// ProtocolFile stages the input in a scratch file and reads the result
	// back from a scratch output file.
	ProtocolFile Protocol = "file"
	// ProtocolStream pipes the input on stdin and, when the output coder is
	// known, captures the result from stdout.
	ProtocolStream Protocol = "stream"
)

const (
	defaultMagickBinary  = "convert"
	defaultMagickTimeout = 30 * time.Second
	maxDiagnosticBytes   = 4 << 10
)

type MagickConfig struct {
	Binary     string
	Protocol   Protocol
	ScratchDir string
	Timeout    time.Duration
}

type MagickConverter struct {
	binary     string
	protocol   Protocol
	scratchDir string
	timeout    time.Duration
	validate   func([]byte) error
}

func NewMagickConverter(cfg MagickConfig) (*MagickConverter, error) {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = defaultMagickBinary
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", binary, err)
	}

	protocol := Protocol(strings.ToLower(strings.TrimSpace(string(cfg.Protocol))))
	switch protocol {
	case "":
		protocol = ProtocolFile
	case ProtocolFile, ProtocolStream:
	default:
		return nil, fmt.Errorf("unsupported magick protocol: %s", cfg.Protocol)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMagickTimeout
	}

	return &MagickConverter{
		binary:     path,
		protocol:   protocol,
		scratchDir: cfg.ScratchDir,
		timeout:    timeout,
		validate:   validateOutput,
	}, nil
}

func (c *MagickConverter) Protocol() Protocol {
	return c.protocol
}

// Convert runs the binary with args, replacing InputPlaceholder and
// OutputPlaceholder with locations inside a scratch directory that belongs
// to this call alone and is removed before returning.
func (c *MagickConverter) Convert(ctx context.Context, args []string, input domain.Blob) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	scratch, err := os.MkdirTemp(c.scratchDir, "cloudmagick-"+uuid.NewString()+"-")
	if err != nil {
		return nil, &ConversionError{Args: args, Err: fmt.Errorf("create scratch dir: %w", err)}
	}
	defer os.RemoveAll(scratch)

	var (
		inputArg   = filepath.Join(scratch, "input")
		outputPath = filepath.Join(scratch, "output")
		outputArg  = outputPath
		stdin      io.Reader
		toStdout   bool
	)

	switch c.protocol {
	case ProtocolStream:
		inputArg = "-"
		stdin = bytes.NewReader(input.Data)
		if coder := coderForContentType(input.ContentType); coder != "" {
			outputArg = coder + ":-"
			toStdout = true
		}
	default:
		if err := os.WriteFile(inputArg, input.Data, 0o600); err != nil {
			return nil, &ConversionError{Args: args, Err: fmt.Errorf("write scratch input: %w", err)}
		}
	}

	resolved := substitute(args, inputArg, outputArg)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary, resolved...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("aborted after %s: %w", c.timeout, ctxErr)
		}
		return nil, &ConversionError{Args: resolved, Diagnostic: diagnostic(&stderr), Err: err}
	}

	var output []byte
	if toStdout {
		output = stdout.Bytes()
	} else {
		output, err = os.ReadFile(outputPath)
		if err != nil {
			return nil, &ConversionError{Args: resolved, Diagnostic: diagnostic(&stderr), Err: fmt.Errorf("read scratch output: %w", err)}
		}
	}

	if len(output) == 0 {
		return nil, &ConversionError{Args: resolved, Diagnostic: diagnostic(&stderr), Err: errors.New("empty output")}
	}
	if err := c.validate(output); err != nil {
		return nil, &ConversionError{Args: resolved, Diagnostic: diagnostic(&stderr), Err: err}
	}

	return output, nil
}

func substitute(args []string, input, output string) []string {
	resolved := slices.Clone(args)
	for i, arg := range resolved {
		switch arg {
		case InputPlaceholder:
			resolved[i] = input
		case OutputPlaceholder:
			resolved[i] = output
		}
	}
	return resolved
}

// coderForContentType maps a MIME type to the ImageMagick coder prefix used
// to write to stdout. Unknown types return "" and fall back to a file.
func coderForContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "jpeg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/bmp", "image/x-ms-bmp":
		return "bmp"
	case "image/tiff":
		return "tiff"
	default:
		return ""
	}
}

func diagnostic(stderr *bytes.Buffer) string {
	out := bytes.TrimSpace(stderr.Bytes())
	if len(out) > maxDiagnosticBytes {
		out = out[:maxDiagnosticBytes]
	}
	return string(out)
}
