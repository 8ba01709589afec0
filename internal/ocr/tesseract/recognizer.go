// Package tesseract reads CAPTCHA text by piping the image through the
// tesseract CLI.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
)

// Config controls the tesseract invocation.
type Config struct {
	Binary    string
	PSM       int
	Whitelist string
	Timeout   time.Duration
}

// Runner executes a command with stdin and returns its stdout.
type Runner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// Recognizer implements bid.Recognizer.
type Recognizer struct {
	cfg    Config
	run    Runner
	logger *zap.Logger
}

// New returns a Recognizer that shells out to cfg.Binary.
func New(cfg Config, logger *zap.Logger) *Recognizer {
	return NewWithRunner(cfg, execRunner, logger)
}

// NewWithRunner is New with an explicit command runner.
func NewWithRunner(cfg Config, run Runner, logger *zap.Logger) *Recognizer {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.PSM <= 0 {
		cfg.PSM = 7
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognizer{cfg: cfg, run: run, logger: logger.Named("ocr")}
}

// Recognize returns the alphanumeric text tesseract found in image. An
// unreadable image yields "" rather than an error.
func (r *Recognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", errors.New("empty captcha image")
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	out, err := r.run(ctx, image, r.cfg.Binary, r.args()...)
	if err != nil {
		return "", fmt.Errorf("run %s: %w", r.cfg.Binary, err)
	}
	text := Clean(string(out))
	r.logger.Debug("captcha recognized", zap.String("text", text))
	return text, nil
}

func (r *Recognizer) args() []string {
	args := []string{"stdin", "stdout", "--psm", strconv.Itoa(r.cfg.PSM)}
	if r.cfg.Whitelist != "" {
		args = append(args, "-c", "tessedit_char_whitelist="+r.cfg.Whitelist)
	}
	return args
}

// Clean drops everything but ASCII letters and digits.
func Clean(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c < unicode.MaxASCII && (unicode.IsLetter(c) || unicode.IsDigit(c)) {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func execRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
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
