package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// Logger is a type alias for zerolog.Logger.
// We use zerolog directly instead of wrapping it with abstractions.
type Logger = zerolog.Logger

// Config contains logging configuration options.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Default "info".
	Level string `yaml:"level"`

	// Format is "json" or "text" (colored console output). Default "json".
	Format string `yaml:"format"`

	// Async routes output through a diode ring buffer; when the buffer is
	// full the oldest lines are dropped instead of blocking the writer.
	Async bool `yaml:"async"`

	// AsyncBufferSize is the diode capacity in messages.
	AsyncBufferSize int `yaml:"async_buffer_size"`

	// AsyncPollInterval is the diode poll interval in milliseconds.
	AsyncPollInterval int `yaml:"async_poll_interval"`

	// Sampling logs the first SamplingInitial lines per second and then one
	// in SamplingThereafter.
	Sampling           bool `yaml:"sampling"`
	SamplingInitial    int  `yaml:"sampling_initial"`
	SamplingThereafter int  `yaml:"sampling_thereafter"`

	// EnableCaller adds file:line to every line.
	EnableCaller bool `yaml:"enable_caller"`
}

// DefaultConfig returns the production logging defaults.
func DefaultConfig() Config {
	return Config{
		Level:              "info",
		Format:             "json",
		Async:              true,
		AsyncBufferSize:    10000,
		AsyncPollInterval:  50,
		Sampling:           false,
		SamplingInitial:    100,
		SamplingThereafter: 10,
		EnableCaller:       false,
	}
}

// NewLoggerFromConfig builds the process logger.
func NewLoggerFromConfig(config Config) Logger {
	var output io.Writer = os.Stderr
	if strings.EqualFold(config.Format, "text") {
		output = consoleWriter(os.Stderr)
	}
	if config.Async {
		output = asyncWriter(output, config.AsyncBufferSize, config.AsyncPollInterval)
	}

	// The level is process-wide so that SetLevel can adjust it on reload.
	zerolog.SetGlobalLevel(parseLevel(config.Level))
	ctx := zerolog.New(output).With().Timestamp()
	if config.EnableCaller {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()

	if config.Sampling {
		logger = logger.Sample(burstSampler(config.SamplingInitial, config.SamplingThereafter))
	}
	return logger
}

// levelLabels are the colored three-letter tags used by the text format.
var levelLabels = map[string]string{
	"debug": "\033[35mDBG\033[0m",
	"info":  "\033[32mINF\033[0m",
	"warn":  "\033[33mWRN\033[0m",
	"error": "\033[31mERR\033[0m",
	"fatal": "\033[31;1mFTL\033[0m",
	"panic": "\033[31;1mPNC\033[0m",
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		FormatLevel: func(i interface{}) string {
			name, _ := i.(string)
			if label, ok := levelLabels[name]; ok {
				return label
			}
			return "???"
		},
	}
}

// asyncWriter wraps out in a diode ring buffer so that writers never block
// on a slow sink.
func asyncWriter(out io.Writer, size, pollMillis int) io.Writer {
	if size <= 0 {
		size = 10000
	}
	if pollMillis <= 0 {
		pollMillis = 50
	}
	return diode.NewWriter(out, size, time.Duration(pollMillis)*time.Millisecond, func(missed int) {
		// Not through the logger: that would recurse into the diode.
		if missed > 0 {
			_, _ = fmt.Fprintf(os.Stderr, "logging: dropped %d messages\n", missed)
		}
	})
}

func burstSampler(initial, thereafter int) zerolog.Sampler {
	if initial <= 0 {
		initial = 100
	}
	if thereafter <= 0 {
		thereafter = 10
	}
	return &zerolog.BurstSampler{
		Burst:       uint32(initial),
		Period:      time.Second,
		NextSampler: &zerolog.BasicSampler{N: uint32(thereafter)},
	}
}

var levels = map[string]zerolog.Level{
	"debug": zerolog.DebugLevel,
	"info":  zerolog.InfoLevel,
	"warn":  zerolog.WarnLevel,
	"error": zerolog.ErrorLevel,
}

// parseLevel falls back to InfoLevel for unknown names.
func parseLevel(level string) zerolog.Level {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l
	}
	return zerolog.InfoLevel
}

// WithComponent returns a child logger with the component field set.
func WithComponent(logger Logger, component string) Logger {
	return logger.With().Str(FieldComponent, component).Logger()
}

// WithRequest returns a child logger with the request_id field set.
func WithRequest(logger Logger, requestID string) Logger {
	return logger.With().Str(FieldRequestID, requestID).Logger()
}

// ForComponent returns a logger configured for a specific component.
// This is the preferred way to create component loggers.
func ForComponent(logger Logger, component string) Logger {
	return WithComponent(logger, component)
}

// ForPeer returns a component logger carrying the obfuscated peer key.
func ForPeer(logger Logger, component, key string) Logger {
	return logger.With().
		Str(FieldComponent, component).
		Str(FieldKey, ObfuscateKey(key)).
		Logger()
}

// SetLevel changes the minimum level of every logger built by
// NewLoggerFromConfig.
func SetLevel(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
}

// ValidLevel reports whether level is one of the accepted level names.
func ValidLevel(level string) bool {
	_, ok := levels[strings.ToLower(level)]
	return ok
}
